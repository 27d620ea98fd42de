package httpapi

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"desiai/internal/auth"
	"desiai/internal/metrics"
)

const (
	wsWriteWait      = 10 * time.Second
	wsPongWait       = 60 * time.Second
	wsPingPeriod     = (wsPongWait * 9) / 10
	wsMaxMessageSize = 4096
	wsFrameRate      = 5
	wsFrameBurst     = 20
)

// Hub keeps authenticated sockets alive. Nothing is pushed to clients yet;
// inbound frames are read and dropped.
type Hub struct {
	gateway    *auth.Gateway
	upgrader   websocket.Upgrader
	metrics    *metrics.Metrics
	logger     zerolog.Logger
	pingPeriod time.Duration
	pongWait   time.Duration
	frameRate  rate.Limit
	frameBurst int

	mu    sync.RWMutex
	conns map[string]*wsConn
}

type wsConn struct {
	id        string
	uid       string
	conn      *websocket.Conn
	limiter   *rate.Limiter
	done      chan struct{}
	closeOnce sync.Once
}

func newHub(gateway *auth.Gateway, m *metrics.Metrics, logger zerolog.Logger) *Hub {
	return &Hub{
		gateway: gateway,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		metrics:    m,
		logger:     logger.With().Str("component", "ws").Logger(),
		pingPeriod: wsPingPeriod,
		pongWait:   wsPongWait,
		frameRate:  wsFrameRate,
		frameBurst: wsFrameBurst,
		conns:      make(map[string]*wsConn),
	}
}

func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	token, ok := bearerToken(r)
	if !ok || token == "" {
		token = r.URL.Query().Get("token")
	}
	if token == "" {
		writeMessage(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	p, err := h.gateway.Authenticate(r.Context(), token)
	if err != nil {
		writeMessage(w, http.StatusUnauthorized, "Invalid token")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	c := &wsConn{
		id:      uuid.NewString(),
		uid:     p.UID,
		conn:    conn,
		limiter: rate.NewLimiter(h.frameRate, h.frameBurst),
		done:    make(chan struct{}),
	}
	h.register(c)
	go h.writePump(c)
	go h.readPump(c)
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Close drops every open socket.
func (h *Hub) Close() {
	h.mu.RLock()
	conns := make([]*wsConn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.RUnlock()
	for _, c := range conns {
		h.disconnect(c, websocket.CloseGoingAway, "server shutting down")
	}
}

func (h *Hub) register(c *wsConn) {
	h.mu.Lock()
	h.conns[c.id] = c
	n := len(h.conns)
	h.mu.Unlock()
	h.metrics.WebsocketsCurrent.Inc()
	h.logger.Debug().Str("conn_id", c.id).Int("open", n).Msg("websocket connected")
}

func (h *Hub) disconnect(c *wsConn, code int, reason string) {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(wsWriteWait))
		_ = c.conn.Close()

		h.mu.Lock()
		delete(h.conns, c.id)
		n := len(h.conns)
		h.mu.Unlock()
		h.metrics.WebsocketsCurrent.Dec()
		h.logger.Debug().Str("conn_id", c.id).Int("open", n).Str("reason", reason).Msg("websocket disconnected")
	})
}

func (h *Hub) readPump(c *wsConn) {
	c.conn.SetReadLimit(wsMaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(h.pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(h.pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			h.disconnect(c, websocket.CloseNormalClosure, "")
			return
		}
		if !c.limiter.Allow() {
			h.logger.Warn().Str("conn_id", c.id).Str("uid", c.uid).Msg("websocket frame rate exceeded")
			h.disconnect(c, websocket.ClosePolicyViolation, "rate limit exceeded")
			return
		}
	}
}

func (h *Hub) writePump(c *wsConn) {
	ticker := time.NewTicker(h.pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				h.disconnect(c, websocket.CloseGoingAway, "ping failed")
				return
			}
		}
	}
}
