package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"desiai/internal/auth"
	"desiai/internal/chat"
	"desiai/internal/creative"
	"desiai/internal/crypto"
	"desiai/internal/i18n"
	"desiai/internal/metrics"
	"desiai/internal/queue"
	"desiai/internal/storage"
	"desiai/internal/subscription"
)

type Store interface {
	UpdateUser(ctx context.Context, id int64, patch storage.UserPatch) (storage.User, error)
	ListMemoryItems(ctx context.Context, userID int64) ([]storage.MemoryItem, error)
	DeleteMemoryItem(ctx context.Context, userID, id int64) error
	CreateFileUpload(ctx context.Context, f storage.FileUpload) (storage.FileUpload, error)
	ListFileUploads(ctx context.Context, userID int64) ([]storage.FileUpload, error)
	DeleteFileUpload(ctx context.Context, userID, id int64) (storage.FileUpload, error)
	CreateFeedback(ctx context.Context, f storage.Feedback) (storage.Feedback, error)
}

type ObjectStore interface {
	Put(ctx context.Context, userID int64, filename, contentType string, data []byte) (string, error)
}

type CleanupQueue interface {
	Enqueue(ctx context.Context, job queue.CleanupJob) (string, error)
}

type RateLimiter interface {
	Allow(ctx context.Context, userID int64, now time.Time) (bool, int64, time.Time, error)
}

type Server struct {
	gateway   *auth.Gateway
	chat      *chat.Service
	creative  *creative.Service
	subs      *subscription.Manager
	store     Store
	objects   ObjectStore
	cleanup   CleanupQueue
	limiter   RateLimiter
	vault     *crypto.Vault
	localizer *i18n.Localizer
	hub       *Hub
	logger    zerolog.Logger
	metrics   *metrics.Metrics

	healthPath     string
	metricsPath    string
	metricsHandler http.Handler
}

type Config struct {
	Gateway       *auth.Gateway
	Chat          *chat.Service
	Creative      *creative.Service
	Subscriptions *subscription.Manager
	Store         Store
	// Objects is nil when object storage is not configured; uploads then fail.
	Objects ObjectStore
	// Cleanup is nil without redis; deleted objects are then left in place.
	Cleanup CleanupQueue
	// Limiter is nil without redis; chat turns are then unmetered.
	Limiter   RateLimiter
	Vault     *crypto.Vault
	Localizer *i18n.Localizer
	Logger    zerolog.Logger
	Metrics   *metrics.Metrics

	HealthPath     string
	MetricsPath    string
	MetricsHandler http.Handler
}

func NewServer(cfg Config) *Server {
	m := cfg.Metrics
	if m == nil {
		m = metrics.Global()
	}
	if cfg.HealthPath == "" {
		cfg.HealthPath = "/healthz"
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	logger := cfg.Logger.With().Str("component", "http").Logger()
	return &Server{
		gateway:        cfg.Gateway,
		chat:           cfg.Chat,
		creative:       cfg.Creative,
		subs:           cfg.Subscriptions,
		store:          cfg.Store,
		objects:        cfg.Objects,
		cleanup:        cfg.Cleanup,
		limiter:        cfg.Limiter,
		vault:          cfg.Vault,
		localizer:      cfg.Localizer,
		hub:            newHub(cfg.Gateway, m, logger),
		logger:         logger,
		metrics:        m,
		healthPath:     cfg.HealthPath,
		metricsPath:    cfg.MetricsPath,
		metricsHandler: cfg.MetricsHandler,
	}
}

func (s *Server) Hub() *Hub {
	return s.hub
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(hlog.NewHandler(s.logger))
	r.Use(hlog.RequestIDHandler("req_id", "X-Request-Id"))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("request")
	}))
	r.Use(middleware.Recoverer)

	r.Get(s.healthPath, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if s.metricsHandler != nil {
		r.Handle(s.metricsPath, s.metricsHandler)
	}
	r.Get("/ws", s.hub.ServeWS)

	r.Route("/api", func(r chi.Router) {
		r.Use(s.authenticate)

		r.Post("/auth/register", s.register)

		r.Group(func(r chi.Router) {
			r.Use(s.requireUser)

			r.Get("/auth/me", s.me)

			r.With(s.rateLimit).Post("/chat", s.sendMessage)
			r.With(s.rateLimit).Post("/chat/followup", s.followUp)
			r.Post("/chat/new", s.newChat)
			r.Get("/chat/history", s.chatHistory)
			r.Get("/chat/{chatID}", s.chatMessages)

			r.Post("/image/generate", s.generateImage)
			r.Post("/code/check", s.checkCode)

			r.Patch("/user/preferences", s.updatePreferences)
			r.Post("/subscription/upgrade", s.upgrade)
			r.Post("/subscription/trial", s.startTrial)

			r.Post("/game/generate", s.generateGame)
			r.Get("/game/library", s.gameLibrary)
			r.Get("/game/{id}", s.getGame)
			r.Post("/music/generate", s.generateMusic)
			r.Get("/music/library", s.musicLibrary)
			r.Get("/music/{id}", s.getTrack)

			r.Post("/feedback", s.feedback)

			r.Group(func(r chi.Router) {
				r.Use(s.requirePremium)

				r.Post("/memory", s.addMemory)
				r.Get("/memory", s.listMemory)
				r.Delete("/memory/{id}", s.deleteMemory)

				r.Post("/upload", s.upload)
				r.Get("/upload", s.listUploads)
				r.Delete("/upload/{id}", s.deleteUpload)
			})
		})
	})
	return r
}
