package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"desiai/internal/auth"
	"desiai/internal/i18n"
	"desiai/internal/storage"
)

type ctxKey int

const (
	principalKey ctxKey = iota
	userKey
)

func principalFrom(ctx context.Context) auth.Principal {
	p, _ := ctx.Value(principalKey).(auth.Principal)
	return p
}

func userFrom(ctx context.Context) storage.User {
	u, _ := ctx.Value(userKey).(storage.User)
	return u
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return "", false
	}
	return strings.TrimSpace(strings.TrimPrefix(h, "Bearer ")), true
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok || token == "" {
			writeMessage(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		p, err := s.gateway.Authenticate(r.Context(), token)
		if err != nil {
			hlog.FromRequest(r).Debug().Err(err).Msg("token rejected")
			writeMessage(w, http.StatusUnauthorized, "Invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), principalKey, p)))
	})
}

func (s *Server) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, err := s.gateway.Lookup(r.Context(), principalFrom(r.Context()))
		if errors.Is(err, storage.ErrNotFound) {
			writeMessage(w, http.StatusNotFound, "User not found")
			return
		}
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		ctx := context.WithValue(r.Context(), userKey, u)
		hlog.FromRequest(r).UpdateContext(func(c zerolog.Context) zerolog.Context {
			return c.Int64("user_id", u.ID)
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) requirePremium(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u := userFrom(r.Context())
		if !s.subs.IsPremium(u) {
			writeMessage(w, http.StatusForbidden, s.localizer.Get(u.PreferredLanguage, i18n.MsgPremiumRequired, nil))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// rateLimit fails open when the limiter itself errors.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter == nil {
			next.ServeHTTP(w, r)
			return
		}
		u := userFrom(r.Context())
		ok, _, resetAt, err := s.limiter.Allow(r.Context(), u.ID, time.Now())
		if err != nil {
			hlog.FromRequest(r).Error().Err(err).Msg("rate limiter failed")
			next.ServeHTTP(w, r)
			return
		}
		if !ok {
			w.Header().Set("Retry-After", strconv.Itoa(int(time.Until(resetAt).Seconds())+1))
			writeMessage(w, http.StatusTooManyRequests, "Rate limit exceeded. Try again after "+resetAt.UTC().Format("15:04 UTC"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
