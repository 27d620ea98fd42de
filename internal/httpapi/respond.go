package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"

	"desiai/internal/auth"
	"desiai/internal/chat"
	"desiai/internal/creative"
	"desiai/internal/i18n"
	"desiai/internal/queue"
	"desiai/internal/storage"
	"desiai/internal/subscription"
)

const maxJSONBody = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"message": msg})
}

// writeError maps service sentinels onto status codes. Anything unknown is a
// 500 and is logged with the request.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	lang := userFrom(r.Context()).PreferredLanguage
	switch {
	case errors.Is(err, chat.ErrValidation):
		writeMessage(w, http.StatusBadRequest, detail(err, chat.ErrValidation))
	case errors.Is(err, creative.ErrValidation):
		writeMessage(w, http.StatusBadRequest, detail(err, creative.ErrValidation))
	case errors.Is(err, auth.ErrUnauthenticated):
		writeMessage(w, http.StatusUnauthorized, "Invalid token")
	case errors.Is(err, subscription.ErrPremiumRequired):
		writeMessage(w, http.StatusForbidden, s.localizer.Get(lang, i18n.MsgPremiumRequired, nil))
	case errors.Is(err, storage.ErrMemoryLimit):
		writeMessage(w, http.StatusForbidden, s.localizer.Get(lang, i18n.MsgMemoryLimit, map[string]any{"Limit": subscription.MemoryItemLimit}))
	case errors.Is(err, chat.ErrForbidden), errors.Is(err, creative.ErrForbidden):
		writeMessage(w, http.StatusForbidden, "Access denied")
	case errors.Is(err, storage.ErrNotFound):
		writeMessage(w, http.StatusNotFound, "Not found")
	case errors.Is(err, queue.ErrLockTimeout):
		writeMessage(w, http.StatusConflict, "This conversation is busy, please retry")
	case errors.Is(err, chat.ErrUpstream), errors.Is(err, creative.ErrUpstream):
		hlog.FromRequest(r).Warn().Err(err).Msg("upstream provider failed")
		writeMessage(w, http.StatusBadGateway, "Upstream provider failed")
	default:
		hlog.FromRequest(r).Error().Err(err).Msg("request failed")
		writeMessage(w, http.StatusInternalServerError, "Server error")
	}
}

// detail turns "invalid input: code and language are required" into
// "Code and language are required".
func detail(err, sentinel error) string {
	msg := strings.TrimPrefix(err.Error(), sentinel.Error()+": ")
	if msg == err.Error() {
		msg = sentinel.Error()
	}
	r, size := utf8.DecodeRuneInString(msg)
	return string(unicode.ToUpper(r)) + msg[size:]
}

func decodeJSON(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxJSONBody))
	if err != nil {
		return fmt.Errorf("%w: read body: %v", chat.ErrValidation, err)
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: invalid request body", chat.ErrValidation)
	}
	return nil
}

func idParam(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
