package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"desiai/internal/auth"
	"desiai/internal/chat"
	"desiai/internal/creative"
	"desiai/internal/i18n"
	"desiai/internal/storage"
	"desiai/internal/subscription"
)

type registerRequest struct {
	Email             string `json:"email"`
	DisplayName       string `json:"displayName"`
	BotName           string `json:"botName"`
	PreferredLanguage string `json:"preferredLanguage"`
}

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	u, created, err := s.gateway.ResolveOrProvision(r.Context(), principalFrom(r.Context()), auth.RegisterInput{
		Email:             req.Email,
		DisplayName:       req.DisplayName,
		BotName:           req.BotName,
		PreferredLanguage: req.PreferredLanguage,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, u)
}

func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, userFrom(r.Context()))
}

type sendMessageRequest struct {
	Content  string   `json:"content"`
	ChatID   *int64   `json:"chatId"`
	FileURLs []string `json:"fileUrls"`
}

func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.chat.SendMessage(r.Context(), userFrom(r.Context()), chat.SendInput{
		Content:  req.Content,
		ChatID:   req.ChatID,
		FileURLs: req.FileURLs,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type followUpRequest struct {
	OriginalMessage string `json:"originalMessage"`
	FollowUpMessage string `json:"followUpMessage"`
	ChatID          int64  `json:"chatId"`
}

func (s *Server) followUp(w http.ResponseWriter, r *http.Request) {
	var req followUpRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.chat.FollowUp(r.Context(), userFrom(r.Context()), chat.FollowUpInput{
		OriginalMessage: req.OriginalMessage,
		FollowUpText:    req.FollowUpMessage,
		ChatID:          req.ChatID,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) newChat(w http.ResponseWriter, r *http.Request) {
	session, err := s.chat.NewSession(r.Context(), userFrom(r.Context()))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (s *Server) chatHistory(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.chat.History(r.Context(), userFrom(r.Context()))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) chatMessages(w http.ResponseWriter, r *http.Request) {
	chatID, ok := idParam(r, "chatID")
	if !ok {
		writeMessage(w, http.StatusBadRequest, "Invalid chat ID")
		return
	}
	msgs, err := s.chat.Messages(r.Context(), userFrom(r.Context()), chatID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

type promptRequest struct {
	Prompt string `json:"prompt"`
}

func (s *Server) generateImage(w http.ResponseWriter, r *http.Request) {
	var req promptRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.chat.GenerateImage(r.Context(), userFrom(r.Context()), req.Prompt)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !res.Allowed {
		writeJSON(w, http.StatusForbidden, res)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type codeCheckRequest struct {
	Code     string `json:"code"`
	Language string `json:"language"`
}

func (s *Server) checkCode(w http.ResponseWriter, r *http.Request) {
	var req codeCheckRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	review, err := s.creative.CheckCode(r.Context(), userFrom(r.Context()), req.Code, req.Language)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, review)
}

type memoryRequest struct {
	Content string `json:"content"`
}

func (s *Server) addMemory(w http.ResponseWriter, r *http.Request) {
	var req memoryRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		writeMessage(w, http.StatusBadRequest, "Content is required")
		return
	}
	item, err := s.subs.AddMemoryItem(r.Context(), userFrom(r.Context()), strings.TrimSpace(req.Content))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

func (s *Server) listMemory(w http.ResponseWriter, r *http.Request) {
	items, err := s.store.ListMemoryItems(r.Context(), userFrom(r.Context()).ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) deleteMemory(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "id")
	if !ok {
		writeMessage(w, http.StatusBadRequest, "Invalid memory ID")
		return
	}
	if err := s.store.DeleteMemoryItem(r.Context(), userFrom(r.Context()).ID, id); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type preferencesRequest struct {
	DisplayName       *string `json:"displayName"`
	BotName           *string `json:"botName"`
	PreferredLanguage *string `json:"preferredLanguage"`
	PaypalEmail       *string `json:"paypalEmail"`
}

// nonEmpty drops blank optional fields, so they leave the stored value alone.
func nonEmpty(v *string) *string {
	if v == nil || strings.TrimSpace(*v) == "" {
		return nil
	}
	t := strings.TrimSpace(*v)
	return &t
}

func (s *Server) updatePreferences(w http.ResponseWriter, r *http.Request) {
	var req preferencesRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	patch := storage.UserPatch{
		DisplayName:       nonEmpty(req.DisplayName),
		BotName:           nonEmpty(req.BotName),
		PreferredLanguage: nonEmpty(req.PreferredLanguage),
	}
	if patch.PreferredLanguage != nil && !storage.ValidLanguage(*patch.PreferredLanguage) {
		writeMessage(w, http.StatusBadRequest, "Preferred language must be english, hindi or hinglish")
		return
	}
	if email := nonEmpty(req.PaypalEmail); email != nil {
		if !strings.Contains(*email, "@") {
			writeMessage(w, http.StatusBadRequest, "Invalid PayPal email")
			return
		}
		if s.vault == nil {
			s.writeError(w, r, errors.New("paypal email cannot be stored without a vault"))
			return
		}
		sealed, err := s.vault.Seal(*email)
		if err != nil {
			s.writeError(w, r, fmt.Errorf("seal paypal email: %w", err))
			return
		}
		patch.EncPaypalEmail = &sealed
	}

	u, err := s.store.UpdateUser(r.Context(), userFrom(r.Context()).ID, patch)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) upgrade(w http.ResponseWriter, r *http.Request) {
	u, err := s.subs.UpgradeToPremium(r.Context(), userFrom(r.Context()))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) startTrial(w http.ResponseWriter, r *http.Request) {
	u, err := s.subs.StartTrial(r.Context(), userFrom(r.Context()))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) generateGame(w http.ResponseWriter, r *http.Request) {
	var req promptRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	u := userFrom(r.Context())
	g, err := s.creative.GenerateGame(r.Context(), u, req.Prompt)
	if errors.Is(err, subscription.ErrPremiumRequired) {
		writeMessage(w, http.StatusForbidden, s.localizer.Get(u.PreferredLanguage, i18n.MsgGamePremium, nil))
		return
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func (s *Server) gameLibrary(w http.ResponseWriter, r *http.Request) {
	games, err := s.creative.Games(r.Context(), userFrom(r.Context()))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, games)
}

func (s *Server) getGame(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "id")
	if !ok {
		writeMessage(w, http.StatusBadRequest, "Invalid game ID")
		return
	}
	g, err := s.creative.Game(r.Context(), userFrom(r.Context()), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

type musicRequest struct {
	Prompt   string `json:"prompt"`
	Duration int    `json:"duration"`
	Genre    string `json:"genre"`
}

func (s *Server) generateMusic(w http.ResponseWriter, r *http.Request) {
	var req musicRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	u := userFrom(r.Context())
	m, err := s.creative.GenerateMusic(r.Context(), u, creative.MusicInput{Prompt: req.Prompt, Duration: req.Duration, Genre: req.Genre})
	if errors.Is(err, subscription.ErrPremiumRequired) {
		writeMessage(w, http.StatusForbidden, s.localizer.Get(u.PreferredLanguage, i18n.MsgMusicPremium, nil))
		return
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) musicLibrary(w http.ResponseWriter, r *http.Request) {
	tracks, err := s.creative.Music(r.Context(), userFrom(r.Context()))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tracks)
}

func (s *Server) getTrack(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "id")
	if !ok {
		writeMessage(w, http.StatusBadRequest, "Invalid music ID")
		return
	}
	m, err := s.creative.Track(r.Context(), userFrom(r.Context()), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

type feedbackRequest struct {
	Message      string `json:"message"`
	FeedbackType string `json:"feedbackType"`
	ChatID       int64  `json:"chatId"`
}

func (s *Server) feedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Message) == "" || strings.TrimSpace(req.FeedbackType) == "" || req.ChatID <= 0 {
		writeMessage(w, http.StatusBadRequest, "Missing required parameters")
		return
	}
	if _, err := s.store.CreateFeedback(r.Context(), storage.Feedback{
		UserID:       userFrom(r.Context()).ID,
		ChatID:       req.ChatID,
		FeedbackType: strings.TrimSpace(req.FeedbackType),
		Message:      strings.TrimSpace(req.Message),
	}); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
