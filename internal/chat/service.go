package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"desiai/internal/i18n"
	"desiai/internal/metrics"
	"desiai/internal/providers"
	"desiai/internal/queue"
	"desiai/internal/storage"
	"desiai/internal/subscription"
)

var (
	ErrValidation = errors.New("invalid input")
	ErrForbidden  = errors.New("access denied")
	ErrUpstream   = errors.New("upstream provider failed")
)

type Store interface {
	CreateChatSession(ctx context.Context, userID int64, title string) (storage.ChatSession, error)
	StartChatSession(ctx context.Context, userID int64, title, content string) (storage.ChatSession, storage.Message, error)
	GetChatSession(ctx context.Context, id int64) (storage.ChatSession, error)
	ListChatSessions(ctx context.Context, userID int64) ([]storage.ChatSession, error)
	AppendMessage(ctx context.Context, chatID int64, role, content string) (storage.Message, error)
	ListMessages(ctx context.Context, chatID int64) ([]storage.Message, error)
	CreateGeneratedImage(ctx context.Context, img storage.GeneratedImage) (storage.GeneratedImage, error)
}

type Service struct {
	store      Store
	subs       *subscription.Manager
	provider   providers.Provider
	images     providers.ImageGenerator
	locker     queue.Locker
	localizer  *i18n.Localizer
	model      string
	imageModel string
	logger     zerolog.Logger
	metrics    *metrics.Metrics
}

type Config struct {
	Store         Store
	Subscriptions *subscription.Manager
	Provider      providers.Provider
	Images        providers.ImageGenerator
	// Locker defaults to an in-process locker.
	Locker     queue.Locker
	Localizer  *i18n.Localizer
	Model      string
	ImageModel string
	Logger     zerolog.Logger
	Metrics    *metrics.Metrics
}

func NewService(cfg Config) *Service {
	m := cfg.Metrics
	if m == nil {
		m = metrics.Global()
	}
	locker := cfg.Locker
	if locker == nil {
		locker = queue.NewLocalLocker()
	}
	return &Service{
		store:      cfg.Store,
		subs:       cfg.Subscriptions,
		provider:   cfg.Provider,
		images:     cfg.Images,
		locker:     locker,
		localizer:  cfg.Localizer,
		model:      cfg.Model,
		imageModel: cfg.ImageModel,
		logger:     cfg.Logger.With().Str("component", "chat").Logger(),
		metrics:    m,
	}
}

type SendInput struct {
	Content  string
	ChatID   *int64
	FileURLs []string
}

type FollowUpInput struct {
	OriginalMessage string
	FollowUpText    string
	ChatID          int64
}

type TurnResult struct {
	ChatID           int64           `json:"chatId"`
	Text             string          `json:"text"`
	UserMessage      storage.Message `json:"userMessage"`
	AssistantMessage storage.Message `json:"assistantMessage"`
	TripleChecked    bool            `json:"isTripleChecked"`
	Fallback         bool            `json:"fallback"`
}

type ImageResult struct {
	Allowed bool   `json:"allowed"`
	URL     string `json:"imageUrl,omitempty"`
	Count   int    `json:"imageCount"`
	Limit   int    `json:"maxImages"`
	Message string `json:"message,omitempty"`
}

func (s *Service) SendMessage(ctx context.Context, u storage.User, in SendInput) (TurnResult, error) {
	content := strings.TrimSpace(in.Content)
	if content == "" {
		return TurnResult{}, fmt.Errorf("%w: message is empty", ErrValidation)
	}

	premium := s.subs.IsPremium(u)
	req := providers.ChatRequest{
		Model:        s.model,
		SystemPrompt: systemPrompt(u.BotName, u.PreferredLanguage, premium),
		UserPrompt:   content,
		Attachments:  in.FileURLs,
		MaxTokens:    chatMaxTokens,
		Temperature:  chatTemperature,
	}

	var (
		res TurnResult
		err error
	)
	if in.ChatID == nil {
		res, err = s.firstTurn(ctx, u, content, req)
	} else {
		var session storage.ChatSession
		session, err = s.ownedSession(ctx, u, *in.ChatID)
		if err != nil {
			return TurnResult{}, err
		}
		res, err = s.turn(ctx, u, session.ID, content, req)
	}
	if err != nil {
		return TurnResult{}, err
	}
	res.TripleChecked = premium && !res.Fallback
	return res, nil
}

func (s *Service) FollowUp(ctx context.Context, u storage.User, in FollowUpInput) (TurnResult, error) {
	followUp := strings.TrimSpace(in.FollowUpText)
	if followUp == "" || strings.TrimSpace(in.OriginalMessage) == "" || in.ChatID <= 0 {
		return TurnResult{}, fmt.Errorf("%w: missing required parameters", ErrValidation)
	}
	session, err := s.ownedSession(ctx, u, in.ChatID)
	if err != nil {
		return TurnResult{}, err
	}

	req := providers.ChatRequest{
		Model:        s.model,
		SystemPrompt: followUpPrompt(u.BotName, in.OriginalMessage, followUp, u.PreferredLanguage),
		UserPrompt:   followUp,
		MaxTokens:    chatMaxTokens,
		Temperature:  chatTemperature,
	}
	return s.turn(ctx, u, session.ID, followUp, req)
}

// firstTurn opens a session with its first message. No other request can
// know the new id yet, so the session lock is not taken.
func (s *Service) firstTurn(ctx context.Context, u storage.User, content string, req providers.ChatRequest) (TurnResult, error) {
	session, userMsg, err := s.store.StartChatSession(context.WithoutCancel(ctx), u.ID, sessionTitle(content), content)
	if err != nil {
		return TurnResult{}, fmt.Errorf("start session: %w", err)
	}
	return s.reply(ctx, u, session.ID, userMsg, req)
}

// turn persists the user message before calling the provider.
func (s *Service) turn(ctx context.Context, u storage.User, chatID int64, content string, req providers.ChatRequest) (TurnResult, error) {
	unlock, err := s.locker.Lock(ctx, chatID)
	if err != nil {
		return TurnResult{}, fmt.Errorf("lock session %d: %w", chatID, err)
	}
	defer unlock()

	userMsg, err := s.store.AppendMessage(context.WithoutCancel(ctx), chatID, storage.RoleUser, content)
	if err != nil {
		return TurnResult{}, fmt.Errorf("append user message: %w", err)
	}
	return s.reply(ctx, u, chatID, userMsg, req)
}

// reply answers a stored user message. A provider failure is answered with
// the localized fallback instead of an error.
func (s *Service) reply(ctx context.Context, u storage.User, chatID int64, userMsg storage.Message, req providers.ChatRequest) (TurnResult, error) {
	started := time.Now()
	resp, err := s.provider.Chat(ctx, req)
	text := strings.TrimSpace(resp.Text)
	fallback := err != nil || text == ""
	if fallback {
		s.metrics.ProviderDuration.WithLabelValues("chat", "error").Observe(time.Since(started).Seconds())
		s.metrics.ChatFallbacks.Inc()
		ev := s.logger.Warn().Int64("user_id", u.ID).Int64("chat_id", chatID)
		if err != nil {
			ev = ev.Err(err)
		}
		ev.Msg("completion failed, answering with fallback")
		text = s.localizer.Get(u.PreferredLanguage, i18n.MsgChatFallback, nil)
	} else {
		s.metrics.ProviderDuration.WithLabelValues("chat", "ok").Observe(time.Since(started).Seconds())
	}

	// The provider call may have outlived the request; the reply is still stored.
	assistantMsg, err := s.store.AppendMessage(context.WithoutCancel(ctx), chatID, storage.RoleAssistant, text)
	if err != nil {
		return TurnResult{}, fmt.Errorf("append assistant message: %w", err)
	}
	s.metrics.ChatTurns.Inc()

	return TurnResult{
		ChatID:           chatID,
		Text:             text,
		UserMessage:      userMsg,
		AssistantMessage: assistantMsg,
		Fallback:         fallback,
	}, nil
}

func (s *Service) NewSession(ctx context.Context, u storage.User) (storage.ChatSession, error) {
	return s.store.CreateChatSession(ctx, u.ID, defaultTitle)
}

func (s *Service) History(ctx context.Context, u storage.User) ([]storage.ChatSession, error) {
	return s.store.ListChatSessions(ctx, u.ID)
}

func (s *Service) Messages(ctx context.Context, u storage.User, chatID int64) ([]storage.Message, error) {
	if _, err := s.ownedSession(ctx, u, chatID); err != nil {
		return nil, err
	}
	return s.store.ListMessages(ctx, chatID)
}

func (s *Service) GenerateImage(ctx context.Context, u storage.User, prompt string) (ImageResult, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return ImageResult{}, fmt.Errorf("%w: prompt is required", ErrValidation)
	}

	d, err := s.subs.CheckAndConsumeImageQuota(ctx, u)
	if err != nil {
		return ImageResult{}, err
	}
	if !d.Allowed {
		return ImageResult{
			Count:   d.Count,
			Limit:   d.Limit,
			Message: subscription.DenialMessage(s.localizer, d, u.PreferredLanguage),
		}, nil
	}

	started := time.Now()
	img, err := s.images.GenerateImage(ctx, providers.ImageRequest{
		Model:  s.imageModel,
		Prompt: enrichImagePrompt(prompt),
		Size:   imageSize,
	})
	if err != nil {
		s.metrics.ProviderDuration.WithLabelValues("image", "error").Observe(time.Since(started).Seconds())
		if refundErr := s.subs.RefundImageQuota(context.WithoutCancel(ctx), u); refundErr != nil {
			s.logger.Error().Err(refundErr).Int64("user_id", u.ID).Msg("failed to refund image quota")
		}
		return ImageResult{}, fmt.Errorf("%w: generate image: %v", ErrUpstream, err)
	}
	s.metrics.ProviderDuration.WithLabelValues("image", "ok").Observe(time.Since(started).Seconds())
	s.metrics.ImageGenerations.Inc()

	if _, err := s.store.CreateGeneratedImage(ctx, storage.GeneratedImage{UserID: u.ID, Prompt: prompt, ImageURL: img.URL}); err != nil {
		return ImageResult{}, fmt.Errorf("save generated image: %w", err)
	}
	return ImageResult{Allowed: true, URL: img.URL, Count: d.Count, Limit: d.Limit}, nil
}

func (s *Service) ownedSession(ctx context.Context, u storage.User, chatID int64) (storage.ChatSession, error) {
	session, err := s.store.GetChatSession(ctx, chatID)
	if err != nil {
		return storage.ChatSession{}, err
	}
	if session.UserID != u.ID {
		return storage.ChatSession{}, ErrForbidden
	}
	return session, nil
}
