package creative

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"desiai/internal/i18n"
	"desiai/internal/metrics"
	"desiai/internal/providers"
	"desiai/internal/storage"
	"desiai/internal/subscription"
)

var (
	ErrValidation = errors.New("invalid input")
	ErrForbidden  = errors.New("access denied")
	ErrUpstream   = errors.New("upstream provider failed")
)

const (
	DefaultMusicDuration = 30
	MinMusicDuration     = 5
	MaxMusicDuration     = 300
)

type Store interface {
	CreateGeneratedGame(ctx context.Context, g storage.GeneratedGame) (storage.GeneratedGame, error)
	GetGeneratedGame(ctx context.Context, id int64) (storage.GeneratedGame, error)
	ListGeneratedGames(ctx context.Context, userID int64) ([]storage.GeneratedGame, error)
	CreateGeneratedMusic(ctx context.Context, m storage.GeneratedMusic) (storage.GeneratedMusic, error)
	GetGeneratedMusic(ctx context.Context, id int64) (storage.GeneratedMusic, error)
	ListGeneratedMusic(ctx context.Context, userID int64) ([]storage.GeneratedMusic, error)
}

type Service struct {
	store      Store
	subs       *subscription.Manager
	provider   providers.Provider
	images     providers.ImageGenerator
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
	Localizer     *i18n.Localizer
	Model         string
	ImageModel    string
	Logger        zerolog.Logger
	Metrics       *metrics.Metrics
}

func NewService(cfg Config) *Service {
	m := cfg.Metrics
	if m == nil {
		m = metrics.Global()
	}
	return &Service{
		store:      cfg.Store,
		subs:       cfg.Subscriptions,
		provider:   cfg.Provider,
		images:     cfg.Images,
		localizer:  cfg.Localizer,
		model:      cfg.Model,
		imageModel: cfg.ImageModel,
		logger:     cfg.Logger.With().Str("component", "creative").Logger(),
		metrics:    m,
	}
}

type CodeReview struct {
	IsValid      bool     `json:"isValid"`
	Suggestions  []string `json:"suggestions"`
	ErrorMessage string   `json:"errorMessage,omitempty"`
}

type gameConcept struct {
	Title         string `json:"title"`
	Description   string `json:"description"`
	GameType      string `json:"gameType"`
	MainCharacter string `json:"mainCharacter"`
	Objective     string `json:"objective"`
	VisualStyle   string `json:"visualStyle"`
}

type musicConcept struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Mood        string   `json:"mood"`
	Instruments []string `json:"instruments"`
	Tempo       string   `json:"tempo"`
	Structure   string   `json:"structure"`
}

type MusicInput struct {
	Prompt   string
	Duration int
	Genre    string
}

// CheckCode reports a provider failure inside the review rather than as an error.
func (s *Service) CheckCode(ctx context.Context, u storage.User, code, language string) (CodeReview, error) {
	if strings.TrimSpace(code) == "" || strings.TrimSpace(language) == "" {
		return CodeReview{}, fmt.Errorf("%w: code and language are required", ErrValidation)
	}

	text, err := s.complete(ctx, "code_check", providers.ChatRequest{
		Model:        s.model,
		SystemPrompt: codeReviewPrompt(language),
		UserPrompt:   code,
		MaxTokens:    1024,
		Temperature:  0.3,
		JSONMode:     true,
	})
	failed := CodeReview{IsValid: false, Suggestions: []string{}, ErrorMessage: s.localizer.Get(u.PreferredLanguage, i18n.MsgCodeCheckFailed, nil)}
	if err != nil {
		s.logger.Warn().Err(err).Int64("user_id", u.ID).Msg("code check failed")
		return failed, nil
	}

	var review CodeReview
	if err := json.Unmarshal([]byte(text), &review); err != nil {
		s.logger.Warn().Err(err).Int64("user_id", u.ID).Msg("code check returned invalid json")
		return failed, nil
	}
	if review.Suggestions == nil {
		review.Suggestions = []string{}
	}
	return review, nil
}

func (s *Service) GenerateGame(ctx context.Context, u storage.User, prompt string) (storage.GeneratedGame, error) {
	if !s.subs.IsPremium(u) {
		return storage.GeneratedGame{}, subscription.ErrPremiumRequired
	}
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return storage.GeneratedGame{}, fmt.Errorf("%w: prompt is required", ErrValidation)
	}

	var concept gameConcept
	if err := s.completeJSON(ctx, "game_concept", providers.ChatRequest{
		Model:        s.model,
		SystemPrompt: gameDesignerSystem,
		UserPrompt:   gameConceptPrompt(prompt),
		MaxTokens:    1024,
		Temperature:  0.7,
		JSONMode:     true,
	}, &concept); err != nil {
		return storage.GeneratedGame{}, err
	}
	if strings.TrimSpace(concept.Title) == "" {
		concept.Title = "Untitled Game"
	}

	code, err := s.complete(ctx, "game_code", providers.ChatRequest{
		Model:        s.model,
		SystemPrompt: gameCoderSystem,
		UserPrompt:   gameCodePrompt(concept),
		MaxTokens:    4096,
		Temperature:  0.3,
	})
	if err != nil {
		return storage.GeneratedGame{}, fmt.Errorf("%w: game code: %v", ErrUpstream, err)
	}

	thumbnail := ""
	if img, err := s.images.GenerateImage(ctx, providers.ImageRequest{Model: s.imageModel, Prompt: gameThumbnailPrompt(concept), Size: "1024x1024"}); err != nil {
		s.logger.Warn().Err(err).Int64("user_id", u.ID).Msg("game thumbnail failed")
	} else {
		thumbnail = img.URL
	}

	return s.store.CreateGeneratedGame(ctx, storage.GeneratedGame{
		UserID:       u.ID,
		Prompt:       prompt,
		Title:        concept.Title,
		Description:  concept.Description,
		GameCode:     code,
		GameURL:      "/game/" + slug(concept.Title),
		ThumbnailURL: thumbnail,
	})
}

func (s *Service) GenerateMusic(ctx context.Context, u storage.User, in MusicInput) (storage.GeneratedMusic, error) {
	if !s.subs.IsPremium(u) {
		return storage.GeneratedMusic{}, subscription.ErrPremiumRequired
	}
	prompt := strings.TrimSpace(in.Prompt)
	if prompt == "" {
		return storage.GeneratedMusic{}, fmt.Errorf("%w: prompt is required", ErrValidation)
	}
	duration := in.Duration
	if duration == 0 {
		duration = DefaultMusicDuration
	}
	if duration < MinMusicDuration || duration > MaxMusicDuration {
		return storage.GeneratedMusic{}, fmt.Errorf("%w: duration must be between %d and %d seconds", ErrValidation, MinMusicDuration, MaxMusicDuration)
	}

	var concept musicConcept
	if err := s.completeJSON(ctx, "music_concept", providers.ChatRequest{
		Model:        s.model,
		SystemPrompt: composerSystem,
		UserPrompt:   musicConceptPrompt(prompt, duration, strings.TrimSpace(in.Genre)),
		MaxTokens:    1024,
		Temperature:  0.7,
		JSONMode:     true,
	}, &concept); err != nil {
		return storage.GeneratedMusic{}, err
	}
	if strings.TrimSpace(concept.Title) == "" {
		concept.Title = "Untitled Track"
	}

	composition, err := s.complete(ctx, "music_composition", providers.ChatRequest{
		Model:        s.model,
		SystemPrompt: midiSystem,
		UserPrompt:   compositionPrompt(concept),
		MaxTokens:    2048,
		Temperature:  0.4,
	})
	if err != nil {
		return storage.GeneratedMusic{}, fmt.Errorf("%w: composition: %v", ErrUpstream, err)
	}

	return s.store.CreateGeneratedMusic(ctx, storage.GeneratedMusic{
		UserID:      u.ID,
		Prompt:      prompt,
		Title:       concept.Title,
		Description: concept.Description + "\n\n" + composition,
		MusicURL:    "/music/" + slug(concept.Title) + ".mp3",
		Duration:    duration,
	})
}

func (s *Service) Games(ctx context.Context, u storage.User) ([]storage.GeneratedGame, error) {
	return s.store.ListGeneratedGames(ctx, u.ID)
}

func (s *Service) Music(ctx context.Context, u storage.User) ([]storage.GeneratedMusic, error) {
	return s.store.ListGeneratedMusic(ctx, u.ID)
}

// Game hides whether a foreign id exists: both cases are ErrForbidden.
func (s *Service) Game(ctx context.Context, u storage.User, id int64) (storage.GeneratedGame, error) {
	g, err := s.store.GetGeneratedGame(ctx, id)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && g.UserID != u.ID) {
		return storage.GeneratedGame{}, ErrForbidden
	}
	return g, err
}

func (s *Service) Track(ctx context.Context, u storage.User, id int64) (storage.GeneratedMusic, error) {
	m, err := s.store.GetGeneratedMusic(ctx, id)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && m.UserID != u.ID) {
		return storage.GeneratedMusic{}, ErrForbidden
	}
	return m, err
}

func (s *Service) complete(ctx context.Context, op string, req providers.ChatRequest) (string, error) {
	started := time.Now()
	resp, err := s.provider.Chat(ctx, req)
	if err == nil && strings.TrimSpace(resp.Text) == "" {
		err = errors.New("empty completion")
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	s.metrics.ProviderDuration.WithLabelValues(op, outcome).Observe(time.Since(started).Seconds())
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

func (s *Service) completeJSON(ctx context.Context, op string, req providers.ChatRequest, out any) error {
	text, err := s.complete(ctx, op, req)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrUpstream, op, err)
	}
	if err := json.Unmarshal([]byte(text), out); err != nil {
		return fmt.Errorf("%w: %s returned invalid json: %v", ErrUpstream, op, err)
	}
	return nil
}
