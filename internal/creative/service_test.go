package creative

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"desiai/internal/i18n"
	"desiai/internal/providers"
	"desiai/internal/storage"
	"desiai/internal/subscription"
)

// scriptedProvider answers by system prompt.
type scriptedProvider struct {
	replies map[string]string
	fail    map[string]bool
	reqs    []providers.ChatRequest
}

func (p *scriptedProvider) Chat(_ context.Context, req providers.ChatRequest) (providers.ChatResponse, error) {
	p.reqs = append(p.reqs, req)
	for prefix, failed := range p.fail {
		if failed && strings.HasPrefix(req.SystemPrompt, prefix) {
			return providers.ChatResponse{}, errors.New("provider down")
		}
	}
	for prefix, reply := range p.replies {
		if strings.HasPrefix(req.SystemPrompt, prefix) {
			return providers.ChatResponse{Text: reply}, nil
		}
	}
	return providers.ChatResponse{}, errors.New("no scripted reply")
}

type stubImages struct{ err error }

func (s stubImages) GenerateImage(context.Context, providers.ImageRequest) (providers.ImageResponse, error) {
	if s.err != nil {
		return providers.ImageResponse{}, s.err
	}
	return providers.ImageResponse{URL: "https://img/thumb.png"}, nil
}

type fixture struct {
	store    *storage.Store
	subs     *subscription.Manager
	provider *scriptedProvider
	svc      *Service
}

func newFixture(t *testing.T, images providers.ImageGenerator) *fixture {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	st, err := storage.Open(context.Background(), "sqlite", fmt.Sprintf("file:%s?mode=memory&cache=shared", name), true)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	loc, err := i18n.New()
	if err != nil {
		t.Fatalf("localizer: %v", err)
	}

	f := &fixture{
		store: st,
		subs: subscription.NewManager(subscription.Config{Store: st, Logger: zerolog.Nop(), Now: func() time.Time {
			return time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
		}}),
		provider: &scriptedProvider{
			replies: map[string]string{
				"You are a code review expert": `{"isValid":false,"suggestions":["close the brace"],"errorMessage":"syntax error"}`,
				gameDesignerSystem:             `{"title":"Chai Runner","description":"Dodge the traffic","gameType":"platformer","mainCharacter":"a chaiwala","objective":"deliver chai","visualStyle":"pixel art"}`,
				gameCoderSystem:                "<html><canvas id=\"gameCanvas\"></canvas></html>",
				composerSystem:                 `{"title":"Monsoon Raga","description":"Rainy evening","mood":"calm","instruments":["sitar","tabla"],"tempo":"slow","structure":"AABA"}`,
				midiSystem:                     "Measure 1: Sa Re Ga",
			},
			fail: map[string]bool{},
		},
	}
	f.svc = NewService(Config{
		Store:         st,
		Subscriptions: f.subs,
		Provider:      f.provider,
		Images:        images,
		Localizer:     loc,
		Model:         "gpt-4o",
		Logger:        zerolog.Nop(),
	})
	return f
}

func (f *fixture) user(t *testing.T, uid string, premium bool) storage.User {
	t.Helper()
	u, _, err := f.store.CreateUser(context.Background(), storage.User{FirebaseID: uid, Username: uid})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if premium {
		if u, err = f.subs.UpgradeToPremium(context.Background(), u); err != nil {
			t.Fatalf("upgrade: %v", err)
		}
	}
	return u
}

func TestCheckCode(t *testing.T) {
	f := newFixture(t, stubImages{})
	ctx := context.Background()
	u := f.user(t, "dev", false)

	if _, err := f.svc.CheckCode(ctx, u, "", "go"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}

	review, err := f.svc.CheckCode(ctx, u, "func main() {", "go")
	if err != nil {
		t.Fatalf("check code: %v", err)
	}
	if review.IsValid || review.ErrorMessage != "syntax error" || len(review.Suggestions) != 1 {
		t.Fatalf("unexpected review %+v", review)
	}
	req := f.provider.reqs[len(f.provider.reqs)-1]
	if !req.JSONMode || req.Temperature != 0.3 || !strings.Contains(req.SystemPrompt, "Review the following go code") {
		t.Fatalf("unexpected request %+v", req)
	}

	f.provider.fail["You are a code review expert"] = true
	review, err = f.svc.CheckCode(ctx, u, "x", "go")
	if err != nil {
		t.Fatalf("provider failure should not be an error: %v", err)
	}
	if review.IsValid || review.ErrorMessage != "Failed to check code. Please try again later." {
		t.Fatalf("unexpected failure review %+v", review)
	}
}

func TestGenerateGame(t *testing.T) {
	f := newFixture(t, stubImages{})
	ctx := context.Background()

	free := f.user(t, "free", false)
	if _, err := f.svc.GenerateGame(ctx, free, "a chai game"); !errors.Is(err, subscription.ErrPremiumRequired) {
		t.Fatalf("expected ErrPremiumRequired, got %v", err)
	}

	u := f.user(t, "gamer", true)
	g, err := f.svc.GenerateGame(ctx, u, "a chai game")
	if err != nil {
		t.Fatalf("generate game: %v", err)
	}
	if g.Title != "Chai Runner" || g.GameURL != "/game/chai-runner" || g.ThumbnailURL != "https://img/thumb.png" || !strings.Contains(g.GameCode, "gameCanvas") {
		t.Fatalf("unexpected game %+v", g)
	}

	got, err := f.svc.Game(ctx, u, g.ID)
	if err != nil || got.ID != g.ID {
		t.Fatalf("get own game: %+v %v", got, err)
	}
	if _, err := f.svc.Game(ctx, free, g.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for foreign game, got %v", err)
	}
	if _, err := f.svc.Game(ctx, u, 9999); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for missing game, got %v", err)
	}

	games, err := f.svc.Games(ctx, u)
	if err != nil || len(games) != 1 {
		t.Fatalf("library: %d %v", len(games), err)
	}
}

func TestGenerateGameThumbnailFailureIsTolerated(t *testing.T) {
	f := newFixture(t, stubImages{err: errors.New("image down")})
	u := f.user(t, "gamer", true)

	g, err := f.svc.GenerateGame(context.Background(), u, "a chai game")
	if err != nil {
		t.Fatalf("generate game: %v", err)
	}
	if g.ThumbnailURL != "" {
		t.Fatalf("expected empty thumbnail, got %q", g.ThumbnailURL)
	}
}

func TestGenerateGameConceptFailure(t *testing.T) {
	f := newFixture(t, stubImages{})
	f.provider.fail[gameDesignerSystem] = true
	u := f.user(t, "gamer", true)

	if _, err := f.svc.GenerateGame(context.Background(), u, "x"); !errors.Is(err, ErrUpstream) {
		t.Fatalf("expected ErrUpstream, got %v", err)
	}
}

func TestGenerateMusic(t *testing.T) {
	f := newFixture(t, stubImages{})
	ctx := context.Background()
	u := f.user(t, "musician", true)

	if _, err := f.svc.GenerateMusic(ctx, u, MusicInput{Prompt: "rain", Duration: 500}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for long duration, got %v", err)
	}

	m, err := f.svc.GenerateMusic(ctx, u, MusicInput{Prompt: "rain", Genre: "classical"})
	if err != nil {
		t.Fatalf("generate music: %v", err)
	}
	if m.Title != "Monsoon Raga" || m.MusicURL != "/music/monsoon-raga.mp3" || m.Duration != DefaultMusicDuration {
		t.Fatalf("unexpected track %+v", m)
	}
	if m.Description != "Rainy evening\n\nMeasure 1: Sa Re Ga" {
		t.Fatalf("unexpected description %q", m.Description)
	}

	var concept providers.ChatRequest
	for _, r := range f.provider.reqs {
		if r.SystemPrompt == composerSystem {
			concept = r
		}
	}
	if !strings.Contains(concept.UserPrompt, "in the classical genre") || !strings.Contains(concept.UserPrompt, "approximately 30 seconds") {
		t.Fatalf("unexpected concept prompt %q", concept.UserPrompt)
	}

	other := f.user(t, "other", true)
	if _, err := f.svc.Track(ctx, other, m.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestSlug(t *testing.T) {
	cases := map[string]string{
		"Chai Runner":          "chai-runner",
		"  Bollywood!! Beats ": "bollywood-beats",
		"???":                  "untitled",
		"गली क्रिकेट":          "गली-क्रिकेट",
	}
	for in, want := range cases {
		if got := slug(in); got != want {
			t.Fatalf("slug(%q) = %q, want %q", in, got, want)
		}
	}
}
