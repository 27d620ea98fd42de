package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"desiai/internal/i18n"
	"desiai/internal/providers"
	"desiai/internal/queue"
	"desiai/internal/storage"
	"desiai/internal/subscription"
)

type fakeProvider struct {
	mu   sync.Mutex
	text string
	err  error
	reqs []providers.ChatRequest
}

func (p *fakeProvider) Chat(_ context.Context, req providers.ChatRequest) (providers.ChatResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reqs = append(p.reqs, req)
	if p.err != nil {
		return providers.ChatResponse{}, p.err
	}
	return providers.ChatResponse{Text: p.text}, nil
}

func (p *fakeProvider) last() providers.ChatRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reqs[len(p.reqs)-1]
}

type fakeImages struct {
	err     error
	prompts []string
}

func (f *fakeImages) GenerateImage(_ context.Context, req providers.ImageRequest) (providers.ImageResponse, error) {
	f.prompts = append(f.prompts, req.Prompt)
	if f.err != nil {
		return providers.ImageResponse{}, f.err
	}
	return providers.ImageResponse{URL: fmt.Sprintf("https://img/%d.png", len(f.prompts))}, nil
}

type fixture struct {
	store    *storage.Store
	subs     *subscription.Manager
	provider *fakeProvider
	images   *fakeImages
	svc      *Service
}

func newFixture(t *testing.T) *fixture {
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

	now := func() time.Time { return time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC) }
	f := &fixture{
		store:    st,
		subs:     subscription.NewManager(subscription.Config{Store: st, Logger: zerolog.Nop(), Now: now}),
		provider: &fakeProvider{text: "Namaste! Main theek hoon."},
		images:   &fakeImages{},
	}
	f.svc = NewService(Config{
		Store:         st,
		Subscriptions: f.subs,
		Provider:      f.provider,
		Images:        f.images,
		Localizer:     loc,
		Model:         "gpt-4o",
		ImageModel:    "dall-e-3",
		Logger:        zerolog.Nop(),
	})
	return f
}

func (f *fixture) user(t *testing.T, uid, lang string) storage.User {
	t.Helper()
	u, _, err := f.store.CreateUser(context.Background(), storage.User{FirebaseID: uid, Username: uid, PreferredLanguage: lang})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

func TestSendMessageCreatesSessionAndPersistsTurn(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.user(t, "asha", storage.LanguageHindi)

	content := "Tell me about the history of the Red Fort in Delhi"
	res, err := f.svc.SendMessage(ctx, u, SendInput{Content: content, FileURLs: []string{"https://cdn/a.pdf"}})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if res.Fallback || res.TripleChecked {
		t.Fatalf("unexpected flags %+v", res)
	}

	sessions, err := f.svc.History(ctx, u)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(sessions) != 1 || sessions[0].Title != "Tell me about the history of t…" {
		t.Fatalf("unexpected sessions %+v", sessions)
	}

	msgs, err := f.svc.Messages(ctx, u, res.ChatID)
	if err != nil {
		t.Fatalf("messages: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Content != content || msgs[1].Content != "Namaste! Main theek hoon." {
		t.Fatalf("unexpected messages %+v", msgs)
	}

	req := f.provider.last()
	if !strings.Contains(req.SystemPrompt, "Respond in hindi language. आप हिंदी में उत्तर देंगे।") {
		t.Fatalf("system prompt lacks hindi instruction: %q", req.SystemPrompt)
	}
	if strings.Contains(req.SystemPrompt, "ENHANCED VERIFICATION") {
		t.Fatalf("free user should not get verification block")
	}
	if req.Temperature != 0.7 || req.MaxTokens != 2048 || len(req.Attachments) != 1 {
		t.Fatalf("unexpected request %+v", req)
	}
}

type busyLocker struct{}

func (busyLocker) Lock(context.Context, int64) (func(), error) {
	return nil, queue.ErrLockTimeout
}

func TestSendMessageLeavesNoEmptySession(t *testing.T) {
	f := newFixture(t)
	f.svc.locker = busyLocker{}
	ctx := context.Background()
	u := f.user(t, "busy", storage.LanguageEnglish)

	res, err := f.svc.SendMessage(ctx, u, SendInput{Content: "pehla sawaal"})
	if err != nil {
		t.Fatalf("first message must not wait on the lock: %v", err)
	}

	chatID := res.ChatID
	if _, err := f.svc.SendMessage(ctx, u, SendInput{Content: "doosra sawaal", ChatID: &chatID}); !errors.Is(err, queue.ErrLockTimeout) {
		t.Fatalf("expected lock timeout, got %v", err)
	}

	sessions, err := f.svc.History(ctx, u)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("expected a single session, got %d", len(sessions))
	}
	msgs, err := f.svc.Messages(ctx, u, chatID)
	if err != nil {
		t.Fatalf("messages: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Content != "pehla sawaal" {
		t.Fatalf("unexpected messages %+v", msgs)
	}
}

func TestSendMessagePremiumGetsVerification(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u, err := f.subs.UpgradeToPremium(ctx, f.user(t, "vip", storage.LanguageEnglish))
	if err != nil {
		t.Fatalf("upgrade: %v", err)
	}

	res, err := f.svc.SendMessage(ctx, u, SendInput{Content: "hi"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if !res.TripleChecked {
		t.Fatalf("expected triple check for premium")
	}
	if !strings.Contains(f.provider.last().SystemPrompt, "ENHANCED VERIFICATION enabled (3x check)") {
		t.Fatalf("premium prompt lacks verification block")
	}
}

func TestSendMessageProviderFailureStoresFallback(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.user(t, "ravi", storage.LanguageEnglish)
	f.provider.err = errors.New("boom")

	res, err := f.svc.SendMessage(ctx, u, SendInput{Content: "hello"})
	if err != nil {
		t.Fatalf("send should not fail: %v", err)
	}
	if !res.Fallback {
		t.Fatalf("expected fallback turn")
	}
	want := "Sorry, I couldn't process your request. Please try again in a moment."
	if res.AssistantMessage.Content != want {
		t.Fatalf("unexpected fallback %q", res.AssistantMessage.Content)
	}

	msgs, err := f.store.ListMessages(ctx, res.ChatID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Role != storage.RoleUser || msgs[1].Content != want {
		t.Fatalf("expected user message and fallback persisted, got %+v", msgs)
	}
}

func TestSendMessageToForeignOrMissingSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := f.user(t, "owner", "")
	other := f.user(t, "other", "")

	session, err := f.svc.NewSession(ctx, owner)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if session.Title != "New Conversation" {
		t.Fatalf("unexpected title %q", session.Title)
	}

	if _, err := f.svc.SendMessage(ctx, other, SendInput{Content: "hi", ChatID: &session.ID}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if _, err := f.svc.Messages(ctx, other, session.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for messages, got %v", err)
	}
	missing := int64(404)
	if _, err := f.svc.SendMessage(ctx, owner, SendInput{Content: "hi", ChatID: &missing}); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := f.svc.SendMessage(ctx, owner, SendInput{Content: "   "}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestFollowUp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.user(t, "meera", storage.LanguageHinglish)

	first, err := f.svc.SendMessage(ctx, u, SendInput{Content: "Explain GST"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	if _, err := f.svc.FollowUp(ctx, u, FollowUpInput{OriginalMessage: "x", ChatID: first.ChatID}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for empty follow-up, got %v", err)
	}
	if _, err := f.svc.FollowUp(ctx, u, FollowUpInput{OriginalMessage: "x", FollowUpText: "simpler?"}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for missing chat, got %v", err)
	}

	res, err := f.svc.FollowUp(ctx, u, FollowUpInput{
		OriginalMessage: first.AssistantMessage.Content,
		FollowUpText:    "Thoda simple mein batao",
		ChatID:          first.ChatID,
	})
	if err != nil {
		t.Fatalf("follow up: %v", err)
	}
	req := f.provider.last()
	if req.UserPrompt != "Thoda simple mein batao" || !strings.Contains(req.SystemPrompt, "in hinglish language") {
		t.Fatalf("unexpected follow-up request %+v", req)
	}
	if !strings.Contains(req.SystemPrompt, first.AssistantMessage.Content) {
		t.Fatalf("follow-up prompt lacks original answer")
	}

	msgs, err := f.store.ListMessages(ctx, res.ChatID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(msgs))
	}
}

func TestGenerateImageQuotaAndRefund(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.user(t, "artist", storage.LanguageEnglish)

	reload := func() storage.User {
		out, err := f.store.GetUserByID(ctx, u.ID)
		if err != nil {
			t.Fatalf("reload: %v", err)
		}
		return out
	}

	res, err := f.svc.GenerateImage(ctx, reload(), "a tiger in the snow")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !res.Allowed || res.Count != 1 || res.Limit != 6 || res.URL == "" {
		t.Fatalf("unexpected result %+v", res)
	}
	if f.images.prompts[0] != "a tiger in the snow, with subtle Indian cultural elements, vibrant colors" {
		t.Fatalf("prompt not enriched: %q", f.images.prompts[0])
	}

	if _, err := f.svc.GenerateImage(ctx, reload(), "Desi wedding"); err != nil {
		t.Fatalf("generate: %v", err)
	}
	if f.images.prompts[1] != "Desi wedding" {
		t.Fatalf("prompt should stay as is: %q", f.images.prompts[1])
	}

	f.images.err = errors.New("provider down")
	if _, err := f.svc.GenerateImage(ctx, reload(), "a kite"); !errors.Is(err, ErrUpstream) {
		t.Fatalf("expected ErrUpstream, got %v", err)
	}
	if got := reload().ImageGenerationCount; got != 2 {
		t.Fatalf("expected refund to keep count at 2, got %d", got)
	}
	f.images.err = nil

	for i := 0; i < 4; i++ {
		if res, err := f.svc.GenerateImage(ctx, reload(), "a kite"); err != nil || !res.Allowed {
			t.Fatalf("generate #%d: %+v %v", i+3, res, err)
		}
	}
	res, err = f.svc.GenerateImage(ctx, reload(), "one more")
	if err != nil {
		t.Fatalf("denial should not be an error: %v", err)
	}
	if res.Allowed || res.Count != 6 || !strings.Contains(res.Message, "free tier limit of 6") {
		t.Fatalf("unexpected denial %+v", res)
	}

	images, err := f.store.ListGeneratedImages(ctx, u.ID)
	if err != nil {
		t.Fatalf("list images: %v", err)
	}
	if len(images) != 6 {
		t.Fatalf("expected 6 stored images, got %d", len(images))
	}
}

func TestSessionTitle(t *testing.T) {
	if got := sessionTitle(""); got != "New Conversation" {
		t.Fatalf("unexpected empty title %q", got)
	}
	if got := sessionTitle("short"); got != "short" {
		t.Fatalf("unexpected short title %q", got)
	}
	long := strings.Repeat("नमस्ते", 10)
	if got := sessionTitle(long); len([]rune(got)) != 31 || !strings.HasSuffix(got, "…") {
		t.Fatalf("expected 30 runes plus ellipsis, got %q", got)
	}
}
