package subscription

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
	"desiai/internal/storage"
)

type fixture struct {
	store *storage.Store
	mgr   *Manager
	now   time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	st, err := storage.Open(context.Background(), "sqlite", fmt.Sprintf("file:%s?mode=memory&cache=shared", name), true)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	f := &fixture{store: st, now: time.Date(2026, 5, 14, 10, 0, 0, 0, time.UTC)}
	st.SetClock(func() time.Time { return f.now })
	f.mgr = NewManager(Config{Store: st, Logger: zerolog.Nop(), Now: func() time.Time { return f.now }})
	return f
}

func (f *fixture) user(t *testing.T, uid string) storage.User {
	t.Helper()
	u, _, err := f.store.CreateUser(context.Background(), storage.User{FirebaseID: uid, Username: uid, DisplayName: uid})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

func (f *fixture) reload(t *testing.T, u storage.User) storage.User {
	t.Helper()
	out, err := f.store.GetUserByID(context.Background(), u.ID)
	if err != nil {
		t.Fatalf("reload user: %v", err)
	}
	return out
}

func TestPremiumActive(t *testing.T) {
	now := time.Date(2026, 5, 14, 10, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	cases := []struct {
		name string
		user storage.User
		want bool
	}{
		{"free", storage.User{}, false},
		{"lifetime", storage.User{IsPremium: true}, true},
		{"trial running", storage.User{IsPremium: true, PremiumExpiresAt: &future}, true},
		{"trial expired", storage.User{IsPremium: true, PremiumExpiresAt: &past}, false},
		{"expiry without flag", storage.User{PremiumExpiresAt: &future}, false},
	}
	for _, tc := range cases {
		if got := PremiumActive(tc.user, now); got != tc.want {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, got)
		}
	}
}

func TestFreeUserDeniedAfterSixImages(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.user(t, "free")

	for i := 1; i <= FreeImageLimit; i++ {
		d, err := f.mgr.CheckAndConsumeImageQuota(ctx, f.reload(t, u))
		if err != nil {
			t.Fatalf("consume #%d: %v", i, err)
		}
		if !d.Allowed || d.Count != i || d.Limit != FreeImageLimit {
			t.Fatalf("consume #%d: unexpected decision %+v", i, d)
		}
	}

	d, err := f.mgr.CheckAndConsumeImageQuota(ctx, f.reload(t, u))
	if err != nil {
		t.Fatalf("consume over limit: %v", err)
	}
	if d.Allowed || d.Remaining != 0 || d.Premium {
		t.Fatalf("expected free-tier denial, got %+v", d)
	}
}

func TestConcurrentImageRequestsNeverExceedLimit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.user(t, "burst")

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := f.mgr.CheckAndConsumeImageQuota(ctx, u)
			if err != nil {
				t.Errorf("consume: %v", err)
				return
			}
			if d.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowed != FreeImageLimit {
		t.Fatalf("expected %d allowed requests, got %d", FreeImageLimit, allowed)
	}
	if got := f.reload(t, u).ImageGenerationCount; got != FreeImageLimit {
		t.Fatalf("expected stored count %d, got %d", FreeImageLimit, got)
	}
}

func TestPremiumUserGetsTwentyImages(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u, err := f.mgr.UpgradeToPremium(ctx, f.user(t, "premium"))
	if err != nil {
		t.Fatalf("upgrade: %v", err)
	}

	for i := 0; i < PremiumImageLimit; i++ {
		d, err := f.mgr.CheckAndConsumeImageQuota(ctx, f.reload(t, u))
		if err != nil || !d.Allowed {
			t.Fatalf("consume #%d: allowed=%v err=%v", i+1, d.Allowed, err)
		}
	}
	d, err := f.mgr.CheckAndConsumeImageQuota(ctx, f.reload(t, u))
	if err != nil {
		t.Fatalf("consume over limit: %v", err)
	}
	if d.Allowed || !d.Premium || d.Limit != PremiumImageLimit {
		t.Fatalf("expected premium denial, got %+v", d)
	}
}

func TestQuotaResetsOnNewDay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.user(t, "rollover")

	for i := 0; i < FreeImageLimit; i++ {
		if _, err := f.mgr.CheckAndConsumeImageQuota(ctx, f.reload(t, u)); err != nil {
			t.Fatalf("consume: %v", err)
		}
	}

	f.now = f.now.Add(24 * time.Hour)
	d, err := f.mgr.CheckAndConsumeImageQuota(ctx, f.reload(t, u))
	if err != nil {
		t.Fatalf("consume next day: %v", err)
	}
	if !d.Allowed || d.Count != 1 {
		t.Fatalf("expected fresh allowance, got %+v", d)
	}
}

func TestRefundReturnsUnit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.user(t, "refund")

	if _, err := f.mgr.CheckAndConsumeImageQuota(ctx, f.reload(t, u)); err != nil {
		t.Fatalf("consume: %v", err)
	}
	if err := f.mgr.RefundImageQuota(ctx, u); err != nil {
		t.Fatalf("refund: %v", err)
	}
	if got := f.reload(t, u).ImageGenerationCount; got != 0 {
		t.Fatalf("expected count 0 after refund, got %d", got)
	}
}

func TestStartTrialExpiresAfterFortyEightHours(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	u, err := f.mgr.StartTrial(ctx, f.user(t, "trial"))
	if err != nil {
		t.Fatalf("start trial: %v", err)
	}
	want := f.now.Add(TrialDuration)
	if u.PremiumExpiresAt == nil || !u.PremiumExpiresAt.Equal(want) {
		t.Fatalf("expected expiry %v, got %v", want, u.PremiumExpiresAt)
	}
	if !f.mgr.IsPremium(u) {
		t.Fatalf("expected premium during trial")
	}

	f.now = want.Add(time.Second)
	if f.mgr.IsPremium(u) {
		t.Fatalf("expected trial to lapse")
	}

	actions, err := f.store.ListAuditActions(ctx, u.ID)
	if err != nil {
		t.Fatalf("list audit: %v", err)
	}
	if len(actions) != 1 || actions[0] != "premium_trial" {
		t.Fatalf("unexpected audit trail %v", actions)
	}
}

func TestAddMemoryItemRequiresPremiumAndCaps(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.user(t, "memory")

	if _, err := f.mgr.AddMemoryItem(ctx, u, "likes chai"); !errors.Is(err, ErrPremiumRequired) {
		t.Fatalf("expected ErrPremiumRequired, got %v", err)
	}

	u, err := f.mgr.UpgradeToPremium(ctx, u)
	if err != nil {
		t.Fatalf("upgrade: %v", err)
	}
	for i := 0; i < MemoryItemLimit; i++ {
		if _, err := f.mgr.AddMemoryItem(ctx, u, fmt.Sprintf("fact %d", i)); err != nil {
			t.Fatalf("add #%d: %v", i, err)
		}
	}
	ok, err := f.mgr.CanAddMemoryItem(ctx, u)
	if err != nil {
		t.Fatalf("can add: %v", err)
	}
	if ok {
		t.Fatalf("expected memory to be full")
	}
	if _, err := f.mgr.AddMemoryItem(ctx, u, "overflow"); !errors.Is(err, storage.ErrMemoryLimit) {
		t.Fatalf("expected ErrMemoryLimit, got %v", err)
	}
}

func TestDenialMessageByTier(t *testing.T) {
	l, err := i18n.New()
	if err != nil {
		t.Fatalf("new localizer: %v", err)
	}
	free := DenialMessage(l, Decision{Limit: FreeImageLimit}, "english")
	if free != "You've reached your free tier limit of 6 image generations. Upgrade to premium for 20 daily generations." {
		t.Fatalf("unexpected free copy %q", free)
	}
	premium := DenialMessage(l, Decision{Limit: PremiumImageLimit, Premium: true}, "english")
	if premium != "You've reached your daily limit of 20 image generations." {
		t.Fatalf("unexpected premium copy %q", premium)
	}
}
