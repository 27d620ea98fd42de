package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"desiai/internal/i18n"
	"desiai/internal/metrics"
	"desiai/internal/storage"
)

const (
	FreeImageLimit    = 6
	PremiumImageLimit = 20
	MemoryItemLimit   = 60
	TrialDuration     = 48 * time.Hour
)

var ErrPremiumRequired = errors.New("premium subscription required")

type Store interface {
	ConsumeImageQuota(ctx context.Context, userID int64, limit int, reset bool, now time.Time) (int, bool, error)
	RefundImageQuota(ctx context.Context, userID int64) error
	SetPremium(ctx context.Context, id int64, expiresAt *time.Time) (storage.User, error)
	CountMemoryItems(ctx context.Context, userID int64) (int, error)
	AddMemoryItem(ctx context.Context, userID int64, content string, limit int) (storage.MemoryItem, error)
	LogAction(ctx context.Context, e storage.AuditEntry) error
}

type Decision struct {
	Allowed   bool
	Count     int
	Limit     int
	Remaining int
	Premium   bool
}

type Manager struct {
	store   Store
	logger  zerolog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

type Config struct {
	Store   Store
	Logger  zerolog.Logger
	Metrics *metrics.Metrics
	Now     func() time.Time
}

func NewManager(cfg Config) *Manager {
	m := cfg.Metrics
	if m == nil {
		m = metrics.Global()
	}
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Manager{
		store:   cfg.Store,
		logger:  cfg.Logger.With().Str("component", "subscription").Logger(),
		metrics: m,
		now:     now,
	}
}

func (m *Manager) Now() time.Time {
	return m.now()
}

// PremiumActive is the single source of truth for entitlement: the stored
// flag only counts while the expiry, if any, lies in the future.
func PremiumActive(u storage.User, now time.Time) bool {
	if !u.IsPremium {
		return false
	}
	return u.PremiumExpiresAt == nil || u.PremiumExpiresAt.After(now)
}

func (m *Manager) IsPremium(u storage.User) bool {
	return PremiumActive(u, m.now())
}

func ImageLimit(premium bool) int {
	if premium {
		return PremiumImageLimit
	}
	return FreeImageLimit
}

// needsReset compares calendar day-of-month only, so a stamp from the same
// day in a previous month does not trigger a reset.
func needsReset(lastReset *time.Time, now time.Time) bool {
	if lastReset == nil {
		return true
	}
	return lastReset.UTC().Day() != now.UTC().Day()
}

// CheckAndConsumeImageQuota never reports a denial as an error; errors are
// store failures only.
func (m *Manager) CheckAndConsumeImageQuota(ctx context.Context, u storage.User) (Decision, error) {
	now := m.now()
	premium := PremiumActive(u, now)
	limit := ImageLimit(premium)

	count, allowed, err := m.store.ConsumeImageQuota(ctx, u.ID, limit, needsReset(u.LastImageGenerationReset, now), now)
	if err != nil {
		return Decision{}, fmt.Errorf("consume image quota: %w", err)
	}
	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	d := Decision{Allowed: allowed, Count: count, Limit: limit, Remaining: remaining, Premium: premium}
	if !allowed {
		m.metrics.ImageQuotaDenied.Inc()
		m.logger.Info().Int64("user_id", u.ID).Int("count", count).Int("limit", limit).Msg("image quota exhausted")
	}
	return d, nil
}

// DenialMessage is the user-facing copy for a denied image request.
func DenialMessage(l *i18n.Localizer, d Decision, lang string) string {
	if d.Premium {
		return l.Get(lang, i18n.MsgImageLimitPremium, map[string]any{"Limit": d.Limit})
	}
	return l.Get(lang, i18n.MsgImageLimitFree, map[string]any{"Limit": d.Limit, "PremiumLimit": PremiumImageLimit})
}

func (m *Manager) RefundImageQuota(ctx context.Context, u storage.User) error {
	return m.store.RefundImageQuota(ctx, u.ID)
}

func (m *Manager) UpgradeToPremium(ctx context.Context, u storage.User) (storage.User, error) {
	out, err := m.store.SetPremium(ctx, u.ID, nil)
	if err != nil {
		return storage.User{}, fmt.Errorf("upgrade to premium: %w", err)
	}
	m.audit(ctx, u.ID, "premium_upgrade", `{}`)
	return out, nil
}

func (m *Manager) StartTrial(ctx context.Context, u storage.User) (storage.User, error) {
	expires := m.now().Add(TrialDuration)
	out, err := m.store.SetPremium(ctx, u.ID, &expires)
	if err != nil {
		return storage.User{}, fmt.Errorf("start trial: %w", err)
	}
	m.audit(ctx, u.ID, "premium_trial", fmt.Sprintf(`{"expires_at":%q}`, expires.Format(time.RFC3339)))
	return out, nil
}

func (m *Manager) CanAddMemoryItem(ctx context.Context, u storage.User) (bool, error) {
	n, err := m.store.CountMemoryItems(ctx, u.ID)
	if err != nil {
		return false, err
	}
	return n < MemoryItemLimit, nil
}

func (m *Manager) AddMemoryItem(ctx context.Context, u storage.User, content string) (storage.MemoryItem, error) {
	if !m.IsPremium(u) {
		return storage.MemoryItem{}, ErrPremiumRequired
	}
	return m.store.AddMemoryItem(ctx, u.ID, content, MemoryItemLimit)
}

func (m *Manager) audit(ctx context.Context, userID int64, action, meta string) {
	if err := m.store.LogAction(ctx, storage.AuditEntry{UserID: userID, Action: action, MetaJSON: meta}); err != nil {
		m.logger.Error().Err(err).Str("action", action).Int64("user_id", userID).Msg("failed to write audit entry")
	}
}
