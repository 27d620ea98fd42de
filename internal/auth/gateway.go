package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog"

	"desiai/internal/storage"
)

var ErrUnauthenticated = errors.New("unauthenticated")

type Store interface {
	GetUserByFirebaseID(ctx context.Context, firebaseID string) (storage.User, error)
	CreateUser(ctx context.Context, u storage.User) (storage.User, bool, error)
	MarkOwner(ctx context.Context, id int64) (bool, error)
	LogAction(ctx context.Context, e storage.AuditEntry) error
}

type Gateway struct {
	store    Store
	verifier Verifier
	owners   map[string]struct{}
	logger   zerolog.Logger
}

type Config struct {
	Store     Store
	Verifier  Verifier
	OwnerUIDs []string
	Logger    zerolog.Logger
}

func NewGateway(cfg Config) *Gateway {
	owners := make(map[string]struct{}, len(cfg.OwnerUIDs))
	for _, uid := range cfg.OwnerUIDs {
		if uid = strings.TrimSpace(uid); uid != "" {
			owners[uid] = struct{}{}
		}
	}
	return &Gateway{
		store:    cfg.Store,
		verifier: cfg.Verifier,
		owners:   owners,
		logger:   cfg.Logger.With().Str("component", "auth").Logger(),
	}
}

func (g *Gateway) Authenticate(ctx context.Context, token string) (Principal, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Principal{}, ErrUnauthenticated
	}
	p, err := g.verifier.Verify(ctx, token)
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	return p, nil
}

type RegisterInput struct {
	Email             string
	DisplayName       string
	BotName           string
	PreferredLanguage string
}

// ResolveOrProvision returns the user for p, creating it on first sight.
func (g *Gateway) ResolveOrProvision(ctx context.Context, p Principal, in RegisterInput) (storage.User, bool, error) {
	u, err := g.store.GetUserByFirebaseID(ctx, p.UID)
	if err == nil {
		u, err = g.seedOwner(ctx, u)
		return u, false, err
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return storage.User{}, false, err
	}

	email := firstNonEmpty(in.Email, p.Email)
	displayName := firstNonEmpty(in.DisplayName, p.DisplayName)
	lang := in.PreferredLanguage
	if !storage.ValidLanguage(lang) {
		lang = storage.LanguageEnglish
	}
	u, created, err := g.store.CreateUser(ctx, storage.User{
		FirebaseID:        p.UID,
		Email:             email,
		Username:          Username(displayName, email, p.UID),
		DisplayName:       displayName,
		BotName:           strings.TrimSpace(in.BotName),
		PreferredLanguage: lang,
	})
	if err != nil {
		return storage.User{}, false, err
	}
	if created {
		g.logger.Info().Int64("user_id", u.ID).Msg("user provisioned")
	}
	u, err = g.seedOwner(ctx, u)
	return u, created, err
}

// Lookup resolves p without provisioning.
func (g *Gateway) Lookup(ctx context.Context, p Principal) (storage.User, error) {
	u, err := g.store.GetUserByFirebaseID(ctx, p.UID)
	if err != nil {
		return storage.User{}, err
	}
	return g.seedOwner(ctx, u)
}

func (g *Gateway) seedOwner(ctx context.Context, u storage.User) (storage.User, error) {
	if u.IsOwner {
		return u, nil
	}
	if _, ok := g.owners[u.FirebaseID]; !ok {
		return u, nil
	}
	changed, err := g.store.MarkOwner(ctx, u.ID)
	if err != nil {
		return storage.User{}, fmt.Errorf("seed owner: %w", err)
	}
	u.IsOwner = true
	if changed {
		meta, _ := json.Marshal(map[string]string{"firebase_id": u.FirebaseID})
		if err := g.store.LogAction(ctx, storage.AuditEntry{UserID: u.ID, Action: "owner_seeded", MetaJSON: string(meta)}); err != nil {
			g.logger.Error().Err(err).Int64("user_id", u.ID).Msg("failed to write audit entry")
		}
		g.logger.Info().Int64("user_id", u.ID).Msg("owner seeded")
	}
	return u, nil
}

var whitespace = regexp.MustCompile(`\s+`)

// Username lowercases the display name and joins words with '_'. It falls
// back to the email local part, then to the uid.
func Username(displayName, email, uid string) string {
	if name := strings.TrimSpace(displayName); name != "" {
		return whitespace.ReplaceAllString(strings.ToLower(name), "_")
	}
	if local, _, ok := strings.Cut(email, "@"); ok && strings.TrimSpace(local) != "" {
		return strings.ToLower(strings.TrimSpace(local))
	}
	return uid
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
