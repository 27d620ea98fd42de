package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"desiai/internal/storage"
)

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	s, err := storage.Open(context.Background(), "sqlite", fmt.Sprintf("file:%s?mode=memory&cache=shared", name), true)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestHMACVerifierRoundTrip(t *testing.T) {
	v := NewHMACVerifier("dev-secret")
	token, err := v.Sign(Principal{UID: "uid-1", Email: "asha@example.com", DisplayName: "Asha Rao"}, time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	p, err := v.Verify(context.Background(), token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if p.UID != "uid-1" || p.Email != "asha@example.com" || p.DisplayName != "Asha Rao" {
		t.Fatalf("unexpected principal %+v", p)
	}

	if _, err := NewHMACVerifier("other").Verify(context.Background(), token); err == nil {
		t.Fatalf("expected signature mismatch")
	}

	expired, err := v.Sign(Principal{UID: "uid-1"}, -time.Hour)
	if err != nil {
		t.Fatalf("sign expired: %v", err)
	}
	if _, err := v.Verify(context.Background(), expired); err == nil {
		t.Fatalf("expected expired token to fail")
	}
}

func TestFirebaseVerifier(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}
	pemText := string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.Header().Set("Cache-Control", "public, max-age=3600, must-revalidate")
		_ = json.NewEncoder(w).Encode(map[string]string{"kid-1": pemText})
	}))
	defer srv.Close()

	v := NewFirebaseVerifier("desi-test", WithCertsURL(srv.URL), WithHTTPClient(srv.Client()))

	sign := func(kid, aud string) string {
		now := time.Now()
		tok := jwt.NewWithClaims(jwt.SigningMethodRS256, identityClaims{
			Email: "ravi@example.com",
			Name:  "Ravi",
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   "firebase-uid",
				Issuer:    "https://securetoken.google.com/desi-test",
				Audience:  jwt.ClaimStrings{aud},
				IssuedAt:  jwt.NewNumericDate(now),
				ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
			},
		})
		tok.Header["kid"] = kid
		s, err := tok.SignedString(key)
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		return s
	}

	for i := 0; i < 2; i++ {
		p, err := v.Verify(context.Background(), sign("kid-1", "desi-test"))
		if err != nil {
			t.Fatalf("verify: %v", err)
		}
		if p.UID != "firebase-uid" || p.DisplayName != "Ravi" {
			t.Fatalf("unexpected principal %+v", p)
		}
	}
	if got := hits.Load(); got != 1 {
		t.Fatalf("expected certs to be fetched once, got %d", got)
	}

	if _, err := v.Verify(context.Background(), sign("kid-1", "another-project")); err == nil {
		t.Fatalf("expected audience mismatch")
	}
	if _, err := v.Verify(context.Background(), sign("kid-unknown", "desi-test")); err == nil {
		t.Fatalf("expected unknown kid to fail")
	}

	hmac, _ := NewHMACVerifier("x").Sign(Principal{UID: "u"}, time.Hour)
	if _, err := v.Verify(context.Background(), hmac); err == nil {
		t.Fatalf("expected HS256 token to be rejected")
	}
}

func TestMaxAge(t *testing.T) {
	cases := map[string]time.Duration{
		"public, max-age=19944, must-revalidate": 19944 * time.Second,
		"no-cache":                               defaultKeyTTL,
		"max-age=oops":                           defaultKeyTTL,
	}
	for in, want := range cases {
		if got := maxAge(in); got != want {
			t.Fatalf("maxAge(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestAuthenticate(t *testing.T) {
	v := NewHMACVerifier("secret")
	g := NewGateway(Config{Store: openTestStore(t), Verifier: v, Logger: zerolog.Nop()})

	if _, err := g.Authenticate(context.Background(), "  "); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated for empty token, got %v", err)
	}
	if _, err := g.Authenticate(context.Background(), "garbage"); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated for bad token, got %v", err)
	}
	token, _ := v.Sign(Principal{UID: "uid-9"}, time.Hour)
	p, err := g.Authenticate(context.Background(), token)
	if err != nil || p.UID != "uid-9" {
		t.Fatalf("authenticate: %+v %v", p, err)
	}
}

func TestResolveOrProvision(t *testing.T) {
	st := openTestStore(t)
	g := NewGateway(Config{Store: st, Verifier: NewHMACVerifier("s"), Logger: zerolog.Nop()})
	ctx := context.Background()
	p := Principal{UID: "uid-1", Email: "priya.k@example.com"}

	if _, err := g.Lookup(ctx, p); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound before register, got %v", err)
	}

	u, created, err := g.ResolveOrProvision(ctx, p, RegisterInput{DisplayName: "Priya  Kumar", PreferredLanguage: "klingon"})
	if err != nil {
		t.Fatalf("provision: %v", err)
	}
	if !created {
		t.Fatalf("expected a new user")
	}
	if u.Username != "priya_kumar" || u.Email != "priya.k@example.com" || u.BotName != storage.DefaultBotName || u.PreferredLanguage != storage.LanguageEnglish {
		t.Fatalf("unexpected user %+v", u)
	}

	again, created, err := g.ResolveOrProvision(ctx, p, RegisterInput{DisplayName: "Someone Else"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if created || again.ID != u.ID || again.DisplayName != "Priya  Kumar" {
		t.Fatalf("expected existing user, got created=%v %+v", created, again)
	}

	found, err := g.Lookup(ctx, p)
	if err != nil || found.ID != u.ID {
		t.Fatalf("lookup: %+v %v", found, err)
	}
}

func TestOwnerSeeding(t *testing.T) {
	st := openTestStore(t)
	g := NewGateway(Config{Store: st, Verifier: NewHMACVerifier("s"), OwnerUIDs: []string{" owner-uid ", ""}, Logger: zerolog.Nop()})
	ctx := context.Background()

	owner, _, err := g.ResolveOrProvision(ctx, Principal{UID: "owner-uid"}, RegisterInput{BotName: "Chotu"})
	if err != nil {
		t.Fatalf("provision owner: %v", err)
	}
	if !owner.IsOwner || owner.BotName != "Chotu" {
		t.Fatalf("expected owner flag and bot name, got %+v", owner)
	}
	if _, err := g.Lookup(ctx, Principal{UID: "owner-uid"}); err != nil {
		t.Fatalf("lookup owner: %v", err)
	}
	actions, err := st.ListAuditActions(ctx, owner.ID)
	if err != nil {
		t.Fatalf("list audit: %v", err)
	}
	if len(actions) != 1 || actions[0] != "owner_seeded" {
		t.Fatalf("expected a single owner_seeded entry, got %v", actions)
	}

	guest, _, err := g.ResolveOrProvision(ctx, Principal{UID: "guest", Email: "owner@example.com"}, RegisterInput{})
	if err != nil {
		t.Fatalf("provision guest: %v", err)
	}
	if guest.IsOwner {
		t.Fatalf("email must not grant ownership")
	}
	if guest.Username != "owner" {
		t.Fatalf("expected username from email local part, got %q", guest.Username)
	}
}

func TestUsername(t *testing.T) {
	if got := Username("", "", "uid-42"); got != "uid-42" {
		t.Fatalf("expected uid fallback, got %q", got)
	}
	if got := Username(" Desi\tDost ", "x@y.z", "u"); got != "desi_dost" {
		t.Fatalf("unexpected username %q", got)
	}
}
