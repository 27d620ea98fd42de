package auth

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/patrickmn/go-cache"
)

const (
	GoogleCertsURL = "https://www.googleapis.com/robot/v1/metadata/x509/securetoken@system.gserviceaccount.com"

	defaultKeyTTL = time.Hour
	tokenLeeway   = time.Minute
)

// Principal is the identity carried by a verified token.
type Principal struct {
	UID         string
	Email       string
	DisplayName string
}

type Verifier interface {
	Verify(ctx context.Context, token string) (Principal, error)
}

type identityClaims struct {
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

func (c *identityClaims) principal() (Principal, error) {
	if strings.TrimSpace(c.Subject) == "" {
		return Principal{}, errors.New("token has no subject")
	}
	return Principal{UID: c.Subject, Email: c.Email, DisplayName: c.Name}, nil
}

// FirebaseVerifier checks RS256 identity tokens against the published
// securetoken certificates.
type FirebaseVerifier struct {
	projectID string
	certsURL  string
	client    *http.Client
	keys      *cache.Cache
	fetchMu   sync.Mutex
}

type FirebaseOption func(*FirebaseVerifier)

func WithCertsURL(u string) FirebaseOption {
	return func(v *FirebaseVerifier) { v.certsURL = u }
}

func WithHTTPClient(c *http.Client) FirebaseOption {
	return func(v *FirebaseVerifier) { v.client = c }
}

func NewFirebaseVerifier(projectID string, opts ...FirebaseOption) *FirebaseVerifier {
	v := &FirebaseVerifier{
		projectID: projectID,
		certsURL:  GoogleCertsURL,
		client:    &http.Client{Timeout: 10 * time.Second},
		keys:      cache.New(defaultKeyTTL, 10*time.Minute),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

func (v *FirebaseVerifier) Verify(ctx context.Context, token string) (Principal, error) {
	claims := &identityClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("token has no kid header")
		}
		return v.publicKey(ctx, kid)
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithAudience(v.projectID),
		jwt.WithIssuer("https://securetoken.google.com/"+v.projectID),
		jwt.WithLeeway(tokenLeeway),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return Principal{}, err
	}
	return claims.principal()
}

func (v *FirebaseVerifier) publicKey(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	if k, ok := v.keys.Get(kid); ok {
		return k.(*rsa.PublicKey), nil
	}

	v.fetchMu.Lock()
	defer v.fetchMu.Unlock()
	if k, ok := v.keys.Get(kid); ok {
		return k.(*rsa.PublicKey), nil
	}
	if err := v.refresh(ctx); err != nil {
		return nil, err
	}
	if k, ok := v.keys.Get(kid); ok {
		return k.(*rsa.PublicKey), nil
	}
	return nil, fmt.Errorf("unknown signing key %q", kid)
}

func (v *FirebaseVerifier) refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.certsURL, nil)
	if err != nil {
		return fmt.Errorf("build certs request: %w", err)
	}
	resp, err := v.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch certs: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read certs: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch certs: status %d", resp.StatusCode)
	}

	var certs map[string]string
	if err := json.Unmarshal(body, &certs); err != nil {
		return fmt.Errorf("decode certs: %w", err)
	}
	ttl := maxAge(resp.Header.Get("Cache-Control"))
	for kid, pemText := range certs {
		key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(pemText))
		if err != nil {
			return fmt.Errorf("parse cert %q: %w", kid, err)
		}
		v.keys.Set(kid, key, ttl)
	}
	return nil
}

func maxAge(cacheControl string) time.Duration {
	for _, part := range strings.Split(cacheControl, ",") {
		part = strings.TrimSpace(part)
		if !strings.HasPrefix(part, "max-age=") {
			continue
		}
		secs, err := strconv.Atoi(strings.TrimPrefix(part, "max-age="))
		if err != nil || secs <= 0 {
			break
		}
		return time.Duration(secs) * time.Second
	}
	return defaultKeyTTL
}

// HMACVerifier accepts HS256 tokens signed with a shared secret. It exists
// for local development and tests.
type HMACVerifier struct {
	secret []byte
}

func NewHMACVerifier(secret string) *HMACVerifier {
	return &HMACVerifier{secret: []byte(secret)}
}

func (v *HMACVerifier) Verify(_ context.Context, token string) (Principal, error) {
	claims := &identityClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithLeeway(tokenLeeway))
	if err != nil {
		return Principal{}, err
	}
	return claims.principal()
}

func (v *HMACVerifier) Sign(p Principal, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := identityClaims{
		Email: p.Email,
		Name:  p.DisplayName,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.UID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
