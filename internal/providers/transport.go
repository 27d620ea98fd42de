package providers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
)

const (
	defaultBackoffBase = 400 * time.Millisecond
	maxResponseBytes   = 4 << 20
)

// StatusError is a non-2xx answer from an upstream model API.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("provider status %d", e.Code)
	}
	return fmt.Sprintf("provider status %d: %s", e.Code, e.Body)
}

// Temporary reports whether the status is worth retrying.
func (e *StatusError) Temporary() bool {
	return e.Code >= 500 || e.Code == http.StatusTooManyRequests
}

// Transport posts JSON to model APIs and retries transport errors, 5xx and
// 429 with exponential backoff.
type Transport struct {
	Client      *http.Client
	APIKey      string
	Headers     map[string]string
	MaxRetries  int
	BackoffBase time.Duration
}

func (t *Transport) Post(ctx context.Context, url string, body []byte) ([]byte, error) {
	base := t.BackoffBase
	if base <= 0 {
		base = defaultBackoffBase
	}
	retries := t.MaxRetries
	if retries < 0 {
		retries = 0
	}
	backoff := retry.WithMaxRetries(uint64(retries), retry.NewExponential(base))

	var out []byte
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		b, err := t.once(ctx, url, body)
		if err != nil {
			var se *StatusError
			if errors.As(err, &se) && !se.Temporary() {
				return err
			}
			return retry.RetryableError(err)
		}
		out = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (t *Transport) once(ctx context.Context, url string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if strings.TrimSpace(t.APIKey) != "" {
		req.Header.Set("Authorization", "Bearer "+t.APIKey)
	}
	for k, v := range t.Headers {
		req.Header.Set(k, strings.ReplaceAll(v, "{{api_key}}", t.APIKey))
	}

	client := t.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet := strings.TrimSpace(string(b))
		if len(snippet) > 200 {
			snippet = snippet[:200]
		}
		return nil, &StatusError{Code: resp.StatusCode, Body: snippet}
	}
	return b, nil
}
