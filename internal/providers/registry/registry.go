package registry

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"desiai/internal/providers"
	"desiai/internal/providers/custom_http"
	"desiai/internal/providers/gemini"
	"desiai/internal/providers/openai_compat"
)

type BuildOptions struct {
	Kind         string
	BaseURL      string
	APIKey       string
	Headers      map[string]string
	BodyTemplate string
	ResponsePath string
	HTTPClient   *http.Client
	MaxRetries   int
	BackoffBase  time.Duration
}

func Build(ctx context.Context, opts BuildOptions) (providers.Provider, error) {
	switch opts.Kind {
	case "openai_compat", "openai-compatible", "openai":
		if opts.BaseURL == "" {
			return nil, fmt.Errorf("openai_compat provider needs a base url")
		}
		return openai_compat.New(openai_compat.Config{
			BaseURL:     opts.BaseURL,
			APIKey:      opts.APIKey,
			Headers:     opts.Headers,
			HTTPClient:  opts.HTTPClient,
			MaxRetries:  opts.MaxRetries,
			BackoffBase: opts.BackoffBase,
		}), nil

	case "gemini":
		c, err := gemini.New(ctx, opts.APIKey)
		if err != nil {
			return nil, err
		}
		return c, nil

	case "custom_http", "custom-http":
		c, err := custom_http.New(custom_http.Config{
			URL:          opts.BaseURL,
			APIKey:       opts.APIKey,
			Headers:      opts.Headers,
			BodyTemplate: opts.BodyTemplate,
			ResponsePath: opts.ResponsePath,
			HTTPClient:   opts.HTTPClient,
			MaxRetries:   opts.MaxRetries,
			BackoffBase:  opts.BackoffBase,
		})
		if err != nil {
			return nil, err
		}
		return c, nil

	default:
		return nil, fmt.Errorf("unsupported provider kind %q", opts.Kind)
	}
}

// BuildImage only knows the openai images API; other kinds have no image endpoint.
func BuildImage(opts BuildOptions) (providers.ImageGenerator, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("image provider needs a base url")
	}
	return openai_compat.New(openai_compat.Config{
		BaseURL:     opts.BaseURL,
		APIKey:      opts.APIKey,
		Headers:     opts.Headers,
		HTTPClient:  opts.HTTPClient,
		MaxRetries:  opts.MaxRetries,
		BackoffBase: opts.BackoffBase,
	}), nil
}
