package custom_http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"text/template"
	"time"

	"desiai/internal/providers"
)

// defaultTextPaths are tried in order when no ResponsePath is configured.
var defaultTextPaths = []string{
	"text",
	"response",
	"answer",
	"output_text",
	"choices.0.message.content",
	"choices.0.text",
	"candidates.0.content.parts.0.text",
}

type Config struct {
	URL     string
	APIKey  string
	Headers map[string]string
	// BodyTemplate is a text/template over templateData. Use {{json .UserPrompt}}
	// to embed values as quoted JSON strings.
	BodyTemplate string
	// ResponsePath is a dotted path such as "data.reply" or "choices.0.text".
	ResponsePath string
	HTTPClient   *http.Client
	MaxRetries   int
	BackoffBase  time.Duration
}

type templateData struct {
	Model        string
	SystemPrompt string
	UserPrompt   string
	Attachments  []string
	MaxTokens    int
	Temperature  float64
	JSONMode     bool
}

// Client adapts an arbitrary JSON-over-HTTP completion endpoint.
type Client struct {
	url          string
	tpl          *template.Template
	responsePath string
	transport    *providers.Transport
}

func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("custom http url is empty")
	}
	c := &Client{
		url:          cfg.URL,
		responsePath: strings.TrimSpace(cfg.ResponsePath),
	}
	if strings.TrimSpace(cfg.BodyTemplate) != "" {
		tpl, err := template.New("body").
			Option("missingkey=zero").
			Funcs(template.FuncMap{"json": jsonValue}).
			Parse(cfg.BodyTemplate)
		if err != nil {
			return nil, fmt.Errorf("parse body template: %w", err)
		}
		c.tpl = tpl
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	c.transport = &providers.Transport{
		Client:      cfg.HTTPClient,
		APIKey:      cfg.APIKey,
		Headers:     cfg.Headers,
		MaxRetries:  cfg.MaxRetries,
		BackoffBase: cfg.BackoffBase,
	}
	return c, nil
}

var _ providers.Provider = (*Client)(nil)

func (c *Client) Chat(ctx context.Context, req providers.ChatRequest) (providers.ChatResponse, error) {
	body, err := c.renderBody(templateData{
		Model:        req.Model,
		SystemPrompt: req.SystemPrompt,
		UserPrompt:   req.UserPrompt,
		Attachments:  req.Attachments,
		MaxTokens:    req.MaxTokens,
		Temperature:  req.Temperature,
		JSONMode:     req.JSONMode,
	})
	if err != nil {
		return providers.ChatResponse{}, err
	}
	respBody, err := c.transport.Post(ctx, c.url, body)
	if err != nil {
		return providers.ChatResponse{}, fmt.Errorf("custom provider: %w", err)
	}
	text, err := c.extractText(respBody)
	if err != nil {
		return providers.ChatResponse{}, err
	}
	return providers.ChatResponse{Text: text}, nil
}

func (c *Client) renderBody(data templateData) ([]byte, error) {
	if c.tpl == nil {
		b, err := json.Marshal(map[string]any{
			"model":         data.Model,
			"system_prompt": data.SystemPrompt,
			"prompt":        data.UserPrompt,
			"attachments":   data.Attachments,
			"max_tokens":    data.MaxTokens,
			"temperature":   data.Temperature,
			"json_mode":     data.JSONMode,
		})
		if err != nil {
			return nil, fmt.Errorf("marshal custom payload: %w", err)
		}
		return b, nil
	}
	var buf bytes.Buffer
	if err := c.tpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("execute body template: %w", err)
	}
	return buf.Bytes(), nil
}

func jsonValue(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// extractText accepts a plain-text body when it is not JSON at all.
func (c *Client) extractText(body []byte) (string, error) {
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		if trimmed := strings.TrimSpace(string(body)); trimmed != "" {
			return trimmed, nil
		}
		return "", fmt.Errorf("decode custom response: %w", err)
	}

	paths := defaultTextPaths
	if c.responsePath != "" {
		paths = []string{c.responsePath}
	}
	for _, p := range paths {
		if s, ok := lookup(doc, p).(string); ok && strings.TrimSpace(s) != "" {
			return s, nil
		}
	}
	return "", errors.New("custom response does not contain a text field")
}

func lookup(doc any, path string) any {
	cur := doc
	for _, key := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			cur = node[key]
		case []any:
			i, err := strconv.Atoi(key)
			if err != nil || i < 0 || i >= len(node) {
				return nil
			}
			cur = node[i]
		default:
			return nil
		}
	}
	return cur
}
