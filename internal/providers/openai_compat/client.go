package openai_compat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"desiai/internal/providers"
)

const defaultImageSize = "1024x1024"

type Config struct {
	BaseURL     string
	APIKey      string
	Headers     map[string]string
	HTTPClient  *http.Client
	MaxRetries  int
	BackoffBase time.Duration
}

// Client speaks the OpenAI chat completions and images APIs.
type Client struct {
	baseURL   string
	transport *providers.Transport
}

func New(cfg Config) *Client {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &Client{
		baseURL: strings.TrimSpace(cfg.BaseURL),
		transport: &providers.Transport{
			Client:      cfg.HTTPClient,
			APIKey:      cfg.APIKey,
			Headers:     cfg.Headers,
			MaxRetries:  cfg.MaxRetries,
			BackoffBase: cfg.BackoffBase,
		},
	}
}

var (
	_ providers.Provider       = (*Client)(nil)
	_ providers.ImageGenerator = (*Client)(nil)
)

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatCompletionRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	Temperature    float64         `json:"temperature,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type imageGenerationRequest struct {
	Model  string `json:"model,omitempty"`
	Prompt string `json:"prompt"`
	N      int    `json:"n"`
	Size   string `json:"size"`
}

func (c *Client) Chat(ctx context.Context, req providers.ChatRequest) (providers.ChatResponse, error) {
	body, err := buildChatPayload(req)
	if err != nil {
		return providers.ChatResponse{}, err
	}
	endpointURL, err := c.endpoint("/chat/completions")
	if err != nil {
		return providers.ChatResponse{}, err
	}
	respBody, err := c.transport.Post(ctx, endpointURL, body)
	if err != nil {
		return providers.ChatResponse{}, fmt.Errorf("chat completion: %w", err)
	}
	text, err := parseChatCompletions(respBody)
	if err != nil {
		return providers.ChatResponse{}, err
	}
	return providers.ChatResponse{Text: text}, nil
}

func (c *Client) GenerateImage(ctx context.Context, req providers.ImageRequest) (providers.ImageResponse, error) {
	size := req.Size
	if size == "" {
		size = defaultImageSize
	}
	body, err := json.Marshal(imageGenerationRequest{Model: req.Model, Prompt: req.Prompt, N: 1, Size: size})
	if err != nil {
		return providers.ImageResponse{}, fmt.Errorf("marshal image payload: %w", err)
	}
	endpointURL, err := c.endpoint("/images/generations")
	if err != nil {
		return providers.ImageResponse{}, err
	}
	respBody, err := c.transport.Post(ctx, endpointURL, body)
	if err != nil {
		return providers.ImageResponse{}, fmt.Errorf("image generation: %w", err)
	}

	var resp struct {
		Data []struct {
			URL string `json:"url"`
		} `json:"data"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return providers.ImageResponse{}, fmt.Errorf("decode image response: %w", err)
	}
	if len(resp.Data) == 0 || strings.TrimSpace(resp.Data[0].URL) == "" {
		return providers.ImageResponse{}, errors.New("image response has no url")
	}
	return providers.ImageResponse{URL: resp.Data[0].URL}, nil
}

// buildChatPayload sends attachments as a second user turn listing the file URLs.
func buildChatPayload(req providers.ChatRequest) ([]byte, error) {
	payload := chatCompletionRequest{
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	if strings.TrimSpace(req.SystemPrompt) != "" {
		payload.Messages = append(payload.Messages, chatMessage{Role: "system", Content: req.SystemPrompt})
	}
	payload.Messages = append(payload.Messages, chatMessage{Role: "user", Content: req.UserPrompt})
	if len(req.Attachments) > 0 {
		payload.Messages = append(payload.Messages, chatMessage{
			Role:    "user",
			Content: fmt.Sprintf("These files were uploaded for reference: %s. Please analyze them if needed.", strings.Join(req.Attachments, ", ")),
		})
	}
	if req.JSONMode {
		payload.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal chat completion payload: %w", err)
	}
	return b, nil
}

func (c *Client) endpoint(suffix string) (string, error) {
	if c.baseURL == "" {
		return "", errors.New("base url is empty")
	}
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	p := strings.TrimSuffix(u.Path, "/")
	if !strings.HasSuffix(p, suffix) {
		u.Path = p + suffix
	}
	return u.String(), nil
}

func parseChatCompletions(body []byte) (string, error) {
	var resp struct {
		Choices []struct {
			Message struct {
				Content json.RawMessage `json:"content"`
			} `json:"message"`
			Text string `json:"text"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decode chat completion response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("empty choices in chat completion response")
	}
	first := resp.Choices[0]
	if first.Text != "" {
		return first.Text, nil
	}
	if content := contentText(first.Message.Content); strings.TrimSpace(content) != "" {
		return content, nil
	}
	return "", errors.New("missing message content in chat completion response")
}

// contentText accepts both a plain string and an array of typed parts.
func contentText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var parts []struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &parts); err != nil {
		return ""
	}
	texts := make([]string, 0, len(parts))
	for _, p := range parts {
		if p.Text != "" {
			texts = append(texts, p.Text)
		}
	}
	return strings.Join(texts, "\n")
}
