package gemini

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"desiai/internal/providers"
)

const defaultModel = "gemini-1.5-flash-latest"

type Client struct {
	client *genai.Client
}

func New(ctx context.Context, apiKey string) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("gemini api key is empty")
	}
	c, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &Client{client: c}, nil
}

var _ providers.Provider = (*Client)(nil)

func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}
	return c.client.Close()
}

func (c *Client) Chat(ctx context.Context, req providers.ChatRequest) (providers.ChatResponse, error) {
	name := req.Model
	if name == "" {
		name = defaultModel
	}
	model := c.client.GenerativeModel(name)
	configure(model, req)

	resp, err := model.GenerateContent(ctx, buildParts(req)...)
	if err != nil {
		return providers.ChatResponse{}, fmt.Errorf("gemini generate content: %w", err)
	}
	text, err := responseText(resp)
	if err != nil {
		return providers.ChatResponse{}, err
	}
	return providers.ChatResponse{Text: text}, nil
}

func configure(model *genai.GenerativeModel, req providers.ChatRequest) {
	if strings.TrimSpace(req.SystemPrompt) != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(req.SystemPrompt)}}
	}
	if req.Temperature > 0 {
		model.SetTemperature(float32(req.Temperature))
	}
	if req.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(req.MaxTokens))
	}
	if req.JSONMode {
		model.ResponseMIMEType = "application/json"
	}
}

// buildParts sends attachments as a second text part listing the file URLs.
func buildParts(req providers.ChatRequest) []genai.Part {
	parts := []genai.Part{genai.Text(req.UserPrompt)}
	if len(req.Attachments) > 0 {
		parts = append(parts, genai.Text(fmt.Sprintf(
			"These files were uploaded for reference: %s. Please analyze them if needed.",
			strings.Join(req.Attachments, ", "),
		)))
	}
	return parts
}

func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("gemini response has no candidates")
	}
	var out strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			out.WriteString(string(txt))
		}
	}
	if strings.TrimSpace(out.String()) == "" {
		return "", fmt.Errorf("gemini response has no text")
	}
	return out.String(), nil
}
