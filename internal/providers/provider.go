package providers

import "context"

type ChatRequest struct {
	Model        string
	SystemPrompt string
	UserPrompt   string
	// Attachments are sent as an extra user message after UserPrompt.
	Attachments []string
	MaxTokens   int
	Temperature float64
	JSONMode    bool
}

type ChatResponse struct {
	Text string
}

type Provider interface {
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)
}

type ImageRequest struct {
	Model  string
	Prompt string
	Size   string
}

type ImageResponse struct {
	URL string
}

type ImageGenerator interface {
	GenerateImage(ctx context.Context, req ImageRequest) (ImageResponse, error)
}
