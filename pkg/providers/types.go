package providers

import "context"

// GenerateRequest is one non-streaming completion request.
type GenerateRequest struct {
	Model   string
	Prompt  string
	Options map[string]interface{}
}

type GenerateResponse struct {
	Text       string
	Model      string
	DurationMS int64
}

// LLMProvider turns a full prompt into raw model text.
type LLMProvider interface {
	Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error)
	GetDefaultModel() string
}
