package agents

import "context"

type GenerationParams struct {
	// Model overrides the backend's default model for this request.
	// Empty means use the backend default.
	Model       string   `json:"model,omitempty"`
	Temperature *float32 `json:"temperature"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`
}

// LLMClient defines the standard interface for any LLM backend.
type LLMClient interface {
	Generate(ctx context.Context, prompt string, params GenerationParams) (string, error)
}
