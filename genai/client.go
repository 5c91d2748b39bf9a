package genai

import "context"

// Request is a single generation call across any provider backend.
type Request struct {
	Prompt       string   `json:"prompt"`
	SystemPrompt string   `json:"system_prompt,omitempty"`
	Provider     string   `json:"provider,omitempty"`
	Model        string   `json:"model,omitempty"`
	Temperature  *float32 `json:"temperature,omitempty"`
	MaxTokens    *int     `json:"max_tokens,omitempty"`
}

// Response carries the generated text and token accounting.
type Response struct {
	Text      string `json:"text"`
	TokensIn  int    `json:"tokens_in"`
	TokensOut int    `json:"tokens_out"`
}

// Generator defines the standard interface for any generation backend.
type Generator interface {
	Generate(ctx context.Context, req Request) (Response, error)
}
