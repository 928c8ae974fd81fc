// Package llm is the text completion collaborator the summarize stage may
// use to phrase run summaries. The engine works without one.
package llm

import "context"

// Message is one conversation turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest asks for a single text completion.
type CompletionRequest struct {
	Model       string    `json:"model,omitempty"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
}

// Client produces a completion for a request.
type Client interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}
