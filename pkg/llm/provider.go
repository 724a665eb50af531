package llm

import (
	"context"
)

// ChatMessage is a single turn in a conversation
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Provider is the base interface for all LLM providers
type Provider interface {
	// StreamCompletion streams completion tokens for a conversation.
	// The returned channel is closed when the completion finishes or
	// the context is cancelled.
	StreamCompletion(ctx context.Context, system string, history []ChatMessage) (<-chan string, error)

	// IsAvailable checks if the provider is available/configured
	IsAvailable() bool

	// Name returns the provider name
	Name() string
}
