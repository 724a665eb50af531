package llm

import (
	"context"

	"go.uber.org/zap"
)

// fillerResponse is streamed when every provider fails, so the caller
// always has something to say to the person on the line.
const fillerResponse = "I'm sorry, I'm having a little trouble at the moment. Could you please repeat that?"

// Manager manages LLM providers with fallback logic.
// StreamCompletion never returns an error: when all providers fail it
// streams a fixed filler response instead.
type Manager struct {
	providers []Provider
	logger    *zap.Logger
}

// NewManager creates a new LLM provider manager
func NewManager(providers []Provider, logger *zap.Logger) *Manager {
	return &Manager{
		providers: providers,
		logger:    logger,
	}
}

// GetAvailableProvider returns the first available provider
func (m *Manager) GetAvailableProvider() Provider {
	for _, provider := range m.providers {
		if provider.IsAvailable() {
			return provider
		}
	}
	return nil
}

// StreamCompletion streams tokens from the first provider that accepts
// the request, falling back through the provider list and finally to a
// canned filler stream.
func (m *Manager) StreamCompletion(ctx context.Context, system string, history []ChatMessage) <-chan string {
	for _, provider := range m.providers {
		if !provider.IsAvailable() {
			continue
		}

		tokens, err := provider.StreamCompletion(ctx, system, history)
		if err == nil {
			return tokens
		}

		m.logger.Warn("LLM provider failed, trying next",
			zap.String("provider", provider.Name()),
			zap.Error(err),
		)
	}

	m.logger.Warn("all LLM providers failed, using filler response")
	tokens := make(chan string, 1)
	tokens <- fillerResponse
	close(tokens)
	return tokens
}
