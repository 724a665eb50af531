package llm

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap"
)

// MockProvider is a mock implementation of Provider for testing
type MockProvider struct {
	name      string
	available bool
	shouldErr bool
	tokens    []string
}

func (m *MockProvider) StreamCompletion(ctx context.Context, system string, history []ChatMessage) (<-chan string, error) {
	if m.shouldErr {
		return nil, errors.New("mock error")
	}
	out := make(chan string, len(m.tokens))
	for _, tok := range m.tokens {
		out <- tok
	}
	close(out)
	return out, nil
}

func (m *MockProvider) IsAvailable() bool {
	return m.available
}

func (m *MockProvider) Name() string {
	return m.name
}

func drain(ch <-chan string) string {
	var sb strings.Builder
	for tok := range ch {
		sb.WriteString(tok)
	}
	return sb.String()
}

func TestManager_GetAvailableProvider(t *testing.T) {
	logger := zap.NewNop()

	tests := []struct {
		name      string
		providers []Provider
		want      string
		wantNil   bool
	}{
		{
			name: "returns first available provider",
			providers: []Provider{
				&MockProvider{name: "provider1", available: true},
				&MockProvider{name: "provider2", available: true},
			},
			want: "provider1",
		},
		{
			name: "returns nil when no providers available",
			providers: []Provider{
				&MockProvider{name: "provider1", available: false},
			},
			wantNil: true,
		},
		{
			name: "skips unavailable providers",
			providers: []Provider{
				&MockProvider{name: "provider1", available: false},
				&MockProvider{name: "provider2", available: true},
			},
			want: "provider2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager(tt.providers, logger)
			got := m.GetAvailableProvider()

			if tt.wantNil {
				if got != nil {
					t.Errorf("expected nil provider, got %s", got.Name())
				}
				return
			}
			if got == nil {
				t.Fatal("expected a provider, got nil")
			}
			if got.Name() != tt.want {
				t.Errorf("expected provider %s, got %s", tt.want, got.Name())
			}
		})
	}
}

func TestManager_StreamCompletion(t *testing.T) {
	logger := zap.NewNop()
	ctx := context.Background()

	t.Run("streams from first working provider", func(t *testing.T) {
		m := NewManager([]Provider{
			&MockProvider{name: "provider1", available: true, tokens: []string{"Hello, ", "world."}},
		}, logger)

		got := drain(m.StreamCompletion(ctx, "system", nil))
		if got != "Hello, world." {
			t.Errorf("expected streamed text, got %q", got)
		}
	})

	t.Run("falls back to next provider on error", func(t *testing.T) {
		m := NewManager([]Provider{
			&MockProvider{name: "provider1", available: true, shouldErr: true},
			&MockProvider{name: "provider2", available: true, tokens: []string{"Backup."}},
		}, logger)

		got := drain(m.StreamCompletion(ctx, "system", nil))
		if got != "Backup." {
			t.Errorf("expected fallback provider output, got %q", got)
		}
	})

	t.Run("streams filler when all providers fail", func(t *testing.T) {
		m := NewManager([]Provider{
			&MockProvider{name: "provider1", available: true, shouldErr: true},
			&MockProvider{name: "provider2", available: false},
		}, logger)

		got := drain(m.StreamCompletion(ctx, "system", nil))
		if got != fillerResponse {
			t.Errorf("expected filler response, got %q", got)
		}
	})

	t.Run("streams filler when no providers configured", func(t *testing.T) {
		m := NewManager(nil, logger)

		got := drain(m.StreamCompletion(ctx, "system", nil))
		if got != fillerResponse {
			t.Errorf("expected filler response, got %q", got)
		}
	})
}
