package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// OpenAIProvider implements the Provider interface for OpenAI
type OpenAIProvider struct {
	apiKey    string
	model     string
	maxTokens int
	timeout   time.Duration
	logger    *zap.Logger
	baseURL   string
}

// NewOpenAIProvider creates a new OpenAI provider
func NewOpenAIProvider(apiKey, model string, maxTokens int, timeout time.Duration, logger *zap.Logger) *OpenAIProvider {
	if apiKey == "" {
		return &OpenAIProvider{logger: logger}
	}

	return &OpenAIProvider{
		apiKey:    apiKey,
		model:     model,
		maxTokens: maxTokens,
		timeout:   timeout,
		logger:    logger,
		baseURL:   "https://api.openai.com/v1",
	}
}

// Name returns the provider name
func (p *OpenAIProvider) Name() string {
	return "openai"
}

// IsAvailable checks if the provider is available
func (p *OpenAIProvider) IsAvailable() bool {
	return p.apiKey != ""
}

// StreamCompletion streams completion tokens using the chat completions SSE API
func (p *OpenAIProvider) StreamCompletion(ctx context.Context, system string, history []ChatMessage) (<-chan string, error) {
	if !p.IsAvailable() {
		return nil, fmt.Errorf("OpenAI provider not available")
	}

	messages := make([]map[string]interface{}, 0, len(history)+1)
	if system != "" {
		messages = append(messages, map[string]interface{}{"role": "system", "content": system})
	}
	for _, m := range history {
		messages = append(messages, map[string]interface{}{"role": m.Role, "content": m.Content})
	}

	requestBody := map[string]interface{}{
		"model":       p.model,
		"messages":    messages,
		"max_tokens":  p.maxTokens,
		"temperature": 0.7,
		"stream":      true,
	}

	jsonData, err := json.Marshal(requestBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.baseURL+"/chat/completions", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	client := &http.Client{Timeout: p.timeout}
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("OpenAI API error: %d - %s", resp.StatusCode, string(body))
	}

	tokens := make(chan string)
	go func() {
		defer close(tokens)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			payload := strings.TrimPrefix(line, "data: ")
			if payload == "[DONE]" {
				return
			}

			var chunk struct {
				Choices []struct {
					Delta struct {
						Content string `json:"content"`
					} `json:"delta"`
				} `json:"choices"`
			}
			if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
				p.logger.Warn("failed to decode stream chunk", zap.Error(err))
				continue
			}
			if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
				continue
			}

			select {
			case tokens <- chunk.Choices[0].Delta.Content:
			case <-ctx.Done():
				return
			}
		}

		if err := scanner.Err(); err != nil {
			p.logger.Warn("stream read error", zap.Error(err))
		}
	}()

	return tokens, nil
}
