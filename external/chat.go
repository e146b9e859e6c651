package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"docrouter/summarize"
)

// ChatCompletionClient calls an OpenAI-compatible chat completions
// endpoint and returns the first choice's message content. Implements
// summarize.ChatClient.
type ChatCompletionClient struct {
	endpoint   string
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewChatCompletionClient builds a ChatCompletionClient against endpoint.
func NewChatCompletionClient(endpoint, apiKey, model string, timeout time.Duration) *ChatCompletionClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ChatCompletionClient{
		endpoint:   endpoint,
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type chatCompletionRequest struct {
	Model    string                  `json:"model"`
	Messages []summarize.ChatMessage `json:"messages"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message summarize.ChatMessage `json:"message"`
	} `json:"choices"`
}

// Chat implements summarize.ChatClient.
func (c *ChatCompletionClient) Chat(ctx context.Context, messages []summarize.ChatMessage) (string, error) {
	payload, err := json.Marshal(chatCompletionRequest{Model: c.model, Messages: messages})
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("call chat completion endpoint: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read chat completion response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("chat completion endpoint returned status %d: %s", resp.StatusCode, string(raw))
	}

	var decoded chatCompletionResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", fmt.Errorf("decode chat completion response: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return "", fmt.Errorf("chat completion response had no choices")
	}
	return decoded.Choices[0].Message.Content, nil
}
