package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// AzureAnalyzeClient calls an Azure Document Intelligence "analyze
// document" endpoint and returns the raw decoded result for
// adapters.AzureAdapter to transform. Implements workflow.AnalyzeClient.
type AzureAnalyzeClient struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

// NewAzureAnalyzeClient builds an AzureAnalyzeClient against endpoint.
func NewAzureAnalyzeClient(endpoint, apiKey string, timeout time.Duration) *AzureAnalyzeClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &AzureAnalyzeClient{
		endpoint:   endpoint,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Analyze implements workflow.AnalyzeClient.
func (c *AzureAnalyzeClient) Analyze(ctx context.Context, documentBytes []byte, contentType string) (any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(documentBytes))
	if err != nil {
		return nil, fmt.Errorf("build analyze request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	if c.apiKey != "" {
		req.Header.Set("Ocp-Apim-Subscription-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call document intelligence endpoint: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read analyze response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("document intelligence endpoint returned status %d: %s", resp.StatusCode, string(raw))
	}

	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("decode analyze response: %w", err)
	}
	return decoded, nil
}
