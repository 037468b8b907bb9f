package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultEndpoint = "https://api.cohere.ai/v1/generate"

// CohereClient calls a Cohere-compatible /generate endpoint.
type CohereClient struct {
	apiKey    string
	model     string
	maxTokens int
	endpoint  string
	client    *http.Client
}

// Option customizes a CohereClient.
type Option func(*CohereClient)

// WithEndpoint overrides the generate URL.
func WithEndpoint(endpoint string) Option {
	return func(c *CohereClient) {
		if endpoint != "" {
			c.endpoint = endpoint
		}
	}
}

// WithTimeout bounds every HTTP round trip.
func WithTimeout(d time.Duration) Option {
	return func(c *CohereClient) {
		if d > 0 {
			c.client.Timeout = d
		}
	}
}

func NewCohereClient(apiKey, model string, maxTokens int, opts ...Option) *CohereClient {
	c := &CohereClient{
		apiKey:    apiKey,
		model:     model,
		maxTokens: maxTokens,
		endpoint:  defaultEndpoint,
		client:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type generateRequest struct {
	Model     string `json:"model"`
	Prompt    string `json:"prompt"`
	MaxTokens int    `json:"max_tokens"`
}

type generateResponse struct {
	Generations []struct {
		ID   string `json:"id"`
		Text string `json:"text"`
	} `json:"generations"`
}

type errorResponse struct {
	Message string `json:"message"`
}

// Generate sends the framed prompt and returns the first generation's text.
func (c *CohereClient) Generate(ctx context.Context, userText string) (string, error) {
	body, err := json.Marshal(generateRequest{
		Model:     c.model,
		Prompt:    BuildPrompt(userText),
		MaxTokens: c.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("api call: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var errResp errorResponse
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Message != "" {
			return "", fmt.Errorf("api error %d: %s", resp.StatusCode, errResp.Message)
		}
		return "", fmt.Errorf("api error %d: %s", resp.StatusCode, string(respBody))
	}

	var apiResp generateResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return "", fmt.Errorf("unmarshal response: %w", err)
	}

	if len(apiResp.Generations) == 0 {
		return "", errors.New("empty generations")
	}

	text := strings.TrimSpace(apiResp.Generations[0].Text)
	if text == "" {
		return "", errors.New("blank generation text")
	}
	return text, nil
}
