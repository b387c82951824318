package downstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/time/rate"

	"github.com/verdanthealth/careloop/internal/config"
)

const (
	anthropicVersion = "2023-06-01"
	defaultBurst     = 2

	summaryPrompt = "Summarize this clinical support conversation in 3-4 sentences. " +
		"Capture the patient's main concerns, any symptoms discussed, and guidance given. " +
		"Do not invent details that are not present."
)

// Summarizer produces a conversation summary from a transcript.
type Summarizer interface {
	Summarize(ctx context.Context, transcript string) (string, error)
}

// summarizerClient talks to an Anthropic-style messages endpoint.
type summarizerClient struct {
	model      string
	apiKey     string
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	maxTokens  int
}

// NewSummarizer creates a summarization client from config.
func NewSummarizer(cfg config.SummarizerConfig) (Summarizer, error) {
	if !cfg.APIKey.IsSet() {
		return nil, fmt.Errorf("summarizer API key required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("summarizer model required")
	}

	limit := cfg.RateLimit
	if limit <= 0 {
		limit = 2
	}

	return &summarizerClient{
		model:      cfg.Model,
		apiKey:     cfg.APIKey.Value(),
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		httpClient: &http.Client{},
		limiter:    rate.NewLimiter(rate.Limit(limit), defaultBurst),
		maxTokens:  512,
	}, nil
}

type messagesRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	Messages  []message `json:"messages"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

// Summarize calls the messages endpoint. The caller's context carries the
// per-call timeout; cancellation aborts the request.
func (c *summarizerClient) Summarize(ctx context.Context, transcript string) (string, error) {
	if strings.TrimSpace(transcript) == "" {
		return "", fmt.Errorf("transcript is empty")
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter: %w", err)
	}

	reqBody := messagesRequest{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		Messages: []message{
			{Role: "user", Content: summaryPrompt + "\n\n" + transcript},
		},
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling summarization endpoint: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", classifyStatus("summarization endpoint", resp.StatusCode, string(body))
	}

	var parsed messagesResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}

	var sb strings.Builder
	for _, block := range parsed.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	summary := strings.TrimSpace(sb.String())
	if summary == "" {
		return "", fmt.Errorf("summarization endpoint returned no text content")
	}
	return summary, nil
}
