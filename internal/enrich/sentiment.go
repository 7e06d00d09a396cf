// Package enrich provides clients for the enrichment data providers:
// the sentiment analyzer and the goal tracker. Both are external black boxes;
// failures here degrade the prompt, never the turn.
package enrich

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/alunalabs/aluna/internal/config"
	"github.com/alunalabs/aluna/internal/domain"
)

// SentimentAnalyzer computes a sentiment snapshot from recent messages.
type SentimentAnalyzer interface {
	Analyze(ctx context.Context, messages []*domain.Message) (*domain.SentimentSnapshot, error)
}

// HTTPSentimentClient calls an external sentiment classification service.
type HTTPSentimentClient struct {
	httpClient *http.Client
	url        string
}

// NewSentimentClient creates a sentiment analyzer client. Returns nil when no
// URL is configured; the orchestrator treats a nil analyzer as "no signal".
func NewSentimentClient(cfg config.EnrichmentConfig) *HTTPSentimentClient {
	if cfg.SentimentURL == "" {
		return nil
	}
	return &HTTPSentimentClient{
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		url:        cfg.SentimentURL,
	}
}

type analyzeRequest struct {
	Messages []analyzeMessage `json:"messages"`
}

type analyzeMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Analyze posts the running history and returns the structured snapshot.
func (c *HTTPSentimentClient) Analyze(ctx context.Context, messages []*domain.Message) (*domain.SentimentSnapshot, error) {
	payload := analyzeRequest{}
	for _, m := range messages {
		payload.Messages = append(payload.Messages, analyzeMessage{Role: string(m.Role), Content: m.Content})
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode analyze request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build analyze request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("analyze request failed: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			slog.Debug("failed to close analyze response body", "error", closeErr)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("sentiment service returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return nil, fmt.Errorf("read analyze response: %w", err)
	}

	var snapshot domain.SentimentSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("decode sentiment snapshot: %w", err)
	}
	return &snapshot, nil
}
