// Package llm provides the language-generation service client.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alunalabs/aluna/internal/config"
	"github.com/alunalabs/aluna/internal/domain"
)

// Message is one entry in a generation prompt.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request describes a single generation call.
type Request struct {
	Messages         []Message
	MaxTokens        int
	Temperature      float64
	FrequencyPenalty float64
	PresencePenalty  float64
}

// Result is a normalized generation response.
type Result struct {
	Text string
}

// Generator is the boundary to the language-generation service. Errors are
// classified into the domain taxonomy so callers never parse raw error text.
type Generator interface {
	Generate(ctx context.Context, req Request) (*Result, error)
}

// Client calls an OpenAI-compatible chat-completions endpoint.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
}

// NewClient creates a generation client from configuration.
func NewClient(cfg config.GenerationConfig) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
	}
}

type chatCompletionRequest struct {
	Model            string    `json:"model"`
	Messages         []Message `json:"messages"`
	MaxTokens        int       `json:"max_tokens"`
	Temperature      float64   `json:"temperature"`
	FrequencyPenalty float64   `json:"frequency_penalty"`
	PresencePenalty  float64   `json:"presence_penalty"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Generate performs one generation call. A request timeout is reported as
// domain.ErrUpstreamServer so the caller's retry policy treats it like a 5xx.
func (c *Client) Generate(ctx context.Context, req Request) (*Result, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("generation credential absent: %w", domain.ErrNoAuthToken)
	}

	body, err := json.Marshal(chatCompletionRequest{
		Model:            c.model,
		Messages:         req.Messages,
		MaxTokens:        req.MaxTokens,
		Temperature:      req.Temperature,
		FrequencyPenalty: req.FrequencyPenalty,
		PresencePenalty:  req.PresencePenalty,
	})
	if err != nil {
		return nil, fmt.Errorf("encode generation request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build generation request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return nil, fmt.Errorf("generation request timed out: %w", domain.ErrUpstreamServer)
		}
		return nil, fmt.Errorf("generation request failed: %w", domain.ErrNetworkFailure)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			slog.Debug("failed to close generation response body", "error", closeErr)
		}
	}()

	if err := classifyStatus(resp.StatusCode); err != nil {
		return nil, err
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read generation response: %w", domain.ErrNetworkFailure)
	}

	var parsed chatCompletionResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		// Malformed payloads are treated as a network failure, not retried further.
		return nil, fmt.Errorf("decode generation response: %w", domain.ErrNetworkFailure)
	}
	if len(parsed.Choices) == 0 || parsed.Choices[0].Message.Content == "" {
		return nil, fmt.Errorf("generation response contained no text: %w", domain.ErrNetworkFailure)
	}

	return &Result{Text: parsed.Choices[0].Message.Content}, nil
}

func classifyStatus(status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnauthorized:
		return fmt.Errorf("generation service rejected credential (401): %w", domain.ErrNoAuthToken)
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("generation service throttled request (429): %w", domain.ErrRateLimited)
	case status >= 500:
		return fmt.Errorf("generation service error (%d): %w", status, domain.ErrUpstreamServer)
	default:
		return fmt.Errorf("generation service returned status %d: %w", status, domain.ErrNetworkFailure)
	}
}

func isTimeout(err error) bool {
	var netErr interface{ Timeout() bool }
	return errors.As(err, &netErr) && netErr.Timeout()
}

var _ Generator = (*Client)(nil)
