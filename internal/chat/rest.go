package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/alunalabs/aluna/internal/domain"
)

// API is the REST boundary the delivery client consumes.
type API interface {
	// HasCredential reports whether a credential is configured for this
	// boundary. It does not validate the credential with the server.
	HasCredential() bool
	CreateConversation(ctx context.Context) (*domain.Conversation, *domain.Message, error)
	PostMessage(ctx context.Context, conversationID, content string) (userMsg, assistantMsg *domain.Message, err error)
	GetMessages(ctx context.Context, conversationID string) ([]*domain.Message, error)
}

// RESTClient implements API against the Aluna server.
type RESTClient struct {
	httpClient *http.Client
	baseURL    string
	token      string
}

// NewRESTClient creates a REST client. token may be empty; calls then fail
// with domain.ErrNoAuthToken so the caller can redirect to authentication.
func NewRESTClient(baseURL, token string) *RESTClient {
	return &RESTClient{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
	}
}

// HasCredential reports whether the client was given a token.
func (c *RESTClient) HasCredential() bool {
	return c.token != ""
}

type conversationEnvelope struct {
	Conversation *domain.Conversation `json:"conversation"`
	Welcome      *domain.Message      `json:"welcome,omitempty"`
}

type postMessageEnvelope struct {
	UserMessage      *domain.Message `json:"userMessage"`
	AssistantMessage *domain.Message `json:"assistantMessage"`
}

type messagesEnvelope struct {
	Messages []*domain.Message `json:"messages"`
}

// CreateConversation requests a new server-side conversation.
func (c *RESTClient) CreateConversation(ctx context.Context) (*domain.Conversation, *domain.Message, error) {
	var envelope conversationEnvelope
	if err := c.do(ctx, http.MethodPost, "/api/conversations", nil, &envelope); err != nil {
		return nil, nil, err
	}
	if envelope.Conversation == nil {
		return nil, nil, fmt.Errorf("server returned no conversation: %w", domain.ErrNetworkFailure)
	}
	return envelope.Conversation, envelope.Welcome, nil
}

// PostMessage submits a user message and returns the persisted pair.
func (c *RESTClient) PostMessage(ctx context.Context, conversationID, content string) (*domain.Message, *domain.Message, error) {
	body := map[string]string{"content": content}
	var envelope postMessageEnvelope
	if err := c.do(ctx, http.MethodPost, "/api/conversations/"+conversationID+"/messages", body, &envelope); err != nil {
		return nil, nil, err
	}
	if envelope.UserMessage == nil || envelope.AssistantMessage == nil {
		return nil, nil, fmt.Errorf("server returned incomplete turn: %w", domain.ErrNetworkFailure)
	}
	return envelope.UserMessage, envelope.AssistantMessage, nil
}

// GetMessages fetches the full server-side log for a conversation.
func (c *RESTClient) GetMessages(ctx context.Context, conversationID string) ([]*domain.Message, error) {
	var envelope messagesEnvelope
	if err := c.do(ctx, http.MethodGet, "/api/conversations/"+conversationID+"/messages", nil, &envelope); err != nil {
		return nil, err
	}
	return envelope.Messages, nil
}

func (c *RESTClient) do(ctx context.Context, method, path string, body, out any) error {
	if c.token == "" {
		return fmt.Errorf("no credential configured: %w", domain.ErrNoAuthToken)
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s %s failed: %w", method, path, domain.ErrNetworkFailure)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			slog.Debug("failed to close response body", "error", closeErr)
		}
	}()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return fmt.Errorf("server rejected credential: %w", domain.ErrNoAuthToken)
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("server throttled request: %w", domain.ErrRateLimited)
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("resource %s: %w", path, domain.ErrConversationNotFound)
	case resp.StatusCode >= 500:
		return fmt.Errorf("server error %d: %w", resp.StatusCode, domain.ErrUpstreamServer)
	case resp.StatusCode >= 300:
		return fmt.Errorf("unexpected status %d: %w", resp.StatusCode, domain.ErrNetworkFailure)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", domain.ErrNetworkFailure)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", domain.ErrNetworkFailure)
	}
	return nil
}

var _ API = (*RESTClient)(nil)
