// Package chat implements the client-side message delivery layer: it owns the
// single active conversation, the optimistic local log, and the subscription
// fan-out to UI observers.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alunalabs/aluna/internal/cache"
	"github.com/alunalabs/aluna/internal/domain"
)

// Cache keys for persisted client state.
const (
	cacheKeyConversation = "active_conversation"
	cacheKeyMessages     = "message_log"
)

// MessageCallback observes log updates; it receives a snapshot of the full log.
type MessageCallback func(messages []*domain.Message)

// ErrorCallback observes delivery failures.
type ErrorCallback func(err error)

// Unsubscribe detaches a callback. Calling it more than once is harmless.
type Unsubscribe func()

// Client owns one active conversation per session. All methods are safe for
// concurrent use, but only one Send may be in flight at a time; a second
// concurrent Send is rejected with domain.ErrSendInFlight.
type Client struct {
	api   API
	cache *cache.Store

	mu       sync.Mutex
	conv     *domain.Conversation
	log      []*domain.Message
	inFlight bool

	subMu     sync.Mutex
	nextSubID int
	msgSubs   map[int]MessageCallback
	errSubs   map[int]ErrorCallback
}

// NewClient creates a delivery client over the given API and local cache.
func NewClient(api API, store *cache.Store) *Client {
	return &Client{
		api:     api,
		cache:   store,
		msgSubs: make(map[int]MessageCallback),
		errSubs: make(map[int]ErrorCallback),
	}
}

// Initialize loads the cached conversation or creates a new one server-side.
// Returns domain.ErrNoAuthToken when no credential is configured, on the
// cached path too; the caller must redirect to authentication.
func (c *Client) Initialize(ctx context.Context) (*domain.Conversation, error) {
	if !c.api.HasCredential() {
		return nil, fmt.Errorf("no credential configured: %w", domain.ErrNoAuthToken)
	}

	c.mu.Lock()

	if c.conv != nil {
		conv := c.conv
		c.mu.Unlock()
		return conv, nil
	}

	if conv, messages := c.loadCached(ctx); conv != nil {
		c.conv = conv
		c.log = messages
		snap := snapshot(c.log)
		c.mu.Unlock()
		slog.Info("restored cached conversation", "conversation_id", conv.ID, "messages", len(messages))
		c.notifyMessages(snap)
		return conv, nil
	}

	conv, welcome, err := c.api.CreateConversation(ctx)
	if err != nil {
		c.mu.Unlock()
		return nil, fmt.Errorf("create conversation: %w", err)
	}

	c.conv = conv
	c.log = nil
	if welcome != nil {
		c.log = append(c.log, welcome)
	}
	c.persistLocked(ctx)
	snap := snapshot(c.log)
	c.mu.Unlock()
	c.notifyMessages(snap)
	return conv, nil
}

// Send delivers a user message. The pending message is appended optimistically
// and observable immediately; on success the pending entry and the assistant
// reply land as one atomic update. On failure the pending entry stays, followed
// by a system-error entry, so the attempt remains auditable.
func (c *Client) Send(ctx context.Context, text string) error {
	c.mu.Lock()
	if c.conv == nil {
		c.mu.Unlock()
		return fmt.Errorf("client not initialized: %w", domain.ErrConversationNotFound)
	}
	if c.inFlight {
		c.mu.Unlock()
		return domain.ErrSendInFlight
	}
	c.inFlight = true

	pending := &domain.Message{
		ID:             uuid.NewString(),
		ConversationID: c.conv.ID,
		Role:           domain.RoleUser,
		Content:        text,
		CreatedAt:      time.Now(),
		Pending:        true,
	}
	c.log = append(c.log, pending)
	conversationID := c.conv.ID
	// The optimistic entry is deliberately not persisted: a restart mid-send
	// loses at most this one message.
	snap := snapshot(c.log)
	c.mu.Unlock()
	c.notifyMessages(snap)

	userMsg, assistantMsg, err := c.api.PostMessage(ctx, conversationID, text)

	c.mu.Lock()

	if err != nil {
		errorMsg := &domain.Message{
			ID:             uuid.NewString(),
			ConversationID: conversationID,
			Role:           domain.RoleSystemError,
			Content:        deliveryErrorText(err),
			CreatedAt:      time.Now(),
		}
		c.log = append(c.log, errorMsg)
		c.persistLocked(ctx)
		snap := snapshot(c.log)
		c.inFlight = false
		c.mu.Unlock()
		c.notifyMessages(snap)
		c.notifyError(fmt.Errorf("send message: %w", err))
		return fmt.Errorf("send message: %w", err)
	}

	// Replace the pending entry and append the reply as a single update.
	replaced := false
	for i := len(c.log) - 1; i >= 0; i-- {
		if c.log[i].ID == pending.ID {
			c.log[i] = userMsg
			replaced = true
			break
		}
	}
	if !replaced {
		c.log = append(c.log, userMsg)
	}
	c.log = append(c.log, assistantMsg)
	c.persistLocked(ctx)
	snap = snapshot(c.log)
	c.inFlight = false
	c.mu.Unlock()
	c.notifyMessages(snap)
	return nil
}

// Messages returns a snapshot of the current log.
func (c *Client) Messages() []*domain.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return snapshot(c.log)
}

// OnMessage registers a log observer. Multiple subscribers are supported.
func (c *Client) OnMessage(cb MessageCallback) Unsubscribe {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	id := c.nextSubID
	c.nextSubID++
	c.msgSubs[id] = cb
	return func() {
		c.subMu.Lock()
		defer c.subMu.Unlock()
		delete(c.msgSubs, id)
	}
}

// OnError registers a failure observer.
func (c *Client) OnError(cb ErrorCallback) Unsubscribe {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	id := c.nextSubID
	c.nextSubID++
	c.errSubs[id] = cb
	return func() {
		c.subMu.Lock()
		defer c.subMu.Unlock()
		delete(c.errSubs, id)
	}
}

// Clear drops the cached log and conversation id. Server-side history is kept;
// this is a soft client-side reset only.
func (c *Client) Clear(ctx context.Context) error {
	c.mu.Lock()

	c.conv = nil
	c.log = nil
	if err := c.cache.Delete(ctx, cacheKeyConversation); err != nil {
		c.mu.Unlock()
		return fmt.Errorf("clear cached conversation: %w", err)
	}
	if err := c.cache.Delete(ctx, cacheKeyMessages); err != nil {
		c.mu.Unlock()
		return fmt.Errorf("clear cached messages: %w", err)
	}
	c.mu.Unlock()
	c.notifyMessages(nil)
	return nil
}

// loadCached restores the conversation and log from the local cache.
func (c *Client) loadCached(ctx context.Context) (*domain.Conversation, []*domain.Message) {
	convData, err := c.cache.Get(ctx, cacheKeyConversation)
	if err != nil || convData == nil {
		return nil, nil
	}
	var conv domain.Conversation
	if err := json.Unmarshal(convData, &conv); err != nil {
		slog.Warn("discarding unreadable cached conversation", "error", err)
		return nil, nil
	}

	var messages []*domain.Message
	if msgData, err := c.cache.Get(ctx, cacheKeyMessages); err == nil && msgData != nil {
		if err := json.Unmarshal(msgData, &messages); err != nil {
			slog.Warn("discarding unreadable cached log", "error", err)
			messages = nil
		}
	}
	return &conv, messages
}

// persistLocked writes conversation and log to the cache. Persistence happens
// before subscriber notification so a restart never observes more than the
// subscribers did. Caller holds c.mu.
func (c *Client) persistLocked(ctx context.Context) {
	if c.conv == nil {
		return
	}
	if data, err := json.Marshal(c.conv); err == nil {
		if err := c.cache.Put(ctx, cacheKeyConversation, data); err != nil {
			slog.Warn("failed to persist conversation", "error", err)
		}
	}
	// Pending entries are excluded from the persisted log.
	var confirmed []*domain.Message
	for _, m := range c.log {
		if !m.Pending {
			confirmed = append(confirmed, m)
		}
	}
	if data, err := json.Marshal(confirmed); err == nil {
		if err := c.cache.Put(ctx, cacheKeyMessages, data); err != nil {
			slog.Warn("failed to persist message log", "error", err)
		}
	}
}

// notifyMessages fans a log snapshot out to subscribers. Callers must not hold
// c.mu here: a callback is allowed to re-enter the client.
func (c *Client) notifyMessages(snap []*domain.Message) {
	c.subMu.Lock()
	subs := make([]MessageCallback, 0, len(c.msgSubs))
	for _, cb := range c.msgSubs {
		subs = append(subs, cb)
	}
	c.subMu.Unlock()
	for _, cb := range subs {
		cb(snap)
	}
}

func (c *Client) notifyError(err error) {
	c.subMu.Lock()
	subs := make([]ErrorCallback, 0, len(c.errSubs))
	for _, cb := range c.errSubs {
		subs = append(subs, cb)
	}
	c.subMu.Unlock()
	for _, cb := range subs {
		cb(err)
	}
}

func snapshot(log []*domain.Message) []*domain.Message {
	snap := make([]*domain.Message, len(log))
	copy(snap, log)
	return snap
}

func deliveryErrorText(err error) string {
	switch {
	case errors.Is(err, domain.ErrRateLimited):
		return "No pude enviar tu mensaje: demasiadas solicitudes. Esperá un momento e intentá de nuevo."
	case errors.Is(err, domain.ErrNoAuthToken):
		return "No pude enviar tu mensaje: tu sesión expiró. Volvé a iniciar sesión."
	default:
		return "No pude enviar tu mensaje por un problema de conexión. Tu texto sigue acá arriba; probá de nuevo."
	}
}
