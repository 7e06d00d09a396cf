package chat

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alunalabs/aluna/internal/cache"
	"github.com/alunalabs/aluna/internal/domain"
)

// fakeAPI is a scripted server boundary.
type fakeAPI struct {
	mu           sync.Mutex
	creates      int
	posts        int
	postErr      error
	noCredential bool
	postStart    chan struct{} // closed when PostMessage is entered, if set
	postGate     chan struct{} // PostMessage blocks on this until closed, if set
}

func (f *fakeAPI) HasCredential() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.noCredential
}

func (f *fakeAPI) CreateConversation(context.Context) (*domain.Conversation, *domain.Message, error) {
	f.mu.Lock()
	f.creates++
	n := f.creates
	f.mu.Unlock()

	now := time.Now()
	conv := &domain.Conversation{ID: fmt.Sprintf("conv-%d", n), UserID: "u1", StartedAt: now, LastActivityAt: now}
	welcome := &domain.Message{
		ID:             fmt.Sprintf("welcome-%d", n),
		ConversationID: conv.ID,
		Role:           domain.RoleAssistant,
		Content:        "Hola, soy Aluna.",
		CreatedAt:      now,
	}
	return conv, welcome, nil
}

func (f *fakeAPI) PostMessage(_ context.Context, conversationID, content string) (*domain.Message, *domain.Message, error) {
	f.mu.Lock()
	f.posts++
	n := f.posts
	start := f.postStart
	gate := f.postGate
	err := f.postErr
	f.mu.Unlock()

	if start != nil {
		close(start)
		f.mu.Lock()
		f.postStart = nil
		f.mu.Unlock()
	}
	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, nil, err
	}

	now := time.Now()
	userMsg := &domain.Message{
		ID:             fmt.Sprintf("srv-user-%d", n),
		ConversationID: conversationID,
		Role:           domain.RoleUser,
		Content:        content,
		CreatedAt:      now,
	}
	assistantMsg := &domain.Message{
		ID:             fmt.Sprintf("srv-assistant-%d", n),
		ConversationID: conversationID,
		Role:           domain.RoleAssistant,
		Content:        "Te escucho.",
		CreatedAt:      now,
	}
	return userMsg, assistantMsg, nil
}

func (f *fakeAPI) GetMessages(context.Context, string) ([]*domain.Message, error) {
	return nil, nil
}

func testClientPair(t *testing.T) (*Client, *fakeAPI, *cache.Store) {
	t.Helper()
	store, err := cache.Open(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("cache.Open failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	api := &fakeAPI{}
	return NewClient(api, store), api, store
}

func TestInitializeCreatesConversation(t *testing.T) {
	t.Parallel()
	c, api, _ := testClientPair(t)

	conv, err := c.Initialize(context.Background())
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if conv.ID != "conv-1" {
		t.Errorf("conversation ID = %q", conv.ID)
	}
	if api.creates != 1 {
		t.Errorf("CreateConversation called %d times, want 1", api.creates)
	}

	msgs := c.Messages()
	if len(msgs) != 1 || msgs[0].Role != domain.RoleAssistant {
		t.Fatalf("log = %+v, want the welcome message alone", msgs)
	}

	// A second Initialize is a no-op on the same client.
	if _, err := c.Initialize(context.Background()); err != nil {
		t.Fatalf("second Initialize failed: %v", err)
	}
	if api.creates != 1 {
		t.Errorf("CreateConversation called %d times after re-init, want 1", api.creates)
	}
}

func TestInitializeWithoutCredential(t *testing.T) {
	t.Parallel()
	c, api, _ := testClientPair(t)
	api.noCredential = true

	if _, err := c.Initialize(context.Background()); !errors.Is(err, domain.ErrNoAuthToken) {
		t.Errorf("Initialize err = %v, want ErrNoAuthToken", err)
	}
	if api.creates != 0 {
		t.Errorf("CreateConversation called %d times without a credential, want 0", api.creates)
	}
}

func TestInitializeCachedPathStillRequiresCredential(t *testing.T) {
	t.Parallel()
	c, _, store := testClientPair(t)
	ctx := context.Background()

	if _, err := c.Initialize(ctx); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	// An expired session over a warm cache must still fail up front, not on
	// the next Send.
	api2 := &fakeAPI{noCredential: true}
	c2 := NewClient(api2, store)
	if _, err := c2.Initialize(ctx); !errors.Is(err, domain.ErrNoAuthToken) {
		t.Errorf("cached Initialize err = %v, want ErrNoAuthToken", err)
	}
}

func TestSendAtomicUpdate(t *testing.T) {
	t.Parallel()
	c, _, _ := testClientPair(t)
	ctx := context.Background()

	if _, err := c.Initialize(ctx); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	var snaps [][]*domain.Message
	unsub := c.OnMessage(func(messages []*domain.Message) {
		snaps = append(snaps, messages)
	})
	defer unsub()

	if err := c.Send(ctx, "me siento raro"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	if len(snaps) != 2 {
		t.Fatalf("got %d notifications, want 2 (optimistic, then confirmed)", len(snaps))
	}

	optimistic := snaps[0]
	if last := optimistic[len(optimistic)-1]; !last.Pending || last.Content != "me siento raro" {
		t.Errorf("optimistic notification tail = %+v, want the pending user message", last)
	}

	confirmed := snaps[1]
	if len(confirmed) != 3 {
		t.Fatalf("confirmed log has %d entries, want welcome + user + assistant", len(confirmed))
	}
	user, assistant := confirmed[1], confirmed[2]
	if user.Pending {
		t.Error("confirmed user message still pending")
	}
	if user.ID != "srv-user-1" {
		t.Errorf("pending entry not replaced by server message: ID = %q", user.ID)
	}
	if assistant.Role != domain.RoleAssistant {
		t.Errorf("tail role = %q, want assistant", assistant.Role)
	}
}

func TestSendFailureAppendsErrorEntry(t *testing.T) {
	t.Parallel()
	c, api, _ := testClientPair(t)
	ctx := context.Background()

	if _, err := c.Initialize(ctx); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	api.postErr = fmt.Errorf("server throttled request: %w", domain.ErrRateLimited)

	var gotErr error
	unsub := c.OnError(func(err error) { gotErr = err })
	defer unsub()

	err := c.Send(ctx, "hola")
	if !errors.Is(err, domain.ErrRateLimited) {
		t.Fatalf("Send err = %v, want ErrRateLimited", err)
	}
	if !errors.Is(gotErr, domain.ErrRateLimited) {
		t.Errorf("error callback got %v, want ErrRateLimited", gotErr)
	}

	msgs := c.Messages()
	if len(msgs) != 3 {
		t.Fatalf("log has %d entries, want welcome + pending + error", len(msgs))
	}
	if !msgs[1].Pending {
		t.Error("failed user message should stay pending in the log")
	}
	if msgs[2].Role != domain.RoleSystemError || msgs[2].Content == "" {
		t.Errorf("tail = %+v, want a system-error entry with user-facing text", msgs[2])
	}

	// A later send is allowed again after the failure.
	api.postErr = nil
	if err := c.Send(ctx, "de nuevo"); err != nil {
		t.Fatalf("Send after failure failed: %v", err)
	}
}

func TestSendRejectsConcurrentSend(t *testing.T) {
	t.Parallel()
	c, api, _ := testClientPair(t)
	ctx := context.Background()

	if _, err := c.Initialize(ctx); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	started := make(chan struct{})
	gate := make(chan struct{})
	api.mu.Lock()
	api.postStart = started
	api.postGate = gate
	api.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- c.Send(ctx, "primero") }()

	<-started
	if err := c.Send(ctx, "segundo"); !errors.Is(err, domain.ErrSendInFlight) {
		t.Errorf("concurrent Send err = %v, want ErrSendInFlight", err)
	}

	close(gate)
	if err := <-done; err != nil {
		t.Fatalf("first Send failed: %v", err)
	}

	// The slot frees once the first send settles.
	if err := c.Send(ctx, "tercero"); err != nil {
		t.Fatalf("Send after completion failed: %v", err)
	}
}

func TestSendBeforeInitialize(t *testing.T) {
	t.Parallel()
	c, _, _ := testClientPair(t)

	err := c.Send(context.Background(), "hola")
	if !errors.Is(err, domain.ErrConversationNotFound) {
		t.Errorf("err = %v, want ErrConversationNotFound", err)
	}
}

func TestRestoreFromCache(t *testing.T) {
	t.Parallel()
	c, _, store := testClientPair(t)
	ctx := context.Background()

	if _, err := c.Initialize(ctx); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if err := c.Send(ctx, "hola"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	// A fresh client over the same cache restores without touching the server.
	api2 := &fakeAPI{}
	c2 := NewClient(api2, store)
	conv, err := c2.Initialize(ctx)
	if err != nil {
		t.Fatalf("restore Initialize failed: %v", err)
	}
	if conv.ID != "conv-1" {
		t.Errorf("restored conversation ID = %q, want conv-1", conv.ID)
	}
	if api2.creates != 0 {
		t.Errorf("CreateConversation called %d times during restore, want 0", api2.creates)
	}

	msgs := c2.Messages()
	if len(msgs) != 3 {
		t.Fatalf("restored log has %d entries, want 3", len(msgs))
	}
	for _, m := range msgs {
		if m.Pending {
			t.Errorf("restored log contains a pending entry: %+v", m)
		}
	}
}

func TestClearResetsClientState(t *testing.T) {
	t.Parallel()
	c, api, _ := testClientPair(t)
	ctx := context.Background()

	if _, err := c.Initialize(ctx); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if err := c.Send(ctx, "hola"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	if err := c.Clear(ctx); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if msgs := c.Messages(); len(msgs) != 0 {
		t.Errorf("log has %d entries after Clear, want 0", len(msgs))
	}

	// The next Initialize starts a brand-new server conversation.
	conv, err := c.Initialize(ctx)
	if err != nil {
		t.Fatalf("Initialize after Clear failed: %v", err)
	}
	if conv.ID != "conv-2" {
		t.Errorf("conversation ID = %q, want conv-2", conv.ID)
	}
	if api.creates != 2 {
		t.Errorf("CreateConversation called %d times, want 2", api.creates)
	}
}

func TestSubscriberMayReenterClient(t *testing.T) {
	t.Parallel()
	c, _, _ := testClientPair(t)
	ctx := context.Background()

	if _, err := c.Initialize(ctx); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	// Callbacks run outside the client's lock, so a subscriber reading the
	// log back must not deadlock.
	var seen int
	unsub := c.OnMessage(func([]*domain.Message) {
		seen = len(c.Messages())
	})
	defer unsub()

	done := make(chan error, 1)
	go func() { done <- c.Send(ctx, "hola") }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Send failed: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Send deadlocked with a re-entrant subscriber")
	}
	if seen != 3 {
		t.Errorf("re-entrant Messages() saw %d entries, want 3", seen)
	}
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	t.Parallel()
	c, _, _ := testClientPair(t)
	ctx := context.Background()

	if _, err := c.Initialize(ctx); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	calls := 0
	unsub := c.OnMessage(func([]*domain.Message) { calls++ })
	unsub()
	unsub()

	if err := c.Send(ctx, "hola"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if calls != 0 {
		t.Errorf("unsubscribed callback fired %d times", calls)
	}
}
