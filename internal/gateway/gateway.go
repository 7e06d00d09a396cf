// Package gateway relays chat-adjacent realtime events (typing indicators,
// immediate acknowledgements) over WebSocket. It is not the source of truth
// for message persistence; the REST pipeline owns that.
package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/alunalabs/aluna/internal/identity"
)

// Event is the gateway wire format, client and server direction alike.
type Event struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Client -> server event types.
const (
	EventAuthenticate   = "authenticate"
	EventMessage        = "message"
	EventCancelResponse = "cancel:response"
)

// Server -> client event types.
const (
	EventTyping          = "ai:typing"
	EventMessageSent     = "message:sent"
	EventMessageReceived = "message:received"
	EventError           = "error"
)

type authenticatePayload struct {
	UserID string `json:"userId"`
}

type messagePayload struct {
	Content string `json:"content"`
}

// Handler accepts gateway connections and relays events.
type Handler struct {
	hub           *Hub
	verifier      identity.Verifier
	allowedOrigin string
	isDev         bool
	ackDelay      time.Duration

	connMu sync.Mutex
	connID int64
}

// NewHandler creates a gateway handler.
func NewHandler(hub *Hub, verifier identity.Verifier, allowedOrigin string, isDev bool, ackDelay time.Duration) *Handler {
	return &Handler{
		hub:           hub,
		verifier:      verifier,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
		ackDelay:      ackDelay,
	}
}

// ServeHTTP implements http.Handler for the WebSocket upgrade. A missing or
// invalid credential fails the connection attempt outright, before upgrade —
// never connection-then-error.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := identity.TokenFromRequest(r)
	if token == "" {
		http.Error(w, "missing credential", http.StatusUnauthorized)
		return
	}
	userID, err := h.verifier.Verify(r.Context(), token)
	if err != nil || userID == "" {
		http.Error(w, "invalid credential", http.StatusUnauthorized)
		return
	}

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("failed to accept gateway connection", "error", err, "user_id", userID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("failed to close gateway connection", "error", closeErr, "user_id", userID)
		}
	}()

	slog.Info("gateway connection accepted", "user_id", userID, "ip", r.RemoteAddr)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn := newSession(h, ws, userID)
	defer conn.teardown()

	h.readLoop(ctx, conn)
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" || origin == h.allowedOrigin {
		return true
	}
	slog.Warn("gateway origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

func (h *Handler) nextConnID() int64 {
	h.connMu.Lock()
	defer h.connMu.Unlock()
	h.connID++
	return h.connID
}

// session is the per-connection state: room membership and the pending
// placeholder-ack timer that cancel:response can clear.
type session struct {
	handler *Handler
	ws      *websocket.Conn
	userID  string
	connID  int64

	mu       sync.Mutex
	joined   bool
	ackTimer *time.Timer
}

func newSession(h *Handler, ws *websocket.Conn, userID string) *session {
	return &session{handler: h, ws: ws, userID: userID, connID: h.nextConnID()}
}

func (s *session) teardown() {
	s.mu.Lock()
	if s.ackTimer != nil {
		s.ackTimer.Stop()
		s.ackTimer = nil
	}
	joined := s.joined
	s.mu.Unlock()

	if joined {
		s.handler.hub.Leave(s.userID, s.connID)
	}
	slog.Info("gateway session ended", "user_id", s.userID, "conn_id", s.connID)
}

func (h *Handler) readLoop(ctx context.Context, conn *session) {
	for {
		_, data, err := conn.ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("gateway connection closed by client", "user_id", conn.userID)
			} else {
				slog.Warn("gateway read error", "error", err, "user_id", conn.userID)
			}
			return
		}

		var event Event
		if err := json.Unmarshal(data, &event); err != nil {
			conn.writeError(ctx, "malformed event")
			continue
		}

		switch event.Type {
		case EventAuthenticate:
			conn.handleAuthenticate(ctx, event.Payload)
		case EventMessage:
			conn.handleMessage(ctx, event.Payload)
		case EventCancelResponse:
			conn.handleCancel(ctx)
		default:
			conn.writeError(ctx, "unknown event type")
		}
	}
}

// handleAuthenticate binds the connection to the user's room. The payload's
// userId must match the credential's subject.
func (s *session) handleAuthenticate(ctx context.Context, payload json.RawMessage) {
	var auth authenticatePayload
	if err := json.Unmarshal(payload, &auth); err != nil || auth.UserID == "" {
		s.writeError(ctx, "invalid authenticate payload")
		return
	}
	if auth.UserID != s.userID {
		s.writeError(ctx, "user mismatch")
		return
	}

	s.mu.Lock()
	alreadyJoined := s.joined
	s.joined = true
	s.mu.Unlock()

	if !alreadyJoined {
		s.handler.hub.Join(s.userID, s.connID, s.ws)
	}
}

// handleMessage emits an immediate typing signal and schedules a placeholder
// acknowledgement. This path exists for presence UX only and does not replace
// the REST-based orchestration flow.
func (s *session) handleMessage(ctx context.Context, payload json.RawMessage) {
	s.mu.Lock()
	joined := s.joined
	s.mu.Unlock()
	if !joined {
		s.writeError(ctx, "authenticate first")
		return
	}

	var msg messagePayload
	if err := json.Unmarshal(payload, &msg); err != nil {
		s.writeError(ctx, "invalid message payload")
		return
	}

	s.handler.hub.Broadcast(ctx, s.userID, marshalEvent(EventMessageSent, map[string]any{"content": msg.Content}))
	s.handler.hub.Broadcast(ctx, s.userID, marshalEvent(EventTyping, map[string]any{"typing": true}))

	s.mu.Lock()
	if s.ackTimer != nil {
		s.ackTimer.Stop()
	}
	s.ackTimer = time.AfterFunc(s.handler.ackDelay, func() {
		// Detached from the request context: the read loop may be blocked in
		// Read when this fires.
		bg := context.Background()
		s.handler.hub.Broadcast(bg, s.userID, marshalEvent(EventTyping, map[string]any{"typing": false}))
		s.handler.hub.Broadcast(bg, s.userID, marshalEvent(EventMessageReceived, map[string]any{"status": "received"}))
	})
	s.mu.Unlock()
}

// handleCancel clears the typing signal for this connection's room.
func (s *session) handleCancel(ctx context.Context) {
	s.mu.Lock()
	if s.ackTimer != nil {
		s.ackTimer.Stop()
		s.ackTimer = nil
	}
	s.mu.Unlock()

	s.handler.hub.Broadcast(ctx, s.userID, marshalEvent(EventTyping, map[string]any{"typing": false}))
}

func (s *session) writeError(ctx context.Context, message string) {
	event := marshalEvent(EventError, map[string]any{"message": message})
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	if err := s.ws.Write(ctx, websocket.MessageText, data); err != nil {
		slog.Debug("gateway error write failed", "user_id", s.userID, "error", err)
	}
}

func marshalEvent(eventType string, payload map[string]any) Event {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("failed to marshal event payload", "type", eventType, "error", err)
		data = []byte("{}")
	}
	return Event{Type: eventType, Payload: data}
}
