package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// Hub tracks active gateway connections grouped into per-user rooms, so every
// connection a user holds receives the same events.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[int64]*websocket.Conn
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{rooms: make(map[string]map[int64]*websocket.Conn)}
}

// Join adds a connection to a user's room.
func (h *Hub) Join(userID string, connID int64, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.rooms[userID]; !exists {
		h.rooms[userID] = make(map[int64]*websocket.Conn)
	}
	h.rooms[userID][connID] = conn
	slog.Info("gateway connection joined room", "user_id", userID, "conn_id", connID)
}

// Leave removes a connection from a user's room.
func (h *Hub) Leave(userID string, connID int64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if conns, ok := h.rooms[userID]; ok {
		if _, exists := conns[connID]; exists {
			delete(conns, connID)
			if len(conns) == 0 {
				delete(h.rooms, userID)
			}
			slog.Info("gateway connection left room", "user_id", userID, "conn_id", connID)
		}
	}
}

// Broadcast sends an event to every connection in a user's room.
func (h *Hub) Broadcast(ctx context.Context, userID string, event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		slog.Error("failed to marshal gateway event", "type", event.Type, "error", err)
		return
	}

	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.rooms[userID]))
	for _, conn := range h.rooms[userID] {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	for _, conn := range conns {
		if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
			slog.Debug("gateway broadcast write failed", "user_id", userID, "error", err)
		}
	}
}

// CloseRoom forcefully closes every connection for a user.
func (h *Hub) CloseRoom(userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conns, ok := h.rooms[userID]
	if !ok {
		return
	}
	for connID, conn := range conns {
		_ = conn.Close(websocket.StatusNormalClosure, "room closed")
		slog.Info("gateway connection closed", "user_id", userID, "conn_id", connID)
	}
	delete(h.rooms, userID)
}
