// Package domain defines the core chat types shared across the server and client.
package domain

import (
	"time"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	// RoleSystemError marks a chat-visible error entry appended after a failed
	// turn so the log keeps an audit trail of what happened.
	RoleSystemError Role = "system-error"
)

// Conversation is a per-user ordered sequence of messages.
type Conversation struct {
	ID             string    `json:"id"`
	UserID         string    `json:"userId"`
	StartedAt      time.Time `json:"startedAt"`
	LastActivityAt time.Time `json:"lastActivityAt"`
}

// Message is one entry in a conversation log. Messages are immutable once
// persisted except for Pending, which transitions true -> false on confirmation.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	Role           Role      `json:"role"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"createdAt"`
	Pending        bool      `json:"pending"`
}
