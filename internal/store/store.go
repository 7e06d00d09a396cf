// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"

	"github.com/alunalabs/aluna/internal/domain"
)

// Repository defines the interface for persisting conversation state.
type Repository interface {
	// CreateConversation inserts a new conversation record.
	CreateConversation(ctx context.Context, conv *domain.Conversation) error

	// GetConversation retrieves a conversation by ID. Returns nil, nil when absent.
	GetConversation(ctx context.Context, id string) (*domain.Conversation, error)

	// TouchConversation bumps last_activity_at for a conversation.
	TouchConversation(ctx context.Context, id string) error

	// AppendMessage appends a message to a conversation's ordered log.
	AppendMessage(ctx context.Context, msg *domain.Message) error

	// GetMessages returns up to limit most recent messages for a conversation,
	// in insertion order (oldest first). limit <= 0 means no limit.
	GetMessages(ctx context.Context, conversationID string, limit int) ([]*domain.Message, error)

	// GetSchedulerState retrieves scheduler state for a user. Returns nil, nil when absent.
	GetSchedulerState(ctx context.Context, userID string) (*domain.SchedulerState, error)

	// UpsertSchedulerState creates or replaces scheduler state for a user.
	// Concurrent turns for the same user are last-write-wins on the counters.
	UpsertSchedulerState(ctx context.Context, state *domain.SchedulerState) error

	// SaveGoalsSnapshot caches the most recent goal-tracker listing for a user.
	SaveGoalsSnapshot(ctx context.Context, userID string, goals []domain.TherapeuticGoal) error

	// GetGoalsSnapshot returns the cached goal listing, or nil when absent.
	GetGoalsSnapshot(ctx context.Context, userID string) ([]domain.TherapeuticGoal, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
