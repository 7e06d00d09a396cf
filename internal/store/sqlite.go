package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/alunalabs/aluna/internal/domain"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db          *sql.DB
	schedulerMu sync.Mutex // Mutex for scheduler state operations to prevent SQLITE_BUSY
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		started_at INTEGER NOT NULL,
		last_activity_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_conversations_user ON conversations(user_id, last_activity_at);

	CREATE TABLE IF NOT EXISTS messages (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		conversation_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, seq);

	CREATE TABLE IF NOT EXISTS scheduler_state (
		user_id TEXT PRIMARY KEY,
		message_count INTEGER NOT NULL DEFAULT 0,
		last_injected_at INTEGER,
		recent_questions_json TEXT NOT NULL DEFAULT '[]',
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS goals_snapshot (
		user_id TEXT PRIMARY KEY,
		goals_json TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CreateConversation inserts a new conversation record.
func (s *SQLiteStore) CreateConversation(ctx context.Context, conv *domain.Conversation) error {
	query := `INSERT INTO conversations (id, user_id, started_at, last_activity_at) VALUES (?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		conv.ID, conv.UserID, conv.StartedAt.UnixMilli(), conv.LastActivityAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert conversation: %w", err)
	}
	return nil
}

// GetConversation retrieves a conversation by ID.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*domain.Conversation, error) {
	query := `SELECT id, user_id, started_at, last_activity_at FROM conversations WHERE id = ?`
	row := s.db.QueryRowContext(ctx, query, id)

	var conv domain.Conversation
	var startedAt, lastActivity int64
	err := row.Scan(&conv.ID, &conv.UserID, &startedAt, &lastActivity)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan conversation row: %w", err)
	}

	conv.StartedAt = time.UnixMilli(startedAt)
	conv.LastActivityAt = time.UnixMilli(lastActivity)
	return &conv, nil
}

// TouchConversation bumps last_activity_at for a conversation.
func (s *SQLiteStore) TouchConversation(ctx context.Context, id string) error {
	query := `UPDATE conversations SET last_activity_at = ? WHERE id = ?`
	result, err := s.db.ExecContext(ctx, query, time.Now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Warn("TouchConversation affected 0 rows", "conversation_id", id)
	}
	return nil
}

// AppendMessage appends a message to a conversation's ordered log.
// Pending is a client-side flag and is never persisted server-side.
func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *domain.Message) error {
	query := `INSERT INTO messages (id, conversation_id, role, content, created_at) VALUES (?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		msg.ID, msg.ConversationID, string(msg.Role), msg.Content, msg.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// GetMessages returns up to limit most recent messages, oldest first.
func (s *SQLiteStore) GetMessages(ctx context.Context, conversationID string, limit int) ([]*domain.Message, error) {
	query := `
		SELECT id, conversation_id, role, content, created_at
		FROM (
			SELECT id, conversation_id, role, content, created_at, seq
			FROM messages WHERE conversation_id = ?
			ORDER BY seq DESC LIMIT ?
		) ORDER BY seq ASC`
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx, query, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close message rows", "error", closeErr)
		}
	}()

	var messages []*domain.Message
	for rows.Next() {
		var msg domain.Message
		var role string
		var createdAt int64
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &role, &msg.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		msg.Role = domain.Role(role)
		msg.CreatedAt = time.UnixMilli(createdAt)
		messages = append(messages, &msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return messages, nil
}

// GetSchedulerState retrieves scheduler state for a user.
func (s *SQLiteStore) GetSchedulerState(ctx context.Context, userID string) (*domain.SchedulerState, error) {
	s.schedulerMu.Lock()
	defer s.schedulerMu.Unlock()

	query := `
		SELECT user_id, message_count, last_injected_at, recent_questions_json, updated_at
		FROM scheduler_state WHERE user_id = ?`
	row := s.db.QueryRowContext(ctx, query, userID)

	var state domain.SchedulerState
	var lastInjected sql.NullInt64
	var recentJSON string
	var updatedAt int64

	err := row.Scan(&state.UserID, &state.MessageCount, &lastInjected, &recentJSON, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan scheduler state: %w", err)
	}

	if lastInjected.Valid {
		ts := time.UnixMilli(lastInjected.Int64)
		state.LastInjectedAt = &ts
	}
	if err := json.Unmarshal([]byte(recentJSON), &state.RecentQuestions); err != nil {
		return nil, fmt.Errorf("decode recent questions: %w", err)
	}
	state.UpdatedAt = time.UnixMilli(updatedAt)
	return &state, nil
}

// UpsertSchedulerState creates or replaces scheduler state for a user.
// Implements retry with backoff to handle SQLITE_BUSY under concurrent turns.
func (s *SQLiteStore) UpsertSchedulerState(ctx context.Context, state *domain.SchedulerState) error {
	maxRetries := 3
	baseDelay := 100 * time.Millisecond

	for i := 0; i < maxRetries; i++ {
		err := s.upsertSchedulerStateOnce(ctx, state)
		if err == nil {
			return nil
		}

		if isSQLiteConflict(err) && i < maxRetries-1 {
			delay := baseDelay * time.Duration(1<<i)
			slog.Debug("UpsertSchedulerState hit SQLITE_BUSY, retrying",
				"user_id", state.UserID,
				"attempt", i+1,
				"delay", delay)
			time.Sleep(delay)
			continue
		}

		return fmt.Errorf("upsert scheduler state for %s: %w", state.UserID, err)
	}

	return nil
}

func (s *SQLiteStore) upsertSchedulerStateOnce(ctx context.Context, state *domain.SchedulerState) error {
	s.schedulerMu.Lock()
	defer s.schedulerMu.Unlock()

	recentJSON, err := json.Marshal(state.RecentQuestions)
	if err != nil {
		return fmt.Errorf("encode recent questions: %w", err)
	}
	if state.RecentQuestions == nil {
		recentJSON = []byte("[]")
	}

	var lastInjected interface{}
	if state.LastInjectedAt != nil {
		lastInjected = state.LastInjectedAt.UnixMilli()
	}

	query := `
		INSERT INTO scheduler_state (user_id, message_count, last_injected_at, recent_questions_json, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			message_count = excluded.message_count,
			last_injected_at = COALESCE(excluded.last_injected_at, scheduler_state.last_injected_at),
			recent_questions_json = excluded.recent_questions_json,
			updated_at = excluded.updated_at`

	_, err = s.db.ExecContext(ctx, query,
		state.UserID, state.MessageCount, lastInjected, string(recentJSON), time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("exec upsert: %w", err)
	}
	return nil
}

// SaveGoalsSnapshot caches the most recent goal-tracker listing for a user.
func (s *SQLiteStore) SaveGoalsSnapshot(ctx context.Context, userID string, goals []domain.TherapeuticGoal) error {
	goalsJSON, err := json.Marshal(goals)
	if err != nil {
		return fmt.Errorf("encode goals: %w", err)
	}

	query := `
		INSERT INTO goals_snapshot (user_id, goals_json, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			goals_json = excluded.goals_json,
			updated_at = excluded.updated_at`
	if _, err := s.db.ExecContext(ctx, query, userID, string(goalsJSON), time.Now().UnixMilli()); err != nil {
		return fmt.Errorf("upsert goals snapshot: %w", err)
	}
	return nil
}

// GetGoalsSnapshot returns the cached goal listing, or nil when absent.
func (s *SQLiteStore) GetGoalsSnapshot(ctx context.Context, userID string) ([]domain.TherapeuticGoal, error) {
	query := `SELECT goals_json FROM goals_snapshot WHERE user_id = ?`
	row := s.db.QueryRowContext(ctx, query, userID)

	var goalsJSON string
	err := row.Scan(&goalsJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan goals snapshot: %w", err)
	}

	var goals []domain.TherapeuticGoal
	if err := json.Unmarshal([]byte(goalsJSON), &goals); err != nil {
		return nil, fmt.Errorf("decode goals snapshot: %w", err)
	}
	return goals, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// isSQLiteConflict reports whether err is a SQLite concurrency error
// (SQLITE_BUSY or "database is locked") that warrants a retry.
func isSQLiteConflict(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "SQLITE_BUSY") ||
		strings.Contains(err.Error(), "database is locked")
}
