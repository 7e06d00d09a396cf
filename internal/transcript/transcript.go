// Package transcript writes per-conversation NDJSON transcripts.
package transcript

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/alunalabs/aluna/internal/config"
)

// Event is one transcript line.
type Event struct {
	Timestamp      string         `json:"ts"`
	UserID         string         `json:"user_id"`
	ConversationID string         `json:"conversation_id"`
	Role           string         `json:"role"`
	Content        string         `json:"content"`
	Meta           map[string]any `json:"meta,omitempty"`
}

// Logger records conversation events. Log never blocks the request path.
type Logger interface {
	Log(event Event)
	Close() error
}

// Noop discards all events.
type Noop struct{}

func (Noop) Log(Event) {}

func (Noop) Close() error { return nil }

// FileLogger appends events to <dir>/<user_id>/<conversation_id>.ndjson
// through a bounded queue drained by a single writer goroutine.
type FileLogger struct {
	dir   string
	queue chan Event
	done  chan struct{}
	once  sync.Once
	log   *slog.Logger
}

// New creates a transcript logger, or a Noop when disabled.
func New(cfg config.TranscriptConfig, logger *slog.Logger) (Logger, error) {
	if !cfg.Enabled {
		return Noop{}, nil
	}
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("create transcript directory: %w", err)
	}

	l := &FileLogger{
		dir:   cfg.Dir,
		queue: make(chan Event, cfg.QueueSize),
		done:  make(chan struct{}),
		log:   logger,
	}
	go l.drain()
	return l, nil
}

// Log enqueues an event, dropping it if the queue is full.
func (l *FileLogger) Log(event Event) {
	if event.Timestamp == "" {
		event.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	select {
	case l.queue <- event:
	default:
		l.log.Warn("transcript queue full, dropping event",
			"user_id", event.UserID, "conversation_id", event.ConversationID)
	}
}

// Close stops the writer after draining queued events.
func (l *FileLogger) Close() error {
	l.once.Do(func() { close(l.queue) })
	<-l.done
	return nil
}

func (l *FileLogger) drain() {
	defer close(l.done)
	for event := range l.queue {
		if err := l.write(event); err != nil {
			l.log.Warn("failed to write transcript event", "error", err)
		}
	}
}

func (l *FileLogger) write(event Event) error {
	userDir := filepath.Join(l.dir, sanitize(event.UserID))
	if err := os.MkdirAll(userDir, 0755); err != nil {
		return fmt.Errorf("create user transcript directory: %w", err)
	}

	path := filepath.Join(userDir, sanitize(event.ConversationID)+".ndjson")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open transcript file: %w", err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil {
			l.log.Debug("failed to close transcript file", "error", closeErr)
		}
	}()

	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode transcript event: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append transcript line: %w", err)
	}
	return nil
}

// sanitize keeps IDs path-safe.
func sanitize(s string) string {
	if s == "" {
		return "unknown"
	}
	out := make([]rune, 0, len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}
