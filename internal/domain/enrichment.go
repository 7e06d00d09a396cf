package domain

import (
	"time"
)

// SentimentSnapshot is the analyzer's read of the user's recent emotional state.
// Ephemeral: computed per generation call, never persisted beyond the turn, but
// the previous snapshot is kept alongside the current one to describe trajectory.
type SentimentSnapshot struct {
	PrimaryEmotion string   `json:"primaryEmotion"`
	Intensity      int      `json:"intensity"` // 0..10
	Distress       int      `json:"distress"`  // 0..10
	Topics         []string `json:"topics"`
}

// TherapeuticGoal is an open objective tracked for the user. CRUD lives in the
// external goal tracker; at most the top 2 incomplete goals reach the prompt.
type TherapeuticGoal struct {
	ID          string    `json:"id"`
	Description string    `json:"description"`
	Progress    int       `json:"progress"` // 0..100
	Completed   bool      `json:"completed"`
	Category    string    `json:"category"`
	CreatedAt   time.Time `json:"createdAt"`
}

// SchedulerState is the socratic scheduler's persisted record for one user.
type SchedulerState struct {
	UserID          string     `json:"userId"`
	MessageCount    int        `json:"messageCount"`
	LastInjectedAt  *time.Time `json:"lastInjectedAt,omitempty"`
	RecentQuestions []string   `json:"recentQuestions"` // most recent first, capped at 10
	UpdatedAt       time.Time  `json:"-"`
}

// RecentQuestionWindow bounds the scheduler's anti-repetition history.
const RecentQuestionWindow = 10
