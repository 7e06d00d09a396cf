// Package socratic decides, once per user turn, whether to surface a
// reflective question and selects one while avoiding recent repeats.
package socratic

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/alunalabs/aluna/internal/domain"
	"github.com/alunalabs/aluna/internal/store"
)

const (
	// cadenceInterval triggers an injection every Nth message.
	cadenceInterval = 3
	// minElapsed gates the time-based trigger.
	minElapsed = 5 * time.Minute
	// timeTriggerChance is the random gate on the time-based trigger.
	timeTriggerChance = 0.30
	// preferredWeight is the weight given to a profile's preferred category;
	// other candidates get weight 1.
	preferredWeight = 2
)

// Profile carries the user's question preferences.
type Profile struct {
	PreferredCategory Category
}

// Decision is the scheduler's verdict for one turn.
type Decision struct {
	Inject   bool
	Question string
	Category Category
}

// Scheduler owns the per-user injection state. Selection is pure given a fixed
// random source and clock, which both default to real ones.
type Scheduler struct {
	repo store.Repository
	mu   sync.Mutex
	rng  *rand.Rand
	now  func() time.Time
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithRand sets the random source. Used by tests for determinism.
func WithRand(rng *rand.Rand) Option {
	return func(s *Scheduler) { s.rng = rng }
}

// WithClock sets the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// New creates a scheduler persisting its state through repo.
func New(repo store.Repository, opts ...Option) *Scheduler {
	s := &Scheduler{
		repo: repo,
		rng:  rand.New(rand.NewSource(time.Now().UnixNano())),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Next advances the scheduler one turn for userID and reports whether a
// question should be woven into this turn's reply. The message counter
// advances on every call; lastInjectedAt and the anti-repetition window move
// only when a question is actually selected.
func (s *Scheduler) Next(ctx context.Context, userID, latestMessage string, topics []string, profile *Profile) (*Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.repo.GetSchedulerState(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load scheduler state: %w", err)
	}
	if state == nil {
		state = &domain.SchedulerState{UserID: userID}
	}

	state.MessageCount++

	if !s.triggered(state, latestMessage) {
		if err := s.repo.UpsertSchedulerState(ctx, state); err != nil {
			return nil, fmt.Errorf("persist scheduler state: %w", err)
		}
		return &Decision{Inject: false}, nil
	}

	category := s.pickCategory(latestMessage, topics, profile)
	question := s.pickQuestion(category, state.RecentQuestions)

	state.RecentQuestions = append([]string{question}, state.RecentQuestions...)
	if len(state.RecentQuestions) > domain.RecentQuestionWindow {
		state.RecentQuestions = state.RecentQuestions[:domain.RecentQuestionWindow]
	}
	injectedAt := s.now()
	state.LastInjectedAt = &injectedAt

	if err := s.repo.UpsertSchedulerState(ctx, state); err != nil {
		return nil, fmt.Errorf("persist scheduler state: %w", err)
	}

	slog.Debug("socratic question scheduled",
		"user_id", userID,
		"category", string(category),
		"message_count", state.MessageCount,
	)
	return &Decision{Inject: true, Question: question, Category: category}, nil
}

// triggered evaluates the decision rule in order; first true wins.
func (s *Scheduler) triggered(state *domain.SchedulerState, latestMessage string) bool {
	// Trigger A: fixed cadence.
	if state.MessageCount%cadenceInterval == 0 {
		return true
	}

	// Trigger B: enough time elapsed, a random gate, and an emotion-bearing
	// keyword in the latest message. A user who has never received a question
	// passes the elapsed check.
	if state.LastInjectedAt != nil && s.now().Sub(*state.LastInjectedAt) <= minElapsed {
		return false
	}
	if !containsKeyword(latestMessage, emotionKeywords) {
		return false
	}
	return s.rng.Float64() < timeTriggerChance
}

// pickCategory builds the weighted candidate table and draws from it.
// The preferred category gets an explicit higher weight rather than a
// duplicated entry, which biases but does not guarantee its selection.
func (s *Scheduler) pickCategory(latestMessage string, topics []string, profile *Profile) Category {
	candidates := []Category{CategoryGeneral}
	haystack := strings.ToLower(latestMessage + " " + strings.Join(topics, " "))
	for _, cat := range []Category{CategoryBeliefs, CategoryEmotions, CategoryBehaviors, CategoryValues, CategoryRelationships} {
		for _, kw := range categoryKeywords[cat] {
			if strings.Contains(haystack, kw) {
				candidates = append(candidates, cat)
				break
			}
		}
	}

	type weighted struct {
		cat    Category
		weight int
	}
	var table []weighted
	total := 0
	for _, cat := range candidates {
		w := 1
		if profile != nil && profile.PreferredCategory == cat {
			w = preferredWeight
		}
		table = append(table, weighted{cat: cat, weight: w})
		total += w
	}

	draw := s.rng.Intn(total)
	for _, entry := range table {
		draw -= entry.weight
		if draw < 0 {
			return entry.cat
		}
	}
	return CategoryGeneral
}

// pickQuestion selects uniformly from the category pool, excluding questions
// in the anti-repetition window. If the whole pool is excluded the constraint
// is relaxed for this turn only: a repeat beats no question at all.
func (s *Scheduler) pickQuestion(category Category, recent []string) string {
	pool := questionPools[category]

	recentSet := make(map[string]struct{}, len(recent))
	for _, q := range recent {
		recentSet[q] = struct{}{}
	}

	var fresh []string
	for _, q := range pool {
		if _, seen := recentSet[q]; !seen {
			fresh = append(fresh, q)
		}
	}
	if len(fresh) == 0 {
		fresh = pool
	}

	return fresh[s.rng.Intn(len(fresh))]
}

func containsKeyword(text string, keywords []string) bool {
	lower := strings.ToLower(text)
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
