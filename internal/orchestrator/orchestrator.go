// Package orchestrator turns a user message plus history into one assistant
// reply, under a bounded prompt size and a bounded retry budget.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alunalabs/aluna/internal/config"
	"github.com/alunalabs/aluna/internal/domain"
	"github.com/alunalabs/aluna/internal/enrich"
	"github.com/alunalabs/aluna/internal/llm"
	"github.com/alunalabs/aluna/internal/socratic"
)

const (
	// historyWindow caps how many recent messages reach the prompt. Older
	// context is dropped, not summarized.
	historyWindow = 15
	// maxAttempts bounds generation calls per turn: one try plus two retries.
	maxAttempts = 3

	temperature      = 0.7
	frequencyPenalty = 0.3
	presencePenalty  = 0.3

	// maxTrackedMoods bounds the per-user previous-snapshot map. Past the cap
	// an arbitrary user's entry is evicted; that user's next turn simply lacks
	// the "previous mood" line.
	maxTrackedMoods = 1024
)

// User-facing apology strings, one per error class. Raw error text never
// reaches the conversation log.
const (
	apologyRateLimited = "Lo siento — estoy recibiendo demasiados mensajes en este momento. Esperá un minuto y volvé a intentarlo."
	apologyAuth        = "Lo siento — no pude verificar mis credenciales con el servicio de conversación. Por favor volvé a iniciar sesión."
	apologyGeneric     = "Lo siento — algo salió mal al preparar mi respuesta. Tu mensaje quedó guardado; probá de nuevo en un momento."
)

// Reply is the orchestrator's normalized result.
type Reply struct {
	Text      string
	Sentiment *domain.SentimentSnapshot
}

// Orchestrator assembles bounded prompts and drives the generation service.
type Orchestrator struct {
	gen       llm.Generator
	sentiment enrich.SentimentAnalyzer
	goals     *enrich.CachedGoalTracker
	scheduler *socratic.Scheduler
	cfg       config.GenerationConfig

	rng *rand.Rand

	// prevSnapshots keeps the previous sentiment snapshot per user so the
	// prompt can describe trajectory (current vs. prior).
	prevMu        sync.Mutex
	prevSnapshots map[string]*domain.SentimentSnapshot
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithRand sets the random source used for the stylistic hint draw.
func WithRand(rng *rand.Rand) Option {
	return func(o *Orchestrator) { o.rng = rng }
}

// New creates an orchestrator. sentiment may be nil (signal omitted).
func New(gen llm.Generator, sentiment enrich.SentimentAnalyzer, goals *enrich.CachedGoalTracker, scheduler *socratic.Scheduler, cfg config.GenerationConfig, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		gen:           gen,
		sentiment:     sentiment,
		goals:         goals,
		scheduler:     scheduler,
		cfg:           cfg,
		rng:           rand.New(rand.NewSource(time.Now().UnixNano())),
		prevSnapshots: make(map[string]*domain.SentimentSnapshot),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Respond produces one assistant reply for the newest user message, which must
// be the last entry of history. Enrichment legs are independently best-effort;
// the scheduler's counters advance here whether or not generation succeeds.
// On failure the returned error is one of the domain taxonomy errors; use
// Apology to obtain the user-facing text for it.
func (o *Orchestrator) Respond(ctx context.Context, userID string, history []*domain.Message, profile *socratic.Profile) (*Reply, error) {
	if len(history) > historyWindow {
		history = history[len(history)-historyWindow:]
	}
	latest := ""
	if len(history) > 0 {
		latest = history[len(history)-1].Content
	}

	enr := o.fetchEnrichment(ctx, userID, latest, history, profile)

	messages := []llm.Message{{Role: "system", Content: systemPreamble}}
	for _, m := range history {
		role := "user"
		if m.Role == domain.RoleAssistant {
			role = "assistant"
		}
		if m.Role == domain.RoleSystemError {
			// Error entries are client-facing bookkeeping, not model context.
			continue
		}
		messages = append(messages, llm.Message{Role: role, Content: m.Content})
	}
	if !enr.empty() {
		block := llm.Message{Role: "system", Content: buildContextBlock(enr)}
		// The context block sits just before the newest user message.
		if n := len(messages); n >= 2 {
			last := messages[n-1]
			messages = append(messages[:n-1], block, last)
		} else {
			messages = append(messages, block)
		}
	}

	messages, maxReply := fitBudget(messages, o.cfg.TokenBudget, o.cfg.MaxReplyTokens)

	result, err := o.generateWithRetry(ctx, llm.Request{
		Messages:         messages,
		MaxTokens:        maxReply,
		Temperature:      temperature,
		FrequencyPenalty: frequencyPenalty,
		PresencePenalty:  presencePenalty,
	})
	if err != nil {
		return nil, err
	}

	return &Reply{Text: result.Text, Sentiment: enr.sentiment}, nil
}

// fetchEnrichment runs the three enrichment reads concurrently. Each leg
// swallows its own failure: a missing signal degrades the prompt, not the turn.
func (o *Orchestrator) fetchEnrichment(ctx context.Context, userID, latest string, history []*domain.Message, profile *socratic.Profile) *enrichmentContext {
	enr := &enrichmentContext{hint: stylisticHints[o.rng.Intn(len(stylisticHints))]}

	// Sentiment runs first; its detected topics feed the scheduler's category
	// matching. The remaining two reads are independent and run concurrently.
	if o.sentiment != nil {
		snapshot, err := o.sentiment.Analyze(ctx, history)
		if err != nil {
			slog.Warn("sentiment analysis unavailable for this turn", "user_id", userID, "error", err)
		} else {
			enr.sentiment = snapshot
		}
	}

	var g errgroup.Group

	g.Go(func() error {
		goals, err := o.goals.List(ctx, userID)
		if err != nil {
			slog.Warn("goal listing unavailable for this turn", "user_id", userID, "error", err)
			return nil
		}
		enr.goals = enrich.TopIncomplete(goals, 2)
		return nil
	})

	g.Go(func() error {
		var topics []string
		if enr.sentiment != nil {
			topics = enr.sentiment.Topics
		}
		decision, err := o.scheduler.Next(ctx, userID, latest, topics, profile)
		if err != nil {
			slog.Warn("question scheduling unavailable for this turn", "user_id", userID, "error", err)
			return nil
		}
		if decision.Inject {
			enr.question = decision.Question
		}
		return nil
	})

	_ = g.Wait()

	if enr.sentiment != nil {
		enr.previousSentiment = o.rememberSnapshot(userID, enr.sentiment)
	}

	return enr
}

// rememberSnapshot swaps in the user's latest snapshot and returns the prior
// one, evicting an arbitrary other user's entry when the map is at capacity.
func (o *Orchestrator) rememberSnapshot(userID string, snapshot *domain.SentimentSnapshot) *domain.SentimentSnapshot {
	o.prevMu.Lock()
	defer o.prevMu.Unlock()

	prev, tracked := o.prevSnapshots[userID]
	if !tracked && len(o.prevSnapshots) >= maxTrackedMoods {
		for id := range o.prevSnapshots {
			delete(o.prevSnapshots, id)
			break
		}
	}
	o.prevSnapshots[userID] = snapshot
	return prev
}

// generateWithRetry performs the generation call with up to two extra attempts
// on 5xx/timeout. 429 and 401 are terminal immediately. Retries are immediate,
// matching the turn's synchronous, bounded contract.
func (o *Orchestrator) generateWithRetry(ctx context.Context, req llm.Request) (*llm.Result, error) {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result, err := o.gen.Generate(ctx, req)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !errors.Is(err, domain.ErrUpstreamServer) {
			return nil, err
		}
		slog.Warn("generation attempt failed", "attempt", attempt, "error", err)
	}
	return nil, fmt.Errorf("generation retries exhausted: %w", lastErr)
}

// Apology maps a Respond error onto the fixed user-facing message for its
// class. The result is what gets appended to the log as a system-error entry.
func Apology(err error) string {
	switch {
	case errors.Is(err, domain.ErrRateLimited):
		return apologyRateLimited
	case errors.Is(err, domain.ErrNoAuthToken):
		return apologyAuth
	default:
		return apologyGeneric
	}
}
