package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"

	"github.com/alunalabs/aluna/internal/config"
	"github.com/alunalabs/aluna/internal/domain"
	"github.com/alunalabs/aluna/internal/store"
)

// GoalTracker lists the therapeutic goals tracked for a user.
type GoalTracker interface {
	List(ctx context.Context, userID string) ([]domain.TherapeuticGoal, error)
}

// HTTPGoalTracker calls the external goal-tracker CRUD service.
type HTTPGoalTracker struct {
	httpClient *http.Client
	baseURL    string
}

// NewGoalTracker creates a goal tracker client, or nil when unconfigured.
func NewGoalTracker(cfg config.EnrichmentConfig) *HTTPGoalTracker {
	if cfg.GoalTrackerURL == "" {
		return nil
	}
	return &HTTPGoalTracker{
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		baseURL:    cfg.GoalTrackerURL,
	}
}

// List fetches all goals for a user.
func (c *HTTPGoalTracker) List(ctx context.Context, userID string) ([]domain.TherapeuticGoal, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/goals?userId="+userID, nil)
	if err != nil {
		return nil, fmt.Errorf("build goals request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("goals request failed: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			slog.Debug("failed to close goals response body", "error", closeErr)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("goal tracker returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read goals response: %w", err)
	}

	var goals []domain.TherapeuticGoal
	if err := json.Unmarshal(data, &goals); err != nil {
		return nil, fmt.Errorf("decode goals response: %w", err)
	}
	return goals, nil
}

// CachedGoalTracker wraps a tracker with a store-backed snapshot: successful
// listings refresh the cache, failures fall back to the last good snapshot.
type CachedGoalTracker struct {
	tracker GoalTracker
	repo    store.Repository
}

// NewCachedGoalTracker wraps tracker with snapshot caching. A nil tracker is
// allowed; List then serves only the cached snapshot.
func NewCachedGoalTracker(tracker GoalTracker, repo store.Repository) *CachedGoalTracker {
	return &CachedGoalTracker{tracker: tracker, repo: repo}
}

// List returns the freshest goal listing available.
func (c *CachedGoalTracker) List(ctx context.Context, userID string) ([]domain.TherapeuticGoal, error) {
	if c.tracker != nil {
		goals, err := c.tracker.List(ctx, userID)
		if err == nil {
			if saveErr := c.repo.SaveGoalsSnapshot(ctx, userID, goals); saveErr != nil {
				slog.Warn("failed to cache goals snapshot", "user_id", userID, "error", saveErr)
			}
			return goals, nil
		}
		slog.Warn("goal tracker unavailable, using cached snapshot", "user_id", userID, "error", err)
	}
	return c.repo.GetGoalsSnapshot(ctx, userID)
}

// TopIncomplete returns up to n incomplete goals, most recently created first.
// The ordering is deterministic so prompts are reproducible.
func TopIncomplete(goals []domain.TherapeuticGoal, n int) []domain.TherapeuticGoal {
	var open []domain.TherapeuticGoal
	for _, g := range goals {
		if !g.Completed {
			open = append(open, g)
		}
	}
	sort.SliceStable(open, func(i, j int) bool {
		return open[i].CreatedAt.After(open[j].CreatedAt)
	})
	if len(open) > n {
		open = open[:n]
	}
	return open
}
