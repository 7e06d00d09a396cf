package enrich

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alunalabs/aluna/internal/config"
	"github.com/alunalabs/aluna/internal/domain"
	"github.com/alunalabs/aluna/internal/store"
)

type scriptedTracker struct {
	goals []domain.TherapeuticGoal
	err   error
	calls int
}

func (s *scriptedTracker) List(context.Context, string) ([]domain.TherapeuticGoal, error) {
	s.calls++
	return s.goals, s.err
}

func testRepo(t *testing.T) store.Repository {
	t.Helper()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestTopIncomplete(t *testing.T) {
	t.Parallel()

	base := time.Now()
	goals := []domain.TherapeuticGoal{
		{ID: "done", Completed: true, CreatedAt: base.Add(5 * time.Hour)},
		{ID: "old", CreatedAt: base},
		{ID: "newest", CreatedAt: base.Add(3 * time.Hour)},
		{ID: "mid", CreatedAt: base.Add(time.Hour)},
	}

	top := TopIncomplete(goals, 2)
	require.Len(t, top, 2)
	assert.Equal(t, "newest", top[0].ID)
	assert.Equal(t, "mid", top[1].ID)

	assert.Empty(t, TopIncomplete(nil, 2))
	assert.Len(t, TopIncomplete(goals, 10), 3, "completed goals never qualify")
}

func TestCachedTrackerRefreshesSnapshotOnSuccess(t *testing.T) {
	t.Parallel()

	repo := testRepo(t)
	tracker := &scriptedTracker{goals: []domain.TherapeuticGoal{{ID: "g1", Description: "dormir mejor"}}}
	cached := NewCachedGoalTracker(tracker, repo)

	goals, err := cached.List(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, goals, 1)

	snapshot, err := repo.GetGoalsSnapshot(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, snapshot, 1)
	assert.Equal(t, "g1", snapshot[0].ID)
}

func TestCachedTrackerFallsBackToSnapshot(t *testing.T) {
	t.Parallel()

	repo := testRepo(t)
	require.NoError(t, repo.SaveGoalsSnapshot(context.Background(), "u1",
		[]domain.TherapeuticGoal{{ID: "cached"}}))

	tracker := &scriptedTracker{err: errors.New("tracker down")}
	cached := NewCachedGoalTracker(tracker, repo)

	goals, err := cached.List(context.Background(), "u1")
	require.NoError(t, err, "tracker failure must not surface when a snapshot exists")
	require.Len(t, goals, 1)
	assert.Equal(t, "cached", goals[0].ID)
}

func TestCachedTrackerWithNilTracker(t *testing.T) {
	t.Parallel()

	repo := testRepo(t)
	cached := NewCachedGoalTracker(nil, repo)

	goals, err := cached.List(context.Background(), "u1")
	require.NoError(t, err)
	assert.Nil(t, goals)
}

func TestSentimentClientParsesSnapshot(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"primaryEmotion":"anxious","intensity":6,"distress":4,"topics":["trabajo"]}`))
	}))
	defer srv.Close()

	c := NewSentimentClient(config.EnrichmentConfig{SentimentURL: srv.URL, RequestTimeout: time.Second})
	require.NotNil(t, c)

	snapshot, err := c.Analyze(context.Background(), []*domain.Message{
		{Role: domain.RoleUser, Content: "estoy preocupado por el trabajo"},
	})
	require.NoError(t, err)
	assert.Equal(t, "anxious", snapshot.PrimaryEmotion)
	assert.Equal(t, 6, snapshot.Intensity)
	assert.Equal(t, []string{"trabajo"}, snapshot.Topics)
}

func TestSentimentClientErrorStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewSentimentClient(config.EnrichmentConfig{SentimentURL: srv.URL, RequestTimeout: time.Second})
	_, err := c.Analyze(context.Background(), nil)
	assert.Error(t, err)
}

func TestSentimentClientNilWhenUnconfigured(t *testing.T) {
	t.Parallel()
	assert.Nil(t, NewSentimentClient(config.EnrichmentConfig{}))
}
