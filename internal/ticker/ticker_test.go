package ticker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agenthub/internal/db"
	"agenthub/internal/domain"
	"agenthub/internal/migrate"
	"agenthub/internal/repo"
)

type captureHub struct {
	frames []any
}

func (h *captureHub) Broadcast(frame any) {
	h.frames = append(h.frames, frame)
}

func newTestTicker(t *testing.T) (*Ticker, *captureHub, repo.Repo) {
	t.Helper()
	conn, err := db.Open(db.Config{URL: t.TempDir() + "/test.db"})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	r := repo.Repo{DB: conn}
	hub := &captureHub{}
	return New(r, hub, time.Second), hub, r
}

func seedAgent(t *testing.T, r repo.Repo, id string, score float64) {
	t.Helper()
	now := time.Now().UTC().Format(time.RFC3339)
	a := domain.Agent{
		ID: id, Name: "agent-" + id, AgentType: "worker", Status: domain.AgentActive,
		Version: "1.0.0", Capabilities: []string{}, PerformanceScore: score,
		HealthScore: score, SuccessRate: 1, LastActivityAt: now,
		CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, r.InsertAgent(context.Background(), a))
}

func TestPerturbStaysInBounds(t *testing.T) {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for _, start := range []float64{0, 0.5, 50, 99.5, 100} {
		score := start
		for i := 0; i < 1000; i++ {
			score = perturb(base.Add(time.Duration(i)*time.Second), "agent-x", score)
			assert.GreaterOrEqual(t, score, 0.0, "start %v iteration %d", start, i)
			assert.LessOrEqual(t, score, 100.0, "start %v iteration %d", start, i)
		}
	}
}

func TestPerturbDeterministic(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	a := perturb(now, "seed", 50)
	b := perturb(now, "seed", 50)
	assert.Equal(t, a, b)
	assert.NotEqual(t, perturb(now, "seed", 50), perturb(now, "other-seed-entirely", 50))
}

func TestTickEmptyStoreIsNoop(t *testing.T) {
	tick, hub, _ := newTestTicker(t)
	require.NoError(t, tick.Tick(context.Background()))
	assert.Empty(t, hub.frames)
}

func TestTickCommitsThenPublishes(t *testing.T) {
	tick, hub, r := newTestTicker(t)
	ctx := context.Background()
	tickTime := time.Date(2027, 1, 2, 3, 4, 5, 0, time.UTC)
	tick.Now = func() time.Time { return tickTime }
	seedAgent(t, r, "a1", 50)
	seedAgent(t, r, "a2", 80)

	require.NoError(t, tick.Tick(ctx))

	// The broadcast frame carries exactly the committed scores.
	require.Len(t, hub.frames, 1)
	frame, ok := hub.frames[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "agent_status_update", frame["type"])
	published := frame["agents"].([]domain.Agent)
	require.Len(t, published, 2)

	for _, p := range published {
		stored, err := r.GetAgent(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, stored.PerformanceScore, p.PerformanceScore)
		assert.Equal(t, stored.HealthScore, p.HealthScore)
		assert.GreaterOrEqual(t, stored.PerformanceScore, 0.0)
		assert.LessOrEqual(t, stored.PerformanceScore, 100.0)
		// Each tick counts as agent activity.
		assert.Equal(t, tickTime.Format(time.RFC3339), stored.LastActivityAt)
		assert.Equal(t, tickTime.Format(time.RFC3339), stored.UpdatedAt)
	}

	// Each tick appends one aggregate analytics sample.
	samples, err := r.ListSamples(ctx, repo.SampleFilters{MetricName: "fleet_performance_avg"})
	require.NoError(t, err)
	require.Len(t, samples, 1)

	require.NoError(t, tick.Tick(ctx))
	samples, err = r.ListSamples(ctx, repo.SampleFilters{MetricName: "fleet_performance_avg"})
	require.NoError(t, err)
	assert.Len(t, samples, 2)
}

func TestStartStop(t *testing.T) {
	tick, _, r := newTestTicker(t)
	seedAgent(t, r, "a1", 50)
	tick.Interval = 10 * time.Millisecond

	require.NoError(t, tick.Start())
	time.Sleep(50 * time.Millisecond)
	tick.Stop()

	samples, err := r.ListSamples(context.Background(), repo.SampleFilters{MetricName: "fleet_performance_avg"})
	require.NoError(t, err)
	assert.NotEmpty(t, samples)
}
