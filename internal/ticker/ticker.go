// Package ticker drives the periodic metrics refresh.
package ticker

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/mudler/xlog"
	"github.com/robfig/cron/v3"

	"agenthub/internal/domain"
	"agenthub/internal/repo"
	"agenthub/internal/ws"
)

// Broadcaster receives the refreshed agent set after each committed
// tick.
type Broadcaster interface {
	Broadcast(frame any)
}

// Ticker perturbs agent performance scores on a fixed interval,
// persists the new values and then publishes them.
type Ticker struct {
	Repo     repo.Repo
	Hub      Broadcaster
	Interval time.Duration
	Now      func() time.Time

	cron *cron.Cron
}

func New(r repo.Repo, hub Broadcaster, interval time.Duration) *Ticker {
	return &Ticker{Repo: r, Hub: hub, Interval: interval, Now: time.Now}
}

// Start schedules the tick. It returns immediately; ticks run on the
// cron goroutine.
func (t *Ticker) Start() error {
	t.cron = cron.New()
	_, err := t.cron.AddFunc("@every "+t.Interval.String(), func() {
		if err := t.Tick(context.Background()); err != nil {
			xlog.Error("metrics tick failed", "error", err.Error())
		}
	})
	if err != nil {
		return err
	}
	t.cron.Start()
	xlog.Info("metrics ticker started", "interval", t.Interval.String())
	return nil
}

// Stop halts scheduling and waits for an in-flight tick to finish.
func (t *Ticker) Stop() {
	if t.cron == nil {
		return
	}
	<-t.cron.Stop().Done()
}

// perturb nudges a score along a per-agent sinusoid. The result always
// lands in [0, 100].
func perturb(now time.Time, seed string, score float64) float64 {
	var phase float64
	for _, b := range []byte(seed) {
		phase += float64(b)
	}
	wave := math.Sin(float64(now.Unix())/60 + phase)
	next := score + wave*2.5
	return math.Max(0, math.Min(100, next))
}

// Tick refreshes active agents' performance and health scores in one
// transaction, records an aggregate sample, and broadcasts only after
// the commit succeeds.
func (t *Ticker) Tick(ctx context.Context) error {
	agents, err := t.Repo.ListAgents(ctx, repo.AgentFilters{Status: domain.AgentActive})
	if err != nil {
		return err
	}
	if len(agents) == 0 {
		return nil
	}
	now := t.Now().UTC()
	stamp := now.Format(time.RFC3339)

	tx, err := t.Repo.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var sum float64
	for i := range agents {
		a := &agents[i]
		a.PerformanceScore = perturb(now, a.ID, a.PerformanceScore)
		a.HealthScore = perturb(now, a.ID+"/health", a.HealthScore)
		a.LastActivityAt = stamp
		a.UpdatedAt = stamp
		sum += a.PerformanceScore
		upd := repo.AgentUpdate{
			PerformanceScore: &a.PerformanceScore,
			HealthScore:      &a.HealthScore,
			LastActivityAt:   &stamp,
		}
		if err := t.Repo.UpdateAgent(ctx, tx, a.ID, upd, stamp); err != nil {
			return err
		}
	}
	sample := domain.AnalyticsSample{
		ID:          uuid.NewString(),
		MetricName:  "fleet_performance_avg",
		MetricValue: sum / float64(len(agents)),
		Category:    "system",
		RecordedAt:  stamp,
	}
	if err := t.Repo.InsertSample(ctx, tx, sample); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	t.Hub.Broadcast(ws.AgentStatusFrame(agents, stamp))
	xlog.Debug("metrics tick", "agents", len(agents), "avg", sample.MetricValue)
	return nil
}
