package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/F1J197/flow-oracle-sub007/internal/brain"
	"github.com/F1J197/flow-oracle-sub007/internal/cache"
	"github.com/F1J197/flow-oracle-sub007/internal/contracts"
	"github.com/F1J197/flow-oracle-sub007/internal/scheduler"
	"github.com/F1J197/flow-oracle-sub007/pkg/logger"
)

type stubProvider struct {
	snap *contracts.Snapshot
	err  error
}

func (p *stubProvider) GetSnapshot(ctx context.Context) (*contracts.Snapshot, error) {
	return p.snap, p.err
}

type stubRunner struct {
	busy    bool
	calls   int
	results map[string]*contracts.ExecutionResult
	err     error
}

func (r *stubRunner) Busy() bool { return r.busy }

func (r *stubRunner) ExecuteAll(ctx context.Context, snap *contracts.Snapshot) (map[string]*contracts.ExecutionResult, error) {
	r.calls++
	return r.results, r.err
}

func testSnapshot() *contracts.Snapshot {
	return contracts.NewSnapshot(time.Now(), &contracts.IndicatorSeries{
		ID:     "btc",
		Points: []contracts.Point{{Time: time.Now(), Value: 1}},
	})
}

func TestRefreshJob_Run(t *testing.T) {
	runner := &stubRunner{results: map[string]*contracts.ExecutionResult{
		"a": {EngineID: "a", Success: true},
		"b": {EngineID: "b", Success: false},
	}}
	job := NewRefreshJob(&stubProvider{snap: testSnapshot()}, runner, "@every 5m", logger.NewNop())

	assert.Equal(t, "engine_refresh", job.Name())
	assert.Equal(t, "@every 5m", job.Schedule())

	// 엔진 하나가 실패해도 잡은 성공
	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, 1, runner.calls)
}

func TestRefreshJob_SkipsWhileBusy(t *testing.T) {
	runner := &stubRunner{busy: true}
	job := NewRefreshJob(&stubProvider{snap: testSnapshot()}, runner, "@every 5m", logger.NewNop())

	err := job.Run(context.Background())
	assert.ErrorIs(t, err, scheduler.ErrSkipped)
	assert.Equal(t, 0, runner.calls)
}

// Busy()가 false여도 실행 직전에 다른 사이클이 시작되면 스킵
func TestRefreshJob_SkipsWhenCycleStartedMeanwhile(t *testing.T) {
	runner := &stubRunner{err: brain.ErrCycleRunning}
	job := NewRefreshJob(&stubProvider{snap: testSnapshot()}, runner, "@every 5m", logger.NewNop())

	err := job.Run(context.Background())
	assert.ErrorIs(t, err, scheduler.ErrSkipped)
	assert.Equal(t, 1, runner.calls)
}

func TestRefreshJob_Errors(t *testing.T) {
	runner := &stubRunner{}
	job := NewRefreshJob(&stubProvider{err: errors.New("upstream down")}, runner, "@every 5m", logger.NewNop())

	err := job.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upstream down")
	assert.Equal(t, 0, runner.calls)

	runner = &stubRunner{err: context.Canceled}
	job = NewRefreshJob(&stubProvider{snap: testSnapshot()}, runner, "@every 5m", logger.NewNop())
	assert.ErrorIs(t, job.Run(context.Background()), context.Canceled)
}

func TestRefreshJob_InScheduler(t *testing.T) {
	runner := &stubRunner{busy: true}
	job := NewRefreshJob(&stubProvider{snap: testSnapshot()}, runner, "@every 5m", logger.NewNop())

	s := scheduler.New(logger.NewNop(), scheduler.Options{MaxRetries: 2, RetryDelay: time.Millisecond})
	require.NoError(t, s.AddJob(job))

	res, err := s.RunJob(job.Name())
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Equal(t, 1, res.Attempts)
}

func TestCacheSweepJob(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	c := cache.New(time.Minute, logger.NewNop(), cache.WithClock(func() time.Time { return now }))
	c.Set("old", 1, time.Minute)
	c.Set("fresh", 2, time.Hour)

	now = now.Add(10 * time.Minute)

	job := NewCacheSweepJob(c, "0 */10 * * * *", logger.NewNop())
	assert.Equal(t, "cache_sweep", job.Name())
	require.NoError(t, job.Run(context.Background()))

	_, ok := c.Get("old")
	assert.False(t, ok)
	_, ok = c.Get("fresh")
	assert.True(t, ok)
}

type stubPruner struct {
	cutoff time.Time
	n      int64
	err    error
}

func (p *stubPruner) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	p.cutoff = cutoff
	return p.n, p.err
}

func TestOutputPruneJob(t *testing.T) {
	now := time.Date(2026, 3, 1, 3, 15, 0, 0, time.UTC)
	pruner := &stubPruner{n: 12}

	job := NewOutputPruneJob(pruner, 30*24*time.Hour, logger.NewNop())
	job.now = func() time.Time { return now }

	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, now.AddDate(0, 0, -30), pruner.cutoff)

	pruner.err = errors.New("locked")
	assert.Error(t, job.Run(context.Background()))
}
