package jobs

import (
	"context"
	"errors"
	"fmt"

	"github.com/F1J197/flow-oracle-sub007/internal/brain"
	"github.com/F1J197/flow-oracle-sub007/internal/contracts"
	"github.com/F1J197/flow-oracle-sub007/internal/scheduler"
	"github.com/F1J197/flow-oracle-sub007/pkg/logger"
)

// RefreshJobName is the scheduler name of the refresh job
const RefreshJobName = "engine_refresh"

// CycleRunner executes one full engine cycle
type CycleRunner interface {
	Busy() bool
	ExecuteAll(ctx context.Context, snap *contracts.Snapshot) (map[string]*contracts.ExecutionResult, error)
}

// RefreshJob reads a snapshot and runs every registered engine
type RefreshJob struct {
	provider contracts.SnapshotProvider
	runner   CycleRunner
	schedule string
	logger   *logger.Logger
}

// NewRefreshJob creates a new refresh job
func NewRefreshJob(provider contracts.SnapshotProvider, runner CycleRunner, schedule string, log *logger.Logger) *RefreshJob {
	return &RefreshJob{
		provider: provider,
		runner:   runner,
		schedule: schedule,
		logger:   log,
	}
}

// Name returns the job name
func (j *RefreshJob) Name() string {
	return RefreshJobName
}

// Schedule returns the cron schedule
func (j *RefreshJob) Schedule() string {
	return j.schedule
}

// Run executes one cycle. A tick that arrives while the previous cycle is
// still running is skipped rather than queued.
func (j *RefreshJob) Run(ctx context.Context) error {
	if j.runner.Busy() {
		return fmt.Errorf("%w: previous cycle still running", scheduler.ErrSkipped)
	}

	snap, err := j.provider.GetSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("get snapshot: %w", err)
	}

	results, err := j.runner.ExecuteAll(ctx, snap)
	if errors.Is(err, brain.ErrCycleRunning) {
		return fmt.Errorf("%w: %v", scheduler.ErrSkipped, err)
	}
	if err != nil {
		return fmt.Errorf("execute cycle: %w", err)
	}

	var failed int
	for _, res := range results {
		if !res.Success {
			failed++
		}
	}

	// 개별 엔진 실패는 사이클 실패가 아님
	j.logger.WithFields(map[string]interface{}{
		"engines": len(results),
		"failed":  failed,
		"series":  len(snap.Series),
	}).Info("Scheduled refresh completed")

	return nil
}
