package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/F1J197/flow-oracle-sub007/internal/cache"
	"github.com/F1J197/flow-oracle-sub007/pkg/logger"
)

// CacheSweepJob removes expired entries from the result cache
type CacheSweepJob struct {
	cache    *cache.Cache
	schedule string
	logger   *logger.Logger
}

// NewCacheSweepJob creates a new cache sweep job
func NewCacheSweepJob(resultCache *cache.Cache, schedule string, log *logger.Logger) *CacheSweepJob {
	return &CacheSweepJob{
		cache:    resultCache,
		schedule: schedule,
		logger:   log,
	}
}

// Name returns the job name
func (j *CacheSweepJob) Name() string {
	return "cache_sweep"
}

// Schedule returns the cron schedule
func (j *CacheSweepJob) Schedule() string {
	return j.schedule
}

// Run executes the cache sweep
func (j *CacheSweepJob) Run(ctx context.Context) error {
	removed := j.cache.Sweep()

	if removed > 0 {
		stats := j.cache.Stats()
		j.logger.WithFields(map[string]interface{}{
			"removed":  removed,
			"entries":  stats.Entries,
			"hit_rate": stats.HitRate(),
		}).Info("Cache sweep completed")
	}

	return nil
}

// OutputPruner deletes persisted outputs older than a cutoff
type OutputPruner interface {
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}

// OutputPruneJob enforces the retention of persisted engine outputs
type OutputPruneJob struct {
	repo      OutputPruner
	retention time.Duration
	now       func() time.Time
	logger    *logger.Logger
}

// NewOutputPruneJob creates a new prune job
func NewOutputPruneJob(repo OutputPruner, retention time.Duration, log *logger.Logger) *OutputPruneJob {
	return &OutputPruneJob{
		repo:      repo,
		retention: retention,
		now:       time.Now,
		logger:    log,
	}
}

// Name returns the job name
func (j *OutputPruneJob) Name() string {
	return "output_prune"
}

// Schedule returns the cron schedule (daily at 03:15)
func (j *OutputPruneJob) Schedule() string {
	return "0 15 3 * * *"
}

// Run deletes outputs older than the retention window
func (j *OutputPruneJob) Run(ctx context.Context) error {
	cutoff := j.now().Add(-j.retention)

	n, err := j.repo.Prune(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("prune outputs: %w", err)
	}

	j.logger.WithFields(map[string]interface{}{
		"deleted": n,
		"cutoff":  cutoff.Format(time.RFC3339),
	}).Info("Output prune completed")

	return nil
}
