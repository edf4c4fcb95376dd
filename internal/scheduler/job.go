package scheduler

import (
	"context"
	"errors"
	"time"
)

// ErrSkipped is returned by a job that chose not to run this tick.
// Skipped runs are recorded but never retried.
var ErrSkipped = errors.New("job skipped")

// Job represents a scheduled job
// ⭐ SSOT: 스케줄 작업 인터페이스는 여기서만 정의
type Job interface {
	// Name returns the job name
	Name() string

	// Run executes the job
	Run(ctx context.Context) error

	// Schedule returns the cron schedule expression (seconds field first)
	// Examples: "0 */10 * * * *", "@every 5m"
	Schedule() string
}

// JobResult represents the result of a job execution
type JobResult struct {
	JobName   string        `json:"job_name"`
	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
	Duration  time.Duration `json:"duration"`
	Attempts  int           `json:"attempts"`
	Success   bool          `json:"success"`
	Skipped   bool          `json:"skipped,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// JobHistory stores the most recent executions of one job
type JobHistory struct {
	Results []JobResult
	limit   int
}

func newJobHistory(limit int) *JobHistory {
	if limit <= 0 {
		limit = 100
	}
	return &JobHistory{limit: limit}
}

// AddResult adds a job result to history
func (h *JobHistory) AddResult(result JobResult) {
	h.Results = append(h.Results, result)

	if len(h.Results) > h.limit {
		h.Results = h.Results[len(h.Results)-h.limit:]
	}
}

// GetLatestResults returns a copy of the latest N results
func (h *JobHistory) GetLatestResults(n int) []JobResult {
	if n > len(h.Results) {
		n = len(h.Results)
	}
	if n <= 0 {
		return []JobResult{}
	}

	return append([]JobResult(nil), h.Results[len(h.Results)-n:]...)
}

// GetFailedResults returns all failed results; skipped runs are not failures
func (h *JobHistory) GetFailedResults() []JobResult {
	failed := make([]JobResult, 0)
	for _, result := range h.Results {
		if !result.Success && !result.Skipped {
			failed = append(failed, result)
		}
	}
	return failed
}

// GetSuccessRate returns successes over executed (non-skipped) runs, 0.0 - 1.0
func (h *JobHistory) GetSuccessRate() float64 {
	var executed, succeeded int
	for _, result := range h.Results {
		if result.Skipped {
			continue
		}
		executed++
		if result.Success {
			succeeded++
		}
	}
	if executed == 0 {
		return 0.0
	}
	return float64(succeeded) / float64(executed)
}
