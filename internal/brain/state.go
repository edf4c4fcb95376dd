package brain

import (
	"time"

	"github.com/F1J197/flow-oracle-sub007/internal/contracts"
)

// State is the per-engine, per-cycle execution state
type State string

const (
	StatePending   State = "PENDING"
	StateRunning   State = "RUNNING"
	StateSucceeded State = "SUCCEEDED"
	StateFailed    State = "FAILED"
)

// Status is the read-only aggregate view consumed by the display layer
type Status struct {
	Total       int              `json:"total"`
	Pending     int              `json:"pending"`
	Running     int              `json:"running"`
	Completed   int              `json:"completed"`
	Failed      int              `json:"failed"`
	States      map[string]State `json:"states"`
	LastCycleID string           `json:"last_cycle_id,omitempty"`
	LastCycleAt time.Time        `json:"last_cycle_at,omitempty"`
}

// CycleEvent is emitted once per ExecuteAll
type CycleEvent struct {
	CycleID     string                                `json:"cycle_id"`
	StartedAt   time.Time                             `json:"started_at"`
	CompletedAt time.Time                             `json:"completed_at"`
	Results     map[string]*contracts.ExecutionResult `json:"results"`
	Succeeded   int                                   `json:"succeeded"`
	Failed      int                                   `json:"failed"`
	Canceled    bool                                  `json:"canceled"`
}

// Recorder receives execution telemetry
type Recorder interface {
	ObserveEngine(engineID string, elapsed time.Duration, kind contracts.ErrorKind)
	ObserveCycle(elapsed time.Duration, succeeded, failed int)
}

type nopRecorder struct{}

func (nopRecorder) ObserveEngine(string, time.Duration, contracts.ErrorKind) {}
func (nopRecorder) ObserveCycle(time.Duration, int, int)                     {}
