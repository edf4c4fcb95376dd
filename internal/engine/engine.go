package engine

import (
	"context"
	"time"

	"github.com/F1J197/flow-oracle-sub007/internal/contracts"
)

// Engine is a unit of computation that turns indicator data into a market signal
// ⭐ SSOT: 모든 엔진이 구현하는 계약
//
// Calculate must be deterministic for a fixed Input. Missing or insufficient
// data degrades to contracts.NeutralOutput instead of returning an error.
// ValidateData returning false skips Calculate for the cycle.
type Engine interface {
	ValidateData(snap *contracts.Snapshot) bool
	Calculate(ctx context.Context, in Input) (*contracts.EngineOutput, error)
}

// IntegrityEngineID is the id of the tier-0 data integrity engine
const IntegrityEngineID = "data_integrity"

// ConsensusKey is the sub-metric under which the integrity engine publishes
// the healed consensus value of an indicator
func ConsensusKey(indicator string) string {
	return "consensus." + indicator
}

// Upstream is the output of a declared dependency as seen by a dependent
type Upstream struct {
	Output     *contracts.EngineOutput
	Fresh      bool // 이번 사이클에서 계산됨, false면 last-known-good
	ComputedAt time.Time
}

// Input is everything an engine sees in one run
type Input struct {
	Snapshot *contracts.Snapshot
	Upstream map[string]Upstream
	Now      time.Time
}

// Dependency returns the upstream output for id
func (in Input) Dependency(id string) (Upstream, bool) {
	up, ok := in.Upstream[id]
	if !ok || up.Output == nil {
		return Upstream{}, false
	}
	return up, true
}

// Trust is the integrity score as a weight in [0, 1]. 1 when unavailable.
func (in Input) Trust() float64 {
	up, ok := in.Dependency(IntegrityEngineID)
	if !ok {
		return 1
	}
	trust := up.Output.Primary.Value / 100
	if trust < 0 {
		return 0
	}
	if trust > 1 {
		return 1
	}
	return trust
}

// CurrentValue returns the healed consensus value of an indicator when the
// integrity engine published one for this data, else the last point of the
// primary series. A last-known-good consensus computed before the series'
// latest point is ignored.
func (in Input) CurrentValue(indicator string) (float64, bool) {
	last, hasLast := in.Snapshot.Primary(indicator).Last()

	if up, ok := in.Dependency(IntegrityEngineID); ok {
		if v, ok := up.Output.SubMetric(ConsensusKey(indicator)); ok {
			if up.Fresh || !hasLast || !up.ComputedAt.Before(last.Time) {
				return v, true
			}
		}
	}

	if !hasLast {
		return 0, false
	}
	return last.Value, true
}

// Series returns the primary series of an indicator
func (in Input) Series(indicator string) *contracts.IndicatorSeries {
	return in.Snapshot.Primary(indicator)
}
