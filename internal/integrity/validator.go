package integrity

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/F1J197/flow-oracle-sub007/internal/contracts"
	"github.com/F1J197/flow-oracle-sub007/internal/engine"
	"github.com/F1J197/flow-oracle-sub007/pkg/logger"
)

// Sub-metric names published by the validator
const (
	MetricConsensusLevel      = "consensus_level"
	MetricAnomalies           = "anomalies"
	MetricManipulationSignals = "manipulation_signals"
	MetricHealingActions      = "healing_actions"
	MetricExcludedSources     = "excluded_sources"
	MetricLiveCoverage        = "live_coverage"
)

// TrustKey is the sub-metric holding a source's trust score
func TrustKey(sourceID string) string {
	return "trust." + sourceID
}

// sourceState is carried across cycles for one source
type sourceState struct {
	consecutive         int // 연속 이상치 사이클 수
	anomalyCount        int
	manipulationSignals int
	excludedUntil       time.Time
}

type knownGood struct {
	value float64
	at    time.Time
}

type scorePoint struct {
	at    time.Time
	score float64
}

// Validator is the dependency-free tier-0 data integrity engine.
// It scores sources, heals the consensus and publishes it as sub-metrics
// (engine.ConsensusKey) which downstream engines consume through engine.Input.
// ⭐ SSOT: 소스 신뢰도 평가와 self-healing은 여기서만
type Validator struct {
	config Config
	logger *logger.Logger

	mu       sync.Mutex
	sources  map[string]*sourceState
	lastGood map[string]knownGood
	scores   []scorePoint
	records  []contracts.ValidationRecord
	history  *ActionLog
}

var _ engine.Engine = (*Validator)(nil)

// NewValidator creates a validator
func NewValidator(config Config, log *logger.Logger) *Validator {
	return &Validator{
		config:   config,
		logger:   log,
		sources:  make(map[string]*sourceState),
		lastGood: make(map[string]knownGood),
		history:  NewActionLog(config.HistorySize),
	}
}

// ValidateData implements engine.Engine
func (v *Validator) ValidateData(snap *contracts.Snapshot) bool {
	return snap != nil && len(snap.Series) > 0
}

// indicatorResult is the per-indicator outcome of one cycle
type indicatorResult struct {
	indicator string
	consensus float64
	published bool
	live      bool
	score     float64
	agreement float64
}

// Calculate implements engine.Engine
func (v *Validator) Calculate(ctx context.Context, in engine.Input) (*contracts.EngineOutput, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	now := in.Now
	indicators := v.config.Indicators
	if len(indicators) == 0 {
		indicators = in.Snapshot.Indicators()
	}
	if len(indicators) == 0 {
		return contracts.NeutralOutput("no monitored indicators in snapshot", 0), nil
	}

	out := &contracts.EngineOutput{ComputedAt: now}
	v.records = v.records[:0]

	var actions []contracts.HealingAction
	var results []indicatorResult
	for _, ind := range indicators {
		res, acts := v.evaluate(ind, in.Snapshot, now)
		results = append(results, res)
		actions = append(actions, acts...)
		if res.published {
			out.SetSubMetric(engine.ConsensusKey(ind), res.consensus)
		}
	}

	for _, a := range actions {
		v.history.Append(a)
		v.logger.WithFields(map[string]interface{}{
			"kind":      a.Kind,
			"source":    a.Source,
			"indicator": a.Indicator,
			"severity":  a.Severity,
		}).Info(a.Detail)
	}

	// 중요도 가중 무결성 점수
	var weighted, totalWeight, agreement, live float64
	for _, r := range results {
		w := v.config.weight(r.indicator)
		weighted += w * r.score
		totalWeight += w
		agreement += r.agreement
		if r.live {
			live++
		}
	}
	score := 0.0
	if totalWeight > 0 {
		score = weighted / totalWeight
	}
	n := float64(len(results))

	var anomalies, manipulations, excluded int
	for _, rec := range v.records {
		if rec.Anomalous {
			anomalies++
		}
		if rec.Excluded {
			excluded++
		}
		manipulations += rec.ManipulationSignals
		out.SetSubMetric(TrustKey(rec.SourceID), rec.TrustScore)
	}

	out.Primary = contracts.Metric{Value: score}
	out.Primary.Change24h, out.Primary.ChangePct = v.trackScore(now, score)
	out.Signal = v.signal(score)
	out.Confidence = contracts.ClampConfidence(100 * live / n)
	out.SetSubMetric(MetricConsensusLevel, 100*agreement/n)
	out.SetSubMetric(MetricAnomalies, float64(anomalies))
	out.SetSubMetric(MetricManipulationSignals, float64(manipulations))
	out.SetSubMetric(MetricHealingActions, float64(len(actions)))
	out.SetSubMetric(MetricExcludedSources, float64(excluded))
	out.SetSubMetric(MetricLiveCoverage, 100*live/n)
	out.Analysis = fmt.Sprintf("Integrity %.1f/100 across %d indicators, %d anomalous sources, %d healing actions",
		score, len(results), anomalies, len(actions))

	return out, nil
}

// evaluate scores the sources of one indicator and applies the remediation ladder
func (v *Validator) evaluate(ind string, snap *contracts.Snapshot, now time.Time) (indicatorResult, []contracts.HealingAction) {
	res := indicatorResult{indicator: ind}
	var actions []contracts.HealingAction
	act := func(kind contracts.HealingKind, source string, sev contracts.Severity, format string, args ...interface{}) {
		actions = append(actions, contracts.HealingAction{
			Kind:      kind,
			Source:    source,
			Indicator: ind,
			Severity:  sev,
			Detail:    fmt.Sprintf(format, args...),
			Timestamp: now,
		})
	}

	sources := snap.Sources(ind)

	// 1. circuit breaker 적용 소스 제외, 보고 중인 소스 분리
	var active, reporting []*contracts.IndicatorSeries
	for _, s := range sources {
		st := v.state(s.ID)
		if now.Before(st.excludedUntil) {
			v.records = append(v.records, contracts.ValidationRecord{
				SourceID:            s.ID,
				Indicator:           ind,
				AnomalyCount:        st.anomalyCount,
				ManipulationSignals: st.manipulationSignals,
				Excluded:            true,
			})
			continue
		}
		active = append(active, s)
		if v.isReporting(s, now) {
			reporting = append(reporting, s)
		}
	}

	// 2. 보고 소스가 없으면 last-known-good 보간
	if len(reporting) == 0 {
		for _, s := range active {
			v.records = append(v.records, v.record(s, ind, now, 0, false))
		}
		lg, ok := v.lastGood[ind]
		if !ok {
			return res, actions
		}
		decay := v.decay(now.Sub(lg.at))
		res.consensus = lg.value
		res.published = true
		res.score = 50 * decay
		act(contracts.HealingInterpolation, "", contracts.SeverityHigh,
			"No live source for %s, interpolating last-known-good %.4f (decay %.2f)", ind, lg.value, decay)
		return res, actions
	}

	// 3. 우선 소스가 보고하지 않으면 다음 우선순위로 fallback
	if len(active) > 0 && active[0] != reporting[0] {
		act(contracts.HealingFallback, active[0].ID, contracts.SeverityMedium,
			"Primary source %s unavailable for %s, falling back to %s", active[0].ID, ind, reporting[0].ID)
	}

	// 4. 합의값과 이상치
	readings := make([]Reading, len(reporting))
	var vols []float64
	for i, s := range reporting {
		last, _ := s.Last()
		readings[i] = Reading{SourceID: s.ID, Value: last.Value}
		vols = append(vols, ChangeVolatility(s.Values(), v.config.VolatilityLookback))
	}
	cons := Consensus(readings, Median(vols), v.config.MinRelativeScale, v.config.VolatilityMultiple)

	reportingSet := make(map[string]bool, len(reporting))
	for _, s := range reporting {
		reportingSet[s.ID] = true
	}

	// 소스 신뢰도는 series.Weight 로 가중
	var trustSum, weightSum float64
	for _, s := range active {
		if !reportingSet[s.ID] {
			rec := v.record(s, ind, now, 0, false)
			v.records = append(v.records, rec)
			trustSum += sourceWeight(s) * rec.TrustScore
			weightSum += sourceWeight(s)
			continue
		}

		dev := cons.Deviation[s.ID]
		anomalous := cons.Anomalous[s.ID]
		st := v.state(s.ID)

		if anomalous {
			st.consecutive++
			st.anomalyCount++

			sev := contracts.SeverityMedium
			if st.consecutive >= v.config.ManipulationAfter {
				st.manipulationSignals++
				sev = contracts.SeverityHigh
			}
			act(contracts.HealingConsensusOverride, s.ID, sev,
				"Source %s deviates %.1f scale units on %s, overriding with consensus %.4f", s.ID, dev, ind, cons.Value)

			if st.consecutive >= v.config.CircuitBreakAfter {
				st.excludedUntil = now.Add(v.config.CircuitCooldown)
				st.consecutive = 0
				act(contracts.HealingCircuitBreaker, s.ID, contracts.SeverityCritical,
					"Source %s anomalous for %d cycles on %s, excluded until %s",
					s.ID, v.config.CircuitBreakAfter, ind, st.excludedUntil.Format(time.RFC3339))
			}
		} else {
			st.consecutive = 0
		}

		rec := v.record(s, ind, now, dev, true)
		rec.Anomalous = anomalous
		v.records = append(v.records, rec)
		trustSum += sourceWeight(s) * rec.TrustScore
		weightSum += sourceWeight(s)
	}

	v.lastGood[ind] = knownGood{value: cons.Value, at: now}

	res.consensus = cons.Value
	res.published = true
	res.live = true
	res.agreement = cons.Agreement
	res.score = trustSum / weightSum
	return res, actions
}

// sourceWeight is the series weight, 1 when unset
func sourceWeight(s *contracts.IndicatorSeries) float64 {
	if s.Weight > 0 {
		return s.Weight
	}
	return 1
}

// record builds the validation record of a source.
// trust = 30% completeness + 30% freshness + 40% deviation score.
func (v *Validator) record(s *contracts.IndicatorSeries, ind string, now time.Time, dev float64, reporting bool) contracts.ValidationRecord {
	st := v.state(s.ID)

	completeness := 1.0
	if v.config.ExpectedPoints > 0 {
		completeness = math.Min(1, float64(len(s.Points))/float64(v.config.ExpectedPoints))
	}
	freshness := v.freshness(s, now)

	devScore := 0.0
	if reporting {
		ratio := dev / v.config.VolatilityMultiple
		devScore = 1 / (1 + ratio*ratio)
	}

	return contracts.ValidationRecord{
		SourceID:            s.ID,
		Indicator:           ind,
		TrustScore:          100 * (0.3*completeness + 0.3*freshness + 0.4*devScore),
		Completeness:        completeness,
		Freshness:           freshness,
		Deviation:           dev,
		AnomalyCount:        st.anomalyCount,
		ManipulationSignals: st.manipulationSignals,
	}
}

func (v *Validator) isReporting(s *contracts.IndicatorSeries, now time.Time) bool {
	last, ok := s.Last()
	if !ok || math.IsNaN(last.Value) || math.IsInf(last.Value, 0) {
		return false
	}
	return now.Sub(s.UpdatedAt) <= v.config.StaleAfter
}

// freshness is 1 within FreshnessWindow and decays linearly to 0 at StaleAfter
func (v *Validator) freshness(s *contracts.IndicatorSeries, now time.Time) float64 {
	if s.UpdatedAt.IsZero() {
		return 0
	}
	age := now.Sub(s.UpdatedAt)
	if age <= v.config.FreshnessWindow {
		return 1
	}
	span := v.config.StaleAfter - v.config.FreshnessWindow
	if span <= 0 {
		return 0
	}
	return math.Max(0, 1-float64(age-v.config.FreshnessWindow)/float64(span))
}

// decay is 0.5^(age/halfLife)
func (v *Validator) decay(age time.Duration) float64 {
	if v.config.InterpolationHalfLife <= 0 {
		return 0
	}
	return math.Pow(0.5, float64(age)/float64(v.config.InterpolationHalfLife))
}

func (v *Validator) signal(score float64) contracts.Signal {
	switch {
	case score >= v.config.Thresholds.RiskOn:
		return contracts.SignalRiskOn
	case score >= v.config.Thresholds.Neutral:
		return contracts.SignalNeutral
	case score >= v.config.Thresholds.Warning:
		return contracts.SignalWarning
	default:
		return contracts.SignalRiskOff
	}
}

// trackScore keeps ~25h of scores and returns the change against the score 24h ago
func (v *Validator) trackScore(now time.Time, score float64) (float64, float64) {
	cutoff := now.Add(-25 * time.Hour)
	kept := v.scores[:0]
	for _, p := range v.scores {
		if p.at.After(cutoff) {
			kept = append(kept, p)
		}
	}
	v.scores = kept

	ref, ok := 0.0, false
	dayAgo := now.Add(-24 * time.Hour)
	for _, p := range v.scores {
		if !p.at.After(dayAgo) {
			ref, ok = p.score, true
		}
	}
	if !ok && len(v.scores) > 0 {
		ref, ok = v.scores[0].score, true
	}
	v.scores = append(v.scores, scorePoint{at: now, score: score})

	if !ok {
		return 0, 0
	}
	change := score - ref
	if ref == 0 {
		return change, 0
	}
	return change, 100 * change / ref
}

func (v *Validator) state(sourceID string) *sourceState {
	st, ok := v.sources[sourceID]
	if !ok {
		st = &sourceState{}
		v.sources[sourceID] = st
	}
	return st
}

// History returns up to n healing actions, newest first
func (v *Validator) History(n int) []contracts.HealingAction {
	return v.history.Recent(n)
}

// Records returns the validation records of the last cycle, sorted by source
func (v *Validator) Records() []contracts.ValidationRecord {
	v.mu.Lock()
	defer v.mu.Unlock()

	out := append([]contracts.ValidationRecord(nil), v.records...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Indicator != out[j].Indicator {
			return out[i].Indicator < out[j].Indicator
		}
		return out[i].SourceID < out[j].SourceID
	})
	return out
}

// ExcludedSources returns the sources currently circuit-broken at now
func (v *Validator) ExcludedSources(now time.Time) []string {
	v.mu.Lock()
	defer v.mu.Unlock()

	var out []string
	for id, st := range v.sources {
		if now.Before(st.excludedUntil) {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// String summarizes the validator configuration for logs
func (v *Validator) String() string {
	return fmt.Sprintf("integrity(k=%.1f, manipulation_after=%d, circuit_break_after=%d, indicators=%s)",
		v.config.VolatilityMultiple, v.config.ManipulationAfter, v.config.CircuitBreakAfter,
		strings.Join(v.config.Indicators, ","))
}
