package risk

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/F1J197/flow-oracle-sub007/internal/contracts"
	"github.com/F1J197/flow-oracle-sub007/internal/engine"
	"github.com/F1J197/flow-oracle-sub007/pkg/logger"
)

// EngineID is the registry id of the tail-risk engine
const EngineID = "tail_risk"

// Sub-metric names
const (
	MetricVaR95     = "var_95"
	MetricVaR99     = "var_99"
	MetricCVaR95    = "cvar_95"
	MetricCVaR99    = "cvar_99"
	MetricMCVaR95   = "mc_var_95"
	MetricMCCVaR95  = "mc_cvar_95"
	MetricParamVaR  = "param_var_95"
	MetricSamples   = "samples"
	MetricWorstCase = "stress_worst"
)

var (
	ErrInsufficientData = errors.New("insufficient data for simulation")
	ErrInvalidConfig    = errors.New("invalid configuration")
)

// IndicatorRisk 지표별 tail-risk
type IndicatorRisk struct {
	Indicator  string    `json:"indicator"`
	Samples    int       `json:"samples"`
	Mean       float64   `json:"mean"`
	StdDev     float64   `json:"std_dev"`
	Historical VaRResult `json:"historical_95"`
	Parametric VaRResult `json:"parametric_95"`
}

// Engine tail-risk 엔진
// ⭐ SSOT: 지표 수익률의 VaR/CVaR, Monte Carlo, 스트레스 손실은 여기서만 계산
// data_integrity의 합의값을 최신 값으로 사용하고 신뢰도로 confidence를 조정
type Engine struct {
	config Config
	logger *logger.Logger
}

var _ engine.Engine = (*Engine)(nil)

// NewEngine 새 tail-risk 엔진 생성
func NewEngine(config Config, log *logger.Logger) *Engine {
	return &Engine{config: config, logger: log}
}

// ValidateData implements engine.Engine
func (e *Engine) ValidateData(snap *contracts.Snapshot) bool {
	if snap == nil {
		return false
	}
	for _, ind := range e.indicators(snap) {
		if s := snap.Primary(ind); s != nil && len(s.Points) > e.config.MinSamples {
			return true
		}
	}
	return false
}

// Calculate implements engine.Engine
func (e *Engine) Calculate(ctx context.Context, in engine.Input) (*contracts.EngineOutput, error) {
	returns := make(map[string][]float64)
	var risks []IndicatorRisk
	for _, ind := range e.indicators(in.Snapshot) {
		r := e.indicatorReturns(in, ind, in.Now)
		if len(r) < e.config.MinSamples {
			continue
		}
		returns[ind] = r

		sd := StdDev(r)
		mean := Mean(r)
		risks = append(risks, IndicatorRisk{
			Indicator:  ind,
			Samples:    len(r),
			Mean:       mean,
			StdDev:     sd,
			Historical: CalculateVaR(r, 0.95),
			Parametric: CalculateParametricVaR(mean, sd, 0.95),
		})
	}

	if len(risks) == 0 {
		return contracts.NeutralOutput(fmt.Sprintf("Insufficient history for tail risk (need %d returns)", e.config.MinSamples), 0), nil
	}

	weights := e.weights(returns)
	portfolio := PortfolioReturns(weights, returns)
	if len(portfolio) < e.config.MinSamples {
		return contracts.NeutralOutput("Insufficient aligned history for portfolio tail risk", 0), nil
	}

	hist95 := CalculateVaR(portfolio, 0.95)
	hist99 := CalculateVaR(portfolio, 0.99)
	param := CalculateParametricVaR(Mean(portfolio), StdDev(portfolio), 0.95)

	sim, err := NewSimulator(e.config.Simulation).Simulate(ctx, portfolio)
	if err != nil {
		return nil, fmt.Errorf("monte carlo: %w", err)
	}

	out := &contracts.EngineOutput{ComputedAt: in.Now}
	out.Primary.Value = 100 * hist95.CVaR
	out.Primary.Change24h, out.Primary.ChangePct = e.change24h(in, weights, hist95.CVaR)
	out.Signal = e.signal(hist95)

	coverage := math.Min(1, float64(len(portfolio))/float64(e.config.Lookback))
	out.Confidence = contracts.ClampConfidence(100 * coverage * in.Trust())

	out.SetSubMetric(MetricVaR95, 100*hist95.VaR)
	out.SetSubMetric(MetricCVaR95, 100*hist95.CVaR)
	out.SetSubMetric(MetricVaR99, 100*hist99.VaR)
	out.SetSubMetric(MetricCVaR99, 100*hist99.CVaR)
	out.SetSubMetric(MetricParamVaR, 100*param.VaR)
	out.SetSubMetric(MetricMCVaR95, 100*sim.VaR95)
	out.SetSubMetric(MetricMCCVaR95, 100*sim.CVaR95)
	out.SetSubMetric(MetricSamples, float64(len(portfolio)))
	for _, r := range risks {
		out.SetSubMetric(MetricVaR95+"."+r.Indicator, 100*r.Historical.VaR)
		out.SetSubMetric(MetricCVaR95+"."+r.Indicator, 100*r.Historical.CVaR)
	}

	stress := StressTest(weights, e.config.Scenarios)
	worst := 0.0
	for name, loss := range stress {
		out.SetSubMetric("stress."+name, 100*loss)
		worst = math.Min(worst, loss)
	}
	out.SetSubMetric(MetricWorstCase, 100*worst)

	out.Analysis = fmt.Sprintf("Portfolio VaR95 %.2f%%, CVaR95 %.2f%%, MC VaR95 (%dp) %.2f%% over %d indicators",
		100*hist95.VaR, 100*hist95.CVaR, e.config.Simulation.HoldingPeriod, 100*sim.VaR95, len(risks))

	e.logger.WithFields(map[string]interface{}{
		"var_95":     hist95.VaR,
		"cvar_95":    hist95.CVaR,
		"mc_var_95":  sim.VaR95,
		"indicators": len(risks),
	}).Debug("tail risk computed")

	return out, nil
}

// indicatorReturns 최근 Lookback 수익률, 마지막 값은 합의값으로 대체
func (e *Engine) indicatorReturns(in engine.Input, ind string, at time.Time) []float64 {
	series := in.Series(ind)
	if series == nil {
		return nil
	}
	points := series.Until(at)
	if len(points) == 0 {
		return nil
	}
	if len(points) > e.config.Lookback+1 {
		points = points[len(points)-e.config.Lookback-1:]
	}

	values := make([]float64, len(points))
	for i, p := range points {
		values[i] = p.Value
	}
	if at.Equal(in.Now) {
		if current, ok := in.CurrentValue(ind); ok {
			values[len(values)-1] = current
		}
	}
	return Returns(values, e.config.ReturnType)
}

// change24h 24시간 전 시점의 CVaR95 대비 변화 (%p, %)
func (e *Engine) change24h(in engine.Input, weights map[string]float64, cvar float64) (float64, float64) {
	dayAgo := in.Now.Add(-24 * time.Hour)

	returns := make(map[string][]float64)
	for ind := range weights {
		r := e.indicatorReturns(in, ind, dayAgo)
		if len(r) < e.config.MinSamples {
			return 0, 0
		}
		returns[ind] = r
	}

	prev := CalculateVaR(PortfolioReturns(weights, returns), 0.95).CVaR
	change := 100 * (cvar - prev)
	if prev == 0 {
		return change, 0
	}
	return change, 100 * (cvar - prev) / prev
}

// signal 한도 대비 위험 판정
func (e *Engine) signal(v VaRResult) contracts.Signal {
	limits := e.config.Limits
	switch {
	case v.VaR > limits.MaxVaR95 || v.CVaR > limits.MaxCVaR95:
		return contracts.SignalRiskOff
	case v.VaR > limits.WarnRatio*limits.MaxVaR95 || v.CVaR > limits.WarnRatio*limits.MaxCVaR95:
		return contracts.SignalWarning
	case v.CVaR < 0.5*limits.MaxCVaR95:
		return contracts.SignalRiskOn
	}
	return contracts.SignalNeutral
}

// weights 설정 비중을 사용 가능한 지표에 대해 합 1로 정규화
func (e *Engine) weights(returns map[string][]float64) map[string]float64 {
	out := make(map[string]float64, len(returns))
	var total float64
	for _, ind := range sortedKeys(returns) {
		w := 1.0
		if cw, ok := e.config.Weights[ind]; ok {
			w = cw
		}
		out[ind] = w
		total += w
	}
	if total == 0 {
		for ind := range out {
			out[ind] = 1 / float64(len(out))
		}
		return out
	}
	for ind := range out {
		out[ind] /= total
	}
	return out
}

func (e *Engine) indicators(snap *contracts.Snapshot) []string {
	if len(e.config.Indicators) > 0 {
		return e.config.Indicators
	}
	if snap == nil {
		return nil
	}
	return snap.Indicators()
}

// =============================================================================
// Utility Functions
// =============================================================================

// PortfolioReturns 지표별 수익률에서 가중 포트폴리오 수익률 계산
// 길이가 다르면 가장 최근 구간 (끝 정렬) 기준으로 맞춤
func PortfolioReturns(weights map[string]float64, returns map[string][]float64) []float64 {
	minLen := -1
	for ind := range weights {
		r := returns[ind]
		if minLen == -1 || len(r) < minLen {
			minLen = len(r)
		}
	}
	if minLen <= 0 {
		return nil
	}

	// map 순회 순서와 무관하게 합산 순서 고정
	ids := sortedKeys(weights)

	out := make([]float64, minLen)
	for i := 0; i < minLen; i++ {
		var v float64
		for _, ind := range ids {
			r := returns[ind]
			v += weights[ind] * r[len(r)-minLen+i]
		}
		out[i] = v
	}
	return out
}

// StressTest 시나리오별 포트폴리오 손익 (음수=손실)
func StressTest(weights map[string]float64, scenarios []Scenario) map[string]float64 {
	results := make(map[string]float64, len(scenarios))

	for _, scenario := range scenarios {
		var pnl float64
		for _, ind := range sortedKeys(weights) {
			weight := weights[ind]
			shock, exists := scenario.Shocks[ind]
			if !exists {
				// 전체 충격 확인
				shock, exists = scenario.Shocks["*"]
				if !exists {
					continue
				}
			}
			pnl += weight * shock
		}
		results[scenario.Name] = pnl
	}

	return results
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
