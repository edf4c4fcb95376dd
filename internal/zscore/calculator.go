package zscore

import (
	"math"
	"sort"
	"time"

	"github.com/F1J197/flow-oracle-sub007/internal/contracts"
)

// Calculator computes composite Z-scores for one configuration.
// It is pure: identical points, current value, time and volatility state
// always produce an identical result.
type Calculator struct {
	config Config
}

// NewCalculator creates a calculator
func NewCalculator(cfg Config) *Calculator {
	return &Calculator{config: cfg}
}

// Window computes the statistic of one trailing window ending at now.
// ok is false when the window holds fewer than MinSamples finite points.
func (c *Calculator) Window(w contracts.ZScoreWindow, points []contracts.Point, current float64, now time.Time) (contracts.ZScoreCalculation, bool) {
	from := now.Add(-time.Duration(w.Days) * 24 * time.Hour)

	var values []float64
	for _, p := range points {
		if !p.Time.After(from) || p.Time.After(now) || !finite(p.Value) {
			continue
		}
		values = append(values, p.Value)
	}

	calc := contracts.ZScoreCalculation{
		Window:   w,
		RawValue: current,
		Samples:  len(values),
	}
	if len(values) < c.config.MinSamples {
		return calc, false
	}

	mean, std := MeanStdDev(values)
	calc.Mean = mean
	calc.StdDev = std
	// 완전성은 시계열 자체의 관측 주기 기준 (주간 데이터는 7일에 1개)
	expected := float64(time.Duration(w.Days)*24*time.Hour) / float64(SampleInterval(points))
	calc.Confidence = math.Min(1, float64(len(values))/math.Max(1, expected))

	// stddev ≈ 0 이면 z=0, 신뢰도 절반
	if std < c.config.MinStdDev*math.Max(1, math.Abs(mean)) {
		calc.ZScore = 0
		calc.Confidence *= 0.5
	} else {
		calc.ZScore = (current - mean) / std
	}

	calc.Percentile = Percentile(calc.ZScore)
	calc.Extreme = math.Abs(calc.ZScore) > c.config.ExtremeCutoff
	return calc, true
}

// SampleInterval is the median spacing between consecutive points, one day
// when it cannot be measured.
func SampleInterval(points []contracts.Point) time.Duration {
	gaps := make([]float64, 0, len(points))
	for i := 1; i < len(points); i++ {
		if d := points[i].Time.Sub(points[i-1].Time); d > 0 {
			gaps = append(gaps, float64(d))
		}
	}
	if len(gaps) == 0 {
		return 24 * time.Hour
	}
	sort.Float64s(gaps)

	mid := len(gaps) / 2
	if len(gaps)%2 == 0 {
		return time.Duration((gaps[mid-1] + gaps[mid]) / 2)
	}
	return time.Duration(gaps[mid])
}

// Compute builds the composite score of one indicator. ok is false when no
// window has enough history or the current value is not finite.
func (c *Calculator) Compute(indicator string, points []contracts.Point, current float64, now time.Time, vol VolatilityState) (contracts.CompositeZScore, bool) {
	out := contracts.CompositeZScore{Indicator: indicator, Timestamp: now}
	if !finite(current) {
		return out, false
	}

	var totalWeight, availWeight, weighted, completeness float64
	weights := make([]float64, 0, len(c.config.Windows))
	for _, w := range c.config.Windows {
		weight := c.weight(w, vol)
		totalWeight += weight

		calc, ok := c.Window(w, points, current, now)
		if !ok {
			continue
		}
		out.Components = append(out.Components, calc)
		weights = append(weights, weight)
		availWeight += weight
		weighted += weight * calc.ZScore
		completeness += weight * calc.Confidence
	}
	if len(out.Components) == 0 || availWeight == 0 {
		return out, false
	}

	// 사용 가능한 윈도우 가중치를 1로 재정규화
	out.Value = weighted / availWeight

	var dispersion float64
	for i, calc := range out.Components {
		d := calc.ZScore - out.Value
		dispersion += weights[i] * d * d
	}
	dispersion = math.Sqrt(dispersion / availWeight)

	out.Confidence = clamp01((completeness / totalWeight) / (1 + dispersion))
	out.Regime = RegimeFor(out.Value, c.config.Seasons)
	return out, true
}

// weight applies the high-volatility shift toward short windows
func (c *Calculator) weight(w contracts.ZScoreWindow, vol VolatilityState) float64 {
	if vol == VolatilityHigh && w.Days <= c.config.ShortWindowDays {
		return w.Weight * c.config.HighVolBoost
	}
	return w.Weight
}

// RegimeFor returns the season maximising weight·exp(−(c−center)²/2).
// Ties keep the earlier season.
func RegimeFor(c float64, seasons []Season) contracts.Regime {
	if len(seasons) == 0 {
		seasons = DefaultSeasons()
	}
	if !finite(c) {
		c = 0
	}

	best := seasons[0].Regime
	bestScore := math.Inf(-1)
	for _, s := range seasons {
		d := c - s.Center
		score := s.Weight * math.Exp(-d*d/2)
		if score > bestScore {
			best, bestScore = s.Regime, score
		}
	}
	return best
}

// RegimeIndex orders regimes WINTER=0 .. AUTUMN=3 for numeric sub-metrics
func RegimeIndex(r contracts.Regime) float64 {
	switch r {
	case contracts.RegimeWinter:
		return 0
	case contracts.RegimeSpring:
		return 1
	case contracts.RegimeSummer:
		return 2
	case contracts.RegimeAutumn:
		return 3
	}
	return -1
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
