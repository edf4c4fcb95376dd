package zscore

import (
	"math"
	"sort"
	"time"

	"github.com/F1J197/flow-oracle-sub007/internal/contracts"
)

// MeanStdDev returns the mean and sample standard deviation
func MeanStdDev(values []float64) (float64, float64) {
	n := len(values)
	if n == 0 {
		return 0, 0
	}

	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(n)
	if n < 2 {
		return mean, 0
	}

	var ss float64
	for _, v := range values {
		ss += (v - mean) * (v - mean)
	}
	return mean, math.Sqrt(ss / float64(n-1))
}

// Percentile converts a z-score to a normal CDF value in [0, 1]
func Percentile(z float64) float64 {
	return 0.5 * math.Erfc(-z/math.Sqrt2)
}

// Moments returns skewness and excess kurtosis from population moments.
// Zero variance yields (0, 0).
func Moments(values []float64) (float64, float64) {
	n := float64(len(values))
	if n < 2 {
		return 0, 0
	}

	var mean float64
	for _, v := range values {
		mean += v
	}
	mean /= n

	var m2, m3, m4 float64
	for _, v := range values {
		d := v - mean
		d2 := d * d
		m2 += d2
		m3 += d2 * d
		m4 += d2 * d2
	}
	m2 /= n
	m3 /= n
	m4 /= n
	if m2 == 0 {
		return 0, 0
	}

	return m3 / math.Pow(m2, 1.5), m4/(m2*m2) - 3
}

// Bin is one histogram bucket [Lower, Upper)
type Bin struct {
	Lower   float64 `json:"lower"`
	Upper   float64 `json:"upper"`
	Count   int     `json:"count"`
	Current bool    `json:"current"` // 현재값이 속한 구간
}

// Histogram buckets values into bins spanning the values and centred on current
func Histogram(values []float64, current float64, bins int) []Bin {
	if len(values) == 0 || bins <= 0 {
		return nil
	}

	span := 0.0
	for _, v := range values {
		span = math.Max(span, math.Abs(v-current))
	}
	if span == 0 {
		return []Bin{{Lower: current, Upper: current, Count: len(values), Current: true}}
	}

	lower := current - span
	width := 2 * span / float64(bins)
	out := make([]Bin, bins)
	for i := range out {
		out[i].Lower = lower + float64(i)*width
		out[i].Upper = lower + float64(i+1)*width
	}
	out[bins-1].Upper = current + span

	index := func(v float64) int {
		idx := int((v - lower) / width)
		if idx >= bins {
			idx = bins - 1
		}
		if idx < 0 {
			idx = 0
		}
		return idx
	}
	for _, v := range values {
		out[index(v)].Count++
	}
	out[index(current)].Current = true
	return out
}

// Deviation tiers
const (
	TierExtreme     = "extreme"     // >= 3σ
	TierSignificant = "significant" // >= 2σ
	TierNotable     = "notable"     // >= 1.5σ
)

// ExtremeEvent is a historical point far from the window mean
type ExtremeEvent struct {
	Time  time.Time `json:"time"`
	Value float64   `json:"value"`
	Sigma float64   `json:"sigma"`
	Tier  string    `json:"tier"`
}

func tierFor(sigma float64) string {
	a := math.Abs(sigma)
	switch {
	case a >= 3:
		return TierExtreme
	case a >= 2:
		return TierSignificant
	case a >= 1.5:
		return TierNotable
	}
	return ""
}

// Extremes returns the top n points by |sigma| that reach at least the notable tier
func Extremes(points []contracts.Point, mean, std float64, n int) []ExtremeEvent {
	if std <= 0 || n <= 0 {
		return nil
	}

	var out []ExtremeEvent
	for _, p := range points {
		sigma := (p.Value - mean) / std
		tier := tierFor(sigma)
		if tier == "" {
			continue
		}
		out = append(out, ExtremeEvent{Time: p.Time, Value: p.Value, Sigma: sigma, Tier: tier})
	}

	sort.SliceStable(out, func(i, j int) bool {
		ai, aj := math.Abs(out[i].Sigma), math.Abs(out[j].Sigma)
		if ai != aj {
			return ai > aj
		}
		return out[i].Time.After(out[j].Time)
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
