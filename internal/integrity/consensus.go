package integrity

import (
	"math"
	"sort"
)

// madScale converts a median absolute deviation to a normal-consistent sigma
const madScale = 1.4826

// Reading is one source's current value of an indicator
type Reading struct {
	SourceID string
	Value    float64
}

// ConsensusResult is the robust cross-source agreement for one indicator
type ConsensusResult struct {
	Median    float64            // 모든 소스 중앙값
	Value     float64            // 이상치 제외 후 합의값
	Scale     float64            // 편차 정규화 기준
	Deviation map[string]float64 // |value - median| / scale
	Anomalous map[string]bool
	Agreement float64 // 0 ~ 1, 이상치가 아닌 소스 비율
}

// Consensus computes a median consensus and flags sources whose deviation
// exceeds k scale units. scale = max(histVol, 1.4826*MAD, minRelative*|median|).
func Consensus(readings []Reading, histVol, minRelative, k float64) ConsensusResult {
	res := ConsensusResult{
		Deviation: make(map[string]float64, len(readings)),
		Anomalous: make(map[string]bool, len(readings)),
	}
	if len(readings) == 0 {
		return res
	}

	values := make([]float64, len(readings))
	for i, r := range readings {
		values[i] = r.Value
	}
	res.Median = Median(values)

	absDev := make([]float64, len(values))
	for i, v := range values {
		absDev[i] = math.Abs(v - res.Median)
	}
	mad := Median(absDev)

	res.Scale = math.Max(histVol, math.Max(madScale*mad, minRelative*math.Abs(res.Median)))

	var kept []float64
	for _, r := range readings {
		var dev float64
		if res.Scale > 0 {
			dev = math.Abs(r.Value-res.Median) / res.Scale
		} else if r.Value != res.Median {
			dev = math.Inf(1)
		}
		res.Deviation[r.SourceID] = dev

		if dev > k {
			res.Anomalous[r.SourceID] = true
			continue
		}
		kept = append(kept, r.Value)
	}

	if len(kept) == 0 {
		// 모두 이상치면 중앙값 유지
		res.Value = res.Median
		return res
	}

	res.Value = Median(kept)
	res.Agreement = float64(len(kept)) / float64(len(readings))
	return res
}

// Median returns the median of values without modifying them
func Median(values []float64) float64 {
	n := len(values)
	if n == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// ChangeVolatility is the sample stddev of one-step changes over the last n values
func ChangeVolatility(values []float64, n int) float64 {
	if n > 0 && len(values) > n+1 {
		values = values[len(values)-n-1:]
	}
	if len(values) < 3 {
		return 0
	}

	diffs := make([]float64, len(values)-1)
	var mean float64
	for i := 1; i < len(values); i++ {
		diffs[i-1] = values[i] - values[i-1]
		mean += diffs[i-1]
	}
	mean /= float64(len(diffs))

	var ss float64
	for _, d := range diffs {
		ss += (d - mean) * (d - mean)
	}
	return math.Sqrt(ss / float64(len(diffs)-1))
}
