package zscore

import (
	"math"

	"github.com/F1J197/flow-oracle-sub007/internal/engine"
)

// VolatilityState is the volatility regime used to shift window weights
type VolatilityState string

const (
	VolatilityLow    VolatilityState = "LOW"
	VolatilityNormal VolatilityState = "NORMAL"
	VolatilityHigh   VolatilityState = "HIGH"
)

// VolatilityClassifier decides the volatility regime of an indicator from its
// history and any other cues in the engine input
type VolatilityClassifier interface {
	Classify(in engine.Input, indicator string, values []float64) VolatilityState
}

// ClassifierFunc adapts a function to VolatilityClassifier
type ClassifierFunc func(in engine.Input, indicator string, values []float64) VolatilityState

// Classify implements VolatilityClassifier
func (f ClassifierFunc) Classify(in engine.Input, indicator string, values []float64) VolatilityState {
	return f(in, indicator, values)
}

// RealizedVolClassifier votes on the ratio of short to long realised volatility
// and, when configured, on the level of a cue indicator (a VIX-like gauge).
// The majority wins, a tie is NORMAL.
type RealizedVolClassifier struct {
	ShortWindow  int     `json:"short_window" yaml:"short_window"`
	LongWindow   int     `json:"long_window" yaml:"long_window"`
	HighRatio    float64 `json:"high_ratio" yaml:"high_ratio"`
	LowRatio     float64 `json:"low_ratio" yaml:"low_ratio"`
	CueIndicator string  `json:"cue_indicator" yaml:"cue_indicator"`
	CueHigh      float64 `json:"cue_high" yaml:"cue_high"`
	CueLow       float64 `json:"cue_low" yaml:"cue_low"`
}

var _ VolatilityClassifier = RealizedVolClassifier{}

// DefaultClassifier returns the 20/120 realised-volatility classifier without a cue
func DefaultClassifier() RealizedVolClassifier {
	return RealizedVolClassifier{
		ShortWindow: 20,
		LongWindow:  120,
		HighRatio:   1.5,
		LowRatio:    0.67,
	}
}

// Classify implements VolatilityClassifier
func (c RealizedVolClassifier) Classify(in engine.Input, indicator string, values []float64) VolatilityState {
	var high, low int

	// Vote 1: 단기/장기 실현 변동성 비율
	short := realizedVol(values, c.ShortWindow)
	long := realizedVol(values, c.LongWindow)
	if long > 0 && short > 0 {
		ratio := short / long
		switch {
		case ratio > c.HighRatio:
			high++
		case ratio < c.LowRatio:
			low++
		}
	}

	// Vote 2: 공포 지수 등 외부 지표
	if c.CueIndicator != "" && c.CueIndicator != indicator && in.Snapshot != nil {
		if cue, ok := in.CurrentValue(c.CueIndicator); ok {
			switch {
			case cue >= c.CueHigh:
				high++
			case cue <= c.CueLow:
				low++
			}
		}
	}

	switch {
	case high > low:
		return VolatilityHigh
	case low > high:
		return VolatilityLow
	}
	return VolatilityNormal
}

// realizedVol is the population stddev of one-step changes over the last n values
func realizedVol(values []float64, n int) float64 {
	if n <= 0 || len(values) < n+1 {
		return 0
	}
	tail := values[len(values)-n-1:]

	var mean float64
	for i := 1; i < len(tail); i++ {
		mean += tail[i] - tail[i-1]
	}
	mean /= float64(n)

	var ss float64
	for i := 1; i < len(tail); i++ {
		d := tail[i] - tail[i-1] - mean
		ss += d * d
	}
	return math.Sqrt(ss / float64(n))
}
