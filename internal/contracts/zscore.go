package contracts

import "time"

// Regime is the seasonal market classification derived from a composite score
type Regime string

const (
	RegimeWinter Regime = "WINTER"
	RegimeSpring Regime = "SPRING"
	RegimeSummer Regime = "SUMMER"
	RegimeAutumn Regime = "AUTUMN"
)

// Valid reports whether r is one of the four regimes
func (r Regime) Valid() bool {
	switch r {
	case RegimeWinter, RegimeSpring, RegimeSummer, RegimeAutumn:
		return true
	}
	return false
}

// ZScoreWindow is a trailing lookback with a fixed weight
type ZScoreWindow struct {
	Label  string  `json:"label" yaml:"label"`
	Days   int     `json:"days" yaml:"days"`
	Weight float64 `json:"weight" yaml:"weight"`
}

// ZScoreCalculation is the per-window statistic of one indicator
type ZScoreCalculation struct {
	Window     ZScoreWindow `json:"window"`
	RawValue   float64      `json:"raw_value"`
	Mean       float64      `json:"mean"`
	StdDev     float64      `json:"std_dev"`
	ZScore     float64      `json:"z_score"`
	Percentile float64      `json:"percentile"` // 0 ~ 1
	Extreme    bool         `json:"extreme"`
	Confidence float64      `json:"confidence"` // 0 ~ 1
	Samples    int          `json:"samples"`
}

// CompositeZScore is the weighted multi-window score of one indicator
type CompositeZScore struct {
	Indicator  string              `json:"indicator"`
	Value      float64             `json:"value"`
	Regime     Regime              `json:"regime"`
	Confidence float64             `json:"confidence"` // 0 ~ 1
	Components []ZScoreCalculation `json:"components"`
	Timestamp  time.Time           `json:"timestamp"`
}
