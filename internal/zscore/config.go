package zscore

import (
	"fmt"
	"math"
	"time"

	"github.com/F1J197/flow-oracle-sub007/internal/contracts"
)

// Season maps a regime to the composite value it is centred on
type Season struct {
	Regime contracts.Regime `json:"regime" yaml:"regime"`
	Center float64          `json:"center" yaml:"center"`
	Weight float64          `json:"weight" yaml:"weight"`
}

// Config holds the composite Z-score settings
type Config struct {
	Indicators      []string                 `json:"indicators" yaml:"indicators"` // 비어 있으면 스냅샷의 모든 지표
	Windows         []contracts.ZScoreWindow `json:"windows" yaml:"windows"`
	ExtremeCutoff   float64                  `json:"extreme_cutoff" yaml:"extreme_cutoff"`       // |z| > cutoff → extreme
	MinStdDev       float64                  `json:"min_std_dev" yaml:"min_std_dev"`             // 상대 기준, stddev < MinStdDev*max(1,|mean|) → z=0
	MinSamples      int                      `json:"min_samples" yaml:"min_samples"`             // 윈도우 최소 표본
	SignalBand      float64                  `json:"signal_band" yaml:"signal_band"`             // |c| < band → NEUTRAL
	MinConfidence   float64                  `json:"min_confidence" yaml:"min_confidence"`       // 0 ~ 1
	ShortWindowDays int                      `json:"short_window_days" yaml:"short_window_days"` // 고변동성 시 가중 이동 대상
	HighVolBoost    float64                  `json:"high_vol_boost" yaml:"high_vol_boost"`
	Seasons         []Season                 `json:"seasons" yaml:"seasons"`
	HistogramBins   int                      `json:"histogram_bins" yaml:"histogram_bins"`
	TopExtremes     int                      `json:"top_extremes" yaml:"top_extremes"`
	CacheTTL        time.Duration            `json:"cache_ttl" yaml:"cache_ttl"`
}

// DefaultWindows are the 4/12/26/52/104 week lookbacks
func DefaultWindows() []contracts.ZScoreWindow {
	return []contracts.ZScoreWindow{
		{Label: "4w", Days: 28, Weight: 0.10},
		{Label: "12w", Days: 84, Weight: 0.15},
		{Label: "26w", Days: 182, Weight: 0.25},
		{Label: "52w", Days: 364, Weight: 0.30},
		{Label: "104w", Days: 728, Weight: 0.20},
	}
}

// DefaultSeasons centre the four regimes on the composite axis
func DefaultSeasons() []Season {
	return []Season{
		{Regime: contracts.RegimeWinter, Center: -1.5, Weight: 1},
		{Regime: contracts.RegimeSpring, Center: -0.5, Weight: 1},
		{Regime: contracts.RegimeSummer, Center: 0.5, Weight: 1},
		{Regime: contracts.RegimeAutumn, Center: 1.5, Weight: 1},
	}
}

// DefaultConfig returns the production defaults
func DefaultConfig() Config {
	return Config{
		Windows:         DefaultWindows(),
		ExtremeCutoff:   2.0,
		MinStdDev:       1e-9,
		MinSamples:      3,
		SignalBand:      0.5,
		MinConfidence:   0.2,
		ShortWindowDays: 84,
		HighVolBoost:    2.0,
		Seasons:         DefaultSeasons(),
		HistogramBins:   10,
		TopExtremes:     5,
		CacheTTL:        time.Hour,
	}
}

// Validate checks the configuration
func (c Config) Validate() error {
	if len(c.Windows) == 0 {
		return fmt.Errorf("at least one window is required")
	}

	var sum float64
	labels := make(map[string]bool, len(c.Windows))
	for _, w := range c.Windows {
		if w.Days <= 0 {
			return fmt.Errorf("window %s: days must be positive", w.Label)
		}
		if w.Weight < 0 {
			return fmt.Errorf("window %s: weight must not be negative", w.Label)
		}
		if labels[w.Label] {
			return fmt.Errorf("duplicate window label: %s", w.Label)
		}
		labels[w.Label] = true
		sum += w.Weight
	}
	if math.Abs(sum-1) > 1e-6 {
		return fmt.Errorf("window weights must sum to 1 (got %.4f)", sum)
	}

	if c.ExtremeCutoff <= 0 {
		return fmt.Errorf("extreme_cutoff must be positive")
	}
	if c.MinSamples < 2 {
		return fmt.Errorf("min_samples must be at least 2")
	}
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		return fmt.Errorf("min_confidence must be in [0, 1]")
	}
	if c.HighVolBoost < 1 {
		return fmt.Errorf("high_vol_boost must be >= 1")
	}

	if len(c.Seasons) == 0 {
		return fmt.Errorf("at least one season is required")
	}
	seen := make(map[contracts.Regime]bool, len(c.Seasons))
	for _, s := range c.Seasons {
		if !s.Regime.Valid() {
			return fmt.Errorf("invalid regime: %q", s.Regime)
		}
		if seen[s.Regime] {
			return fmt.Errorf("duplicate season: %s", s.Regime)
		}
		if s.Weight <= 0 {
			return fmt.Errorf("season %s: weight must be positive", s.Regime)
		}
		seen[s.Regime] = true
	}

	return nil
}
