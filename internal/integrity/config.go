package integrity

import (
	"fmt"
	"time"
)

// Config holds integrity validator thresholds
type Config struct {
	Indicators            []string           `yaml:"indicators"`              // 비어 있으면 스냅샷의 모든 지표
	Weights               map[string]float64 `yaml:"weights"`                 // 지표 중요도, 기본 1
	VolatilityMultiple    float64            `yaml:"volatility_multiple"`     // 3.0
	MinRelativeScale      float64            `yaml:"min_relative_scale"`      // 0.005
	VolatilityLookback    int                `yaml:"volatility_lookback"`     // 30
	ExpectedPoints        int                `yaml:"expected_points"`         // 30
	FreshnessWindow       time.Duration      `yaml:"freshness_window"`        // 1h
	StaleAfter            time.Duration      `yaml:"stale_after"`             // 6h
	ManipulationAfter     int                `yaml:"manipulation_after"`      // 2
	CircuitBreakAfter     int                `yaml:"circuit_break_after"`     // 3
	CircuitCooldown       time.Duration      `yaml:"circuit_cooldown"`        // 30m
	InterpolationHalfLife time.Duration      `yaml:"interpolation_half_life"` // 1h
	HistorySize           int                `yaml:"history_size"`            // 100
	Thresholds            Thresholds         `yaml:"thresholds"`
}

// Thresholds map the integrity score to a signal
type Thresholds struct {
	RiskOn  float64 `yaml:"risk_on"` // 90
	Neutral float64 `yaml:"neutral"` // 70
	Warning float64 `yaml:"warning"` // 50
}

// DefaultConfig returns the production defaults
func DefaultConfig() Config {
	return Config{
		VolatilityMultiple:    3.0,
		MinRelativeScale:      0.005,
		VolatilityLookback:    30,
		ExpectedPoints:        30,
		FreshnessWindow:       time.Hour,
		StaleAfter:            6 * time.Hour,
		ManipulationAfter:     2,
		CircuitBreakAfter:     3,
		CircuitCooldown:       30 * time.Minute,
		InterpolationHalfLife: time.Hour,
		HistorySize:           100,
		Thresholds: Thresholds{
			RiskOn:  90,
			Neutral: 70,
			Warning: 50,
		},
	}
}

// Validate checks the configuration
func (c Config) Validate() error {
	if c.VolatilityMultiple <= 0 {
		return fmt.Errorf("volatility_multiple must be positive")
	}
	if c.MinRelativeScale < 0 {
		return fmt.Errorf("min_relative_scale must not be negative")
	}
	if c.ManipulationAfter < 2 {
		return fmt.Errorf("manipulation_after must be at least 2 (a single-cycle spike is not manipulation)")
	}
	if c.CircuitBreakAfter < c.ManipulationAfter {
		return fmt.Errorf("circuit_break_after (%d) must be >= manipulation_after (%d)", c.CircuitBreakAfter, c.ManipulationAfter)
	}
	if c.StaleAfter <= c.FreshnessWindow {
		return fmt.Errorf("stale_after must exceed freshness_window")
	}
	if c.HistorySize <= 0 {
		return fmt.Errorf("history_size must be positive")
	}
	if !(c.Thresholds.RiskOn > c.Thresholds.Neutral && c.Thresholds.Neutral > c.Thresholds.Warning) {
		return fmt.Errorf("thresholds must be ordered risk_on > neutral > warning")
	}
	for id, w := range c.Weights {
		if w < 0 {
			return fmt.Errorf("weight for %s must not be negative", id)
		}
	}
	return nil
}

func (c Config) weight(indicator string) float64 {
	if w, ok := c.Weights[indicator]; ok {
		return w
	}
	return 1
}
