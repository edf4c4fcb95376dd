package contracts

import (
	"fmt"
	"time"
)

// Signal is the categorical risk read-out of an engine
type Signal string

const (
	SignalRiskOn  Signal = "RISK_ON"
	SignalRiskOff Signal = "RISK_OFF"
	SignalWarning Signal = "WARNING"
	SignalNeutral Signal = "NEUTRAL"
)

// Valid reports whether s is one of the four signals
func (s Signal) Valid() bool {
	switch s {
	case SignalRiskOn, SignalRiskOff, SignalWarning, SignalNeutral:
		return true
	}
	return false
}

// WildcardIndicator in EngineConfig.Requires means "every indicator in the snapshot"
const WildcardIndicator = "*"

// EngineConfig describes a registered engine
// ⭐ SSOT: 등록 이후 변경 불가
type EngineConfig struct {
	ID              string        `json:"id" yaml:"id"`
	Name            string        `json:"name" yaml:"name"`
	Pillar          string        `json:"pillar" yaml:"pillar"`
	Priority        int           `json:"priority" yaml:"priority"`
	RefreshInterval time.Duration `json:"refresh_interval" yaml:"refresh_interval"`
	Requires        []string      `json:"requires" yaml:"requires"`
	DependsOn       []string      `json:"depends_on" yaml:"depends_on"`
}

// RequiresAll reports whether the engine requires every indicator
func (c EngineConfig) RequiresAll() bool {
	for _, r := range c.Requires {
		if r == WildcardIndicator {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so the registry can hand out configs safely
func (c EngineConfig) Clone() EngineConfig {
	out := c
	out.Requires = append([]string(nil), c.Requires...)
	out.DependsOn = append([]string(nil), c.DependsOn...)
	return out
}

// Metric is the primary value of an engine output
type Metric struct {
	Value     float64 `json:"value"`
	Change24h float64 `json:"change_24h"`
	ChangePct float64 `json:"change_pct"`
}

// EngineOutput is the result of a single Calculate call
type EngineOutput struct {
	Primary    Metric             `json:"primary"`
	Signal     Signal             `json:"signal"`
	Confidence float64            `json:"confidence"` // 0 ~ 100
	Analysis   string             `json:"analysis"`
	SubMetrics map[string]float64 `json:"sub_metrics,omitempty"`
	ComputedAt time.Time          `json:"computed_at"`
}

// SubMetric returns a named sub-metric
func (o *EngineOutput) SubMetric(name string) (float64, bool) {
	if o == nil || o.SubMetrics == nil {
		return 0, false
	}
	v, ok := o.SubMetrics[name]
	return v, ok
}

// SetSubMetric sets a named sub-metric, allocating the map on first use
func (o *EngineOutput) SetSubMetric(name string, value float64) {
	if o.SubMetrics == nil {
		o.SubMetrics = make(map[string]float64)
	}
	o.SubMetrics[name] = value
}

// Clone returns a deep copy
func (o *EngineOutput) Clone() *EngineOutput {
	if o == nil {
		return nil
	}
	out := *o
	if o.SubMetrics != nil {
		out.SubMetrics = make(map[string]float64, len(o.SubMetrics))
		for k, v := range o.SubMetrics {
			out.SubMetrics[k] = v
		}
	}
	return &out
}

// NeutralOutput is the degraded output for missing or insufficient data
func NeutralOutput(reason string, confidence float64) *EngineOutput {
	return &EngineOutput{
		Signal:     SignalNeutral,
		Confidence: ClampConfidence(confidence),
		Analysis:   reason,
	}
}

// ClampConfidence bounds a confidence value to [0, 100]
func ClampConfidence(c float64) float64 {
	switch {
	case c != c: // NaN
		return 0
	case c < 0:
		return 0
	case c > 100:
		return 100
	}
	return c
}

// ErrorKind classifies a failed execution
type ErrorKind string

const (
	ErrorKindNone        ErrorKind = ""
	ErrorKindValidation  ErrorKind = "validation"
	ErrorKindComputation ErrorKind = "computation"
	ErrorKindTimeout     ErrorKind = "timeout"
	ErrorKindNotFound    ErrorKind = "not_found"
)

// ExecutionResult is the outcome of one engine run
type ExecutionResult struct {
	EngineID    string        `json:"engine_id"`
	Output      *EngineOutput `json:"output,omitempty"`
	Success     bool          `json:"success"`
	Error       string        `json:"error,omitempty"`
	ErrorKind   ErrorKind     `json:"error_kind,omitempty"`
	Elapsed     time.Duration `json:"elapsed"`
	CompletedAt time.Time     `json:"completed_at"`
	Stale       bool          `json:"stale"` // Output은 last-known-good 값
}

func (r *ExecutionResult) String() string {
	if r.Success {
		return fmt.Sprintf("%s ok (%s)", r.EngineID, r.Elapsed)
	}
	return fmt.Sprintf("%s failed [%s]: %s", r.EngineID, r.ErrorKind, r.Error)
}
