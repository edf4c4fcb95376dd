package allocator

import (
	"context"
	"fmt"
	"math"

	"github.com/F1J197/flow-oracle-sub007/internal/contracts"
	"github.com/F1J197/flow-oracle-sub007/internal/engine"
	"github.com/F1J197/flow-oracle-sub007/internal/risk"
	"github.com/F1J197/flow-oracle-sub007/internal/zscore"
	"github.com/F1J197/flow-oracle-sub007/pkg/logger"
)

// EngineID is the registry id of the allocator engine
const EngineID = "allocator"

// Sub-metric names
const (
	MetricZAdjustment = "z_adjustment"
	MetricRegimeTilt  = "regime_tilt"
	MetricRiskScale   = "risk_scale"
	MetricTrust       = "trust"
	MetricStaleInputs = "stale_inputs"
)

// Config holds the exposure policy
type Config struct {
	BaseExposure float64                      `json:"base_exposure" yaml:"base_exposure"` // 0 ~ 1
	MinExposure  float64                      `json:"min_exposure" yaml:"min_exposure"`
	MaxExposure  float64                      `json:"max_exposure" yaml:"max_exposure"`
	ZSensitivity float64                      `json:"z_sensitivity" yaml:"z_sensitivity"` // z 1 단위당 비중 변화
	CVaRBudget   float64                      `json:"cvar_budget" yaml:"cvar_budget"`     // CVaR95 허용치 (수익률)
	StalePenalty float64                      `json:"stale_penalty" yaml:"stale_penalty"` // stale 입력의 조정 반영 비율
	RegimeTilt   map[contracts.Regime]float64 `json:"regime_tilt" yaml:"regime_tilt"`
	RiskOnAbove  float64                      `json:"risk_on_above" yaml:"risk_on_above"`
	RiskOffBelow float64                      `json:"risk_off_below" yaml:"risk_off_below"`
}

// DefaultConfig returns the production defaults
func DefaultConfig() Config {
	return Config{
		BaseExposure: 0.6,
		MinExposure:  0.1,
		MaxExposure:  1.0,
		ZSensitivity: 0.15,
		CVaRBudget:   0.05,
		StalePenalty: 0.5,
		RegimeTilt: map[contracts.Regime]float64{
			contracts.RegimeWinter: 0.10,
			contracts.RegimeSpring: 0.05,
			contracts.RegimeSummer: -0.05,
			contracts.RegimeAutumn: -0.10,
		},
		RiskOnAbove:  0.7,
		RiskOffBelow: 0.3,
	}
}

// Validate checks the policy
func (c Config) Validate() error {
	if !(0 <= c.MinExposure && c.MinExposure <= c.BaseExposure && c.BaseExposure <= c.MaxExposure && c.MaxExposure <= 1) {
		return fmt.Errorf("exposures must satisfy 0 <= min <= base <= max <= 1")
	}
	if c.CVaRBudget <= 0 {
		return fmt.Errorf("cvar_budget must be positive")
	}
	if c.StalePenalty < 0 || c.StalePenalty > 1 {
		return fmt.Errorf("stale_penalty must be in [0, 1]")
	}
	if c.RiskOffBelow >= c.RiskOnAbove {
		return fmt.Errorf("risk_off_below must be below risk_on_above")
	}
	return nil
}

// Allocator turns the composite score and tail risk into a target exposure.
// Low trust pulls the exposure toward MinExposure, stale upstream outputs
// contribute with StalePenalty.
type Allocator struct {
	config Config
	logger *logger.Logger
}

var _ engine.Engine = (*Allocator)(nil)

// New creates an allocator
func New(config Config, log *logger.Logger) *Allocator {
	return &Allocator{config: config, logger: log}
}

// ValidateData implements engine.Engine. The allocator only reads upstream outputs.
func (a *Allocator) ValidateData(snap *contracts.Snapshot) bool {
	return snap != nil
}

// Calculate implements engine.Engine
func (a *Allocator) Calculate(ctx context.Context, in engine.Input) (*contracts.EngineOutput, error) {
	z, hasZ := in.Dependency(zscore.EngineID)
	tail, hasTail := in.Dependency(risk.EngineID)
	if !hasZ && !hasTail {
		return contracts.NeutralOutput("No composite or tail-risk input available", 0), nil
	}

	trust := in.Trust()
	exposure := a.config.BaseExposure
	var zAdj, tilt float64
	riskScale := 1.0
	stale := 0
	var confSum float64
	var inputs int

	if hasZ {
		factor := a.freshness(z)
		if !z.Fresh {
			stale++
		}
		zConf := z.Output.Confidence / 100

		// 낮은 z (침체) → 비중 확대, 높은 z (과열) → 축소
		zAdj = -a.config.ZSensitivity * z.Output.Primary.Value * zConf * factor
		if idx, ok := z.Output.SubMetric(zscore.MetricRegimeIndex); ok {
			tilt = a.config.RegimeTilt[regimeFromIndex(idx)] * factor
		}
		exposure += zAdj + tilt
		confSum += zConf * factor
		inputs++
	}

	if hasTail {
		factor := a.freshness(tail)
		if !tail.Fresh {
			stale++
		}
		if cvar, ok := tail.Output.SubMetric(risk.MetricCVaR95); ok && cvar > 0 {
			scale := math.Min(1, a.config.CVaRBudget/(cvar/100))
			riskScale = 1 - (1-scale)*factor
		}
		exposure *= riskScale
		confSum += tail.Output.Confidence / 100 * factor
		inputs++
	}

	exposure = clamp(exposure, a.config.MinExposure, a.config.MaxExposure)
	exposure = a.config.MinExposure + (exposure-a.config.MinExposure)*trust

	out := &contracts.EngineOutput{ComputedAt: in.Now}
	out.Primary.Value = 100 * exposure
	out.Primary.Change24h = 100 * (exposure - a.config.BaseExposure)
	if a.config.BaseExposure != 0 {
		out.Primary.ChangePct = 100 * (exposure - a.config.BaseExposure) / a.config.BaseExposure
	}
	out.Signal = a.signal(exposure)
	out.Confidence = contracts.ClampConfidence(100 * trust * confSum / float64(inputs))
	out.SetSubMetric(MetricZAdjustment, 100*zAdj)
	out.SetSubMetric(MetricRegimeTilt, 100*tilt)
	out.SetSubMetric(MetricRiskScale, riskScale)
	out.SetSubMetric(MetricTrust, trust)
	out.SetSubMetric(MetricStaleInputs, float64(stale))
	out.Analysis = fmt.Sprintf("Target exposure %.1f%% (base %.0f%%, z adj %+.1f%%, tilt %+.1f%%, risk scale %.2f, trust %.2f, %d stale inputs)",
		100*exposure, 100*a.config.BaseExposure, 100*zAdj, 100*tilt, riskScale, trust, stale)

	if stale > 0 {
		a.logger.WithField("stale_inputs", stale).Debug("allocator used last-known-good inputs")
	}
	return out, nil
}

// freshness is 1 for fresh upstream outputs and StalePenalty for last-known-good
func (a *Allocator) freshness(up engine.Upstream) float64 {
	if up.Fresh {
		return 1
	}
	return a.config.StalePenalty
}

func (a *Allocator) signal(exposure float64) contracts.Signal {
	switch {
	case exposure >= a.config.RiskOnAbove:
		return contracts.SignalRiskOn
	case exposure <= a.config.RiskOffBelow:
		return contracts.SignalRiskOff
	}
	return contracts.SignalNeutral
}

func regimeFromIndex(idx float64) contracts.Regime {
	switch int(math.Round(idx)) {
	case 0:
		return contracts.RegimeWinter
	case 1:
		return contracts.RegimeSpring
	case 2:
		return contracts.RegimeSummer
	case 3:
		return contracts.RegimeAutumn
	}
	return ""
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
