package risk

import "fmt"

// =============================================================================
// Return Type & Convention
// =============================================================================

// ReturnType 수익률 계산 방식
type ReturnType string

const (
	ReturnSimple ReturnType = "simple" // (P1 - P0) / P0
	ReturnLog    ReturnType = "log"    // ln(P1 / P0)
	ReturnDiff   ReturnType = "diff"   // P1 - P0, 0 근처를 오가는 지표용
)

// VaRConvention VaR 부호 규약
// ⭐ SSOT: Loss를 양수로 표현 (VaR=0.05 → 5% 하락 가능)
const VaRConvention = "loss_positive"

// =============================================================================
// VaR/CVaR Types
// =============================================================================

// VaRResult VaR 계산 결과
// - VaR=0.05 → 95% 신뢰수준에서 최대 5% 하락
// - CVaR=0.07 → 5% tail에서 평균 7% 하락
type VaRResult struct {
	Confidence float64 `json:"confidence"` // 신뢰수준 (예: 0.95, 0.99)
	VaR        float64 `json:"var"`        // Value at Risk (손실, 양수)
	CVaR       float64 `json:"cvar"`       // Conditional VaR (Expected Shortfall, 양수)
}

// =============================================================================
// Monte Carlo Types
// =============================================================================

// SimulationMethod 시뮬레이션 방법
type SimulationMethod string

const (
	MethodHistoricalBootstrap SimulationMethod = "historical_bootstrap" // 과거 수익률 Bootstrap
	MethodParametricNormal    SimulationMethod = "parametric_normal"    // 정규분포 가정
)

// SimulationConfig Monte Carlo 설정
// ⭐ SSOT: 재현성을 위해 Seed는 필수 (같은 입력 → 같은 결과)
type SimulationConfig struct {
	Method         SimulationMethod `json:"method" yaml:"method"`
	NumSimulations int              `json:"num_simulations" yaml:"num_simulations"` // 기본: 5000
	HoldingPeriod  int              `json:"holding_period" yaml:"holding_period"`   // 보유 기간 (포인트 수, 기본: 5)
	Seed           int64            `json:"seed" yaml:"seed"`
}

// SimulationResult Monte Carlo 결과
type SimulationResult struct {
	Config      SimulationConfig `json:"config"`
	Samples     int              `json:"samples"`     // 입력 수익률 수
	MeanReturn  float64          `json:"mean_return"` // 평균 보유기간 수익률
	StdDev      float64          `json:"std_dev"`
	VaR95       float64          `json:"var_95"`      // 95% VaR (손실, 양수)
	VaR99       float64          `json:"var_99"`      // 99% VaR (손실, 양수)
	CVaR95      float64          `json:"cvar_95"`     // 95% CVaR (손실, 양수)
	CVaR99      float64          `json:"cvar_99"`     // 99% CVaR (손실, 양수)
	Percentiles map[int]float64  `json:"percentiles"` // 1, 5, 25, 50, 75, 95, 99
}

// =============================================================================
// Engine Types
// =============================================================================

// Scenario 스트레스 시나리오: 지표별 충격 (수익률), "*"는 전체
type Scenario struct {
	Name   string             `json:"name" yaml:"name"`
	Shocks map[string]float64 `json:"shocks" yaml:"shocks"`
}

// Limits 리스크 한도
type Limits struct {
	MaxVaR95  float64 `json:"max_var_95" yaml:"max_var_95"`   // 예: 0.05 = 5%
	MaxCVaR95 float64 `json:"max_cvar_95" yaml:"max_cvar_95"` // 예: 0.07 = 7%
	WarnRatio float64 `json:"warn_ratio" yaml:"warn_ratio"`   // 한도 대비 경고 비율 (예: 0.75)
}

// Config tail-risk 엔진 설정
type Config struct {
	Indicators []string           `json:"indicators" yaml:"indicators"` // 비어 있으면 스냅샷의 모든 지표
	Weights    map[string]float64 `json:"weights" yaml:"weights"`       // 포트폴리오 비중, 기본 균등
	ReturnType ReturnType         `json:"return_type" yaml:"return_type"`
	Lookback   int                `json:"lookback" yaml:"lookback"`       // 최근 수익률 개수 (기본: 200)
	MinSamples int                `json:"min_samples" yaml:"min_samples"` // fail-closed 최소 표본 (기본: 30)
	Simulation SimulationConfig   `json:"simulation" yaml:"simulation"`
	Limits     Limits             `json:"limits" yaml:"limits"`
	Scenarios  []Scenario         `json:"scenarios" yaml:"scenarios"`
}

// DefaultConfig 기본 설정
func DefaultConfig() Config {
	return Config{
		ReturnType: ReturnSimple,
		Lookback:   200,
		MinSamples: 30,
		Simulation: SimulationConfig{
			Method:         MethodHistoricalBootstrap,
			NumSimulations: 5000,
			HoldingPeriod:  5,
			Seed:           42,
		},
		Limits: Limits{
			MaxVaR95:  0.05,
			MaxCVaR95: 0.07,
			WarnRatio: 0.75,
		},
		Scenarios: []Scenario{
			{Name: "broad_drawdown", Shocks: map[string]float64{"*": -0.10}},
			{Name: "liquidity_crunch", Shocks: map[string]float64{"*": -0.20}},
		},
	}
}

// Validate 설정 유효성 검사
func (c Config) Validate() error {
	switch c.ReturnType {
	case ReturnSimple, ReturnLog, ReturnDiff:
	default:
		return fmt.Errorf("%w: unknown return_type %q", ErrInvalidConfig, c.ReturnType)
	}
	if c.Lookback <= 0 {
		return fmt.Errorf("%w: lookback must be > 0", ErrInvalidConfig)
	}
	if c.MinSamples <= 1 || c.MinSamples > c.Lookback {
		return fmt.Errorf("%w: min_samples must be in (1, lookback]", ErrInvalidConfig)
	}
	if err := c.Simulation.Validate(); err != nil {
		return err
	}
	if c.Limits.MaxVaR95 <= 0 || c.Limits.MaxCVaR95 <= 0 {
		return fmt.Errorf("%w: limits must be positive", ErrInvalidConfig)
	}
	if c.Limits.WarnRatio <= 0 || c.Limits.WarnRatio > 1 {
		return fmt.Errorf("%w: warn_ratio must be in (0, 1]", ErrInvalidConfig)
	}
	for ind, w := range c.Weights {
		if w < 0 {
			return fmt.Errorf("%w: weight for %s must not be negative", ErrInvalidConfig, ind)
		}
	}
	return nil
}

// Validate 시뮬레이션 설정 검사
func (c SimulationConfig) Validate() error {
	switch c.Method {
	case MethodHistoricalBootstrap, MethodParametricNormal:
	default:
		return fmt.Errorf("%w: unknown simulation method %q", ErrInvalidConfig, c.Method)
	}
	if c.NumSimulations <= 0 {
		return fmt.Errorf("%w: num_simulations must be > 0", ErrInvalidConfig)
	}
	if c.HoldingPeriod <= 0 {
		return fmt.Errorf("%w: holding_period must be > 0", ErrInvalidConfig)
	}
	return nil
}
