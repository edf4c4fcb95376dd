package risk

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"
)

// Simulator Monte Carlo 시뮬레이터
// ⭐ SSOT: rand.Source는 Seed로만 생성 (같은 Seed + 입력 → 같은 결과)
type Simulator struct {
	config SimulationConfig
	rng    *rand.Rand
}

// NewSimulator 새 시뮬레이터 생성
func NewSimulator(config SimulationConfig) *Simulator {
	return NewSimulatorWithSource(config, rand.NewSource(config.Seed))
}

// NewSimulatorWithSource 외부 rand.Source 주입 (테스트용)
func NewSimulatorWithSource(config SimulationConfig, src rand.Source) *Simulator {
	return &Simulator{
		config: config,
		rng:    rand.New(src),
	}
}

// Simulate 보유기간 수익률 분포 시뮬레이션
// returns: 과거 수익률 (ReturnType에 맞게 계산된 값)
func (s *Simulator) Simulate(ctx context.Context, returns []float64) (*SimulationResult, error) {
	if len(returns) == 0 {
		return nil, fmt.Errorf("%w: empty returns", ErrInsufficientData)
	}
	if err := s.config.Validate(); err != nil {
		return nil, err
	}

	var outcomes []float64
	var err error
	switch s.config.Method {
	case MethodParametricNormal:
		outcomes, err = s.parametric(ctx, returns)
	default:
		outcomes, err = s.bootstrap(ctx, returns)
	}
	if err != nil {
		return nil, err
	}

	result := summarize(outcomes)
	result.Config = s.config
	result.Samples = len(returns)
	return result, nil
}

// bootstrap 과거 수익률을 복원추출하여 보유기간 누적
func (s *Simulator) bootstrap(ctx context.Context, returns []float64) ([]float64, error) {
	outcomes := make([]float64, s.config.NumSimulations)
	for i := range outcomes {
		if i%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		var cum float64
		for d := 0; d < s.config.HoldingPeriod; d++ {
			cum += returns[s.rng.Intn(len(returns))]
		}
		outcomes[i] = cum
	}
	return outcomes, nil
}

// parametric 정규분포 가정, 보유기간 스케일링 (mean*T, std*sqrt(T))
func (s *Simulator) parametric(ctx context.Context, returns []float64) ([]float64, error) {
	mean := Mean(returns) * float64(s.config.HoldingPeriod)
	std := StdDev(returns) * math.Sqrt(float64(s.config.HoldingPeriod))

	outcomes := make([]float64, s.config.NumSimulations)
	for i := range outcomes {
		if i%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		outcomes[i] = mean + std*s.rng.NormFloat64()
	}
	return outcomes, nil
}

// summarize 시뮬레이션 결과 통계
func summarize(outcomes []float64) *SimulationResult {
	var95 := CalculateVaR(outcomes, 0.95)
	var99 := CalculateVaR(outcomes, 0.99)

	sorted := append([]float64(nil), outcomes...)
	sort.Float64s(sorted)

	percentiles := make(map[int]float64)
	for _, p := range []int{1, 5, 25, 50, 75, 95, 99} {
		percentiles[p] = Percentile(sorted, float64(p))
	}

	return &SimulationResult{
		MeanReturn:  Mean(outcomes),
		StdDev:      StdDev(outcomes),
		VaR95:       var95.VaR,
		VaR99:       var99.VaR,
		CVaR95:      var95.CVaR,
		CVaR99:      var99.CVaR,
		Percentiles: percentiles,
	}
}
