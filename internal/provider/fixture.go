package provider

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/F1J197/flow-oracle-sub007/internal/contracts"
	"github.com/F1J197/flow-oracle-sub007/pkg/logger"
)

// FixtureSource labels every series produced by FixtureProvider
const FixtureSource = "fixture"

// FixtureIndicator describes one synthetic indicator
type FixtureIndicator struct {
	ID      string
	Start   float64 // 첫 포인트 값
	Drift   float64 // 일간 평균 로그 수익률
	Vol     float64 // 일간 로그 수익률 표준편차
	Sources int     // 1 = primary only, n = primary + n-1 mirrors
	Noise   float64 // mirror 상대 노이즈
	Weight  float64
}

// DefaultIndicators returns the built-in indicator set
func DefaultIndicators() []FixtureIndicator {
	return []FixtureIndicator{
		{ID: "net_liquidity", Start: 6000, Drift: 0.0002, Vol: 0.006, Sources: 2, Noise: 0.001, Weight: 2},
		{ID: "m2", Start: 21000, Drift: 0.0001, Vol: 0.002, Sources: 1, Weight: 1},
		{ID: "btc", Start: 60000, Drift: 0.0005, Vol: 0.03, Sources: 3, Noise: 0.002, Weight: 1},
		{ID: "vix", Start: 18, Drift: 0, Vol: 0.05, Sources: 2, Noise: 0.005, Weight: 1},
		{ID: "dxy", Start: 104, Drift: 0, Vol: 0.004, Sources: 1, Weight: 1},
		{ID: "hy_spread", Start: 3.5, Drift: 0, Vol: 0.02, Sources: 1, Weight: 1},
	}
}

// Spike multiplies the last point of one series, simulating a bad feed
type Spike struct {
	SeriesID string
	Factor   float64
}

// FixtureProvider generates a labelled deterministic snapshot.
// The same seed and clock always produce the same snapshot.
type FixtureProvider struct {
	seed       int64
	days       int
	indicators []FixtureIndicator
	spikes     []Spike
	clock      func() time.Time
	logger     *logger.Logger
}

// FixtureOption configures a FixtureProvider
type FixtureOption func(*FixtureProvider)

// WithClock sets the clock used to anchor the series
func WithClock(clock func() time.Time) FixtureOption {
	return func(p *FixtureProvider) { p.clock = clock }
}

// WithDays sets the number of daily points per series
func WithDays(days int) FixtureOption {
	return func(p *FixtureProvider) { p.days = days }
}

// WithIndicators replaces the default indicator set
func WithIndicators(indicators ...FixtureIndicator) FixtureOption {
	return func(p *FixtureProvider) { p.indicators = indicators }
}

// WithSpike adds an anomaly on the last point of a series
func WithSpike(seriesID string, factor float64) FixtureOption {
	return func(p *FixtureProvider) {
		p.spikes = append(p.spikes, Spike{SeriesID: seriesID, Factor: factor})
	}
}

// NewFixtureProvider creates a seeded fixture provider
func NewFixtureProvider(seed int64, log *logger.Logger, opts ...FixtureOption) *FixtureProvider {
	p := &FixtureProvider{
		seed:       seed,
		days:       800,
		indicators: DefaultIndicators(),
		clock:      time.Now,
		logger:     log.WithField("module", "fixture_provider"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SeriesID returns the id of source n (0 = primary) for an indicator
func SeriesID(indicator string, n int) string {
	if n == 0 {
		return indicator
	}
	return fmt.Sprintf("%s.mirror%d", indicator, n)
}

// GetSnapshot implements contracts.SnapshotProvider
func (p *FixtureProvider) GetSnapshot(ctx context.Context) (*contracts.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.days < 2 {
		return nil, fmt.Errorf("fixture needs at least 2 days, got %d", p.days)
	}

	// 매 호출마다 같은 시드로 재생성
	rng := rand.New(rand.NewSource(p.seed))
	end := p.clock().UTC().Truncate(24 * time.Hour)
	start := end.AddDate(0, 0, -(p.days - 1))

	var series []*contracts.IndicatorSeries
	for _, ind := range p.indicators {
		values := make([]float64, p.days)
		values[0] = ind.Start
		for i := 1; i < p.days; i++ {
			values[i] = values[i-1] * math.Exp(ind.Drift+ind.Vol*rng.NormFloat64())
		}

		sources := ind.Sources
		if sources < 1 {
			sources = 1
		}
		for n := 0; n < sources; n++ {
			points := make([]contracts.Point, p.days)
			for i, v := range values {
				if n > 0 {
					v *= 1 + ind.Noise*rng.NormFloat64()
				}
				points[i] = contracts.Point{Time: start.AddDate(0, 0, i), Value: v}
			}
			series = append(series, &contracts.IndicatorSeries{
				ID:        SeriesID(ind.ID, n),
				Indicator: ind.ID,
				Source:    fmt.Sprintf("%s:%s", FixtureSource, sourceLabel(n)),
				Priority:  n,
				Weight:    ind.Weight,
				Points:    points,
			})
		}
	}

	snap := contracts.NewSnapshot(end, series...)
	for _, spike := range p.spikes {
		s := snap.Get(spike.SeriesID)
		if s == nil || len(s.Points) == 0 {
			return nil, fmt.Errorf("spike target %q not in fixture", spike.SeriesID)
		}
		s.Points[len(s.Points)-1].Value *= spike.Factor
	}

	p.logger.WithFields(map[string]interface{}{
		"seed":   p.seed,
		"series": len(snap.Series),
		"days":   p.days,
		"end":    end.Format("2006-01-02"),
	}).Debug("Fixture snapshot generated")

	return snap, nil
}

func sourceLabel(n int) string {
	if n == 0 {
		return "primary"
	}
	return fmt.Sprintf("mirror%d", n)
}
