package zscore

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/F1J197/flow-oracle-sub007/internal/cache"
	"github.com/F1J197/flow-oracle-sub007/internal/contracts"
	"github.com/F1J197/flow-oracle-sub007/internal/engine"
	"github.com/F1J197/flow-oracle-sub007/pkg/logger"
)

func snapshotOf(id string, points []contracts.Point) *contracts.Snapshot {
	return contracts.NewSnapshot(now, &contracts.IndicatorSeries{
		ID:        id,
		Points:    points,
		UpdatedAt: now,
	})
}

func integrityUpstream(score float64, consensus map[string]float64) map[string]engine.Upstream {
	out := &contracts.EngineOutput{Primary: contracts.Metric{Value: score}}
	for ind, v := range consensus {
		out.SetSubMetric(engine.ConsensusKey(ind), v)
	}
	return map[string]engine.Upstream{
		engine.IntegrityEngineID: {Output: out, Fresh: true, ComputedAt: now},
	}
}

func calculate(t *testing.T, e *Engine, in engine.Input) *contracts.EngineOutput {
	t.Helper()
	out, err := e.Calculate(context.Background(), in)
	require.NoError(t, err)
	require.NotNil(t, out)
	return out
}

func TestEngine_ZeroVarianceHasNoNaN(t *testing.T) {
	e := NewEngine(DefaultConfig(), logger.NewNop())
	snap := snapshotOf("flat", dailyPoints(800, func(int) float64 { return 7 }))
	require.True(t, e.ValidateData(snap))

	out := calculate(t, e, engine.Input{Snapshot: snap, Now: now})

	assert.Equal(t, 0.0, out.Primary.Value)
	assert.Equal(t, contracts.SignalNeutral, out.Signal)
	assert.InDelta(t, 50.0, out.Confidence, 1e-9)
	for name, v := range out.SubMetrics {
		assert.False(t, math.IsNaN(v) || math.IsInf(v, 0), name)
	}
}

func TestEngine_Idempotent(t *testing.T) {
	snap := snapshotOf("m2", dailyPoints(800, turbulent))
	in := engine.Input{Snapshot: snap, Now: now}

	a := calculate(t, NewEngine(DefaultConfig(), logger.NewNop()), in)
	b := calculate(t, NewEngine(DefaultConfig(), logger.NewNop()), in)
	assert.Equal(t, a, b)

	c := cache.New(time.Hour, logger.NewNop())
	memoised := NewEngine(DefaultConfig(), logger.NewNop(), WithCache(c))
	first := calculate(t, memoised, in)
	second := calculate(t, memoised, in)

	assert.Equal(t, a, first)
	assert.Equal(t, first, second)
	assert.Equal(t, int64(1), c.Stats().Hits)
	assert.Len(t, c.Keys("zscore:"), 1)
}

func TestEngine_MemoKeyChangesWithInput(t *testing.T) {
	c := cache.New(time.Hour, logger.NewNop())
	e := NewEngine(DefaultConfig(), logger.NewNop(), WithCache(c))
	points := dailyPoints(800, turbulent)

	calculate(t, e, engine.Input{Snapshot: snapshotOf("m2", points), Now: now})

	moved := append([]contracts.Point(nil), points...)
	moved[len(moved)-1].Value = 150
	calculate(t, e, engine.Input{Snapshot: snapshotOf("m2", moved), Now: now})

	assert.Equal(t, int64(0), c.Stats().Hits)
	assert.Len(t, c.Keys("zscore:"), 2)
}

func TestEngine_UsesHealedConsensus(t *testing.T) {
	e := NewEngine(DefaultConfig(), logger.NewNop())
	points := dailyPoints(800, alternating(1))
	points[len(points)-1].Value = 500
	snap := snapshotOf("btc", points)

	raw := calculate(t, e, engine.Input{Snapshot: snap, Now: now})
	assert.Greater(t, raw.Primary.Value, DefaultConfig().ExtremeCutoff)

	healed := calculate(t, e, engine.Input{
		Snapshot: snap,
		Upstream: integrityUpstream(100, map[string]float64{"btc": 100}),
		Now:      now,
	})

	res, ok := e.Latest("btc")
	require.True(t, ok)
	for _, comp := range res.Composite.Components {
		assert.Equal(t, 100.0, comp.RawValue)
	}
	assert.Less(t, math.Abs(healed.Primary.Value), math.Abs(raw.Primary.Value))
	assert.NotEqual(t, contracts.SignalWarning, healed.Signal)
}

func TestEngine_TrustScalesConfidence(t *testing.T) {
	e := NewEngine(DefaultConfig(), logger.NewNop())
	snap := snapshotOf("m2", dailyPoints(800, turbulent))

	full := calculate(t, e, engine.Input{Snapshot: snap, Now: now})
	half := calculate(t, e, engine.Input{Snapshot: snap, Upstream: integrityUpstream(50, nil), Now: now})

	assert.InDelta(t, full.Confidence/2, half.Confidence, 1e-9)
	assert.Equal(t, full.Primary.Value, half.Primary.Value)
}

func TestEngine_Change24h(t *testing.T) {
	e := NewEngine(DefaultConfig(), logger.NewNop())
	snap := snapshotOf("m2", dailyPoints(800, turbulent))

	out := calculate(t, e, engine.Input{Snapshot: snap, Now: now})

	res, ok := e.Latest("m2")
	require.True(t, ok)
	require.NotNil(t, res.Previous)
	assert.InDelta(t, res.Composite.Value-*res.Previous, res.Change24h, 1e-12)
	assert.InDelta(t, res.Change24h, out.Primary.Change24h, 1e-12)
}

func TestEngine_InsufficientData(t *testing.T) {
	e := NewEngine(DefaultConfig(), logger.NewNop())
	snap := snapshotOf("m2", dailyPoints(2, turbulent))

	assert.False(t, e.ValidateData(snap))
	assert.False(t, e.ValidateData(nil))

	out := calculate(t, e, engine.Input{Snapshot: snap, Now: now})
	assert.Equal(t, contracts.SignalNeutral, out.Signal)
	assert.Equal(t, 0.0, out.Confidence)
}

func TestEngine_TrackedIndicatorsOnly(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Indicators = []string{"m2"}
	e := NewEngine(cfg, logger.NewNop())

	snap := contracts.NewSnapshot(now,
		&contracts.IndicatorSeries{ID: "m2", Points: dailyPoints(800, turbulent), UpdatedAt: now},
		&contracts.IndicatorSeries{ID: "vix", Points: dailyPoints(800, alternating(3)), UpdatedAt: now},
	)

	out := calculate(t, e, engine.Input{Snapshot: snap, Now: now})

	_, ok := out.SubMetric(CompositeKey("m2"))
	assert.True(t, ok)
	_, ok = out.SubMetric(CompositeKey("vix"))
	assert.False(t, ok)
	assert.Len(t, e.Results(), 1)
}

func TestEngine_PluggableClassifier(t *testing.T) {
	snap := snapshotOf("m2", dailyPoints(800, turbulent))
	in := engine.Input{Snapshot: snap, Now: now}

	calm := NewEngine(DefaultConfig(), logger.NewNop(), WithClassifier(ClassifierFunc(
		func(engine.Input, string, []float64) VolatilityState { return VolatilityNormal })))
	stormy := NewEngine(DefaultConfig(), logger.NewNop(), WithClassifier(ClassifierFunc(
		func(engine.Input, string, []float64) VolatilityState { return VolatilityHigh })))

	a := calculate(t, calm, in)
	b := calculate(t, stormy, in)
	assert.Less(t, b.Primary.Value, a.Primary.Value)

	res, _ := stormy.Latest("m2")
	assert.Equal(t, VolatilityHigh, res.Volatility)
}

func TestDefaultClassifier(t *testing.T) {
	c := DefaultClassifier()
	in := engine.Input{Snapshot: contracts.NewSnapshot(now), Now: now}

	values := func(f func(int) float64) []float64 {
		points := dailyPoints(200, f)
		out := make([]float64, len(points))
		for i, p := range points {
			out[i] = p.Value
		}
		return out
	}

	assert.Equal(t, VolatilityHigh, c.Classify(in, "m2", values(turbulent)))
	assert.Equal(t, VolatilityNormal, c.Classify(in, "m2", values(alternating(1))))
	assert.Equal(t, VolatilityNormal, c.Classify(in, "m2", []float64{1, 2}))

	calmRecently := func(k int) float64 {
		if k < 28 {
			return alternating(0.1)(k)
		}
		return alternating(5)(k)
	}
	assert.Equal(t, VolatilityLow, c.Classify(in, "m2", values(calmRecently)))
}

func TestDefaultClassifier_CueVote(t *testing.T) {
	c := DefaultClassifier()
	c.CueIndicator = "vix"
	c.CueHigh = 30
	c.CueLow = 12

	withVix := func(v float64) engine.Input {
		return engine.Input{
			Snapshot: contracts.NewSnapshot(now, &contracts.IndicatorSeries{
				ID:     "vix",
				Points: []contracts.Point{{Time: now, Value: v}},
			}),
			Now: now,
		}
	}
	flat := make([]float64, 200)
	for i := range flat {
		flat[i] = 100 + float64(i%2)
	}

	assert.Equal(t, VolatilityHigh, c.Classify(withVix(40), "m2", flat))
	assert.Equal(t, VolatilityLow, c.Classify(withVix(10), "m2", flat))
	assert.Equal(t, VolatilityNormal, c.Classify(withVix(20), "m2", flat))
}

func TestEngine_WeeklySeriesNotForcedNeutral(t *testing.T) {
	e := NewEngine(DefaultConfig(), logger.NewNop())
	points := weeklyPoints(110, alternating(1))
	points[len(points)-1].Value = 101.5
	snap := snapshotOf("weekly_claims", points)

	out := calculate(t, e, engine.Input{Snapshot: snap, Now: now})

	assert.Greater(t, out.Confidence, 100*DefaultConfig().MinConfidence)
	assert.Greater(t, out.Primary.Value, DefaultConfig().SignalBand)
	assert.NotEqual(t, contracts.SignalNeutral, out.Signal)
}

func TestEngine_Signal(t *testing.T) {
	e := NewEngine(DefaultConfig(), logger.NewNop())

	tests := []struct {
		name       string
		value      float64
		confidence float64
		want       contracts.Signal
	}{
		{"low confidence", -1.5, 0.1, contracts.SignalNeutral},
		{"inside band", 0.3, 0.9, contracts.SignalNeutral},
		{"depressed", -0.8, 0.9, contracts.SignalRiskOn},
		{"elevated", 0.8, 0.9, contracts.SignalRiskOff},
		{"extreme high", 2.5, 0.9, contracts.SignalWarning},
		{"extreme low", -2.5, 0.9, contracts.SignalWarning},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, e.signal(tt.value, tt.confidence))
		})
	}
}
