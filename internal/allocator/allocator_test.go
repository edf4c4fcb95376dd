package allocator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/F1J197/flow-oracle-sub007/internal/contracts"
	"github.com/F1J197/flow-oracle-sub007/internal/engine"
	"github.com/F1J197/flow-oracle-sub007/internal/risk"
	"github.com/F1J197/flow-oracle-sub007/internal/zscore"
	"github.com/F1J197/flow-oracle-sub007/pkg/logger"
)

var now = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

func zscoreOutput(z, confidence float64, regime contracts.Regime) *contracts.EngineOutput {
	out := &contracts.EngineOutput{Primary: contracts.Metric{Value: z}, Confidence: confidence}
	out.SetSubMetric(zscore.MetricRegimeIndex, zscore.RegimeIndex(regime))
	return out
}

func tailOutput(cvarPct, confidence float64) *contracts.EngineOutput {
	out := &contracts.EngineOutput{Primary: contracts.Metric{Value: cvarPct}, Confidence: confidence}
	out.SetSubMetric(risk.MetricCVaR95, cvarPct)
	return out
}

func run(t *testing.T, upstream map[string]engine.Upstream) *contracts.EngineOutput {
	t.Helper()
	a := New(DefaultConfig(), logger.NewNop())
	snap := contracts.NewSnapshot(now)
	require.True(t, a.ValidateData(snap))

	out, err := a.Calculate(context.Background(), engine.Input{Snapshot: snap, Upstream: upstream, Now: now})
	require.NoError(t, err)
	require.NotNil(t, out)
	return out
}

func TestAllocator_FreshInputs(t *testing.T) {
	out := run(t, map[string]engine.Upstream{
		zscore.EngineID: {Output: zscoreOutput(-1, 80, contracts.RegimeSpring), Fresh: true},
		risk.EngineID:   {Output: tailOutput(2, 100), Fresh: true},
	})

	assert.InDelta(t, 77.0, out.Primary.Value, 1e-9)
	assert.Equal(t, contracts.SignalRiskOn, out.Signal)
	assert.InDelta(t, 90.0, out.Confidence, 1e-9)
	assert.InDelta(t, 12.0, out.SubMetrics[MetricZAdjustment], 1e-9)
	assert.InDelta(t, 5.0, out.SubMetrics[MetricRegimeTilt], 1e-9)
	assert.Equal(t, 1.0, out.SubMetrics[MetricRiskScale])
	assert.Equal(t, 0.0, out.SubMetrics[MetricStaleInputs])
}

func TestAllocator_TailRiskScalesDown(t *testing.T) {
	out := run(t, map[string]engine.Upstream{
		zscore.EngineID: {Output: zscoreOutput(-1, 80, contracts.RegimeSpring), Fresh: true},
		risk.EngineID:   {Output: tailOutput(10, 100), Fresh: true},
	})

	assert.InDelta(t, 0.5, out.SubMetrics[MetricRiskScale], 1e-9)
	assert.InDelta(t, 38.5, out.Primary.Value, 1e-9)
	assert.Equal(t, contracts.SignalNeutral, out.Signal)
}

func TestAllocator_StaleInputsArePenalised(t *testing.T) {
	out := run(t, map[string]engine.Upstream{
		zscore.EngineID: {Output: zscoreOutput(-1, 80, contracts.RegimeSpring), Fresh: false},
	})

	assert.Equal(t, 1.0, out.SubMetrics[MetricStaleInputs])
	assert.InDelta(t, 6.0, out.SubMetrics[MetricZAdjustment], 1e-9)
	assert.InDelta(t, 68.5, out.Primary.Value, 1e-9)
	assert.InDelta(t, 40.0, out.Confidence, 1e-9)
}

func TestAllocator_LowTrustIsDefensive(t *testing.T) {
	integrity := &contracts.EngineOutput{Primary: contracts.Metric{Value: 50}}
	out := run(t, map[string]engine.Upstream{
		engine.IntegrityEngineID: {Output: integrity, Fresh: true},
		zscore.EngineID:          {Output: zscoreOutput(-1, 80, contracts.RegimeSpring), Fresh: true},
		risk.EngineID:            {Output: tailOutput(2, 100), Fresh: true},
	})

	assert.InDelta(t, 43.5, out.Primary.Value, 1e-9)
	assert.InDelta(t, 45.0, out.Confidence, 1e-9)
	assert.Equal(t, 0.5, out.SubMetrics[MetricTrust])
}

func TestAllocator_ClampsExposure(t *testing.T) {
	hot := run(t, map[string]engine.Upstream{
		zscore.EngineID: {Output: zscoreOutput(8, 100, contracts.RegimeAutumn), Fresh: true},
	})
	assert.InDelta(t, 10.0, hot.Primary.Value, 1e-9)
	assert.Equal(t, contracts.SignalRiskOff, hot.Signal)

	cold := run(t, map[string]engine.Upstream{
		zscore.EngineID: {Output: zscoreOutput(-8, 100, contracts.RegimeWinter), Fresh: true},
	})
	assert.InDelta(t, 100.0, cold.Primary.Value, 1e-9)
}

func TestAllocator_NoInputs(t *testing.T) {
	out := run(t, nil)

	assert.Equal(t, contracts.SignalNeutral, out.Signal)
	assert.Equal(t, 0.0, out.Confidence)
}

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	bad := DefaultConfig()
	bad.MinExposure = 0.8
	assert.Error(t, bad.Validate())

	bad = DefaultConfig()
	bad.RiskOffBelow = 0.9
	assert.Error(t, bad.Validate())

	bad = DefaultConfig()
	bad.CVaRBudget = 0
	assert.Error(t, bad.Validate())
}
