package brain_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/F1J197/flow-oracle-sub007/internal/allocator"
	"github.com/F1J197/flow-oracle-sub007/internal/brain"
	"github.com/F1J197/flow-oracle-sub007/internal/cache"
	"github.com/F1J197/flow-oracle-sub007/internal/contracts"
	"github.com/F1J197/flow-oracle-sub007/internal/engine"
	"github.com/F1J197/flow-oracle-sub007/internal/engineconfig"
	"github.com/F1J197/flow-oracle-sub007/internal/provider"
	"github.com/F1J197/flow-oracle-sub007/internal/zscore"
	"github.com/F1J197/flow-oracle-sub007/pkg/logger"
)

type brokenEngine struct{}

func (brokenEngine) ValidateData(*contracts.Snapshot) bool { return true }

func (brokenEngine) Calculate(context.Context, engine.Input) (*contracts.EngineOutput, error) {
	return nil, errors.New("all sources unreachable")
}

// 전체 파이프라인: fixture → integrity → zscore/tail_risk → allocator
func TestEndToEnd_IntegrityFailureFallsBackToLastKnownGood(t *testing.T) {
	now := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	log := logger.NewNop()

	snap, err := provider.NewFixtureProvider(11, log, provider.WithClock(clock)).GetSnapshot(context.Background())
	require.NoError(t, err)

	resultCache := cache.New(time.Hour, log, cache.WithClock(clock))
	registry := engine.NewRegistry(log)
	_, err = engineconfig.Build(engineconfig.Default(), registry, resultCache, log)
	require.NoError(t, err)

	orch := brain.NewOrchestrator(registry, resultCache, brain.Options{Now: clock}, log)

	first, err := orch.ExecuteAll(context.Background(), snap)
	require.NoError(t, err)
	require.Len(t, first, 4)
	for id, res := range first {
		assert.True(t, res.Success, "%s: %s", id, res.Error)
	}
	trust := first[engine.IntegrityEngineID].Output.Primary.Value

	// integrity 엔진 교체 → 실패
	cfg, err := registry.Config(engine.IntegrityEngineID)
	require.NoError(t, err)
	require.NoError(t, registry.Register(cfg, brokenEngine{}))

	second, err := orch.ExecuteAll(context.Background(), snap)
	require.NoError(t, err)

	assert.False(t, second[engine.IntegrityEngineID].Success)
	assert.Equal(t, contracts.ErrorKindComputation, second[engine.IntegrityEngineID].ErrorKind)
	require.True(t, second[zscore.EngineID].Success, second[zscore.EngineID].Error)
	require.True(t, second[allocator.EngineID].Success, second[allocator.EngineID].Error)

	// 같은 스냅샷과 last-known-good trust → 같은 composite
	assert.InDelta(t, first[zscore.EngineID].Output.Primary.Value, second[zscore.EngineID].Output.Primary.Value, 1e-9)

	status := orch.Status()
	assert.Equal(t, 4, status.Total)
	assert.Equal(t, 1, status.Failed)
	assert.Equal(t, 3, status.Completed)

	latest, err := orch.Latest(engine.IntegrityEngineID)
	require.NoError(t, err)
	assert.True(t, latest.Stale)
	assert.False(t, latest.Success)
	assert.Equal(t, trust, latest.Output.Primary.Value)
}
