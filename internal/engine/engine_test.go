package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/F1J197/flow-oracle-sub007/internal/contracts"
)

func TestInput_Trust(t *testing.T) {
	assert.Equal(t, 1.0, Input{}.Trust(), "no integrity output means full trust")

	in := Input{Upstream: map[string]Upstream{
		IntegrityEngineID: {Output: &contracts.EngineOutput{Primary: contracts.Metric{Value: 72}}},
	}}
	assert.InDelta(t, 0.72, in.Trust(), 1e-9)

	in.Upstream[IntegrityEngineID] = Upstream{Output: &contracts.EngineOutput{Primary: contracts.Metric{Value: 140}}}
	assert.Equal(t, 1.0, in.Trust())
}

func TestInput_CurrentValue(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	snap := contracts.NewSnapshot(now, &contracts.IndicatorSeries{
		ID:     "btc",
		Points: []contracts.Point{{Time: now, Value: 500}},
	})

	in := Input{Snapshot: snap}
	v, ok := in.CurrentValue("btc")
	assert.True(t, ok)
	assert.Equal(t, 500.0, v)

	healed := &contracts.EngineOutput{}
	healed.SetSubMetric(ConsensusKey("btc"), 100.5)
	in.Upstream = map[string]Upstream{IntegrityEngineID: {Output: healed, Fresh: true, ComputedAt: now}}

	v, ok = in.CurrentValue("btc")
	assert.True(t, ok)
	assert.Equal(t, 100.5, v, "consensus published by the integrity engine wins")

	_, ok = in.CurrentValue("eth")
	assert.False(t, ok)
}

func TestInput_CurrentValue_StaleConsensus(t *testing.T) {
	now := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	snap := contracts.NewSnapshot(now, &contracts.IndicatorSeries{
		ID: "btc",
		Points: []contracts.Point{
			{Time: now.Add(-24 * time.Hour), Value: 100},
			{Time: now, Value: 200},
		},
	})

	stale := &contracts.EngineOutput{}
	stale.SetSubMetric(ConsensusKey("btc"), 100)

	tests := []struct {
		name     string
		upstream Upstream
		want     float64
	}{
		{
			name:     "last-known-good older than the data falls back to the snapshot",
			upstream: Upstream{Output: stale, Fresh: false, ComputedAt: now.Add(-24 * time.Hour)},
			want:     200,
		},
		{
			name:     "last-known-good computed on the same data is still used",
			upstream: Upstream{Output: stale, Fresh: false, ComputedAt: now},
			want:     100,
		},
		{
			name:     "fresh consensus always wins",
			upstream: Upstream{Output: stale, Fresh: true, ComputedAt: now.Add(-48 * time.Hour)},
			want:     100,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := Input{Snapshot: snap, Upstream: map[string]Upstream{IntegrityEngineID: tt.upstream}}
			v, ok := in.CurrentValue("btc")
			assert.True(t, ok)
			assert.Equal(t, tt.want, v)
		})
	}
}
