package engineconfig

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/F1J197/flow-oracle-sub007/internal/cache"
	"github.com/F1J197/flow-oracle-sub007/internal/engine"
	"github.com/F1J197/flow-oracle-sub007/pkg/logger"
)

func TestDefault_Valid(t *testing.T) {
	require.NoError(t, Validate(Default()))
}

func TestLoad_RepositoryManifestMatchesDefault(t *testing.T) {
	path := "../../config/engines.yaml"
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Skip("config file not found")
	}

	m, data, err := Load(path)
	require.NoError(t, err)
	assert.NotEmpty(t, data)

	want, err := Hash(Default())
	require.NoError(t, err)
	got, err := Hash(m)
	require.NoError(t, err)
	assert.Equal(t, want, got, "config/engines.yaml drifted from Default()")
}

func TestHash_Deterministic(t *testing.T) {
	h1, err := Hash(Default())
	require.NoError(t, err)
	h2, err := Hash(Default())
	require.NoError(t, err)

	assert.Len(t, h1, 64)
	assert.Equal(t, h1, h2)

	m := Default()
	m.Allocator.ZSensitivity = 0.2
	h3, err := Hash(m)
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3)
}

func TestParse_PartialOverride(t *testing.T) {
	m, err := Parse([]byte(`
version: "2"
zscore:
  extreme_cutoff: 2.5
tail_risk:
  lookback: 100
`))
	require.NoError(t, err)

	assert.Equal(t, "2", m.Version)
	assert.Equal(t, 2.5, m.ZScore.ExtremeCutoff)
	assert.Equal(t, 100, m.TailRisk.Lookback)
	// 지정하지 않은 필드는 기본값 유지
	assert.Equal(t, 0.5, m.ZScore.SignalBand)
	assert.Len(t, m.Engines, 4)
	assert.Equal(t, time.Hour, m.Integrity.FreshnessWindow)
}

func TestParse_UnknownField(t *testing.T) {
	_, err := Parse([]byte("version: \"1\"\nzscore:\n  extrme_cutoff: 3\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "extrme_cutoff")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(m *Manifest)
		field  string
	}{
		{"missing version", func(m *Manifest) { m.Version = "" }, "version"},
		{"no engines", func(m *Manifest) { m.Engines = nil }, "engines"},
		{"unknown engine", func(m *Manifest) { m.Engines[0].ID = "sentiment" }, "engines[0].id"},
		{"duplicate engine", func(m *Manifest) { m.Engines[2].ID = m.Engines[1].ID }, "engines[2].id"},
		{"negative interval", func(m *Manifest) { m.Engines[1].RefreshInterval = -time.Second }, "engines[1].refresh_interval"},
		{"unknown dependency", func(m *Manifest) {
			m.Engines[1].DependsOn = []string{"nope"}
		}, "engines[1].depends_on"},
		{"disabled dependency", func(m *Manifest) { m.Engines[2].Disabled = true }, "engines[3].depends_on"},
		{"window weights", func(m *Manifest) { m.ZScore.Windows[0].Weight = 0.5 }, "zscore"},
		{"integrity thresholds", func(m *Manifest) { m.Integrity.Thresholds.Neutral = 95 }, "integrity"},
		{"tail risk lookback", func(m *Manifest) { m.TailRisk.Lookback = 0 }, "tail_risk"},
		{"allocator exposures", func(m *Manifest) { m.Allocator.MinExposure = 0.9 }, "allocator"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := Default()
			tt.mutate(m)

			err := Validate(m)
			require.Error(t, err)

			var verr ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestLoadOrDefault(t *testing.T) {
	m, err := LoadOrDefault("")
	require.NoError(t, err)
	assert.Equal(t, Default(), m)

	_, err = LoadOrDefault(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestBuild(t *testing.T) {
	reg := engine.NewRegistry(logger.NewNop())
	memo := cache.New(time.Hour, logger.NewNop())

	built, err := Build(Default(), reg, memo, logger.NewNop())
	require.NoError(t, err)

	assert.NotNil(t, built.Integrity)
	assert.NotNil(t, built.ZScore)
	assert.NotNil(t, built.TailRisk)
	assert.NotNil(t, built.Allocator)

	plan := reg.Plan()
	require.NoError(t, plan.Err)
	assert.Equal(t, [][]string{
		{"data_integrity"},
		{"zscore", "tail_risk"},
		{"allocator"},
	}, plan.Tiers)
}

func TestBuild_Disabled(t *testing.T) {
	m := Default()
	m.Engines[2].Disabled = true // tail_risk
	m.Engines[3].Disabled = true // allocator

	reg := engine.NewRegistry(logger.NewNop())
	built, err := Build(m, reg, nil, logger.NewNop())
	require.NoError(t, err)

	assert.Nil(t, built.TailRisk)
	assert.Nil(t, built.Allocator)
	assert.Equal(t, 2, reg.Plan().Len())
}
