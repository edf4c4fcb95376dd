package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/F1J197/flow-oracle-sub007/internal/contracts"
	"github.com/F1J197/flow-oracle-sub007/pkg/logger"
)

type stubEngine struct {
	name string
}

func (s *stubEngine) ValidateData(*contracts.Snapshot) bool { return true }

func (s *stubEngine) Calculate(context.Context, Input) (*contracts.EngineOutput, error) {
	return &contracts.EngineOutput{Signal: contracts.SignalNeutral, Analysis: s.name}, nil
}

func TestRegistry_RegisterAndPlan(t *testing.T) {
	r := NewRegistry(logger.NewNop())

	require.NoError(t, r.Register(cfg("zscore", 0, "data_integrity"), &stubEngine{}))
	require.NoError(t, r.Register(cfg("data_integrity", 0), &stubEngine{}))

	// 등록 순서와 관계없이 의존성으로 tier 결정
	plan := r.Plan()
	assert.Equal(t, [][]string{{"data_integrity"}, {"zscore"}}, plan.Tiers)
	assert.Equal(t, 0, plan.TierOf("data_integrity"))
	assert.Equal(t, 1, plan.TierOf("zscore"))
	assert.Equal(t, -1, plan.TierOf("ghost"))
	assert.NoError(t, r.Validate())

	ids := make([]string, 0)
	for _, c := range r.Configs() {
		ids = append(ids, c.ID)
	}
	assert.Equal(t, []string{"zscore", "data_integrity"}, ids, "Configs returns registration order")
}

func TestRegistry_ReplaceKeepsOrder(t *testing.T) {
	r := NewRegistry(logger.NewNop())

	require.NoError(t, r.Register(cfg("a", 0), &stubEngine{name: "v1"}))
	require.NoError(t, r.Register(cfg("b", 0), &stubEngine{}))
	require.NoError(t, r.Register(cfg("a", 0), &stubEngine{name: "v2"}))

	plan := r.Plan()
	assert.Equal(t, 2, plan.Len())
	assert.Equal(t, []string{"a", "b"}, plan.Tiers[0])

	entry, ok := plan.Entry("a")
	require.True(t, ok)
	assert.Equal(t, 0, entry.Seq)
	assert.Equal(t, "v2", entry.Engine.(*stubEngine).name)
}

func TestRegistry_PlanIsImmutableSnapshot(t *testing.T) {
	r := NewRegistry(logger.NewNop())
	require.NoError(t, r.Register(cfg("a", 0), &stubEngine{}))

	before := r.Plan()
	require.NoError(t, r.Register(cfg("b", 0, "a"), &stubEngine{}))

	assert.Equal(t, 1, before.Len(), "previous plan is unaffected by later registrations")
	assert.Equal(t, 2, r.Plan().Len())
}

func TestRegistry_RegisterInvalid(t *testing.T) {
	r := NewRegistry(logger.NewNop())

	err := r.Register(contracts.EngineConfig{}, &stubEngine{})
	assert.True(t, IsConfigurationError(err, ConfigErrInvalid))

	err = r.Register(cfg("a", 0), nil)
	assert.True(t, IsConfigurationError(err, ConfigErrInvalid))

	err = r.Register(cfg("self", 0, "self"), &stubEngine{})
	assert.True(t, IsConfigurationError(err, ConfigErrCycle))

	assert.Equal(t, 0, r.Plan().Len())
}

func TestRegistry_CycleDetectedAtRegistration(t *testing.T) {
	r := NewRegistry(logger.NewNop())

	require.NoError(t, r.Register(cfg("a", 0, "b"), &stubEngine{}))
	err := r.Register(cfg("b", 0, "a"), &stubEngine{})
	require.Error(t, err)
	assert.True(t, IsConfigurationError(err, ConfigErrCycle))

	// 등록은 유지되고 best-effort tier에 배치
	assert.Equal(t, 2, r.Plan().Len())
	assert.Error(t, r.Validate())
}

func TestRegistry_UnknownDependencyReportedByValidate(t *testing.T) {
	r := NewRegistry(logger.NewNop())

	require.NoError(t, r.Register(cfg("zscore", 0, "data_integrity"), &stubEngine{}))
	assert.True(t, IsConfigurationError(r.Validate(), ConfigErrUnknownDependency))

	require.NoError(t, r.Register(cfg("data_integrity", 0), &stubEngine{}))
	assert.NoError(t, r.Validate())
}

func TestRegistry_Config(t *testing.T) {
	r := NewRegistry(logger.NewNop())
	require.NoError(t, r.Register(contracts.EngineConfig{ID: "a", Requires: []string{"btc"}}, &stubEngine{}))

	c, err := r.Config("a")
	require.NoError(t, err)
	c.Requires[0] = "mutated"

	again, _ := r.Config("a")
	assert.Equal(t, "btc", again.Requires[0], "returned configs are copies")

	_, err = r.Config("missing")
	assert.True(t, errors.Is(err, ErrEngineNotFound))
}
