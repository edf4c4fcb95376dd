package engine

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/F1J197/flow-oracle-sub007/internal/contracts"
	"github.com/F1J197/flow-oracle-sub007/pkg/logger"
)

// Entry is one registered engine
type Entry struct {
	Config contracts.EngineConfig
	Engine Engine
	Seq    int // 등록 순서
}

// Plan is an immutable execution plan built from the registry.
// It is rebuilt on every registration and read without locks during execution.
type Plan struct {
	Tiers   [][]string
	Err     error // ConfigurationError(s) found while tiering
	entries map[string]Entry
	tierOf  map[string]int
}

// Entry returns the registration for id
func (p *Plan) Entry(id string) (Entry, bool) {
	e, ok := p.entries[id]
	return e, ok
}

// TierOf returns the tier index of id, -1 when unknown
func (p *Plan) TierOf(id string) int {
	t, ok := p.tierOf[id]
	if !ok {
		return -1
	}
	return t
}

// Len returns the number of engines in the plan
func (p *Plan) Len() int {
	return len(p.entries)
}

// IDs returns all engine ids in tier order
func (p *Plan) IDs() []string {
	ids := make([]string, 0, len(p.entries))
	for _, tier := range p.Tiers {
		ids = append(ids, tier...)
	}
	return ids
}

// Registry holds engine configurations and instances
// ⭐ SSOT: 시작 시 한 번 생성되어 참조로 전달됨 (전역 싱글톤 없음)
type Registry struct {
	mu      sync.Mutex
	entries map[string]*Entry
	seq     int
	plan    atomic.Pointer[Plan]
	logger  *logger.Logger
}

// NewRegistry creates an empty registry
func NewRegistry(log *logger.Logger) *Registry {
	r := &Registry{
		entries: make(map[string]*Entry),
		logger:  log,
	}
	r.plan.Store(&Plan{entries: map[string]Entry{}, tierOf: map[string]int{}})
	return r
}

// Register inserts or replaces an engine.
// Replacing keeps the original registration order and logs a warning.
// A dependency cycle completed by this registration is returned as a
// ConfigurationError; the engine stays registered in a best-effort tier.
func (r *Registry) Register(cfg contracts.EngineConfig, eng Engine) error {
	if cfg.ID == "" {
		return &ConfigurationError{Kind: ConfigErrInvalid, Detail: "engine id is required"}
	}
	if eng == nil {
		return &ConfigurationError{Kind: ConfigErrInvalid, IDs: []string{cfg.ID}, Detail: "engine is nil"}
	}
	if cfg.RefreshInterval < 0 {
		return &ConfigurationError{Kind: ConfigErrInvalid, IDs: []string{cfg.ID}, Detail: "negative refresh interval"}
	}
	for _, dep := range cfg.DependsOn {
		if dep == cfg.ID {
			return &ConfigurationError{Kind: ConfigErrCycle, IDs: []string{cfg.ID}, Detail: "engine depends on itself"}
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	cfg = cfg.Clone()
	if existing, ok := r.entries[cfg.ID]; ok {
		r.logger.WithFields(map[string]interface{}{
			"engine": cfg.ID,
			"seq":    existing.Seq,
		}).Warn("Replacing registered engine")
		existing.Config = cfg
		existing.Engine = eng
	} else {
		r.entries[cfg.ID] = &Entry{Config: cfg, Engine: eng, Seq: r.seq}
		r.seq++
	}

	plan := r.buildPlan()
	r.plan.Store(plan)

	if IsConfigurationError(plan.Err, ConfigErrCycle) {
		return fmt.Errorf("register %s: %w", cfg.ID, plan.Err)
	}
	return nil
}

// buildPlan must be called with r.mu held
func (r *Registry) buildPlan() *Plan {
	ordered := make([]*Entry, 0, len(r.entries))
	for _, e := range r.entries {
		ordered = append(ordered, e)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Seq < ordered[j].Seq })

	cfgs := make([]contracts.EngineConfig, len(ordered))
	entries := make(map[string]Entry, len(ordered))
	for i, e := range ordered {
		cfgs[i] = e.Config
		entries[e.Config.ID] = *e
	}

	tiers, err := ComputeExecutionTiers(cfgs)

	tierOf := make(map[string]int, len(entries))
	for i, tier := range tiers {
		for _, id := range tier {
			tierOf[id] = i
		}
	}

	return &Plan{
		Tiers:   tiers,
		Err:     err,
		entries: entries,
		tierOf:  tierOf,
	}
}

// Plan returns the current execution plan
func (r *Registry) Plan() *Plan {
	return r.plan.Load()
}

// Validate returns the configuration errors of the current plan
func (r *Registry) Validate() error {
	return r.Plan().Err
}

// Configs returns all configurations in registration order
func (r *Registry) Configs() []contracts.EngineConfig {
	plan := r.Plan()

	entries := make([]Entry, 0, plan.Len())
	for _, e := range plan.entries {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Seq < entries[j].Seq })

	cfgs := make([]contracts.EngineConfig, len(entries))
	for i, e := range entries {
		cfgs[i] = e.Config.Clone()
	}
	return cfgs
}

// Config returns a single configuration
func (r *Registry) Config(id string) (contracts.EngineConfig, error) {
	e, ok := r.Plan().Entry(id)
	if !ok {
		return contracts.EngineConfig{}, fmt.Errorf("%w: %s", ErrEngineNotFound, id)
	}
	return e.Config.Clone(), nil
}
