package brain

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/F1J197/flow-oracle-sub007/internal/cache"
	"github.com/F1J197/flow-oracle-sub007/internal/contracts"
	"github.com/F1J197/flow-oracle-sub007/internal/engine"
	"github.com/F1J197/flow-oracle-sub007/pkg/logger"
)

var (
	// ErrNoResult is returned by Latest when an engine has neither a result nor a last-known-good output
	ErrNoResult = errors.New("no result available")

	// ErrCycleRunning is returned by ExecuteAll while another cycle is in progress
	ErrCycleRunning = errors.New("execution cycle already running")
)

// Options tunes the orchestrator
type Options struct {
	DefaultTimeout time.Duration // RefreshInterval이 0인 엔진의 실행 제한
	CacheTTL       time.Duration // last-known-good 보존 기간
	EventBuffer    int
	Now            func() time.Time
	Recorder       Recorder
	Mirror         Mirror
}

func (o *Options) setDefaults() {
	if o.DefaultTimeout <= 0 {
		o.DefaultTimeout = 30 * time.Second
	}
	if o.CacheTTL <= 0 {
		o.CacheTTL = time.Hour
	}
	if o.EventBuffer <= 0 {
		o.EventBuffer = 8
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Recorder == nil {
		o.Recorder = nopRecorder{}
	}
}

// OutputKey is the result cache key of an engine's last-known-good output
func OutputKey(engineID string) string {
	return "engine:" + engineID
}

// Orchestrator runs registered engines tier by tier
// ⭐ SSOT: 엔진 실행 조율은 여기서만
type Orchestrator struct {
	registry *engine.Registry
	cache    *cache.Cache
	opts     Options
	logger   *logger.Logger

	mu        sync.RWMutex
	states    map[string]State
	results   map[string]*contracts.ExecutionResult
	gates     map[string]*gate
	lastCycle *CycleEvent

	busy atomic.Bool

	subMu sync.Mutex
	subs  map[int]chan CycleEvent
	subID int
}

// NewOrchestrator creates a new orchestrator over a registry and result cache
func NewOrchestrator(registry *engine.Registry, resultCache *cache.Cache, opts Options, log *logger.Logger) *Orchestrator {
	opts.setDefaults()
	return &Orchestrator{
		registry: registry,
		cache:    resultCache,
		opts:     opts,
		logger:   log,
		states:   make(map[string]State),
		results:  make(map[string]*contracts.ExecutionResult),
		gates:    make(map[string]*gate),
		subs:     make(map[int]chan CycleEvent),
	}
}

// cycle carries the outputs produced so far in one ExecuteAll
type cycle struct {
	id    string
	mu    sync.Mutex
	fresh map[string]*contracts.ExecutionResult
}

func (c *cycle) put(res *contracts.ExecutionResult) {
	c.mu.Lock()
	c.fresh[res.EngineID] = res
	c.mu.Unlock()
}

func (c *cycle) get(id string) (*contracts.ExecutionResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	res, ok := c.fresh[id]
	return res, ok
}

// ExecuteAll runs every registered engine, tiers in sequence and engines
// within a tier concurrently. A failing engine never aborts its siblings or
// later tiers. Canceling ctx stops scheduling further tiers; the returned map
// then holds the results produced so far together with ctx.Err().
// Only one cycle runs at a time; a concurrent call returns ErrCycleRunning.
func (o *Orchestrator) ExecuteAll(ctx context.Context, snap *contracts.Snapshot) (map[string]*contracts.ExecutionResult, error) {
	if snap == nil {
		return nil, fmt.Errorf("execute all: snapshot is nil")
	}

	if !o.busy.CompareAndSwap(false, true) {
		return nil, ErrCycleRunning
	}
	defer o.busy.Store(false)

	plan := o.registry.Plan()
	cyc := &cycle{id: uuid.New().String(), fresh: make(map[string]*contracts.ExecutionResult, plan.Len())}
	startedAt := o.opts.Now()
	log := o.logger.WithCycle(cyc.id)

	// 사이클 시작 시 모든 엔진 PENDING으로 초기화
	o.mu.Lock()
	for _, id := range plan.IDs() {
		o.states[id] = StatePending
	}
	o.mu.Unlock()

	log.WithFields(map[string]interface{}{
		"engines": plan.Len(),
		"tiers":   len(plan.Tiers),
	}).Info("Starting execution cycle")

	var cycleErr error
	for i, tier := range plan.Tiers {
		if err := ctx.Err(); err != nil {
			log.WithField("tier", i).Warn("Execution cycle canceled, skipping remaining tiers")
			cycleErr = err
			break
		}

		var g errgroup.Group
		for _, id := range tier {
			g.Go(func() error {
				cyc.put(o.run(id, snap, cyc))
				return nil
			})
		}
		_ = g.Wait()
	}

	results := make(map[string]*contracts.ExecutionResult, len(cyc.fresh))
	event := CycleEvent{
		CycleID:     cyc.id,
		StartedAt:   startedAt,
		CompletedAt: o.opts.Now(),
		Canceled:    cycleErr != nil,
	}
	cyc.mu.Lock()
	for id, res := range cyc.fresh {
		results[id] = res
		if res.Success {
			event.Succeeded++
		} else {
			event.Failed++
		}
	}
	cyc.mu.Unlock()
	event.Results = results

	o.mu.Lock()
	o.lastCycle = &event
	o.mu.Unlock()

	elapsed := event.CompletedAt.Sub(startedAt)
	o.opts.Recorder.ObserveCycle(elapsed, event.Succeeded, event.Failed)
	o.publish(event)

	log.WithFields(map[string]interface{}{
		"succeeded": event.Succeeded,
		"failed":    event.Failed,
		"canceled":  event.Canceled,
		"duration":  elapsed,
	}).Info("Execution cycle completed")

	return results, cycleErr
}

// ExecuteOne runs a single engine out of band. A request arriving while the
// engine is running is coalesced into one follow-up run.
func (o *Orchestrator) ExecuteOne(ctx context.Context, id string, snap *contracts.Snapshot) (*contracts.ExecutionResult, error) {
	if _, ok := o.registry.Plan().Entry(id); !ok {
		return nil, fmt.Errorf("%w: %s", engine.ErrEngineNotFound, id)
	}
	if snap == nil {
		return nil, fmt.Errorf("execute %s: snapshot is nil", id)
	}

	done := make(chan *contracts.ExecutionResult, 1)
	go func() { done <- o.run(id, snap, nil) }()

	select {
	case res := <-done:
		return res, nil
	case <-ctx.Done():
		// 실행 중인 작업은 계속 진행되어 결과 테이블에 기록됨
		return nil, ctx.Err()
	}
}

// Busy reports whether an ExecuteAll cycle is in progress
func (o *Orchestrator) Busy() bool {
	return o.busy.Load()
}

// Registry returns the registry the orchestrator executes
func (o *Orchestrator) Registry() *engine.Registry {
	return o.registry
}

// settledNow is returned by runOnce when no Calculate goroutine is left behind
var settledNow = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// runOnce executes one engine and records the result. The returned channel is
// closed once the engine's Calculate has returned; after a timeout that is
// later than the result.
func (o *Orchestrator) runOnce(id string, snap *contracts.Snapshot, cyc *cycle) (*contracts.ExecutionResult, <-chan struct{}) {
	start := o.opts.Now()
	log := o.logger.WithEngine(id)

	entry, ok := o.registry.Plan().Entry(id)
	if !ok {
		return o.finish(id, start, nil, fmt.Errorf("%w: %s", engine.ErrEngineNotFound, id), contracts.ErrorKindNotFound), settledNow
	}

	o.setState(id, StateRunning)

	if missing := missingIndicators(entry.Config, snap); len(missing) > 0 {
		err := fmt.Errorf("%w: missing required indicators %v", engine.ErrValidationFailed, missing)
		return o.finish(id, start, nil, err, contracts.ErrorKindValidation), settledNow
	}

	valid, err := safeValidate(entry.Engine, snap)
	if err != nil {
		return o.finish(id, start, nil, err, contracts.ErrorKindComputation), settledNow
	}
	if !valid {
		return o.finish(id, start, nil, engine.ErrValidationFailed, contracts.ErrorKindValidation), settledNow
	}

	in := engine.Input{
		Snapshot: snap,
		Upstream: o.resolveUpstream(entry.Config, cyc),
		Now:      start,
	}

	timeout := o.timeoutFor(entry.Config)
	// 사이클 취소와 무관하게 진행 중인 엔진은 끝까지 실행
	runCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	type outcome struct {
		out *contracts.EngineOutput
		err error
	}
	done := make(chan outcome, 1)
	settled := make(chan struct{})
	go func() {
		out, err := safeCalculate(runCtx, entry.Engine, in)
		close(settled)
		done <- outcome{out: out, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return o.finish(id, start, nil, res.err, contracts.ErrorKindComputation), settled
		}
		if res.out == nil {
			return o.finish(id, start, nil, fmt.Errorf("%w: nil output", engine.ErrComputation), contracts.ErrorKindComputation), settled
		}
		return o.finish(id, start, o.normalize(res.out, start), nil, contracts.ErrorKindNone), settled

	case <-runCtx.Done():
		// 결과는 버리지만 엔진 내부 상태 변경은 goroutine 종료 시점까지 반영될 수 있음
		log.WithField("timeout", timeout).Warn("Engine timed out, late result will be discarded")
		return o.finish(id, start, nil, fmt.Errorf("%w after %s", engine.ErrTimeout, timeout), contracts.ErrorKindTimeout), settled
	}
}

// timeoutFor is the run time box of an engine
func (o *Orchestrator) timeoutFor(cfg contracts.EngineConfig) time.Duration {
	if cfg.RefreshInterval > 0 {
		return cfg.RefreshInterval
	}
	return o.opts.DefaultTimeout
}

func (o *Orchestrator) normalize(out *contracts.EngineOutput, now time.Time) *contracts.EngineOutput {
	out = out.Clone()
	if out.ComputedAt.IsZero() {
		out.ComputedAt = now
	}
	if !out.Signal.Valid() {
		out.Signal = contracts.SignalNeutral
	}
	out.Confidence = contracts.ClampConfidence(out.Confidence)
	return out
}

// finish records a terminal result, updates the last-known-good cache and state
func (o *Orchestrator) finish(id string, start time.Time, out *contracts.EngineOutput, err error, kind contracts.ErrorKind) *contracts.ExecutionResult {
	now := o.opts.Now()
	res := &contracts.ExecutionResult{
		EngineID:    id,
		Output:      out,
		Success:     err == nil,
		ErrorKind:   kind,
		Elapsed:     now.Sub(start),
		CompletedAt: now,
	}

	log := o.logger.WithEngine(id)
	if err != nil {
		res.Error = err.Error()
		log.WithError(err).WithFields(map[string]interface{}{
			"kind":    kind,
			"elapsed": res.Elapsed,
		}).Warn("Engine run failed")
	} else {
		o.cache.Set(OutputKey(id), out, o.opts.CacheTTL)
		if o.opts.Mirror != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			if mErr := o.opts.Mirror.SaveOutput(ctx, id, out); mErr != nil {
				log.WithError(mErr).Warn("Failed to mirror engine output")
			}
			cancel()
		}
		log.WithFields(map[string]interface{}{
			"signal":     out.Signal,
			"confidence": out.Confidence,
			"elapsed":    res.Elapsed,
		}).Debug("Engine run succeeded")
	}

	o.mu.Lock()
	if kind != contracts.ErrorKindNotFound {
		o.results[id] = res
		if res.Success {
			o.states[id] = StateSucceeded
		} else {
			o.states[id] = StateFailed
		}
	}
	o.mu.Unlock()

	o.opts.Recorder.ObserveEngine(id, res.Elapsed, kind)
	return res
}

// resolveUpstream gives each declared dependency the fresh output of this
// cycle, else the last-known-good output, else nothing.
func (o *Orchestrator) resolveUpstream(cfg contracts.EngineConfig, cyc *cycle) map[string]engine.Upstream {
	upstream := make(map[string]engine.Upstream, len(cfg.DependsOn))
	for _, dep := range cfg.DependsOn {
		if cyc != nil {
			if res, ok := cyc.get(dep); ok && res.Success {
				upstream[dep] = engine.Upstream{Output: res.Output, Fresh: true, ComputedAt: res.Output.ComputedAt}
				continue
			}
		} else {
			o.mu.RLock()
			res, ok := o.results[dep]
			o.mu.RUnlock()
			if ok && res.Success {
				upstream[dep] = engine.Upstream{Output: res.Output, Fresh: true, ComputedAt: res.Output.ComputedAt}
				continue
			}
		}

		if out, ok := o.lastKnownGood(dep); ok {
			upstream[dep] = engine.Upstream{Output: out, Fresh: false, ComputedAt: out.ComputedAt}
			o.logger.WithFields(map[string]interface{}{
				"engine":     cfg.ID,
				"dependency": dep,
				"as_of":      out.ComputedAt,
			}).Info("Using last-known-good dependency output")
		}
	}
	return upstream
}

func (o *Orchestrator) lastKnownGood(id string) (*contracts.EngineOutput, bool) {
	if v, ok := o.cache.Get(OutputKey(id)); ok {
		if out, ok := v.(*contracts.EngineOutput); ok {
			return out, true
		}
	}

	if o.opts.Mirror == nil {
		return nil, false
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	out, found, err := o.opts.Mirror.LoadOutput(ctx, id)
	if err != nil {
		o.logger.WithEngine(id).WithError(err).Warn("Failed to load mirrored output")
		return nil, false
	}
	if !found {
		return nil, false
	}
	o.cache.Set(OutputKey(id), out, o.opts.CacheTTL)
	return out, true
}

// Latest returns the most recent result of an engine. When the latest run
// failed (or none happened yet) the last-known-good output is returned with
// Stale set.
func (o *Orchestrator) Latest(id string) (*contracts.ExecutionResult, error) {
	if _, ok := o.registry.Plan().Entry(id); !ok {
		return nil, fmt.Errorf("%w: %s", engine.ErrEngineNotFound, id)
	}

	o.mu.RLock()
	res, ok := o.results[id]
	o.mu.RUnlock()

	if ok && res.Success {
		cp := *res
		return &cp, nil
	}

	out, found := o.lastKnownGood(id)
	if !ok && !found {
		return nil, fmt.Errorf("%w: %s", ErrNoResult, id)
	}

	cp := contracts.ExecutionResult{EngineID: id}
	if ok {
		cp = *res
	}
	if found {
		cp.Output = out
		cp.Stale = true
	}
	return &cp, nil
}

// Results returns a copy of the latest result table
func (o *Orchestrator) Results() map[string]*contracts.ExecutionResult {
	o.mu.RLock()
	defer o.mu.RUnlock()

	out := make(map[string]*contracts.ExecutionResult, len(o.results))
	for id, res := range o.results {
		cp := *res
		out[id] = &cp
	}
	return out
}

// Status returns aggregate execution counts over registered engines
func (o *Orchestrator) Status() Status {
	plan := o.registry.Plan()

	o.mu.RLock()
	defer o.mu.RUnlock()

	st := Status{
		Total:  plan.Len(),
		States: make(map[string]State, plan.Len()),
	}
	for _, id := range plan.IDs() {
		state, ok := o.states[id]
		if !ok {
			state = StatePending
		}
		st.States[id] = state
		switch state {
		case StatePending:
			st.Pending++
		case StateRunning:
			st.Running++
		case StateSucceeded:
			st.Completed++
		case StateFailed:
			st.Failed++
		}
	}
	if o.lastCycle != nil {
		st.LastCycleID = o.lastCycle.CycleID
		st.LastCycleAt = o.lastCycle.CompletedAt
	}
	return st
}

// Subscribe returns a channel receiving one CycleEvent per ExecuteAll and a
// cancel func. Slow subscribers miss events rather than block the cycle.
func (o *Orchestrator) Subscribe() (<-chan CycleEvent, func()) {
	ch := make(chan CycleEvent, o.opts.EventBuffer)

	o.subMu.Lock()
	id := o.subID
	o.subID++
	o.subs[id] = ch
	o.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			o.subMu.Lock()
			delete(o.subs, id)
			o.subMu.Unlock()
			close(ch)
		})
	}
}

func (o *Orchestrator) publish(event CycleEvent) {
	o.subMu.Lock()
	defer o.subMu.Unlock()

	for id, ch := range o.subs {
		select {
		case ch <- event:
		default:
			o.logger.WithField("subscriber", id).Warn("Dropping cycle event for slow subscriber")
		}
	}
}

func (o *Orchestrator) setState(id string, state State) {
	o.mu.Lock()
	o.states[id] = state
	o.mu.Unlock()
}

func missingIndicators(cfg contracts.EngineConfig, snap *contracts.Snapshot) []string {
	if cfg.RequiresAll() {
		if len(snap.Series) == 0 {
			return []string{contracts.WildcardIndicator}
		}
		return nil
	}

	var missing []string
	for _, id := range cfg.Requires {
		if !snap.Has(id) {
			missing = append(missing, id)
		}
	}
	return missing
}

func safeValidate(eng engine.Engine, snap *contracts.Snapshot) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic in ValidateData: %v", engine.ErrComputation, r)
		}
	}()
	return eng.ValidateData(snap), nil
}

func safeCalculate(ctx context.Context, eng engine.Engine, in engine.Input) (out *contracts.EngineOutput, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v\n%s", engine.ErrComputation, r, debug.Stack())
		}
	}()

	out, err = eng.Calculate(ctx, in)
	if err != nil && !errors.Is(err, engine.ErrComputation) {
		err = fmt.Errorf("%w: %w", engine.ErrComputation, err)
	}
	return out, err
}
