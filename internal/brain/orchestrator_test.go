package brain

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/F1J197/flow-oracle-sub007/internal/cache"
	"github.com/F1J197/flow-oracle-sub007/internal/contracts"
	"github.com/F1J197/flow-oracle-sub007/internal/engine"
	"github.com/F1J197/flow-oracle-sub007/pkg/logger"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// funcEngine adapts closures to engine.Engine
type funcEngine struct {
	validate func(*contracts.Snapshot) bool
	calc     func(context.Context, engine.Input) (*contracts.EngineOutput, error)
}

func (f *funcEngine) ValidateData(snap *contracts.Snapshot) bool {
	if f.validate == nil {
		return true
	}
	return f.validate(snap)
}

func (f *funcEngine) Calculate(ctx context.Context, in engine.Input) (*contracts.EngineOutput, error) {
	return f.calc(ctx, in)
}

func constant(value float64) *funcEngine {
	return &funcEngine{calc: func(context.Context, engine.Input) (*contracts.EngineOutput, error) {
		return &contracts.EngineOutput{Primary: contracts.Metric{Value: value}, Signal: contracts.SignalRiskOn, Confidence: 80}, nil
	}}
}

func failing(err error) *funcEngine {
	return &funcEngine{calc: func(context.Context, engine.Input) (*contracts.EngineOutput, error) {
		return nil, err
	}}
}

func testSnapshot() *contracts.Snapshot {
	return contracts.NewSnapshot(testNow, &contracts.IndicatorSeries{
		ID:     "btc",
		Points: []contracts.Point{{Time: testNow, Value: 100}},
	})
}

func newTestOrchestrator(t *testing.T, opts Options) (*Orchestrator, *engine.Registry) {
	t.Helper()
	log := logger.NewNop()
	reg := engine.NewRegistry(log)
	c := cache.New(time.Hour, log)
	return NewOrchestrator(reg, c, opts, log), reg
}

func register(t *testing.T, reg *engine.Registry, id string, eng engine.Engine, deps ...string) {
	t.Helper()
	require.NoError(t, reg.Register(contracts.EngineConfig{ID: id, DependsOn: deps, RefreshInterval: time.Second}, eng))
}

func TestOrchestrator_DependentStartsAfterDependencyTerminal(t *testing.T) {
	o, reg := newTestOrchestrator(t, Options{})

	var aDone atomic.Bool
	var bSawADone atomic.Bool

	register(t, reg, "a", &funcEngine{calc: func(context.Context, engine.Input) (*contracts.EngineOutput, error) {
		time.Sleep(20 * time.Millisecond)
		aDone.Store(true)
		return &contracts.EngineOutput{Signal: contracts.SignalNeutral}, nil
	}})
	register(t, reg, "b", &funcEngine{calc: func(_ context.Context, in engine.Input) (*contracts.EngineOutput, error) {
		bSawADone.Store(aDone.Load())
		up, ok := in.Dependency("a")
		if !ok || !up.Fresh {
			return nil, errors.New("expected fresh upstream a")
		}
		return &contracts.EngineOutput{Signal: contracts.SignalNeutral}, nil
	}}, "a")

	results, err := o.ExecuteAll(context.Background(), testSnapshot())
	require.NoError(t, err)

	assert.True(t, bSawADone.Load(), "b must not start before a is terminal")
	assert.True(t, results["b"].Success, results["b"].Error)
}

func TestOrchestrator_FailureIsolation(t *testing.T) {
	o, reg := newTestOrchestrator(t, Options{})

	register(t, reg, "ok", constant(1))
	register(t, reg, "error", failing(errors.New("division by zero")))
	register(t, reg, "panic", &funcEngine{calc: func(context.Context, engine.Input) (*contracts.EngineOutput, error) {
		panic("boom")
	}})
	register(t, reg, "invalid", &funcEngine{
		validate: func(*contracts.Snapshot) bool { return false },
		calc: func(context.Context, engine.Input) (*contracts.EngineOutput, error) {
			t.Error("Calculate must be skipped when ValidateData is false")
			return nil, nil
		},
	})
	require.NoError(t, reg.Register(contracts.EngineConfig{ID: "slow", RefreshInterval: 20 * time.Millisecond},
		&funcEngine{calc: func(ctx context.Context, _ engine.Input) (*contracts.EngineOutput, error) {
			time.Sleep(200 * time.Millisecond)
			return &contracts.EngineOutput{}, nil
		}}))
	register(t, reg, "downstream", constant(2), "error", "panic", "invalid", "slow")

	results, err := o.ExecuteAll(context.Background(), testSnapshot())
	require.NoError(t, err)
	require.Len(t, results, 6)

	assert.True(t, results["ok"].Success)
	assert.True(t, results["downstream"].Success, "dependents of failed engines still run")

	assert.Equal(t, contracts.ErrorKindComputation, results["error"].ErrorKind)
	assert.Equal(t, contracts.ErrorKindComputation, results["panic"].ErrorKind)
	assert.Contains(t, results["panic"].Error, "boom")
	assert.Equal(t, contracts.ErrorKindValidation, results["invalid"].ErrorKind)
	assert.Equal(t, contracts.ErrorKindTimeout, results["slow"].ErrorKind)
	assert.GreaterOrEqual(t, results["slow"].Elapsed, time.Duration(0))

	status := o.Status()
	assert.Equal(t, 6, status.Total)
	assert.Equal(t, 2, status.Completed)
	assert.Equal(t, 4, status.Failed)
	assert.Equal(t, 0, status.Running)
}

func TestOrchestrator_MissingRequiredIndicator(t *testing.T) {
	o, reg := newTestOrchestrator(t, Options{})

	require.NoError(t, reg.Register(contracts.EngineConfig{ID: "needs_eth", Requires: []string{"eth"}}, constant(1)))
	require.NoError(t, reg.Register(contracts.EngineConfig{ID: "needs_all", Requires: []string{"*"}}, constant(1)))

	results, err := o.ExecuteAll(context.Background(), testSnapshot())
	require.NoError(t, err)

	assert.Equal(t, contracts.ErrorKindValidation, results["needs_eth"].ErrorKind)
	assert.True(t, results["needs_all"].Success)
}

func TestOrchestrator_LastKnownGoodUpstream(t *testing.T) {
	o, reg := newTestOrchestrator(t, Options{})

	register(t, reg, "a", constant(42))

	var seen engine.Upstream
	register(t, reg, "b", &funcEngine{calc: func(_ context.Context, in engine.Input) (*contracts.EngineOutput, error) {
		seen, _ = in.Dependency("a")
		return &contracts.EngineOutput{Signal: contracts.SignalNeutral}, nil
	}}, "a")

	_, err := o.ExecuteAll(context.Background(), testSnapshot())
	require.NoError(t, err)
	require.True(t, seen.Fresh)

	// a 교체 후 실패 → b는 last-known-good 사용
	register(t, reg, "a", failing(errors.New("source down")))
	results, err := o.ExecuteAll(context.Background(), testSnapshot())
	require.NoError(t, err)

	assert.False(t, results["a"].Success)
	assert.True(t, results["b"].Success)
	require.NotNil(t, seen.Output)
	assert.False(t, seen.Fresh)
	assert.Equal(t, 42.0, seen.Output.Primary.Value)

	latest, err := o.Latest("a")
	require.NoError(t, err)
	assert.True(t, latest.Stale)
	assert.False(t, latest.Success)
	assert.Equal(t, 42.0, latest.Output.Primary.Value)
}

func TestOrchestrator_Latest(t *testing.T) {
	o, reg := newTestOrchestrator(t, Options{})
	register(t, reg, "a", constant(7))

	_, err := o.Latest("a")
	assert.ErrorIs(t, err, ErrNoResult)

	_, err = o.Latest("ghost")
	assert.ErrorIs(t, err, engine.ErrEngineNotFound)

	_, err = o.ExecuteAll(context.Background(), testSnapshot())
	require.NoError(t, err)

	latest, err := o.Latest("a")
	require.NoError(t, err)
	assert.False(t, latest.Stale)
	assert.Equal(t, 7.0, latest.Output.Primary.Value)
}

func TestOrchestrator_OutputNormalized(t *testing.T) {
	o, reg := newTestOrchestrator(t, Options{Now: func() time.Time { return testNow }})
	register(t, reg, "a", &funcEngine{calc: func(context.Context, engine.Input) (*contracts.EngineOutput, error) {
		return &contracts.EngineOutput{Signal: "BOGUS", Confidence: 250}, nil
	}})

	results, err := o.ExecuteAll(context.Background(), testSnapshot())
	require.NoError(t, err)

	out := results["a"].Output
	assert.Equal(t, contracts.SignalNeutral, out.Signal)
	assert.Equal(t, 100.0, out.Confidence)
	assert.Equal(t, testNow, out.ComputedAt)
}

func TestOrchestrator_CancelStopsLaterTiers(t *testing.T) {
	o, reg := newTestOrchestrator(t, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	var drained atomic.Bool
	register(t, reg, "a", &funcEngine{calc: func(runCtx context.Context, _ engine.Input) (*contracts.EngineOutput, error) {
		cancel()
		time.Sleep(10 * time.Millisecond)
		// 사이클 취소가 진행 중인 엔진 context로 전파되지 않음
		drained.Store(runCtx.Err() == nil)
		return &contracts.EngineOutput{}, nil
	}})
	register(t, reg, "b", &funcEngine{calc: func(context.Context, engine.Input) (*contracts.EngineOutput, error) {
		t.Error("later tier must not be scheduled after cancellation")
		return nil, nil
	}}, "a")

	results, err := o.ExecuteAll(ctx, testSnapshot())
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, drained.Load())
	assert.Contains(t, results, "a")
	assert.NotContains(t, results, "b")
	assert.Equal(t, StatePending, o.Status().States["b"])
}

func TestOrchestrator_ExecuteOneCoalesces(t *testing.T) {
	o, reg := newTestOrchestrator(t, Options{})

	release := make(chan struct{})
	started := make(chan struct{}, 4)
	var runs, active, maxActive int32

	register(t, reg, "zscore", &funcEngine{calc: func(context.Context, engine.Input) (*contracts.EngineOutput, error) {
		n := atomic.AddInt32(&active, 1)
		for {
			m := atomic.LoadInt32(&maxActive)
			if n <= m || atomic.CompareAndSwapInt32(&maxActive, m, n) {
				break
			}
		}
		run := atomic.AddInt32(&runs, 1)
		started <- struct{}{}
		if run == 1 {
			<-release
		}
		atomic.AddInt32(&active, -1)
		return &contracts.EngineOutput{Primary: contracts.Metric{Value: float64(run)}}, nil
	}})

	snap := testSnapshot()
	first := make(chan *contracts.ExecutionResult, 1)
	go func() {
		res, _ := o.ExecuteOne(context.Background(), "zscore", snap)
		first <- res
	}()
	<-started

	// 실행 중 들어온 요청 3건은 후속 실행 1건으로 병합
	var wg sync.WaitGroup
	followUps := make([]*contracts.ExecutionResult, 3)
	for i := range followUps {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			followUps[i], _ = o.ExecuteOne(context.Background(), "zscore", snap)
		}(i)
	}

	require.Eventually(t, func() bool {
		o.mu.RLock()
		defer o.mu.RUnlock()
		g := o.gates["zscore"]
		return g != nil && g.pending != nil && g.pending.waiters == 3
	}, time.Second, time.Millisecond)

	close(release)
	wg.Wait()

	assert.Equal(t, 1.0, (<-first).Output.Primary.Value)
	for _, res := range followUps {
		require.NotNil(t, res)
		assert.Equal(t, 2.0, res.Output.Primary.Value, "all coalesced requests share one follow-up result")
	}
	assert.Equal(t, int32(2), atomic.LoadInt32(&runs), "exactly one additional run")
	assert.Equal(t, int32(1), atomic.LoadInt32(&maxActive), "runs of one engine never overlap")
}

func TestOrchestrator_ConcurrentCycleRejected(t *testing.T) {
	o, reg := newTestOrchestrator(t, Options{})

	release := make(chan struct{})
	started := make(chan struct{}, 2)
	register(t, reg, "a", &funcEngine{calc: func(context.Context, engine.Input) (*contracts.EngineOutput, error) {
		started <- struct{}{}
		<-release
		return &contracts.EngineOutput{Signal: contracts.SignalNeutral}, nil
	}})

	first := make(chan error, 1)
	go func() {
		_, err := o.ExecuteAll(context.Background(), testSnapshot())
		first <- err
	}()
	<-started

	results, err := o.ExecuteAll(context.Background(), testSnapshot())
	assert.ErrorIs(t, err, ErrCycleRunning)
	assert.Nil(t, results)
	assert.True(t, o.Busy(), "rejected call must not clear the running cycle's flag")
	assert.Equal(t, StateRunning, o.Status().States["a"], "rejected call must not reset states")

	close(release)
	require.NoError(t, <-first)
	assert.False(t, o.Busy())

	results, err = o.ExecuteAll(context.Background(), testSnapshot())
	require.NoError(t, err)
	assert.True(t, results["a"].Success)
}

// 타임아웃된 실행이 끝나기 전에는 다음 실행이 시작되지 않음
func TestOrchestrator_TimedOutRunHoldsGate(t *testing.T) {
	o, reg := newTestOrchestrator(t, Options{})

	release := make(chan struct{})
	var runs, active, maxActive int32
	require.NoError(t, reg.Register(contracts.EngineConfig{ID: "stateful", RefreshInterval: 200 * time.Millisecond},
		&funcEngine{calc: func(context.Context, engine.Input) (*contracts.EngineOutput, error) {
			n := atomic.AddInt32(&active, 1)
			if n > atomic.LoadInt32(&maxActive) {
				atomic.StoreInt32(&maxActive, n)
			}
			run := atomic.AddInt32(&runs, 1)
			if run == 1 {
				<-release // context를 무시하는 엔진
			}
			atomic.AddInt32(&active, -1)
			return &contracts.EngineOutput{Primary: contracts.Metric{Value: float64(run)}}, nil
		}}))

	snap := testSnapshot()
	res, err := o.ExecuteOne(context.Background(), "stateful", snap)
	require.NoError(t, err)
	assert.Equal(t, contracts.ErrorKindTimeout, res.ErrorKind)

	second := make(chan *contracts.ExecutionResult, 1)
	go func() {
		r, _ := o.ExecuteOne(context.Background(), "stateful", snap)
		second <- r
	}()

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&runs), "next run waits for the abandoned one")

	close(release)
	r := <-second
	require.NotNil(t, r)
	assert.True(t, r.Success, r.Error)
	assert.Equal(t, 2.0, r.Output.Primary.Value)
	assert.Equal(t, int32(1), atomic.LoadInt32(&maxActive), "runs of one engine never overlap")
}

func TestOrchestrator_ExecuteOneUnknown(t *testing.T) {
	o, _ := newTestOrchestrator(t, Options{})

	_, err := o.ExecuteOne(context.Background(), "ghost", testSnapshot())
	assert.ErrorIs(t, err, engine.ErrEngineNotFound)
}

func TestOrchestrator_SubscribeCycleEvent(t *testing.T) {
	o, reg := newTestOrchestrator(t, Options{})
	register(t, reg, "a", constant(1))
	register(t, reg, "b", failing(errors.New("x")))

	events, unsubscribe := o.Subscribe()
	defer unsubscribe()

	_, err := o.ExecuteAll(context.Background(), testSnapshot())
	require.NoError(t, err)

	select {
	case ev := <-events:
		assert.NotEmpty(t, ev.CycleID)
		assert.Equal(t, 1, ev.Succeeded)
		assert.Equal(t, 1, ev.Failed)
		assert.Len(t, ev.Results, 2)
		assert.Equal(t, ev.CycleID, o.Status().LastCycleID)
	case <-time.After(time.Second):
		t.Fatal("expected a cycle event")
	}

	// 두 번 호출해도 안전
	unsubscribe()
}

type memMirror struct {
	mu      sync.Mutex
	outputs map[string]*contracts.EngineOutput
}

func (m *memMirror) SaveOutput(_ context.Context, id string, out *contracts.EngineOutput) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outputs[id] = out.Clone()
	return nil
}

func (m *memMirror) LoadOutput(_ context.Context, id string) (*contracts.EngineOutput, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out, ok := m.outputs[id]
	return out.Clone(), ok, nil
}

func TestOrchestrator_MirrorSurvivesRestart(t *testing.T) {
	mirror := &memMirror{outputs: map[string]*contracts.EngineOutput{}}

	o1, reg1 := newTestOrchestrator(t, Options{Mirror: mirror})
	register(t, reg1, "a", constant(9))
	_, err := o1.ExecuteAll(context.Background(), testSnapshot())
	require.NoError(t, err)

	// 새 프로세스: 결과 없음, 미러에서 stale 값 제공
	o2, reg2 := newTestOrchestrator(t, Options{Mirror: mirror})
	register(t, reg2, "a", failing(errors.New("cold start")))

	latest, err := o2.Latest("a")
	require.NoError(t, err)
	assert.True(t, latest.Stale)
	assert.Equal(t, 9.0, latest.Output.Primary.Value)
}

type countingRecorder struct {
	mu      sync.Mutex
	engines map[string]contracts.ErrorKind
	cycles  int
}

func (r *countingRecorder) ObserveEngine(id string, _ time.Duration, kind contracts.ErrorKind) {
	r.mu.Lock()
	r.engines[id] = kind
	r.mu.Unlock()
}

func (r *countingRecorder) ObserveCycle(time.Duration, int, int) {
	r.mu.Lock()
	r.cycles++
	r.mu.Unlock()
}

func TestOrchestrator_Recorder(t *testing.T) {
	rec := &countingRecorder{engines: map[string]contracts.ErrorKind{}}
	o, reg := newTestOrchestrator(t, Options{Recorder: rec})
	register(t, reg, "a", constant(1))
	register(t, reg, "b", failing(errors.New("x")))

	_, err := o.ExecuteAll(context.Background(), testSnapshot())
	require.NoError(t, err)

	assert.Equal(t, 1, rec.cycles)
	assert.Equal(t, contracts.ErrorKindNone, rec.engines["a"])
	assert.Equal(t, contracts.ErrorKindComputation, rec.engines["b"])
}
