package brain

import (
	"fmt"
	"time"

	"github.com/F1J197/flow-oracle-sub007/internal/contracts"
	"github.com/F1J197/flow-oracle-sub007/internal/engine"
)

// call is one run of an engine shared by every request attached to it
type call struct {
	done    chan struct{}
	result  *contracts.ExecutionResult
	waiters int

	// 후속 실행 입력: 마지막 요청 기준
	snap *contracts.Snapshot
	cyc  *cycle
}

// gate serializes runs of one engine.
// Requests arriving while a run is in flight share a single follow-up run.
type gate struct {
	running bool
	pending *call
}

func (o *Orchestrator) gateFor(id string) *gate {
	g, ok := o.gates[id]
	if !ok {
		g = &gate{}
		o.gates[id] = g
	}
	return g
}

// run executes id through its gate and returns the result of the run the
// request was attached to. The gate stays held until the engine's Calculate
// has returned, so a timed-out run never overlaps the next one.
func (o *Orchestrator) run(id string, snap *contracts.Snapshot, cyc *cycle) *contracts.ExecutionResult {
	o.mu.Lock()
	g := o.gateFor(id)

	if g.running {
		if g.pending == nil {
			g.pending = &call{done: make(chan struct{})}
		}
		c := g.pending
		c.snap, c.cyc = snap, cyc
		c.waiters++
		waiters := c.waiters
		o.mu.Unlock()

		o.logger.WithEngine(id).WithField("waiters", waiters).Debug("Engine already running, request coalesced into follow-up run")
		return o.await(id, c)
	}

	g.running = true
	o.mu.Unlock()

	result, settled := o.runOnce(id, snap, cyc)
	o.release(id, g, settled)
	return result
}

// await waits for a coalesced follow-up run. The wait covers the run in
// flight plus the follow-up; past that the request fails with a timeout while
// the follow-up still happens.
func (o *Orchestrator) await(id string, c *call) *contracts.ExecutionResult {
	start := o.opts.Now()

	var limit time.Duration
	if entry, ok := o.registry.Plan().Entry(id); ok {
		limit = 2 * o.timeoutFor(entry.Config)
	} else {
		limit = 2 * o.opts.DefaultTimeout
	}

	timer := time.NewTimer(limit)
	defer timer.Stop()

	select {
	case <-c.done:
		return c.result
	case <-timer.C:
		err := fmt.Errorf("%w: previous run of %s still in progress after %s", engine.ErrTimeout, id, limit)
		return o.finish(id, start, nil, err, contracts.ErrorKindTimeout)
	}
}

// release frees the gate once settled is closed, without blocking the caller
func (o *Orchestrator) release(id string, g *gate, settled <-chan struct{}) {
	select {
	case <-settled:
		o.drain(id, g)
	default:
		o.logger.WithEngine(id).Debug("Holding engine gate until timed-out run returns")
		go func() {
			<-settled
			o.drain(id, g)
		}()
	}
}

// drain hands pending follow-up runs to a background goroutine so the
// caller gets its own result without waiting for them.
func (o *Orchestrator) drain(id string, g *gate) {
	o.mu.Lock()
	c := g.pending
	g.pending = nil
	if c == nil {
		g.running = false
		o.mu.Unlock()
		return
	}
	o.mu.Unlock()

	go func() {
		result, settled := o.runOnce(id, c.snap, c.cyc)
		c.result = result
		close(c.done)
		<-settled
		o.drain(id, g)
	}()
}
