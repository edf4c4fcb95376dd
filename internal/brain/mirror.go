package brain

import (
	"context"
	"fmt"
	"time"

	"github.com/F1J197/flow-oracle-sub007/internal/contracts"
	"github.com/F1J197/flow-oracle-sub007/pkg/redis"
)

// Mirror persists last-known-good outputs outside the process
// so a restarted process serves stale values instead of blanks.
type Mirror interface {
	SaveOutput(ctx context.Context, engineID string, out *contracts.EngineOutput) error
	LoadOutput(ctx context.Context, engineID string) (*contracts.EngineOutput, bool, error)
}

// RedisMirror stores outputs as JSON through pkg/redis
type RedisMirror struct {
	cache *redis.Cache
	ttl   time.Duration
}

// NewRedisMirror creates a mirror under the given key prefix
func NewRedisMirror(client *redis.Client, prefix string, ttl time.Duration) *RedisMirror {
	if ttl <= 0 {
		ttl = redis.TTLLong
	}
	return &RedisMirror{
		cache: redis.NewCache(client, prefix),
		ttl:   ttl,
	}
}

// SaveOutput implements Mirror
func (m *RedisMirror) SaveOutput(ctx context.Context, engineID string, out *contracts.EngineOutput) error {
	if err := m.cache.Set(ctx, redis.EngineOutputKey(engineID), out, m.ttl); err != nil {
		return fmt.Errorf("mirror save %s: %w", engineID, err)
	}
	return nil
}

// LoadOutput implements Mirror
func (m *RedisMirror) LoadOutput(ctx context.Context, engineID string) (*contracts.EngineOutput, bool, error) {
	var out contracts.EngineOutput
	found, err := m.cache.Get(ctx, redis.EngineOutputKey(engineID), &out)
	if err != nil {
		return nil, false, fmt.Errorf("mirror load %s: %w", engineID, err)
	}
	if !found {
		return nil, false, nil
	}
	return &out, true, nil
}

// CycleSummary is the mirrored record of one execution cycle
type CycleSummary struct {
	CycleID     string    `json:"cycle_id"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
	Succeeded   int       `json:"succeeded"`
	Failed      int       `json:"failed"`
	Canceled    bool      `json:"canceled"`
}

// Summary drops the per-engine results of an event
func (e CycleEvent) Summary() CycleSummary {
	return CycleSummary{
		CycleID:     e.CycleID,
		StartedAt:   e.StartedAt,
		CompletedAt: e.CompletedAt,
		Succeeded:   e.Succeeded,
		Failed:      e.Failed,
		Canceled:    e.Canceled,
	}
}

// SaveCycle records a cycle summary for a day
func (m *RedisMirror) SaveCycle(ctx context.Context, event CycleEvent) error {
	if err := m.cache.Set(ctx, redis.CycleKey(event.CycleID), event.Summary(), redis.TTLDaily); err != nil {
		return fmt.Errorf("mirror cycle %s: %w", event.CycleID, err)
	}
	return nil
}

// LoadCycle reads a cycle summary back
func (m *RedisMirror) LoadCycle(ctx context.Context, cycleID string) (*CycleSummary, bool, error) {
	var sum CycleSummary
	found, err := m.cache.Get(ctx, redis.CycleKey(cycleID), &sum)
	if err != nil {
		return nil, false, fmt.Errorf("mirror load cycle %s: %w", cycleID, err)
	}
	if !found {
		return nil, false, nil
	}
	return &sum, true, nil
}
