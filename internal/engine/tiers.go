package engine

import (
	"errors"
	"sort"

	"github.com/F1J197/flow-oracle-sub007/internal/contracts"
)

// ComputeExecutionTiers groups engines into topological levels.
//
// cfgs must be in registration order. Each pass collects every unscheduled
// engine whose dependencies were scheduled in earlier passes. Engines left over
// when no progress is possible form a cycle: they are reported as a
// ConfigurationError and placed in a best-effort final tier. Unknown
// dependency ids are reported and treated as satisfied.
// Within a tier engines are ordered by priority desc, then registration order.
func ComputeExecutionTiers(cfgs []contracts.EngineConfig) ([][]string, error) {
	var errs []error

	order := make(map[string]int, len(cfgs))
	unique := make([]contracts.EngineConfig, 0, len(cfgs))
	var duplicates []string
	for _, cfg := range cfgs {
		if _, dup := order[cfg.ID]; dup {
			duplicates = append(duplicates, cfg.ID)
			continue
		}
		order[cfg.ID] = len(unique)
		unique = append(unique, cfg)
	}
	if len(duplicates) > 0 {
		errs = append(errs, &ConfigurationError{Kind: ConfigErrDuplicateID, IDs: duplicates})
	}

	// 알 수 없는 의존성은 스케줄링에서 제외
	deps := make(map[string][]string, len(unique))
	var unknown []string
	for _, cfg := range unique {
		for _, dep := range cfg.DependsOn {
			if _, ok := order[dep]; !ok {
				unknown = append(unknown, cfg.ID+"->"+dep)
				continue
			}
			deps[cfg.ID] = append(deps[cfg.ID], dep)
		}
	}
	if len(unknown) > 0 {
		errs = append(errs, &ConfigurationError{Kind: ConfigErrUnknownDependency, IDs: unknown})
	}

	priority := make(map[string]int, len(unique))
	for _, cfg := range unique {
		priority[cfg.ID] = cfg.Priority
	}
	sortTier := func(tier []string) {
		sort.SliceStable(tier, func(i, j int) bool {
			if priority[tier[i]] != priority[tier[j]] {
				return priority[tier[i]] > priority[tier[j]]
			}
			return order[tier[i]] < order[tier[j]]
		})
	}

	scheduled := make(map[string]bool, len(unique))
	remaining := make([]string, 0, len(unique))
	for _, cfg := range unique {
		remaining = append(remaining, cfg.ID)
	}

	var tiers [][]string
	for len(remaining) > 0 {
		var tier, next []string
		for _, id := range remaining {
			ready := true
			for _, dep := range deps[id] {
				if !scheduled[dep] {
					ready = false
					break
				}
			}
			if ready {
				tier = append(tier, id)
			} else {
				next = append(next, id)
			}
		}

		if len(tier) == 0 {
			break
		}

		for _, id := range tier {
			scheduled[id] = true
		}
		sortTier(tier)
		tiers = append(tiers, tier)
		remaining = next
	}

	if len(remaining) > 0 {
		leftover := append([]string(nil), remaining...)
		sortTier(leftover)
		tiers = append(tiers, leftover)
		errs = append(errs, &ConfigurationError{
			Kind:   ConfigErrCycle,
			IDs:    leftover,
			Detail: "dependency cycle, scheduled in a best-effort final tier",
		})
	}

	return tiers, errors.Join(errs...)
}
