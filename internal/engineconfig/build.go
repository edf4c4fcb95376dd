package engineconfig

import (
	"fmt"

	"github.com/F1J197/flow-oracle-sub007/internal/allocator"
	"github.com/F1J197/flow-oracle-sub007/internal/cache"
	"github.com/F1J197/flow-oracle-sub007/internal/engine"
	"github.com/F1J197/flow-oracle-sub007/internal/integrity"
	"github.com/F1J197/flow-oracle-sub007/internal/risk"
	"github.com/F1J197/flow-oracle-sub007/internal/zscore"
	"github.com/F1J197/flow-oracle-sub007/pkg/logger"
)

// Engines holds the concrete engines built from a manifest.
// Disabled engines are nil.
type Engines struct {
	Integrity *integrity.Validator
	ZScore    *zscore.Engine
	TailRisk  *risk.Engine
	Allocator *allocator.Allocator
}

// Build constructs every enabled engine and registers it in manifest order.
// memo, when non-nil, backs the Z-score memoisation.
func Build(m *Manifest, registry *engine.Registry, memo *cache.Cache, log *logger.Logger) (*Engines, error) {
	if err := Validate(m); err != nil {
		return nil, err
	}

	built := &Engines{}
	for _, spec := range m.Engines {
		if spec.Disabled {
			log.WithField("engine", spec.ID).Info("Engine disabled by manifest")
			continue
		}

		var eng engine.Engine
		switch spec.ID {
		case engine.IntegrityEngineID:
			built.Integrity = integrity.NewValidator(m.Integrity, log)
			eng = built.Integrity
		case zscore.EngineID:
			var opts []zscore.Option
			if memo != nil {
				opts = append(opts, zscore.WithCache(memo))
			}
			built.ZScore = zscore.NewEngine(m.ZScore, log, opts...)
			eng = built.ZScore
		case risk.EngineID:
			built.TailRisk = risk.NewEngine(m.TailRisk, log)
			eng = built.TailRisk
		case allocator.EngineID:
			built.Allocator = allocator.New(m.Allocator, log)
			eng = built.Allocator
		default:
			return nil, fmt.Errorf("no builder for engine %q", spec.ID)
		}

		if err := registry.Register(spec.EngineConfig(), eng); err != nil {
			return nil, fmt.Errorf("register %s: %w", spec.ID, err)
		}
	}

	hash, err := Hash(m)
	if err != nil {
		return nil, fmt.Errorf("hash manifest: %w", err)
	}
	log.WithFields(map[string]interface{}{
		"version": m.Version,
		"engines": len(registry.Configs()),
		"tiers":   len(registry.Plan().Tiers),
		"hash":    hash[:12],
	}).Info("Engine manifest applied")

	return built, nil
}
