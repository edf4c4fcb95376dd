package engineconfig

import (
	"fmt"

	"github.com/F1J197/flow-oracle-sub007/internal/allocator"
	"github.com/F1J197/flow-oracle-sub007/internal/engine"
	"github.com/F1J197/flow-oracle-sub007/internal/risk"
	"github.com/F1J197/flow-oracle-sub007/internal/zscore"
)

// ValidationError 검증 실패 (프로그램 중단)
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// knownEngines are the engine ids Build can construct
var knownEngines = map[string]bool{
	engine.IntegrityEngineID: true,
	zscore.EngineID:          true,
	risk.EngineID:            true,
	allocator.EngineID:       true,
}

// Validate checks all required constraints
func Validate(m *Manifest) error {
	if m.Version == "" {
		return ValidationError{"version", "required"}
	}

	// === Engines ===
	if len(m.Engines) == 0 {
		return ValidationError{"engines", "at least one engine is required"}
	}

	enabled := make(map[string]bool, len(m.Engines))
	for i, spec := range m.Engines {
		field := fmt.Sprintf("engines[%d]", i)
		if spec.ID == "" {
			return ValidationError{field + ".id", "required"}
		}
		if !knownEngines[spec.ID] {
			return ValidationError{field + ".id", fmt.Sprintf("unknown engine %q", spec.ID)}
		}
		if _, dup := enabled[spec.ID]; dup {
			return ValidationError{field + ".id", fmt.Sprintf("duplicate engine %q", spec.ID)}
		}
		if spec.RefreshInterval < 0 {
			return ValidationError{field + ".refresh_interval", "must be >= 0"}
		}
		enabled[spec.ID] = !spec.Disabled
	}

	for i, spec := range m.Engines {
		if spec.Disabled {
			continue
		}
		for _, dep := range spec.DependsOn {
			on, ok := enabled[dep]
			if !ok {
				return ValidationError{fmt.Sprintf("engines[%d].depends_on", i), fmt.Sprintf("unknown engine %q", dep)}
			}
			if !on {
				return ValidationError{fmt.Sprintf("engines[%d].depends_on", i), fmt.Sprintf("engine %q is disabled", dep)}
			}
		}
	}

	// === Engine parameters ===
	if err := m.Integrity.Validate(); err != nil {
		return ValidationError{"integrity", err.Error()}
	}
	if err := m.ZScore.Validate(); err != nil {
		return ValidationError{"zscore", err.Error()}
	}
	if err := m.TailRisk.Validate(); err != nil {
		return ValidationError{"tail_risk", err.Error()}
	}
	if err := m.Allocator.Validate(); err != nil {
		return ValidationError{"allocator", err.Error()}
	}

	return nil
}
