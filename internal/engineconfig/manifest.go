package engineconfig

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/F1J197/flow-oracle-sub007/internal/allocator"
	"github.com/F1J197/flow-oracle-sub007/internal/contracts"
	"github.com/F1J197/flow-oracle-sub007/internal/engine"
	"github.com/F1J197/flow-oracle-sub007/internal/integrity"
	"github.com/F1J197/flow-oracle-sub007/internal/risk"
	"github.com/F1J197/flow-oracle-sub007/internal/zscore"
)

// Manifest is the full engine configuration of one deployment
type Manifest struct {
	Version   string           `yaml:"version" json:"version"`
	Engines   []EngineSpec     `yaml:"engines" json:"engines"`
	Integrity integrity.Config `yaml:"integrity" json:"integrity"`
	ZScore    zscore.Config    `yaml:"zscore" json:"zscore"`
	TailRisk  risk.Config      `yaml:"tail_risk" json:"tail_risk"`
	Allocator allocator.Config `yaml:"allocator" json:"allocator"`
}

// EngineSpec registers one engine. Disabled engines are skipped by Build.
type EngineSpec struct {
	ID              string        `yaml:"id" json:"id"`
	Name            string        `yaml:"name" json:"name"`
	Pillar          string        `yaml:"pillar" json:"pillar"`
	Priority        int           `yaml:"priority" json:"priority"`
	RefreshInterval time.Duration `yaml:"refresh_interval" json:"refresh_interval"` // 실행 제한 시간, 0이면 기본값
	Requires        []string      `yaml:"requires" json:"requires"`
	DependsOn       []string      `yaml:"depends_on" json:"depends_on"`
	Disabled        bool          `yaml:"disabled" json:"disabled"`
}

// EngineConfig converts the manifest entry to the registry form
func (s EngineSpec) EngineConfig() contracts.EngineConfig {
	return contracts.EngineConfig{
		ID:              s.ID,
		Name:            s.Name,
		Pillar:          s.Pillar,
		Priority:        s.Priority,
		RefreshInterval: s.RefreshInterval,
		Requires:        append([]string(nil), s.Requires...),
		DependsOn:       append([]string(nil), s.DependsOn...),
	}
}

// Default returns the built-in manifest; config/engines.yaml mirrors it
func Default() *Manifest {
	return &Manifest{
		Version: "1",
		Engines: []EngineSpec{
			{
				ID:              engine.IntegrityEngineID,
				Name:            "Data Integrity",
				Pillar:          "foundation",
				Priority:        10,
				RefreshInterval: 10 * time.Second,
				Requires:        []string{contracts.WildcardIndicator},
			},
			{
				ID:              zscore.EngineID,
				Name:            "Composite Z-Score",
				Pillar:          "momentum",
				Priority:        8,
				RefreshInterval: 30 * time.Second,
				Requires:        []string{contracts.WildcardIndicator},
				DependsOn:       []string{engine.IntegrityEngineID},
			},
			{
				ID:              risk.EngineID,
				Name:            "Tail Risk",
				Pillar:          "risk",
				Priority:        6,
				RefreshInterval: 30 * time.Second,
				Requires:        []string{contracts.WildcardIndicator},
				DependsOn:       []string{engine.IntegrityEngineID},
			},
			{
				ID:              allocator.EngineID,
				Name:            "Exposure Allocator",
				Pillar:          "allocation",
				Priority:        4,
				RefreshInterval: 10 * time.Second,
				DependsOn:       []string{zscore.EngineID, risk.EngineID},
			},
		},
		Integrity: integrity.DefaultConfig(),
		ZScore:    zscore.DefaultConfig(),
		TailRisk:  risk.DefaultConfig(),
		Allocator: allocator.DefaultConfig(),
	}
}

// Load reads a YAML manifest on top of Default and returns it with the raw bytes.
// Unknown fields fail the load.
func Load(path string) (*Manifest, []byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read engine manifest: %w", err)
	}

	m, err := Parse(data)
	if err != nil {
		return nil, data, fmt.Errorf("engine manifest %s: %w", path, err)
	}
	return m, data, nil
}

// Parse decodes and validates a YAML manifest
func Parse(data []byte) (*Manifest, error) {
	m := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true) // 오타 필드는 즉시 실패
	if err := dec.Decode(m); err != nil {
		return nil, err
	}

	if err := Validate(m); err != nil {
		return nil, err
	}
	return m, nil
}

// LoadOrDefault loads path, or returns Default when path is empty
func LoadOrDefault(path string) (*Manifest, error) {
	if path == "" {
		return Default(), nil
	}
	m, _, err := Load(path)
	return m, err
}

// Hash is the sha256 of the manifest's canonical JSON
func Hash(m *Manifest) (string, error) {
	// struct 필드 순서 + 정렬된 map 키 → 결정적 JSON
	jsonBytes, err := json.Marshal(m)
	if err != nil {
		return "", err
	}

	sum := sha256.Sum256(jsonBytes)
	return hex.EncodeToString(sum[:]), nil
}
