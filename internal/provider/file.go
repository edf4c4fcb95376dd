package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/F1J197/flow-oracle-sub007/internal/contracts"
	"github.com/F1J197/flow-oracle-sub007/pkg/logger"
)

// FileProvider reads a JSON snapshot from disk on every call
type FileProvider struct {
	path   string
	logger *logger.Logger
}

// NewFileProvider creates a file-backed provider
func NewFileProvider(path string, log *logger.Logger) *FileProvider {
	return &FileProvider{
		path:   path,
		logger: log.WithField("module", "file_provider"),
	}
}

// GetSnapshot implements contracts.SnapshotProvider
func (p *FileProvider) GetSnapshot(ctx context.Context) (*contracts.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(p.path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot file: %w", err)
	}

	var snap contracts.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot file %s: %w", p.path, err)
	}
	if err := normalize(&snap); err != nil {
		return nil, fmt.Errorf("snapshot file %s: %w", p.path, err)
	}

	p.logger.WithFields(map[string]interface{}{
		"path":   p.path,
		"series": len(snap.Series),
	}).Debug("Snapshot loaded from file")

	return &snap, nil
}
