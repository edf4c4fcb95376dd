package provider

import (
	"errors"
	"fmt"
	"time"

	"github.com/F1J197/flow-oracle-sub007/internal/contracts"
	"github.com/F1J197/flow-oracle-sub007/pkg/config"
	"github.com/F1J197/flow-oracle-sub007/pkg/httputil"
	"github.com/F1J197/flow-oracle-sub007/pkg/logger"
)

// ErrEmptySnapshot is returned when a source delivers no series
var ErrEmptySnapshot = errors.New("snapshot has no series")

// New builds the snapshot provider selected by configuration
// ⭐ SSOT: SNAPSHOT_SOURCE → Provider 매핑
func New(cfg config.SnapshotConfig, log *logger.Logger) (contracts.SnapshotProvider, error) {
	switch cfg.Source {
	case "fixture":
		return NewFixtureProvider(cfg.FixtureSeed, log), nil
	case "file":
		return NewFileProvider(cfg.Path, log), nil
	case "http":
		client := httputil.NewWithTimeout(log, 15*time.Second).WithRetry(3, time.Second)
		return NewHTTPProvider(cfg.URL, client, log), nil
	default:
		return nil, fmt.Errorf("unknown snapshot source %q", cfg.Source)
	}
}

// normalize repairs a decoded snapshot in place and validates it.
// Series without an id take their map key, points are sorted, and a
// missing TakenAt becomes the newest series update.
func normalize(snap *contracts.Snapshot) error {
	if snap == nil || len(snap.Series) == 0 {
		return ErrEmptySnapshot
	}

	var newest time.Time
	for key, series := range snap.Series {
		if series == nil {
			return fmt.Errorf("series %q is null", key)
		}
		if series.ID == "" {
			series.ID = key
		}
		series.Normalize()
		if series.UpdatedAt.After(newest) {
			newest = series.UpdatedAt
		}
	}

	if snap.TakenAt.IsZero() {
		snap.TakenAt = newest
	}

	if err := snap.Validate(); err != nil {
		return fmt.Errorf("invalid snapshot: %w", err)
	}
	return nil
}
