package provider

import (
	"context"
	"fmt"

	"github.com/F1J197/flow-oracle-sub007/internal/contracts"
	"github.com/F1J197/flow-oracle-sub007/pkg/httputil"
	"github.com/F1J197/flow-oracle-sub007/pkg/logger"
)

// HTTPProvider fetches a JSON snapshot from an upstream collector
type HTTPProvider struct {
	url    string
	client *httputil.Client
	logger *logger.Logger
}

// NewHTTPProvider creates an HTTP-backed provider
func NewHTTPProvider(url string, client *httputil.Client, log *logger.Logger) *HTTPProvider {
	return &HTTPProvider{
		url:    url,
		client: client,
		logger: log.WithField("module", "http_provider"),
	}
}

// GetSnapshot implements contracts.SnapshotProvider
func (p *HTTPProvider) GetSnapshot(ctx context.Context) (*contracts.Snapshot, error) {
	var snap contracts.Snapshot
	if err := p.client.GetJSON(ctx, p.url, &snap); err != nil {
		return nil, fmt.Errorf("fetch snapshot: %w", err)
	}
	if err := normalize(&snap); err != nil {
		return nil, fmt.Errorf("snapshot from %s: %w", p.url, err)
	}

	p.logger.WithFields(map[string]interface{}{
		"url":      p.url,
		"series":   len(snap.Series),
		"taken_at": snap.TakenAt,
	}).Debug("Snapshot fetched")

	return &snap, nil
}
