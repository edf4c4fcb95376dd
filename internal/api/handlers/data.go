package handlers

import (
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/F1J197/flow-oracle-sub007/internal/contracts"
	"github.com/F1J197/flow-oracle-sub007/internal/zscore"
	"github.com/F1J197/flow-oracle-sub007/pkg/logger"
)

// IntegrityReader exposes the integrity engine's healing state
type IntegrityReader interface {
	History(n int) []contracts.HealingAction
	Records() []contracts.ValidationRecord
	ExcludedSources(now time.Time) []string
}

// ZScoreReader exposes the per-indicator results of the latest composite run
type ZScoreReader interface {
	Latest(indicator string) (zscore.Result, bool)
	Results() []zscore.Result
}

// DataHandler handles data-quality API endpoints
// ⭐ SSOT: 데이터 품질 API 핸들러는 이 구조체에서만
type DataHandler struct {
	integrity IntegrityReader
	zscores   ZScoreReader
	provider  contracts.SnapshotProvider
	now       func() time.Time
	logger    *logger.Logger
}

// NewDataHandler creates a new data handler. integrity and zscores may be nil
// when the corresponding engine is disabled in the manifest.
func NewDataHandler(
	integrity IntegrityReader,
	zscores ZScoreReader,
	provider contracts.SnapshotProvider,
	log *logger.Logger,
) *DataHandler {
	return &DataHandler{
		integrity: integrity,
		zscores:   zscores,
		provider:  provider,
		now:       time.Now,
		logger:    log,
	}
}

// IntegrityResponse is the latest integrity assessment
type IntegrityResponse struct {
	Records  []contracts.ValidationRecord `json:"records"`
	Excluded []string                     `json:"excluded_sources"`
	Healing  []contracts.HealingAction    `json:"healing"`
}

// GetIntegrity returns per-source validation records and recent healing actions
// GET /api/integrity?limit=50
func (h *DataHandler) GetIntegrity(w http.ResponseWriter, r *http.Request) {
	if h.integrity == nil {
		respondError(w, http.StatusNotFound, "Integrity engine is not enabled")
		return
	}

	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		l, err := strconv.Atoi(limitStr)
		if err != nil || l <= 0 {
			respondError(w, http.StatusBadRequest, "Invalid 'limit' (expected positive integer)")
			return
		}
		limit = l
	}

	respondJSON(w, http.StatusOK, IntegrityResponse{
		Records:  nonNil(h.integrity.Records()),
		Excluded: nonNil(h.integrity.ExcludedSources(h.now())),
		Healing:  nonNil(h.integrity.History(limit)),
	})
}

// GetZScores returns the composite Z-score of every indicator
// GET /api/zscore
func (h *DataHandler) GetZScores(w http.ResponseWriter, r *http.Request) {
	if h.zscores == nil {
		respondError(w, http.StatusNotFound, "Z-score engine is not enabled")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"indicators": nonNil(h.zscores.Results()),
	})
}

// GetZScore returns the composite Z-score of one indicator
// GET /api/zscore/{indicator}
func (h *DataHandler) GetZScore(w http.ResponseWriter, r *http.Request) {
	if h.zscores == nil {
		respondError(w, http.StatusNotFound, "Z-score engine is not enabled")
		return
	}

	indicator := mux.Vars(r)["indicator"]
	res, ok := h.zscores.Latest(indicator)
	if !ok {
		respondError(w, http.StatusNotFound, "No Z-score for indicator "+indicator)
		return
	}

	respondJSON(w, http.StatusOK, res)
}

// SeriesSummary describes one series of the current snapshot
type SeriesSummary struct {
	ID        string    `json:"id"`
	Indicator string    `json:"indicator"`
	Source    string    `json:"source"`
	Points    int       `json:"points"`
	Current   float64   `json:"current"`
	UpdatedAt time.Time `json:"updated_at"`
}

// GetSnapshot summarizes what the configured provider currently returns
// GET /api/snapshot
func (h *DataHandler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := h.provider.GetSnapshot(r.Context())
	if err != nil {
		h.logger.WithError(err).Error("Failed to get snapshot")
		respondError(w, http.StatusBadGateway, "Failed to retrieve snapshot")
		return
	}

	ids := make([]string, 0, len(snap.Series))
	for id := range snap.Series {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]SeriesSummary, 0, len(ids))
	for _, id := range ids {
		s := snap.Series[id]
		sum := SeriesSummary{
			ID:        s.ID,
			Indicator: s.LogicalIndicator(),
			Source:    s.Source,
			Points:    len(s.Points),
			UpdatedAt: s.UpdatedAt,
		}
		if p, ok := s.Last(); ok {
			sum.Current = p.Value
		}
		out = append(out, sum)
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"taken_at": snap.TakenAt,
		"series":   out,
	})
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// Helper functions

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}
