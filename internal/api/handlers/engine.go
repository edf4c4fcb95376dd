package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/time/rate"

	"github.com/F1J197/flow-oracle-sub007/internal/brain"
	"github.com/F1J197/flow-oracle-sub007/internal/contracts"
	"github.com/F1J197/flow-oracle-sub007/internal/data/repos"
	"github.com/F1J197/flow-oracle-sub007/internal/engine"
	"github.com/F1J197/flow-oracle-sub007/pkg/logger"
)

// Orchestrator is the execution surface the engine endpoints use
type Orchestrator interface {
	Registry() *engine.Registry
	Latest(id string) (*contracts.ExecutionResult, error)
	Results() map[string]*contracts.ExecutionResult
	Status() brain.Status
	Busy() bool
	ExecuteAll(ctx context.Context, snap *contracts.Snapshot) (map[string]*contracts.ExecutionResult, error)
	ExecuteOne(ctx context.Context, id string, snap *contracts.Snapshot) (*contracts.ExecutionResult, error)
}

// OutputHistory reads persisted engine outputs
type OutputHistory interface {
	History(ctx context.Context, engineID string, limit int) ([]repos.OutputRecord, error)
}

// EngineHandler handles engine API endpoints
// ⭐ SSOT: 엔진 API 핸들러는 이 구조체에서만
type EngineHandler struct {
	orchestrator Orchestrator
	provider     contracts.SnapshotProvider
	history      OutputHistory
	limiter      *rate.Limiter
	runTimeout   time.Duration
	logger       *logger.Logger
}

// NewEngineHandler creates a new engine handler. history may be nil when
// persistence is disabled. Manual runs are limited to runRate per second.
func NewEngineHandler(
	orch Orchestrator,
	provider contracts.SnapshotProvider,
	history OutputHistory,
	runRate float64,
	runBurst int,
	log *logger.Logger,
) *EngineHandler {
	if runBurst <= 0 {
		runBurst = 1
	}
	limit := rate.Limit(runRate)
	if runRate <= 0 {
		limit = rate.Inf
	}

	return &EngineHandler{
		orchestrator: orch,
		provider:     provider,
		history:      history,
		limiter:      rate.NewLimiter(limit, runBurst),
		runTimeout:   2 * time.Minute,
		logger:       log,
	}
}

// EngineInfo describes a registered engine together with its current state
type EngineInfo struct {
	Config contracts.EngineConfig     `json:"config"`
	Tier   int                        `json:"tier"`
	State  brain.State                `json:"state"`
	Result *contracts.ExecutionResult `json:"result,omitempty"`
}

// ListEngines returns every registered engine in tier order
// GET /api/engines
func (h *EngineHandler) ListEngines(w http.ResponseWriter, r *http.Request) {
	plan := h.orchestrator.Registry().Plan()
	status := h.orchestrator.Status()
	results := h.orchestrator.Results()

	engines := make([]EngineInfo, 0, plan.Len())
	for _, id := range plan.IDs() {
		entry, _ := plan.Entry(id)
		engines = append(engines, EngineInfo{
			Config: entry.Config.Clone(),
			Tier:   plan.TierOf(id),
			State:  status.States[id],
			Result: results[id],
		})
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"engines": engines,
		"total":   len(engines),
	})
}

// GetEngine returns one engine's configuration and state
// GET /api/engines/{id}
func (h *EngineHandler) GetEngine(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	plan := h.orchestrator.Registry().Plan()

	entry, ok := plan.Entry(id)
	if !ok {
		respondError(w, http.StatusNotFound, "Engine not found: "+id)
		return
	}

	info := EngineInfo{
		Config: entry.Config.Clone(),
		Tier:   plan.TierOf(id),
		State:  h.orchestrator.Status().States[id],
	}
	if res, err := h.orchestrator.Latest(id); err == nil {
		info.Result = res
	}

	respondJSON(w, http.StatusOK, info)
}

// GetResult returns the latest result of an engine, falling back to the
// last-known-good output (Stale=true) when the latest run failed
// GET /api/engines/{id}/result
func (h *EngineHandler) GetResult(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	res, err := h.orchestrator.Latest(id)
	if err != nil {
		switch {
		case errors.Is(err, engine.ErrEngineNotFound):
			respondError(w, http.StatusNotFound, "Engine not found: "+id)
		case errors.Is(err, brain.ErrNoResult):
			respondError(w, http.StatusNotFound, "No result yet for engine: "+id)
		default:
			h.logger.WithEngine(id).WithError(err).Error("Failed to get engine result")
			respondError(w, http.StatusInternalServerError, "Failed to retrieve result")
		}
		return
	}

	respondJSON(w, http.StatusOK, res)
}

// RunEngine executes one engine out of band against a fresh snapshot
// POST /api/engines/{id}/run
func (h *EngineHandler) RunEngine(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if _, ok := h.orchestrator.Registry().Plan().Entry(id); !ok {
		respondError(w, http.StatusNotFound, "Engine not found: "+id)
		return
	}
	if !h.limiter.Allow() {
		respondError(w, http.StatusTooManyRequests, "Too many run requests, retry later")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.runTimeout)
	defer cancel()

	snap, err := h.provider.GetSnapshot(ctx)
	if err != nil {
		h.logger.WithEngine(id).WithError(err).Error("Failed to get snapshot for manual run")
		respondError(w, http.StatusBadGateway, "Failed to retrieve snapshot")
		return
	}

	h.logger.WithEngine(id).Info("Manual engine run triggered")

	res, err := h.orchestrator.ExecuteOne(ctx, id, snap)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			respondError(w, http.StatusGatewayTimeout, "Engine run did not finish in time")
			return
		}
		h.logger.WithEngine(id).WithError(err).Error("Manual engine run failed")
		respondError(w, http.StatusInternalServerError, "Failed to run engine")
		return
	}

	respondJSON(w, http.StatusOK, res)
}

// GetHistory returns persisted outputs of an engine, newest first
// GET /api/engines/{id}/history?limit=100
func (h *EngineHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		respondError(w, http.StatusNotFound, "Output persistence is not enabled")
		return
	}

	id := mux.Vars(r)["id"]
	if _, ok := h.orchestrator.Registry().Plan().Entry(id); !ok {
		respondError(w, http.StatusNotFound, "Engine not found: "+id)
		return
	}

	limit := 100
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			limit = l
		}
	}

	records, err := h.history.History(r.Context(), id, limit)
	if err != nil {
		h.logger.WithEngine(id).WithError(err).Error("Failed to get output history")
		respondError(w, http.StatusInternalServerError, "Failed to retrieve history")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"engine_id": id,
		"records":   nonNil(records),
	})
}

// GetTiers returns the execution plan
// GET /api/tiers
func (h *EngineHandler) GetTiers(w http.ResponseWriter, r *http.Request) {
	plan := h.orchestrator.Registry().Plan()

	resp := map[string]interface{}{
		"tiers": plan.Tiers,
	}
	if plan.Err != nil {
		resp["error"] = plan.Err.Error()
	}
	respondJSON(w, http.StatusOK, resp)
}
