package handlers

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/F1J197/flow-oracle-sub007/internal/brain"
	"github.com/F1J197/flow-oracle-sub007/internal/cache"
	"github.com/F1J197/flow-oracle-sub007/internal/contracts"
	"github.com/F1J197/flow-oracle-sub007/internal/scheduler"
	"github.com/F1J197/flow-oracle-sub007/pkg/logger"
)

// CacheStats exposes result cache counters
type CacheStats interface {
	Stats() cache.Stats
}

// JobRunner is the scheduler surface the pipeline endpoints use
type JobRunner interface {
	GetJobStats() map[string]scheduler.JobStats
	GetJobHistory(jobName string, n int) ([]scheduler.JobResult, error)
	RunJob(jobName string) (scheduler.JobResult, error)
}

// PipelineHandler handles cycle, status and job endpoints
// ⭐ SSOT: 파이프라인 API 핸들러는 여기서만
type PipelineHandler struct {
	orchestrator Orchestrator
	provider     contracts.SnapshotProvider
	cache        CacheStats
	jobs         JobRunner
	cycleTimeout time.Duration
	logger       *logger.Logger
}

// NewPipelineHandler creates a new pipeline handler. jobs may be nil when the
// process runs without a scheduler.
func NewPipelineHandler(
	orch Orchestrator,
	provider contracts.SnapshotProvider,
	resultCache CacheStats,
	jobs JobRunner,
	log *logger.Logger,
) *PipelineHandler {
	return &PipelineHandler{
		orchestrator: orch,
		provider:     provider,
		cache:        resultCache,
		jobs:         jobs,
		cycleTimeout: 5 * time.Minute,
		logger:       log,
	}
}

// CycleResponse summarizes one ExecuteAll
type CycleResponse struct {
	Results   map[string]*contracts.ExecutionResult `json:"results"`
	Succeeded int                                   `json:"succeeded"`
	Failed    int                                   `json:"failed"`
	Canceled  bool                                  `json:"canceled"`
}

// RunCycle executes every registered engine against a fresh snapshot
// POST /api/cycles
func (h *PipelineHandler) RunCycle(w http.ResponseWriter, r *http.Request) {
	if h.orchestrator.Busy() {
		respondError(w, http.StatusConflict, "An execution cycle is already running")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.cycleTimeout)
	defer cancel()

	snap, err := h.provider.GetSnapshot(ctx)
	if err != nil {
		h.logger.WithError(err).Error("Failed to get snapshot for cycle")
		respondError(w, http.StatusBadGateway, "Failed to retrieve snapshot")
		return
	}

	h.logger.WithField("series", len(snap.Series)).Info("Execution cycle triggered via API")

	results, err := h.orchestrator.ExecuteAll(ctx, snap)
	if errors.Is(err, brain.ErrCycleRunning) {
		// 스냅샷 조회 중 다른 사이클이 시작된 경우
		respondError(w, http.StatusConflict, "An execution cycle is already running")
		return
	}
	resp := CycleResponse{Results: results}
	for _, res := range results {
		if res.Success {
			resp.Succeeded++
		} else {
			resp.Failed++
		}
	}

	if err != nil {
		if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			h.logger.WithError(err).Error("Execution cycle failed")
			respondError(w, http.StatusInternalServerError, "Failed to execute cycle")
			return
		}
		// 취소된 사이클도 그때까지의 결과를 반환
		resp.Canceled = true
	}

	respondJSON(w, http.StatusOK, resp)
}

// StatusResponse aggregates orchestrator, cache and scheduler state
type StatusResponse struct {
	Engines brain.Status                  `json:"engines"`
	Busy    bool                          `json:"busy"`
	Cache   CacheStatus                   `json:"cache"`
	Jobs    map[string]scheduler.JobStats `json:"jobs,omitempty"`
}

// CacheStatus is the JSON view of cache.Stats
type CacheStatus struct {
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	Entries int     `json:"entries"`
	HitRate float64 `json:"hit_rate"`
}

// GetStatus returns aggregate execution counts
// GET /api/status
func (h *PipelineHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	stats := h.cache.Stats()
	resp := StatusResponse{
		Engines: h.orchestrator.Status(),
		Busy:    h.orchestrator.Busy(),
		Cache: CacheStatus{
			Hits:    stats.Hits,
			Misses:  stats.Misses,
			Entries: stats.Entries,
			HitRate: stats.HitRate(),
		},
	}
	if h.jobs != nil {
		resp.Jobs = h.jobs.GetJobStats()
	}

	respondJSON(w, http.StatusOK, resp)
}

// ListJobs returns scheduler statistics sorted by job name
// GET /api/jobs
func (h *PipelineHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	if h.jobs == nil {
		respondError(w, http.StatusNotFound, "Scheduler is not running")
		return
	}

	stats := h.jobs.GetJobStats()
	out := make([]scheduler.JobStats, 0, len(stats))
	for _, st := range stats {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JobName < out[j].JobName })

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"jobs": out,
	})
}

// GetJobHistory returns the recent runs of a job
// GET /api/jobs/{name}/history?limit=20
func (h *PipelineHandler) GetJobHistory(w http.ResponseWriter, r *http.Request) {
	if h.jobs == nil {
		respondError(w, http.StatusNotFound, "Scheduler is not running")
		return
	}

	name := mux.Vars(r)["name"]
	limit := 20
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			limit = l
		}
	}

	history, err := h.jobs.GetJobHistory(name, limit)
	if err != nil {
		respondError(w, http.StatusNotFound, "Job not found: "+name)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"job":     name,
		"history": nonNil(history),
	})
}

// RunJob triggers a scheduled job immediately and waits for it
// POST /api/jobs/{name}/run
func (h *PipelineHandler) RunJob(w http.ResponseWriter, r *http.Request) {
	if h.jobs == nil {
		respondError(w, http.StatusNotFound, "Scheduler is not running")
		return
	}

	name := mux.Vars(r)["name"]
	h.logger.WithField("job", name).Info("Manual job run triggered")

	res, err := h.jobs.RunJob(name)
	if err != nil {
		respondError(w, http.StatusNotFound, "Job not found: "+name)
		return
	}

	respondJSON(w, http.StatusOK, res)
}
