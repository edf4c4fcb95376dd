package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/F1J197/flow-oracle-sub007/internal/api/handlers"
	"github.com/F1J197/flow-oracle-sub007/pkg/logger"
)

// Handlers groups everything the router mounts. Stream and Metrics are optional.
type Handlers struct {
	Engine   *handlers.EngineHandler
	Pipeline *handlers.PipelineHandler
	Data     *handlers.DataHandler
	Stream   http.Handler
	Metrics  http.Handler
}

// NewRouter creates and configures the HTTP router
// ⭐ SSOT: 라우팅 설정은 이 함수에서만
func NewRouter(h Handlers, log *logger.Logger) http.Handler {
	r := mux.NewRouter()

	// Health check
	r.HandleFunc("/health", healthCheckHandler).Methods("GET")

	if h.Metrics != nil {
		r.Handle("/metrics", h.Metrics).Methods("GET")
	}
	if h.Stream != nil {
		r.Handle("/ws/cycles", h.Stream)
	}

	api := r.PathPrefix("/api").Subrouter()

	// Engine endpoints
	api.HandleFunc("/engines", h.Engine.ListEngines).Methods("GET")
	api.HandleFunc("/engines/{id}", h.Engine.GetEngine).Methods("GET")
	api.HandleFunc("/engines/{id}/result", h.Engine.GetResult).Methods("GET")
	api.HandleFunc("/engines/{id}/history", h.Engine.GetHistory).Methods("GET")
	api.HandleFunc("/engines/{id}/run", h.Engine.RunEngine).Methods("POST")
	api.HandleFunc("/tiers", h.Engine.GetTiers).Methods("GET")

	// Pipeline endpoints
	api.HandleFunc("/cycles", h.Pipeline.RunCycle).Methods("POST")
	api.HandleFunc("/status", h.Pipeline.GetStatus).Methods("GET")
	api.HandleFunc("/jobs", h.Pipeline.ListJobs).Methods("GET")
	api.HandleFunc("/jobs/{name}/history", h.Pipeline.GetJobHistory).Methods("GET")
	api.HandleFunc("/jobs/{name}/run", h.Pipeline.RunJob).Methods("POST")

	// Data endpoints
	api.HandleFunc("/integrity", h.Data.GetIntegrity).Methods("GET")
	api.HandleFunc("/zscore", h.Data.GetZScores).Methods("GET")
	api.HandleFunc("/zscore/{indicator}", h.Data.GetZScore).Methods("GET")
	api.HandleFunc("/snapshot", h.Data.GetSnapshot).Methods("GET")

	// Apply middleware
	r.Use(loggingMiddleware(log))
	r.Use(recoveryMiddleware(log))

	return r
}

// healthCheckHandler returns server health status
func healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  "ok",
		"service": "flow-oracle",
	})
}

// statusRecorder captures the response status for logging
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}

// loggingMiddleware logs HTTP requests
func loggingMiddleware(log *logger.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// 웹소켓 업그레이드는 ResponseWriter를 감싸지 않음
			if r.Header.Get("Upgrade") != "" {
				next.ServeHTTP(w, r)
				return
			}

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			log.WithFields(map[string]interface{}{
				"method":   r.Method,
				"path":     r.URL.Path,
				"status":   rec.status,
				"duration": time.Since(start),
			}).Debug("HTTP request")
		})
	}
}

// recoveryMiddleware recovers from panics
func recoveryMiddleware(log *logger.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					log.WithFields(map[string]interface{}{
						"error": err,
						"path":  r.URL.Path,
					}).Error("Panic recovered")

					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					json.NewEncoder(w).Encode(map[string]string{
						"error": "Internal server error",
					})
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
