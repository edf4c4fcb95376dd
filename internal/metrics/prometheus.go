package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/F1J197/flow-oracle-sub007/internal/contracts"
)

const namespace = "flow_oracle"

// Recorder exports orchestrator and cache telemetry to Prometheus.
// It satisfies brain.Recorder and cache.Observer.
type Recorder struct {
	registry *prometheus.Registry

	engineDuration *prometheus.HistogramVec
	engineRuns     *prometheus.CounterVec
	cycleDuration  prometheus.Histogram
	cycleEngines   *prometheus.CounterVec
	cacheLookups   *prometheus.CounterVec
	primaryValue   *prometheus.GaugeVec
	confidence     *prometheus.GaugeVec
	integrityScore prometheus.Gauge
}

// New creates a recorder on its own registry
func New() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		engineDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "engine_duration_seconds",
				Help:      "Duration of a single engine run in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"engine"},
		),
		engineRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "engine_runs_total",
				Help:      "Engine runs by outcome",
			},
			[]string{"engine", "outcome"},
		),
		cycleDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "cycle_duration_seconds",
				Help:      "Duration of a full execution cycle in seconds",
				Buckets:   prometheus.DefBuckets,
			},
		),
		cycleEngines: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cycle_engines_total",
				Help:      "Engines succeeded or failed across cycles",
			},
			[]string{"result"},
		),
		cacheLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_lookups_total",
				Help:      "Result cache lookups by result",
			},
			[]string{"result"},
		),
		primaryValue: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "engine_primary_value",
				Help:      "Latest primary metric per engine",
			},
			[]string{"engine"},
		),
		confidence: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "engine_confidence",
				Help:      "Latest confidence (0-100) per engine",
			},
			[]string{"engine"},
		),
		integrityScore: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "integrity_score",
				Help:      "Latest data integrity score (0-100)",
			},
		),
	}
}

// ObserveEngine records one engine run
func (r *Recorder) ObserveEngine(engineID string, elapsed time.Duration, kind contracts.ErrorKind) {
	r.engineDuration.WithLabelValues(engineID).Observe(elapsed.Seconds())

	outcome := "success"
	if kind != contracts.ErrorKindNone {
		outcome = string(kind)
	}
	r.engineRuns.WithLabelValues(engineID, outcome).Inc()
}

// ObserveCycle records one ExecuteAll
func (r *Recorder) ObserveCycle(elapsed time.Duration, succeeded, failed int) {
	r.cycleDuration.Observe(elapsed.Seconds())
	r.cycleEngines.WithLabelValues("succeeded").Add(float64(succeeded))
	r.cycleEngines.WithLabelValues("failed").Add(float64(failed))
}

// CacheHit implements cache.Observer
func (r *Recorder) CacheHit() {
	r.cacheLookups.WithLabelValues("hit").Inc()
}

// CacheMiss implements cache.Observer
func (r *Recorder) CacheMiss() {
	r.cacheLookups.WithLabelValues("miss").Inc()
}

// RecordResult updates the per-engine gauges from a successful result.
// integrityEngineID selects which engine feeds the integrity score gauge.
func (r *Recorder) RecordResult(res *contracts.ExecutionResult, integrityEngineID string) {
	if res == nil || !res.Success || res.Output == nil {
		return
	}
	r.primaryValue.WithLabelValues(res.EngineID).Set(res.Output.Primary.Value)
	r.confidence.WithLabelValues(res.EngineID).Set(res.Output.Confidence)
	if res.EngineID == integrityEngineID {
		r.integrityScore.Set(res.Output.Primary.Value)
	}
}

// Registry exposes the underlying registry
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus text format
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
