package contracts

import "time"

// ValidationRecord is the per-source integrity assessment of one cycle
type ValidationRecord struct {
	SourceID            string  `json:"source_id"`
	Indicator           string  `json:"indicator"`
	TrustScore          float64 `json:"trust_score"` // 0 ~ 100
	Completeness        float64 `json:"completeness"`
	Freshness           float64 `json:"freshness"`
	Deviation           float64 `json:"deviation"` // |value - consensus| / scale
	AnomalyCount        int     `json:"anomaly_count"`
	ManipulationSignals int     `json:"manipulation_signals"`
	Anomalous           bool    `json:"anomalous"`
	Excluded            bool    `json:"excluded"` // circuit breaker 적용 중
}

// HealingKind is the remediation applied to a source
type HealingKind string

const (
	HealingFallback          HealingKind = "FALLBACK"
	HealingInterpolation     HealingKind = "INTERPOLATION"
	HealingConsensusOverride HealingKind = "CONSENSUS_OVERRIDE"
	HealingCircuitBreaker    HealingKind = "CIRCUIT_BREAKER"
)

// Severity of a healing action
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// HealingAction records one automated remediation
type HealingAction struct {
	Kind      HealingKind `json:"kind"`
	Source    string      `json:"source"`
	Indicator string      `json:"indicator"`
	Severity  Severity    `json:"severity"`
	Detail    string      `json:"detail"`
	Timestamp time.Time   `json:"timestamp"`
}
