// Package metrics exposes the Prometheus collectors of the defense layer.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RateLimitDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bastion_rate_limit_decisions_total",
			Help: "Rate limit decisions by tier and outcome",
		},
		[]string{"tier", "allowed"},
	)

	RateLimitPressureReductions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bastion_rate_limit_pressure_reductions_total",
			Help: "Evaluations performed with a pressure-reduced limit",
		},
	)

	ResourcePressure = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bastion_resource_pressure",
			Help: "Last sampled resource saturation per dimension (0..1)",
		},
		[]string{"dimension"},
	)

	SessionDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bastion_session_decisions_total",
			Help: "Session guard decisions by status",
		},
		[]string{"status"},
	)

	SessionsInvalidated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bastion_sessions_invalidated_total",
			Help: "Sessions force-invalidated by high-risk collisions",
		},
	)

	EventsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bastion_events_processed_total",
			Help: "Events processed by each pipeline consumer",
		},
		[]string{"consumer"},
	)

	EventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bastion_events_dropped_total",
			Help: "Events dropped because the pipeline queue was saturated",
		},
	)

	AlertsGenerated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bastion_alerts_generated_total",
			Help: "Security alerts generated by threat type",
		},
		[]string{"threat_type", "severity"},
	)

	EvidenceRecords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bastion_evidence_records_total",
			Help: "Compliance evidence records by framework",
		},
		[]string{"framework"},
	)

	AuditWriteFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bastion_audit_write_failures_total",
			Help: "Failed durable audit trail writes",
		},
	)

	CheckDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bastion_check_duration_seconds",
			Help:    "Latency of request-path checks",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"check"},
	)
)
