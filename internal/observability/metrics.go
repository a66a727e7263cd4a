// Package observability provides Prometheus metrics and OpenTelemetry
// tracing helpers shared across mcpguard's scan and proxy paths.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus metric mcpguard records. Pass the same
// instance to every component that needs to record one.
type Metrics struct {
	CallsTotal        *prometheus.CounterVec
	CallDuration      *prometheus.HistogramVec
	RuleEvaluations   *prometheus.CounterVec
	AuditAppendErrors prometheus.Counter
	RateLimitWindows  prometheus.Gauge
	ScanThreatsTotal  *prometheus.CounterVec
	ScanDuration      *prometheus.HistogramVec
}

// NewMetrics creates and registers every metric against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		CallsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "mcpguard",
				Name:      "proxy_calls_total",
				Help:      "Total tools/call invocations seen by the proxy pump",
			},
			[]string{"server", "tool", "outcome"}, // outcome=allowed/denied
		),
		CallDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "mcpguard",
				Name:      "proxy_call_duration_seconds",
				Help:      "Time from request to matching response for one tools/call",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"server", "tool"},
		),
		RuleEvaluations: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "mcpguard",
				Name:      "rule_evaluations_total",
				Help:      "Total rule engine evaluations by decision",
			},
			[]string{"decision"}, // decision=allow/deny
		),
		AuditAppendErrors: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "mcpguard",
				Name:      "audit_append_errors_total",
				Help:      "Total failures persisting an audit entry",
			},
		),
		RateLimitWindows: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: "mcpguard",
				Name:      "rate_limit_windows",
				Help:      "Number of active rate-limit sliding windows held by the rule engine",
			},
		),
		ScanThreatsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "mcpguard",
				Name:      "scan_threats_total",
				Help:      "Total threats found by scan runs, by category and severity",
			},
			[]string{"category", "severity"},
		),
		ScanDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "mcpguard",
				Name:      "scan_server_duration_seconds",
				Help:      "Time to scan one server, from connect through the detector pass",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"server"},
		),
	}
}
