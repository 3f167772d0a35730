// Package telemetry holds the process-wide observability plumbing:
// Prometheus metrics and the OpenTelemetry tracer provider.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for Superego.
// Pass to components that need to record metrics.
type Metrics struct {
	DecisionsTotal     *prometheus.CounterVec
	EvaluationDuration prometheus.Histogram
	AdvisorRequests    *prometheus.CounterVec
	AdvisorLatency     prometheus.Histogram
	CacheHits          prometheus.Counter
	CacheMisses        prometheus.Counter
	BreakerState       prometheus.Gauge
	RulesLoaded        prometheus.Gauge
	RuleReloads        *prometheus.CounterVec
	AuditFailures      prometheus.Counter
	HTTPRequestsTotal  *prometheus.CounterVec
	HTTPDuration       *prometheus.HistogramVec
}

// NewMetrics creates and registers all metrics with the given registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		DecisionsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "superego",
				Name:      "decisions_total",
				Help:      "Total decisions served",
			},
			[]string{"action", "source"}, // action=allow/deny, source=rule/advisor/advisor_cache/default/fail_mode
		),
		EvaluationDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "superego",
				Name:      "evaluation_duration_seconds",
				Help:      "End-to-end evaluation duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
		),
		AdvisorRequests: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "superego",
				Name:      "advisor_requests_total",
				Help:      "Total advisor consultations",
			},
			[]string{"provider", "outcome"}, // outcome=ok/error/timeout/rejected
		),
		AdvisorLatency: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "superego",
				Name:      "advisor_latency_seconds",
				Help:      "Advisor call latency in seconds",
				Buckets:   prometheus.DefBuckets,
			},
		),
		CacheHits: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "superego",
				Name:      "advisor_cache_hits_total",
				Help:      "Advisor verdict cache hits",
			},
		),
		CacheMisses: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "superego",
				Name:      "advisor_cache_misses_total",
				Help:      "Advisor verdict cache misses",
			},
		),
		BreakerState: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: "superego",
				Name:      "breaker_state",
				Help:      "Advisor circuit breaker state (0=closed, 1=half-open, 2=open)",
			},
		),
		RulesLoaded: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: "superego",
				Name:      "rules_loaded",
				Help:      "Number of rules in the active snapshot",
			},
		),
		RuleReloads: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "superego",
				Name:      "rule_reloads_total",
				Help:      "Total rule file reload attempts",
			},
			[]string{"result"}, // result=ok/error
		),
		AuditFailures: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "superego",
				Name:      "audit_failures_total",
				Help:      "Total audit write failures",
			},
		),
		HTTPRequestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "superego",
				Name:      "http_requests_total",
				Help:      "Total HTTP requests processed",
			},
			[]string{"path", "method", "status"},
		),
		HTTPDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "superego",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"path"},
		),
	}
}
