package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for the pipeline.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	requestsTotal   *prometheus.CounterVec
	phaseDuration   *prometheus.HistogramVec
	pluginAborts    *prometheus.CounterVec
	auditFailures   *prometheus.CounterVec
	quotaOperations *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates and registers all collectors on a private registry
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_requests_total",
				Help: "Total number of processed requests by tenant class and outcome",
			},
			[]string{"tenant_class", "outcome"},
		),

		phaseDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pipeline_phase_duration_seconds",
				Help:    "Pipeline phase latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"phase"},
		),

		pluginAborts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_plugin_aborts_total",
				Help: "Total number of requests aborted by a plugin",
			},
			[]string{"plugin", "phase"},
		),

		auditFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_audit_failures_total",
				Help: "Total number of audit hook failures",
			},
			[]string{"plugin"},
		),

		quotaOperations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quota_operations_total",
				Help: "Total number of quota ledger operations by result",
			},
			[]string{"op", "result"},
		),

		registry: registry,
	}

	registry.MustRegister(
		m.requestsTotal,
		m.phaseDuration,
		m.pluginAborts,
		m.auditFailures,
		m.quotaOperations,
	)

	return m
}

// RecordRequest counts a finished request
func (m *Metrics) RecordRequest(tenantClass, outcome string) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(tenantClass, outcome).Inc()
}

// RecordPhase observes the duration of one phase
func (m *Metrics) RecordPhase(phase string, d time.Duration) {
	if m == nil {
		return
	}
	m.phaseDuration.WithLabelValues(phase).Observe(d.Seconds())
}

// RecordAbort counts a request aborted by a plugin
func (m *Metrics) RecordAbort(plugin, phase string) {
	if m == nil {
		return
	}
	m.pluginAborts.WithLabelValues(plugin, phase).Inc()
}

// RecordAuditFailure counts a failed audit hook
func (m *Metrics) RecordAuditFailure(plugin string) {
	if m == nil {
		return
	}
	m.auditFailures.WithLabelValues(plugin).Inc()
}

// RecordQuotaOperation counts a ledger call
func (m *Metrics) RecordQuotaOperation(op, result string) {
	if m == nil {
		return
	}
	m.quotaOperations.WithLabelValues(op, result).Inc()
}

// AuditQueueStats is a point-in-time view of the audit write queue
type AuditQueueStats struct {
	Pending   int
	Delivered int64
	Failed    int64
	Dropped   int64
}

// ObserveAuditQueue exports the audit queue through collectors that read
// stats at scrape time
func (m *Metrics) ObserveAuditQueue(stats func() AuditQueueStats) {
	if m == nil {
		return
	}
	m.registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "audit_queue_pending_records",
			Help: "Audit records waiting to be written",
		}, func() float64 { return float64(stats().Pending) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "audit_records_delivered_total",
			Help: "Total number of audit records written to storage",
		}, func() float64 { return float64(stats().Delivered) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "audit_records_failed_total",
			Help: "Total number of audit records the repository rejected",
		}, func() float64 { return float64(stats().Failed) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "audit_records_dropped_total",
			Help: "Total number of audit records dropped on a full queue",
		}, func() float64 { return float64(stats().Dropped) }),
	)
}

// Registry exposes the underlying registry for tests and custom handlers
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler serving the metrics
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
