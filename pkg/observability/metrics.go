package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the authorization engine
type Metrics struct {
	// Resolution metrics
	PermissionChecksTotal  *prometheus.CounterVec
	PermissionCheckSeconds prometheus.Histogram
	ResolvedRolesPerCheck  prometheus.Histogram

	// Grant lifecycle metrics
	GrantOperationsTotal *prometheus.CounterVec
	GrantConflictsTotal  *prometheus.CounterVec

	// Sweep metrics
	SweepRunsTotal     prometheus.Counter
	SweepFlippedTotal  *prometheus.CounterVec
	SweepDurationSecs  prometheus.Histogram
	SweepFailuresTotal prometheus.Counter

	// Audit metrics
	AuditRecordsTotal  *prometheus.CounterVec
	AuditSkippedTotal  prometheus.Counter
	AuditFailuresTotal prometheus.Counter

	registry *prometheus.Registry
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	m := &Metrics{
		PermissionChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_permission_checks_total",
				Help: "Total number of permission checks",
			},
			[]string{"result"},
		),
		PermissionCheckSeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "warden_permission_check_duration_seconds",
				Help:    "Permission check duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		ResolvedRolesPerCheck: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "warden_resolved_roles_per_check",
				Help:    "Number of candidate roles considered per resolution",
				Buckets: []float64{1, 2, 5, 10, 20, 50},
			},
		),
		GrantOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_grant_operations_total",
				Help: "Total grant store mutations",
			},
			[]string{"entity", "operation"},
		),
		GrantConflictsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_grant_conflicts_total",
				Help: "Grant attempts rejected as duplicate active grants",
			},
			[]string{"entity"},
		),
		SweepRunsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "warden_sweep_runs_total",
				Help: "Total expiry sweep invocations",
			},
		),
		SweepFlippedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_sweep_flipped_total",
				Help: "Expired grants flipped to inactive by the sweep",
			},
			[]string{"entity"},
		),
		SweepDurationSecs: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "warden_sweep_duration_seconds",
				Help:    "Expiry sweep duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		SweepFailuresTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "warden_sweep_failures_total",
				Help: "Expiry sweep runs that returned an error",
			},
		),
		AuditRecordsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_audit_records_total",
				Help: "Audit records written, by business type",
			},
			[]string{"business_type"},
		),
		AuditSkippedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "warden_audit_skipped_total",
				Help: "Mutations committed without an operation context",
			},
		),
		AuditFailuresTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "warden_audit_failures_total",
				Help: "Audit record writes that failed",
			},
		),
		registry: registry,
	}

	registry.MustRegister(
		m.PermissionChecksTotal,
		m.PermissionCheckSeconds,
		m.ResolvedRolesPerCheck,
		m.GrantOperationsTotal,
		m.GrantConflictsTotal,
		m.SweepRunsTotal,
		m.SweepFlippedTotal,
		m.SweepDurationSecs,
		m.SweepFailuresTotal,
		m.AuditRecordsTotal,
		m.AuditSkippedTotal,
		m.AuditFailuresTotal,
	)

	return m
}

// Handler returns an HTTP handler serving the metrics registry
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
