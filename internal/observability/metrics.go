package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveWorkers tracks the number of currently running DeploymentWorkers.
	ActiveWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "schema_migrate_active_workers",
			Help: "Number of currently running deployment workers",
		},
	)

	// MailboxDepth tracks how many envelopes are buffered in a worker's
	// mailbox channel, labeled by project.
	MailboxDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "schema_migrate_mailbox_depth",
			Help: "Number of envelopes currently queued in a worker's mailbox",
		},
		[]string{"project_id"},
	)

	// StashDepth tracks how many messages a worker currently has stashed
	// while Busy or Initializing.
	StashDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "schema_migrate_stash_depth",
			Help: "Number of envelopes currently stashed by a worker",
		},
		[]string{"project_id"},
	)

	// MigrationsTotal tracks terminal migration outcomes by status.
	MigrationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "schema_migrate_migrations_total",
			Help: "Total number of migrations by terminal status",
		},
		[]string{"status"},
	)

	// StepApplyDuration tracks how long a single step's apply/unapply call
	// takes against the client database.
	StepApplyDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "schema_migrate_step_apply_duration_seconds",
			Help:    "Duration of a single migration step apply/unapply call",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"step_kind", "direction"},
	)

	// ScheduleRejections tracks admission-control rejections, almost always
	// ErrDeploymentInProgress.
	ScheduleRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "schema_migrate_schedule_rejections_total",
			Help: "Total number of Schedule requests rejected by admission control",
		},
		[]string{"reason"},
	)

	// PendingScanMatches tracks how many Pending migrations the periodic
	// reconciliation loop found and re-kicked.
	PendingScanMatches = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "schema_migrate_pending_scan_matches_total",
			Help: "Total number of pending migrations re-kicked by the reconciliation loop",
		},
	)
)

// Metrics provides access to all application metrics.
type Metrics struct{}

// NewMetrics creates a new Metrics instance.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// RecordMigration records a terminal migration outcome.
func (m *Metrics) RecordMigration(status string) {
	MigrationsTotal.WithLabelValues(status).Inc()
}

// SetActiveWorkers sets the number of currently running workers.
func (m *Metrics) SetActiveWorkers(count float64) {
	ActiveWorkers.Set(count)
}

// SetMailboxDepth records the current mailbox depth for a project.
func (m *Metrics) SetMailboxDepth(projectID string, depth float64) {
	MailboxDepth.WithLabelValues(projectID).Set(depth)
}

// SetStashDepth records the current stash depth for a project.
func (m *Metrics) SetStashDepth(projectID string, depth float64) {
	StashDepth.WithLabelValues(projectID).Set(depth)
}

// RecordScheduleRejection records an admission-control rejection.
func (m *Metrics) RecordScheduleRejection(reason string) {
	ScheduleRejections.WithLabelValues(reason).Inc()
}
