package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus metric exported by a sync server or a
// replica controller process.
type Metrics struct {
	// sync service request latency, by endpoint
	RequestLatency *prometheus.HistogramVec

	// sync service outcome counters
	PushOpsTotal     prometheus.Counter
	PushRejectsTotal *prometheus.CounterVec
	PullOpsTotal     prometheus.Counter
	AuthFailures     prometheus.Counter
	Errors           *prometheus.CounterVec

	// replica controller
	SyncCyclesTotal   prometheus.Counter
	SyncFailuresTotal prometheus.Counter
	OpsApplied        prometheus.Counter
	OpsMerged         prometheus.Counter
	ScheduleRuns      prometheus.Counter
	PingsScheduled    prometheus.Counter
	PingsRevealed     prometheus.Counter

	// clock health
	ClockRegressions prometheus.Counter
	ClockRegressionMagnitude prometheus.Histogram
}

// NewMetrics creates and registers every metric under namespace.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		RequestLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_latency_seconds",
			Help:      "Latency of sync service HTTP handlers",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "status"}),

		PushOpsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "push_ops_total",
			Help:      "Total operations accepted via POST /api/push",
		}),

		PushRejectsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "push_rejects_total",
			Help:      "Total operations rejected on push, by error kind",
		}, []string{"kind"}),

		PullOpsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pull_ops_total",
			Help:      "Total operations returned via POST /api/pull",
		}),

		AuthFailures: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_failures_total",
			Help:      "Total requests rejected for missing or invalid bearer tokens",
		}),

		Errors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Total errors by kind",
		}, []string{"kind"}),

		SyncCyclesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_cycles_total",
			Help:      "Total replica controller sync cycles run",
		}),

		SyncFailuresTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_failures_total",
			Help:      "Total sync transport failures retried by the sync client",
		}),

		OpsApplied: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ops_applied_total",
			Help:      "Total operations applied to a local document",
		}),

		OpsMerged: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ops_merged_total",
			Help:      "Total operations merged by a register's LWW rule (value changed)",
		}),

		ScheduleRuns: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "schedule_runs_total",
			Help:      "Total schedule_pings invocations",
		}),

		PingsScheduled: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pings_scheduled_total",
			Help:      "Total ping instants added to a document by the scheduler",
		}),

		PingsRevealed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pings_revealed_total",
			Help:      "Total scheduled pings whose instant has now passed",
		}),

		ClockRegressions: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "clock_regressions_total",
			Help:      "Total large wall-clock regressions observed by the HLC",
		}),

		ClockRegressionMagnitude: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "clock_regression_seconds",
			Help:      "Magnitude of observed wall-clock regressions",
			Buckets:   []float64{1, 10, 60, 300, 3600, 86400},
		}),
	}
}

// RecordPushReject increments the push-reject counter for the given
// error kind (§7: BadRequest, UnknownPing, InvalidRate, Conflict, ...).
func (m *Metrics) RecordPushReject(kind string) {
	m.PushRejectsTotal.WithLabelValues(kind).Inc()
	m.Errors.WithLabelValues(kind).Inc()
}

// RecordClockRegression records a warned clock regression of the given
// magnitude in seconds.
func (m *Metrics) RecordClockRegression(seconds float64) {
	m.ClockRegressions.Inc()
	m.ClockRegressionMagnitude.Observe(seconds)
}
