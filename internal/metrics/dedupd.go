package metrics

import "github.com/prometheus/client_golang/prometheus"

// Gate metrics.
var (
	GateDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gate_decisions_total",
			Help:      "URLs admitted or rejected by the deduplication gate",
		},
		[]string{"mode", "decision"}, // "admit" / "reject" / "invalid"
	)

	GateDegradedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gate_degraded_checks_total",
			Help:      "Lookups that failed or timed out and admitted the URL",
		},
		[]string{"tier"}, // "store" / "cache"
	)

	GateFilterSaturation = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "gate_filter_saturation",
			Help:      "Membership filter inserted/capacity ratio",
		},
	)

	GateFilterInserted = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "gate_filter_inserted",
			Help:      "Keys inserted into the membership filter",
		},
	)

	SeenCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "seen_cache_total",
			Help:      "Shared seen cache lookups",
		},
		[]string{"result"}, // "hit" / "miss" / "error"
	)
)

// Cleanup metrics.
var (
	CleanupRemovedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cleanup_removed_total",
			Help:      "Documents removed by cleanup runs",
		},
		[]string{"type"},
	)

	CleanupErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cleanup_errors_total",
			Help:      "Failed document deletes",
		},
	)

	CleanupDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cleanup_duration_seconds",
			Help:      "Cleanup run duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 300, 900},
		},
		[]string{"dry_run"},
	)
)

// Scheduler metrics.
var (
	SchedulerRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_runs_total",
			Help:      "Scheduled runs by kind, trigger and outcome",
		},
		[]string{"kind", "trigger", "status"},
	)

	SchedulerSkippedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_skipped_total",
			Help:      "Triggers that fired but did not start a run",
		},
		[]string{"reason"}, // "running" / "interval"
	)
)

var registered bool

// RegisterMetrics registers the engine metrics. Must be called once from main.
func RegisterMetrics() {
	if registered {
		return
	}
	prometheus.MustRegister(
		GateDecisionsTotal,
		GateDegradedTotal,
		GateFilterSaturation,
		GateFilterInserted,
		SeenCacheTotal,
		CleanupRemovedTotal,
		CleanupErrorsTotal,
		CleanupDuration,
		SchedulerRunsTotal,
		SchedulerSkippedTotal,
	)
	registered = true
}
