package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	transitionCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "presence_service",
		Subsystem: "recorder",
		Name:      "transitions_total",
		Help:      "Number of recorded presence events grouped by outcome (online, offline, unchanged).",
	}, []string{"outcome"})

	windowResetCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "presence_service",
		Subsystem: "recorder",
		Name:      "window_resets_total",
		Help:      "Number of accumulation windows zeroed, labeled by window.",
	}, []string{"window"})

	versionConflictCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "presence_service",
		Subsystem: "recorder",
		Name:      "version_conflicts_total",
		Help:      "Number of optimistic concurrency conflicts observed on record upserts.",
	})

	lastTransitionGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "presence_service",
		Subsystem: "recorder",
		Name:      "last_transition_persisted_timestamp_seconds",
		Help:      "Unix timestamp of the most recent activity record persisted by the recorder.",
	})

	reconcileCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "presence_service",
		Subsystem: "dashboard",
		Name:      "reconcile_passes_total",
		Help:      "Number of dashboard reconciliation passes grouped by result.",
	}, []string{"result"})

	reconcileDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "presence_service",
		Subsystem: "dashboard",
		Name:      "reconcile_duration_seconds",
		Help:      "Time spent in a dashboard reconciliation pass.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
	})

	artifactCreatedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "presence_service",
		Subsystem: "dashboard",
		Name:      "artifacts_created_total",
		Help:      "Number of dashboard messages created, including replacements for deleted ones.",
	})
)

func init() {
	prometheus.MustRegister(
		transitionCounter,
		windowResetCounter,
		versionConflictCounter,
		lastTransitionGauge,
		reconcileCounter,
		reconcileDuration,
		artifactCreatedCounter,
	)
}

// RecordTransition counts a recorder outcome and bumps the persistence watermark.
func RecordTransition(outcome string, ts time.Time) {
	transitionCounter.WithLabelValues(outcome).Inc()
	if !ts.IsZero() {
		lastTransitionGauge.Set(float64(ts.Unix()))
	}
}

// RecordWindowReset counts a zeroed window.
func RecordWindowReset(window string) {
	windowResetCounter.WithLabelValues(window).Inc()
}

// RecordVersionConflict counts an optimistic concurrency conflict.
func RecordVersionConflict() {
	versionConflictCounter.Inc()
}

// RecordReconcile counts a reconciliation pass and observes its duration.
func RecordReconcile(result string, elapsed time.Duration) {
	reconcileCounter.WithLabelValues(result).Inc()
	reconcileDuration.Observe(elapsed.Seconds())
}

// RecordArtifactCreated counts a newly created dashboard message.
func RecordArtifactCreated() {
	artifactCreatedCounter.Inc()
}
