package consumer

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"example.com/presence/internal/domain"
)

// Outcome labels beyond the recorder's own online/offline/unchanged.
const (
	outcomeDiscarded = "discarded"
	outcomeIgnored   = "ignored"
)

var (
	transitionCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "presence_service",
		Subsystem: "consumer",
		Name:      "transitions_total",
		Help:      "Presence events consumed, by what they did to the subject's record.",
	}, []string{"outcome"})

	retryCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "presence_service",
		Subsystem: "consumer",
		Name:      "transition_retries_total",
		Help:      "Presence events handed back to the recorder after a failure.",
	}, []string{"reason"})

	malformedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "presence_service",
		Subsystem: "consumer",
		Name:      "malformed_events_total",
		Help:      "Presence events committed without handling because they could not be decoded.",
	})

	transitionLag = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "presence_service",
		Subsystem: "consumer",
		Name:      "transition_lag_seconds",
		Help:      "Delay between a presence change occurring and the recorder applying it.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 15, 60, 300},
	})
)

func init() {
	prometheus.MustRegister(transitionCounter, retryCounter, malformedCounter, transitionLag)
}

func recordOutcome(outcome string) {
	transitionCounter.WithLabelValues(outcome).Inc()
}

func recordRetry(err error) {
	reason := "other"
	switch {
	case errors.Is(err, domain.ErrStoreUnavailable):
		reason = "store_unavailable"
	case errors.Is(err, domain.ErrVersionConflict):
		reason = "version_conflict"
	}
	retryCounter.WithLabelValues(reason).Inc()
}

func recordMalformed() {
	malformedCounter.Inc()
}

func recordLag(occurredAt, appliedAt time.Time) {
	if occurredAt.IsZero() || appliedAt.Before(occurredAt) {
		return
	}
	transitionLag.Observe(appliedAt.Sub(occurredAt).Seconds())
}
