package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all application metrics
type Metrics struct {
	// Matching engine metrics
	WavesDispatched    *prometheus.CounterVec
	CandidatesSelected prometheus.Histogram
	RequestOutcomes    *prometheus.CounterVec
	DonorResponses     *prometheus.CounterVec
	ActiveRequests     prometheus.Gauge
	WaveDuration       prometheus.Histogram

	// Notification metrics
	NotificationsSent   *prometheus.CounterVec
	NotificationsFailed *prometheus.CounterVec

	// Outbox metrics
	OutboxEventsProcessed prometheus.Counter
	OutboxEventsFailed    prometheus.Counter
	OutboxProcessingTime  prometheus.Histogram

	// Database metrics
	DatabaseOperations *prometheus.CounterVec
}

// NewMetrics creates and registers all application metrics
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		WavesDispatched: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "waves_dispatched_total",
			Help:      "Total number of notification waves dispatched, by urgency",
		}, []string{"urgency"}),
		CandidatesSelected: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "candidates_per_wave",
			Help:      "Number of candidates selected per wave",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13, 21},
		}),
		RequestOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "request_outcomes_total",
			Help:      "Requests reaching a final engine state, by outcome",
		}, []string{"outcome"}),
		DonorResponses: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "donor_responses_total",
			Help:      "Donor responses processed, by result",
		}, []string{"result"}),
		ActiveRequests: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_requests",
			Help:      "Requests currently owned by a matching runner",
		}),
		WaveDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "wave_duration_seconds",
			Help:      "Time from wave dispatch to wave resolution",
			Buckets:   []float64{1, 5, 15, 60, 300, 900, 1800, 3600, 7200},
		}),
		NotificationsSent: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_sent_total",
			Help:      "Donor notifications dispatched, by channel",
		}, []string{"channel"}),
		NotificationsFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_failed_total",
			Help:      "Donor notifications that failed to dispatch, by channel",
		}, []string{"channel"}),
		OutboxEventsProcessed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_events_processed_total",
			Help:      "Total number of successfully processed outbox events",
		}),
		OutboxEventsFailed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_events_failed_total",
			Help:      "Total number of failed outbox events",
		}),
		OutboxProcessingTime: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "outbox_processing_duration_seconds",
			Help:      "Time spent processing outbox batches",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}),
		DatabaseOperations: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "database_operations_total",
			Help:      "Total number of database operations",
		}, []string{"operation", "status"}),
	}
}
