package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all application metrics
type Metrics struct {
	// Dispatch metrics
	DispatchOutcomes *prometheus.CounterVec
	DispatchLatency  prometheus.Histogram

	// Digest metrics
	DigestBucketsCreated prometheus.Counter
	DigestEventsAppended prometheus.Counter
	DigestFlushes        *prometheus.CounterVec
	DigestFlushLatency   prometheus.Histogram

	// Delivery channel metrics
	ChannelSends   *prometheus.CounterVec
	ChannelRetries *prometheus.CounterVec

	// SMS provider metrics
	ProviderCalls   *prometheus.CounterVec
	ProviderLatency *prometheus.HistogramVec
	PoolFreeNumbers prometheus.Gauge

	// Job queue metrics
	JobsEnqueued  *prometheus.CounterVec
	JobsProcessed *prometheus.CounterVec
	JobLatency    prometheus.Histogram
}

// NewMetrics creates and registers all application metrics
func NewMetrics(namespace, subsystem string) *Metrics {
	return &Metrics{
		DispatchOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "dispatch_outcomes_total",
			Help:      "Per-recipient dispatch outcomes by event type, channel and outcome",
		}, []string{"event_type", "channel", "outcome"}),
		DispatchLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "dispatch_duration_seconds",
			Help:      "Time spent dispatching one event to all recipients",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
		DigestBucketsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "digest_buckets_created_total",
			Help:      "Total number of digest buckets opened",
		}),
		DigestEventsAppended: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "digest_events_appended_total",
			Help:      "Total number of events appended to digest buckets",
		}),
		DigestFlushes: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "digest_flushes_total",
			Help:      "Digest flush attempts by outcome",
		}, []string{"outcome"}),
		DigestFlushLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "digest_flush_duration_seconds",
			Help:      "Time spent flushing one digest bucket",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
		ChannelSends: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "channel_sends_total",
			Help:      "Channel adapter send attempts by channel and status",
		}, []string{"channel", "status"}),
		ChannelRetries: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "channel_retries_total",
			Help:      "Channel adapter retry attempts",
		}, []string{"channel"}),
		ProviderCalls: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "sms_provider_calls_total",
			Help:      "Outbound SMS provider API calls by provider, operation and status",
		}, []string{"provider", "operation", "status"}),
		ProviderLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "sms_provider_call_duration_seconds",
			Help:      "Duration of SMS provider API calls",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"provider", "operation"}),
		PoolFreeNumbers: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "sms_pool_free_numbers",
			Help:      "Current number of unallocated numbers in the SMS pool",
		}),
		JobsEnqueued: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "jobs_enqueued_total",
			Help:      "Delayed jobs enqueued by type",
		}, []string{"type"}),
		JobsProcessed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "jobs_processed_total",
			Help:      "Delayed jobs processed by type and status",
		}, []string{"type", "status"}),
		JobLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "job_processing_duration_seconds",
			Help:      "Time spent processing one delayed job",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
	}
}
