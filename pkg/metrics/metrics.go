// Package metrics provides Prometheus metrics for the fern service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MergeRunsTotal tracks merge runs that reached the pipeline, by final status
	MergeRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "merge",
			Name:      "runs_total",
			Help:      "Total number of merge runs by status",
		},
		[]string{"status"},
	)

	// MergeRequestsRejected tracks requests that failed a pre-condition
	MergeRequestsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "merge",
			Name:      "requests_rejected_total",
			Help:      "Total number of merge requests rejected before the pipeline started",
		},
		[]string{"status_code"},
	)

	// MergeDuration tracks merge run duration in seconds
	MergeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fern",
			Subsystem: "merge",
			Name:      "run_duration_seconds",
			Help:      "Duration of merge runs in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"status"},
	)

	MergesInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "fern",
			Subsystem: "merge",
			Name:      "runs_in_flight",
			Help:      "Number of merge runs currently executing",
		},
	)

	// RowsMigrated tracks foreign-key rows re-pointed during Phase 1
	RowsMigrated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "migrator",
			Name:      "rows_migrated_total",
			Help:      "Total number of rows re-pointed from source to target user",
		},
		[]string{"table", "column"},
	)

	// PhaseFailures tracks stored-procedure phases that halted a run
	PhaseFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "phase",
			Name:      "failures_total",
			Help:      "Total number of phase failures by phase and status code",
		},
		[]string{"phase", "status_code"},
	)

	// LockContention tracks merges rejected because a user was already locked
	LockContention = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "lock",
			Name:      "contention_total",
			Help:      "Total number of merge lock acquisitions that found the lock held",
		},
	)

	// KafkaMessagesPublished tracks Kafka messages published
	KafkaMessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "kafka",
			Name:      "messages_published_total",
			Help:      "Total number of messages published to Kafka",
		},
		[]string{"topic", "status"},
	)

	// KafkaPublishDuration tracks Kafka publish duration
	KafkaPublishDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "fern",
			Subsystem: "kafka",
			Name:      "publish_duration_seconds",
			Help:      "Duration of Kafka publish operations in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
		},
	)

	// DatabaseQueryDuration tracks database query duration
	DatabaseQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fern",
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Duration of database queries in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 5, 30},
		},
		[]string{"operation"},
	)
)

// RecordKafkaPublish records a Kafka publish attempt
func RecordKafkaPublish(topic, status string, durationSeconds float64) {
	KafkaMessagesPublished.WithLabelValues(topic, status).Inc()
	KafkaPublishDuration.Observe(durationSeconds)
}
