// Package metrics exposes prometheus collectors for the processing pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ProcessingErrors counts exhausted-retry failures by taxonomy code.
	ProcessingErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "email_processing_errors_total",
		Help: "Total number of emails that exhausted retries and entered error state.",
	}, []string{"error_type", "user_id"})

	// DLQInserts counts dead-letter rows written.
	DLQInserts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "email_dlq_total",
		Help: "Total number of dead-letter queue rows inserted.",
	}, []string{"error_type", "user_id"})

	// RetryCount observes how many attempts an operation needed before settling.
	RetryCount = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "email_retry_count",
		Help:    "Distribution of retry attempts per provider operation.",
		Buckets: []float64{0, 1, 2, 3},
	})

	// EmailsInErrorState tracks queue rows currently in error state.
	EmailsInErrorState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "emails_in_error_state",
		Help: "Number of email queue rows currently in error state.",
	}, []string{"error_type"})

	// ClassificationFallbacks counts rule-based fallbacks when the LLM is unavailable.
	ClassificationFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "classification_fallback_total",
		Help: "Total number of classifications that fell back to rule-based detection.",
	}, []string{"reason"})

	// JobsProcessed counts background jobs by type and outcome.
	JobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "assistant_jobs_total",
		Help: "Total background jobs processed by type and outcome.",
	}, []string{"job_type", "outcome"})
)
