// Package metrics provides Prometheus metrics for FeedSentry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "feedsentry"

var (
	// AdapterFetchTotal counts adapter fetches by source type and outcome.
	AdapterFetchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "adapter_fetch_total",
			Help:      "Total number of adapter fetches",
		},
		[]string{"type", "status"},
	)

	// AdapterItemsTotal counts items returned by adapters.
	AdapterItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "adapter_items_total",
			Help:      "Total number of items returned by adapters",
		},
		[]string{"type"},
	)

	// ContentIngestedTotal counts newly persisted content rows.
	ContentIngestedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "content_ingested_total",
			Help:      "Total number of new content rows",
		},
	)

	// SweepDuration measures poll sweep duration.
	SweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "poll_sweep_duration_seconds",
			Help:      "Duration of poll sweeps in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// JobsTotal counts processed queue jobs by outcome.
	JobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Total number of queue job attempts",
		},
		[]string{"queue", "status"},
	)

	// LLMCallsTotal counts LLM completions by provider and outcome.
	LLMCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_calls_total",
			Help:      "Total number of LLM completions",
		},
		[]string{"provider", "status"},
	)

	// LLMDuration measures LLM completion latency.
	LLMDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_call_duration_seconds",
			Help:      "Duration of LLM completions in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"provider"},
	)

	// NotificationsTotal counts dispatch attempts by channel and outcome.
	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Total number of notification attempts",
		},
		[]string{"channel", "status"},
	)

	// DigestsTotal counts digest runs by outcome.
	DigestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "digests_total",
			Help:      "Total number of digest evaluations",
		},
		[]string{"status"},
	)

	// BacktestItemsTotal counts replayed backtest items by outcome.
	BacktestItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backtest_items_total",
			Help:      "Total number of backtest items replayed",
		},
		[]string{"status"},
	)
)

// RecordFetch records one adapter fetch.
func RecordFetch(sourceType, status string, items int) {
	AdapterFetchTotal.WithLabelValues(sourceType, status).Inc()
	if items > 0 {
		AdapterItemsTotal.WithLabelValues(sourceType).Add(float64(items))
	}
}

// RecordJob records one queue job attempt.
func RecordJob(queue, status string) {
	JobsTotal.WithLabelValues(queue, status).Inc()
}

// RecordLLM records one LLM completion.
func RecordLLM(provider, status string, seconds float64) {
	LLMCallsTotal.WithLabelValues(provider, status).Inc()
	LLMDuration.WithLabelValues(provider).Observe(seconds)
}

// RecordNotification records one dispatch attempt.
func RecordNotification(channel, status string) {
	NotificationsTotal.WithLabelValues(channel, status).Inc()
}
