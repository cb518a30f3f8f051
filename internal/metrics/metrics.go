// Package metrics exposes Prometheus collectors for the crawl worker.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TasksProcessed counts task outcomes, labeled by platform and status.
	TasksProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawl_tasks_total",
			Help: "Total number of crawl tasks processed, labeled by platform and status.",
		},
		[]string{"platform", "status"},
	)

	// TasksDeadLettered counts tasks that exhausted their retry budget.
	TasksDeadLettered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawl_tasks_dead_lettered_total",
			Help: "Total number of tasks moved to the dead-letter list.",
		},
		[]string{"platform"},
	)

	// TasksRetried counts queue-level re-enqueues.
	TasksRetried = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawl_tasks_retried_total",
			Help: "Total number of tasks re-enqueued for retry.",
		},
		[]string{"platform"},
	)

	// ActiveWorkers tracks workers currently processing a task.
	ActiveWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "crawl_active_workers",
			Help: "Number of workers currently processing a task.",
		},
	)

	// ScrapeDuration observes wall-clock scrape latency per platform.
	ScrapeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "crawl_scrape_duration_seconds",
			Help:    "Histogram of end-to-end scrape durations.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"platform"},
	)

	// ResultsDropped counts result publications the broker refused.
	ResultsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "crawl_results_dropped_total",
			Help: "Total number of result messages that failed to publish.",
		},
	)

	// QueueDepth tracks the last observed depth of each broker list.
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "crawl_queue_depth",
			Help: "Last observed depth of each broker queue.",
		},
		[]string{"queue"},
	)
)
