package pagination

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for the coordinator.
var (
	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "indicator_retries_total",
		Help: "Total number of scheduled fetch retries by error kind",
	}, []string{"kind"})

	retryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "indicator_retry_backoff_seconds",
		Help:    "Backoff before a scheduled retry by error kind",
		Buckets: []float64{0.5, 1, 2, 4, 8, 16, 30},
	}, []string{"kind"})

	retryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "indicator_retry_exhausted_total",
		Help: "Total number of fetches that failed terminally by error kind",
	}, []string{"kind"})

	pagesAppendedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "indicator_pages_appended_total",
		Help: "Total number of pages applied to a stream",
	})

	staleResultsDiscardedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "indicator_stale_results_discarded_total",
		Help: "Total number of fetch completions discarded because their activation was superseded",
	})

	activeFetches = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "indicator_active_fetches",
		Help: "Number of upstream fetches currently running",
	})
)
