package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks lookups that found an entry
	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "indicator_cache_hits_total",
			Help: "Total number of session cache hits",
		},
	)

	// CacheMisses tracks lookups that found nothing
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "indicator_cache_misses_total",
			Help: "Total number of session cache misses",
		},
	)

	// CacheEvictions tracks entries removed by the retention sweep
	CacheEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "indicator_cache_evictions_total",
			Help: "Total number of session cache entries evicted after the retention budget",
		},
	)

	// CacheEntries tracks entries currently held across all managers
	CacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "indicator_cache_entries",
			Help: "Current number of session cache entries",
		},
	)
)
