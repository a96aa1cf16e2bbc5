// Package metrics exposes the Prometheus registry shared by the indicator feed.
// Metrics are defined next to the code that updates them (client, cache,
// ratelimit, pagination, api) and registered via promauto; this package only
// serves them and documents the catalogue.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the Prometheus registerer all packages register with.
var Registry = prometheus.DefaultRegisterer

// Gatherer is the gatherer backing Handler.
var Gatherer = prometheus.DefaultGatherer

// Handler returns the HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Metrics Documentation
//
// Upstream Metrics (pkg/client):
//   - indicator_upstream_requests_total{status} (Counter): Upstream requests by HTTP status
//   - indicator_upstream_request_duration_seconds (Histogram): Upstream request latency
//   - indicator_fetch_errors_total{kind} (Counter): Failed fetches by error kind
//   - indicator_shared_fetches_total (Counter): Callers served by an identical in-flight fetch
//
// Rate Limit Metrics (pkg/ratelimit):
//   - indicator_rate_limit_cooldowns_total (Counter): 429 responses that opened or extended a cooldown
//   - indicator_rate_limit_blocks_total (Counter): Requests refused locally during a cooldown
//
// Pagination Metrics (pkg/pagination):
//   - indicator_retries_total{kind} (Counter): Scheduled retries by error kind
//   - indicator_retry_backoff_seconds{kind} (Histogram): Backoff delay by error kind
//   - indicator_retry_exhausted_total{kind} (Counter): Fetches that failed after all retries
//   - indicator_pages_appended_total (Counter): Pages applied to streams
//   - indicator_stale_results_discarded_total (Counter): Completions dropped after deactivation
//   - indicator_active_fetches (Gauge): Fetches currently in flight
//
// Cache Metrics (pkg/cache):
//   - indicator_cache_hits_total (Counter): Stream lookups that found an entry
//   - indicator_cache_misses_total (Counter): Stream lookups without an entry
//   - indicator_cache_evictions_total (Counter): Entries evicted after the retention period
//   - indicator_cache_entries (Gauge): Cached streams
//
// Session Metrics (internal/api):
//   - indicator_sessions_active (Gauge): Open UI sessions
//
// Example Prometheus Queries:
//
//   # Upstream Error Rate
//   sum(rate(indicator_fetch_errors_total[5m])) by (kind)
//
//   # Cache Hit Rate
//   sum(rate(indicator_cache_hits_total[5m])) /
//   (sum(rate(indicator_cache_hits_total[5m])) + sum(rate(indicator_cache_misses_total[5m])))
//
//   # P95 Upstream Latency
//   histogram_quantile(0.95, rate(indicator_upstream_request_duration_seconds_bucket[5m]))
//
//   # Cooldowns Per Hour
//   increase(indicator_rate_limit_cooldowns_total[1h])
