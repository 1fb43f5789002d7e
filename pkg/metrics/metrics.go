// Package metrics documents the Prometheus metrics exported by the market poller.
// All metrics are defined in their respective packages (poller, pipeline,
// ratelimit, hypixel, cache) to keep packages self-contained and avoid
// import cycles; this package only exposes the registry and the handler.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the registerer every package's promauto metrics land in.
var Registry = prometheus.DefaultRegisterer

// Handler serves the default gatherer in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Metrics Documentation
//
// Poller Metrics (pkg/poller):
//   - market_poller_mode{source, mode} (Gauge): 1 for the current mode of a source, 0 otherwise
//   - market_poller_transitions_total{source, from, to} (Counter): Mode transitions
//   - market_poller_polls_total{source, outcome} (Counter): Ticks by outcome (changed, baseline, no_change, error, deferred)
//   - market_poller_estimated_period_seconds{source} (Gauge): Learned change period
//   - market_poller_misses_total{source} (Counter): Burst windows that elapsed without a change
//   - market_poller_consecutive_errors{source} (Gauge): Failed ticks in a row
//   - market_poller_retries_total{source, error_class} (Counter): Retry attempts inside a tick
//   - market_poller_retry_exhausted_total{source, error_class} (Counter): Ticks whose attempts all failed
//   - market_poller_detection_lag_seconds{source} (Histogram): Time between expected and observed change
//
// Limiter Metrics (pkg/ratelimit):
//   - market_limiter_wait_seconds (Histogram): Time spent waiting for admission
//   - market_limiter_deferred_total (Counter): Non-blocking admissions answered with "not yet"
//   - market_upstream_quota_remaining (Gauge): Last RateLimit-Remaining seen from Hypixel
//   - market_upstream_quota_blocks_total (Counter): Admissions held back by critical quota
//   - market_upstream_quota_throttles_total (Counter): Admissions slowed by warning quota
//
// Pipeline Metrics (pkg/pipeline):
//   - market_pipeline_depth{source} (Gauge): Items waiting in the queue
//   - market_pipeline_enqueued_total{source} (Counter): Items accepted
//   - market_pipeline_coalesced_total{source} (Counter): Items dropped in favour of a newer one
//   - market_pipeline_rejected_total{source} (Counter): Items refused because the queue was full or closed
//   - market_pipeline_processed_total{source, result} (Counter): Handler invocations by result (ok, error, panic)
//   - market_pipeline_discarded_total{source} (Counter): Items dropped at shutdown
//   - market_pipeline_handler_duration_seconds{source} (Histogram): Handler latency
//
// Fetch Metrics (pkg/hypixel):
//   - market_requests_total{path, status} (Counter): Upstream requests by path and HTTP status
//   - market_request_duration_seconds{path} (Histogram): Upstream request latency
//   - market_errors_total{class} (Counter): Fetch errors by class (client, server, rate_limit, network, decode, circuit_open)
//   - market_circuit_state{path} (Gauge): 0 closed, 1 half-open, 2 open
//   - market_304_responses_total{path} (Counter): 304 Not Modified responses
//   - market_conditional_requests_total{path} (Counter): Requests sent with If-None-Match or If-Modified-Since
//   - market_pages_fetched_total{path} (Counter): Auction pages decoded
//
// Snapshot Cache Metrics (pkg/cache):
//   - market_snapshot_writes_total{source} (Counter): Snapshots stored
//   - market_snapshot_hits_total{part} / market_snapshot_misses_total{part} (Counter): Reads of the data or meta key
//   - market_snapshot_size_bytes{source} (Gauge): Size of the stored snapshot
//   - market_snapshot_errors_total{operation} (Counter): Redis failures
//
// Example Prometheus Queries:
//
//   # Sources currently bursting
//   market_poller_mode{mode="BURST"} == 1
//
//   # Miss ratio per source
//   rate(market_poller_misses_total[30m]) /
//   rate(market_poller_polls_total{outcome="changed"}[30m])
//
//   # Work lost to coalescing
//   rate(market_pipeline_coalesced_total[5m])
//
//   # P95 detection lag
//   histogram_quantile(0.95, rate(market_poller_detection_lag_seconds_bucket[15m]))
//
//   # Request budget usage
//   sum(rate(market_requests_total[1m]))
