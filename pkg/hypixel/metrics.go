package hypixel

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sony/gobreaker/v2"
)

// Prometheus metrics for Hypixel client operations.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "market_requests_total",
		Help: "Total Hypixel requests by path and status",
	}, []string{"path", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "market_request_duration_seconds",
		Help:    "Hypixel request duration in seconds by path",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"path"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "market_errors_total",
		Help: "Total Hypixel errors by class",
	}, []string{"class"})

	circuitState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "market_circuit_state",
		Help: "Circuit breaker state per path (0=closed, 1=half-open, 2=open)",
	}, []string{"path"})

	notModifiedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "market_304_responses_total",
		Help: "Total 304 Not Modified responses by path",
	}, []string{"path"})

	conditionalRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "market_conditional_requests_total",
		Help: "Total requests sent with If-None-Match or If-Modified-Since",
	}, []string{"path"})

	pagesFetchedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "market_pages_fetched_total",
		Help: "Total pages fetched by paginated sources",
	}, []string{"path"})
)

// stateToFloat converts a breaker state to its gauge value.
func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
