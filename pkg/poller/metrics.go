package poller

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pollerMode = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "market_poller_mode",
		Help: "1 for the current mode of a source, 0 for the others",
	}, []string{"source", "mode"})

	pollerTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "market_poller_transitions_total",
		Help: "Total number of poller mode transitions",
	}, []string{"source", "from", "to"})

	pollerPollsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "market_poller_polls_total",
		Help: "Total number of scheduled ticks by outcome",
	}, []string{"source", "outcome"})

	pollerEstimatedPeriod = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "market_poller_estimated_period_seconds",
		Help: "Learned time between upstream changes",
	}, []string{"source"})

	pollerMissesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "market_poller_misses_total",
		Help: "Total number of burst windows that elapsed without a change",
	}, []string{"source"})

	pollerConsecutiveErrors = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "market_poller_consecutive_errors",
		Help: "Failed ticks in a row",
	}, []string{"source"})

	pollerRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "market_poller_retries_total",
		Help: "Total number of retry attempts within a tick by error class",
	}, []string{"source", "error_class"})

	pollerRetryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "market_poller_retry_exhausted_total",
		Help: "Total number of ticks whose attempts were all exhausted",
	}, []string{"source", "error_class"})

	pollerDetectionLag = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "market_poller_detection_lag_seconds",
		Help:    "Distance between the expected and the observed change",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"source"})
)
