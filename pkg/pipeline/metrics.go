package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pipelineDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "market_pipeline_depth",
		Help: "Items waiting in the pipeline queue",
	}, []string{"source"})

	pipelineEnqueuedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "market_pipeline_enqueued_total",
		Help: "Total number of items accepted by the pipeline",
	}, []string{"source"})

	pipelineCoalescedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "market_pipeline_coalesced_total",
		Help: "Total number of queued items dropped in favour of a newer one",
	}, []string{"source"})

	pipelineRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "market_pipeline_rejected_total",
		Help: "Total number of items refused because the queue was full or closed",
	}, []string{"source"})

	pipelineProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "market_pipeline_processed_total",
		Help: "Total number of handler invocations by result",
	}, []string{"source", "result"})

	pipelineDiscardedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "market_pipeline_discarded_total",
		Help: "Total number of queued items dropped at shutdown",
	}, []string{"source"})

	pipelineHandlerDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "market_pipeline_handler_duration_seconds",
		Help:    "Handler latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"source"})
)
