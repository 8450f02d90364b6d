package fetcher

import "github.com/prometheus/client_golang/prometheus"

var (
	blocksProcessedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "daosync",
		Subsystem: "fetcher",
		Name:      "blocks_processed_total",
		Help:      "Number of blocks applied to the projection.",
	})
	pipelineFailureCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "daosync",
		Subsystem: "fetcher",
		Name:      "pipeline_failures_total",
		Help:      "Number of pipeline transactions that rolled back.",
	})
	retryCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "daosync",
		Subsystem: "fetcher",
		Name:      "rpc_retries_total",
		Help:      "Number of chain RPC retries.",
	})
	resyncCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "daosync",
		Subsystem: "fetcher",
		Name:      "resyncs_total",
		Help:      "Number of full projection resyncs.",
	})
	currentHeightGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "daosync",
		Subsystem: "fetcher",
		Name:      "current_block_number",
		Help:      "Number of the most recently executed block.",
	})
)

func init() {
	prometheus.MustRegister(
		blocksProcessedCounter,
		pipelineFailureCounter,
		retryCounter,
		resyncCounter,
		currentHeightGauge,
	)
}
