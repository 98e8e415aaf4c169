// Copyright 2025 James Ross
package obs

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are label-vectored by source_id per spec §4.5, so a single
// ingestion engine process can report independent series for every
// registered source.
var (
	BatchesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ingestion_batches_total",
		Help: "Total number of batches attempted per source.",
	}, []string{"source_id"})

	BatchesSucceeded = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ingestion_batches_succeeded_total",
		Help: "Total number of batches that completed successfully per source.",
	}, []string{"source_id"})

	BatchesFailed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ingestion_batches_failed_total",
		Help: "Total number of batches that failed per source.",
	}, []string{"source_id"})

	RecordsProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ingestion_records_processed_total",
		Help: "Total number of records that completed the pipeline per source.",
	}, []string{"source_id"})

	RecordsRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ingestion_records_rejected_total",
		Help: "Total number of records rejected by the pipeline per source.",
	}, []string{"source_id", "stage"})

	RecordsDuplicated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ingestion_records_duplicated_total",
		Help: "Total number of records identified as duplicates per source.",
	}, []string{"source_id"})

	ErrorsByKind = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ingestion_errors_total",
		Help: "Total number of errors encountered, labeled by recovery class.",
	}, []string{"source_id", "class"})

	FetchDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ingestion_fetch_duration_seconds",
		Help:    "Time spent fetching a batch from the source adapter.",
		Buckets: prometheus.DefBuckets,
	}, []string{"source_id"})

	PipelineDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ingestion_pipeline_duration_seconds",
		Help:    "Time spent running a batch through the processing pipeline.",
		Buckets: prometheus.DefBuckets,
	}, []string{"source_id"})

	StorageDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ingestion_storage_duration_seconds",
		Help:    "Time spent committing a batch to the storage adapter.",
		Buckets: prometheus.DefBuckets,
	}, []string{"source_id"})

	EndToEndLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ingestion_end_to_end_latency_seconds",
		Help:    "Time from fetch start to storage commit for a batch.",
		Buckets: prometheus.DefBuckets,
	}, []string{"source_id"})

	CircuitBreakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ingestion_circuit_breaker_state",
		Help: "0 closed, 1 open, 2 half_open.",
	}, []string{"source_id"})

	DeferredTicks = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ingestion_deferred_ticks",
		Help: "Number of ticks deferred due to backpressure per source.",
	}, []string{"source_id"})

	WorkerPoolActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ingestion_worker_pool_active",
		Help: "Number of worker goroutines currently processing a batch.",
	})
)

func init() {
	prometheus.MustRegister(
		BatchesTotal, BatchesSucceeded, BatchesFailed,
		RecordsProcessed, RecordsRejected, RecordsDuplicated,
		ErrorsByKind, FetchDuration, PipelineDuration, StorageDuration,
		EndToEndLatency, CircuitBreakerState, DeferredTicks, WorkerPoolActive,
	)
}
