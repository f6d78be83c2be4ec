package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gaitstream_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gaitstream_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint", "status"},
	)

	// Ingest metrics
	SamplesIngestedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gaitstream_samples_ingested_total",
			Help: "Total number of gait samples received",
		},
		[]string{"source", "status"}, // source: real_time, historical; status: stored, failed, rejected
	)

	IngestBatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gaitstream_ingest_batch_size",
			Help:    "Size of historical sample batches received",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
	)

	PersistDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gaitstream_persist_duration_seconds",
			Help:    "Time taken to persist a gait sample",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
	)

	// Alert metrics
	AlertsTriggeredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gaitstream_alerts_triggered_total",
			Help: "Total number of alerts produced by evaluation",
		},
		[]string{"kind", "severity"},
	)

	AlertsExportedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gaitstream_alerts_exported_total",
			Help: "Total number of alerts published to the export topic",
		},
		[]string{"status"}, // status: success, failed
	)

	// Connection registry metrics
	ProducerConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gaitstream_producer_connections",
			Help: "Currently registered producer (patient device) connections",
		},
	)

	ConsumerConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gaitstream_consumer_connections",
			Help: "Currently registered consumer (monitoring console) connections",
		},
	)

	ProducerReplacedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gaitstream_producer_replaced_total",
			Help: "Times a reconnecting device replaced a live producer connection",
		},
	)

	BroadcastsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gaitstream_broadcasts_total",
			Help: "Total number of alert broadcasts to the consumer set",
		},
	)

	ConsumersPrunedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gaitstream_consumers_pruned_total",
			Help: "Consumers removed after a failed send",
		},
		[]string{"cause"}, // cause: broadcast, keepalive
	)

	// Threshold cache metrics
	ThresholdCacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gaitstream_threshold_cache_total",
			Help: "Threshold cache lookups",
		},
		[]string{"result"}, // result: hit, miss, error
	)

	// Panic recovery
	PanicsRecovered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gaitstream_panics_recovered_total",
			Help: "Total number of panics recovered",
		},
		[]string{"component"},
	)
)
