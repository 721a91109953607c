// Package metrics provides Prometheus metrics export for the bot's
// background services.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors on one private registry.
type Metrics struct {
	registry *prometheus.Registry

	// Queue metrics
	queueEnqueued   *prometheus.CounterVec
	queuePicked     *prometheus.CounterVec
	queueCompleted  *prometheus.CounterVec
	queueFailed     *prometheus.CounterVec
	queueDead       *prometheus.CounterVec
	queueStale      *prometheus.CounterVec
	queuePending    *prometheus.GaugeVec
	queueWait       *prometheus.HistogramVec
	queueProcessing *prometheus.HistogramVec

	// Indexing metrics
	indexerProcessed *prometheus.CounterVec
	indexerBatches   *prometheus.CounterVec
	indexerBatchTime *prometheus.HistogramVec
	indexerPending   *prometheus.GaugeVec

	// LLM / embedding metrics
	llmRequests       *prometheus.CounterVec
	llmLatency        *prometheus.HistogramVec
	llmTokens         *prometheus.CounterVec
	embeddingRequests *prometheus.CounterVec
	embeddingLatency  prometheus.Histogram
	breakerState      *prometheus.GaugeVec
	limiterRejected   prometheus.Counter

	// Retrieval metrics
	retrievalRequests *prometheus.CounterVec
	retrievalLatency  prometheus.Histogram

	// Transport metrics
	ingestResults *prometheus.CounterVec
	commands      *prometheus.CounterVec
}

// Config configures the metrics registry.
type Config struct {
	// Registry to use (if nil, creates a new one)
	Registry *prometheus.Registry

	// Buckets for latency histograms (in seconds)
	LatencyBuckets []float64
}

// DefaultConfig returns default metrics configuration.
func DefaultConfig() Config {
	return Config{
		LatencyBuckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
	}
}

// New creates the collectors and registers them.
func New(cfg Config) *Metrics {
	if len(cfg.LatencyBuckets) == 0 {
		cfg.LatencyBuckets = DefaultConfig().LatencyBuckets
	}

	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	m := &Metrics{registry: registry}

	m.queueEnqueued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chatsense",
			Subsystem: "queue",
			Name:      "enqueued_total",
			Help:      "Total number of rows enqueued",
		},
		[]string{"queue"},
	)
	m.queuePicked = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chatsense",
			Subsystem: "queue",
			Name:      "picked_total",
			Help:      "Total number of rows leased by workers",
		},
		[]string{"queue"},
	)
	m.queueCompleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chatsense",
			Subsystem: "queue",
			Name:      "completed_total",
			Help:      "Total number of rows completed",
		},
		[]string{"queue"},
	)
	m.queueFailed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chatsense",
			Subsystem: "queue",
			Name:      "failed_total",
			Help:      "Total number of failed attempts scheduled for retry",
		},
		[]string{"queue"},
	)
	m.queueDead = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chatsense",
			Subsystem: "queue",
			Name:      "dead_total",
			Help:      "Total number of rows dead-lettered",
		},
		[]string{"queue"},
	)
	m.queueStale = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chatsense",
			Subsystem: "queue",
			Name:      "stale_recovered_total",
			Help:      "Total number of stale leases reclaimed",
		},
		[]string{"queue"},
	)
	m.queuePending = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "chatsense",
			Subsystem: "queue",
			Name:      "pending",
			Help:      "Unprocessed rows not currently leased",
		},
		[]string{"queue"},
	)
	m.queueWait = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "chatsense",
			Subsystem: "queue",
			Name:      "wait_seconds",
			Help:      "Time between enqueue and first processing",
			Buckets:   cfg.LatencyBuckets,
		},
		[]string{"queue"},
	)
	m.queueProcessing = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "chatsense",
			Subsystem: "queue",
			Name:      "processing_seconds",
			Help:      "Handler processing time per row",
			Buckets:   cfg.LatencyBuckets,
		},
		[]string{"queue"},
	)

	m.indexerProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chatsense",
			Subsystem: "indexer",
			Name:      "processed_total",
			Help:      "Total number of items embedded",
		},
		[]string{"handler"},
	)
	m.indexerBatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chatsense",
			Subsystem: "indexer",
			Name:      "batches_total",
			Help:      "Total number of handler batches",
		},
		[]string{"handler", "status"},
	)
	m.indexerBatchTime = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "chatsense",
			Subsystem: "indexer",
			Name:      "batch_seconds",
			Help:      "Batch processing time",
			Buckets:   cfg.LatencyBuckets,
		},
		[]string{"handler"},
	)
	m.indexerPending = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "chatsense",
			Subsystem: "indexer",
			Name:      "pending",
			Help:      "Items awaiting embedding",
		},
		[]string{"handler"},
	)

	m.llmRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chatsense",
			Subsystem: "llm",
			Name:      "requests_total",
			Help:      "Total LLM requests",
		},
		[]string{"provider", "model", "status"},
	)
	m.llmLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "chatsense",
			Subsystem: "llm",
			Name:      "latency_seconds",
			Help:      "LLM request latency in seconds",
			Buckets:   cfg.LatencyBuckets,
		},
		[]string{"provider", "model"},
	)
	m.llmTokens = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chatsense",
			Subsystem: "llm",
			Name:      "tokens_total",
			Help:      "Total LLM tokens consumed",
		},
		[]string{"model", "token_type"},
	)
	m.embeddingRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chatsense",
			Subsystem: "embedding",
			Name:      "requests_total",
			Help:      "Total embedding requests",
		},
		[]string{"status"},
	)
	m.embeddingLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "chatsense",
			Subsystem: "embedding",
			Name:      "latency_seconds",
			Help:      "Embedding request latency in seconds",
			Buckets:   cfg.LatencyBuckets,
		},
	)
	m.breakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "chatsense",
			Subsystem: "resilience",
			Name:      "breaker_state",
			Help:      "Circuit breaker state (0 closed, 1 open, 2 half-open)",
		},
		[]string{"name"},
	)
	m.limiterRejected = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "chatsense",
			Subsystem: "resilience",
			Name:      "limiter_rejected_total",
			Help:      "Requests rejected because the waiter queue was full",
		},
	)

	m.retrievalRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chatsense",
			Subsystem: "retrieval",
			Name:      "requests_total",
			Help:      "Total retrieval requests",
		},
		[]string{"strategy", "confidence"},
	)
	m.retrievalLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "chatsense",
			Subsystem: "retrieval",
			Name:      "latency_seconds",
			Help:      "End-to-end retrieval latency in seconds",
			Buckets:   cfg.LatencyBuckets,
		},
	)

	m.ingestResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chatsense",
			Subsystem: "ingest",
			Name:      "messages_total",
			Help:      "Ingested messages by outcome",
		},
		[]string{"result"},
	)
	m.commands = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chatsense",
			Subsystem: "telegram",
			Name:      "commands_total",
			Help:      "Commands received",
		},
		[]string{"command"},
	)

	registry.MustRegister(
		m.queueEnqueued,
		m.queuePicked,
		m.queueCompleted,
		m.queueFailed,
		m.queueDead,
		m.queueStale,
		m.queuePending,
		m.queueWait,
		m.queueProcessing,
		m.indexerProcessed,
		m.indexerBatches,
		m.indexerBatchTime,
		m.indexerPending,
		m.llmRequests,
		m.llmLatency,
		m.llmTokens,
		m.embeddingRequests,
		m.embeddingLatency,
		m.breakerState,
		m.limiterRejected,
		m.retrievalRequests,
		m.retrievalLatency,
		m.ingestResults,
		m.commands,
	)

	return m
}

// Queue metric recorders.

func (m *Metrics) RecordQueueEnqueued(queue string)  { m.queueEnqueued.WithLabelValues(queue).Inc() }
func (m *Metrics) RecordQueuePicked(queue string)    { m.queuePicked.WithLabelValues(queue).Inc() }
func (m *Metrics) RecordQueueFailed(queue string)    { m.queueFailed.WithLabelValues(queue).Inc() }
func (m *Metrics) RecordQueueDead(queue string)      { m.queueDead.WithLabelValues(queue).Inc() }
func (m *Metrics) SetQueuePending(queue string, n int64) {
	m.queuePending.WithLabelValues(queue).Set(float64(n))
}

func (m *Metrics) RecordQueueCompleted(queue string, wait, processing time.Duration) {
	m.queueCompleted.WithLabelValues(queue).Inc()
	if wait > 0 {
		m.queueWait.WithLabelValues(queue).Observe(wait.Seconds())
	}
	if processing > 0 {
		m.queueProcessing.WithLabelValues(queue).Observe(processing.Seconds())
	}
}

func (m *Metrics) RecordQueueStale(queue string, requeued, dead int64) {
	if requeued > 0 {
		m.queueStale.WithLabelValues(queue).Add(float64(requeued))
	}
	if dead > 0 {
		m.queueDead.WithLabelValues(queue).Add(float64(dead))
	}
}

// Indexer metric recorders.

func (m *Metrics) RecordIndexerBatch(handler string, processed int, elapsed time.Duration, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	m.indexerBatches.WithLabelValues(handler, status).Inc()
	if processed > 0 {
		m.indexerProcessed.WithLabelValues(handler).Add(float64(processed))
	}
	m.indexerBatchTime.WithLabelValues(handler).Observe(elapsed.Seconds())
}

func (m *Metrics) SetIndexerPending(handler string, n int64) {
	m.indexerPending.WithLabelValues(handler).Set(float64(n))
}

// LLM metric recorders.

func (m *Metrics) RecordLLMRequest(provider, model string, latency time.Duration, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	m.llmRequests.WithLabelValues(provider, model, status).Inc()
	m.llmLatency.WithLabelValues(provider, model).Observe(latency.Seconds())
}

func (m *Metrics) RecordLLMTokens(model string, prompt, completion int) {
	if prompt > 0 {
		m.llmTokens.WithLabelValues(model, "prompt").Add(float64(prompt))
	}
	if completion > 0 {
		m.llmTokens.WithLabelValues(model, "completion").Add(float64(completion))
	}
}

func (m *Metrics) RecordEmbeddingRequest(latency time.Duration, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	m.embeddingRequests.WithLabelValues(status).Inc()
	m.embeddingLatency.Observe(latency.Seconds())
}

func (m *Metrics) SetBreakerState(name string, state int) {
	m.breakerState.WithLabelValues(name).Set(float64(state))
}

func (m *Metrics) RecordLimiterRejected() { m.limiterRejected.Inc() }

// Retrieval metric recorders.

func (m *Metrics) RecordRetrieval(strategy, confidence string, latency time.Duration) {
	m.retrievalRequests.WithLabelValues(strategy, confidence).Inc()
	m.retrievalLatency.Observe(latency.Seconds())
}

// Transport metric recorders.

func (m *Metrics) RecordIngest(result string)   { m.ingestResults.WithLabelValues(result).Inc() }
func (m *Metrics) RecordCommand(command string) { m.commands.WithLabelValues(command).Inc() }

// Handler returns the HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
