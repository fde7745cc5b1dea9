// Package metrics provides Prometheus metrics for the trader validation engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// scoreBuckets cover values bounded to [0,1].
var scoreBuckets = []float64{0.05, 0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1} //nolint:gochecknoglobals // fixed bucket layout

// Manager manages all Prometheus metrics for the service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	enabled          bool
	customLabels     map[string]string
	metricPrefix     string
	registry         prometheus.Registerer

	// Validation pipeline
	validationsTotal   *prometheus.CounterVec
	validationDuration prometheus.Histogram
	tradesRejected     *prometheus.CounterVec
	trackedTraders     prometheus.Gauge
	fraudScore         prometheus.Histogram
	overallScore       prometheus.Histogram
	fraudRuleHits      *prometheus.CounterVec

	// Verification against the block explorer
	verificationOutcomes *prometheus.CounterVec
	verificationLatency  prometheus.Histogram
	verificationRetries  prometheus.Counter
	limiterWait          prometheus.Histogram
	breakerState         *prometheus.GaugeVec
	explorerCache        *prometheus.CounterVec

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Repository
	repositoryWriteLatency prometheus.Histogram
	repositoryQueryLatency prometheus.Histogram
	repositoryErrors       *prometheus.CounterVec

	// Queues and worker pools, labelled by pool name
	queueSize          *prometheus.GaugeVec
	queueCapacity      *prometheus.GaugeVec
	queueEnqueueErrors *prometheus.CounterVec
	workerActiveCount  *prometheus.GaugeVec
	workerTasks        *prometheus.CounterVec
	workerTaskLatency  *prometheus.HistogramVec

	// Errors
	errorRateByComponent *prometheus.CounterVec
	errorRateByEndpoint  *prometheus.CounterVec

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "traderscore",
		subsystem:        "engine",
		histogramBuckets: prometheus.DefBuckets,
		enabled:          true,
		customLabels:     make(map[string]string),
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}
	if !m.enabled {
		m.registry = prometheus.NewRegistry()
	}

	m.initializeMetrics()
	return m
}

// Enabled reports whether the manager's metrics reach its registry.
func (m *Manager) Enabled() bool {
	return m.enabled
}

func (m *Manager) name(n string) string {
	if m.metricPrefix != "" {
		return m.metricPrefix + "_" + n
	}
	return n
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help, ConstLabels: m.customLabels,
	}, labels)
}

func (m *Manager) gaugeVec(name, help string, labels ...string) *prometheus.GaugeVec {
	return promauto.With(m.registry).NewGaugeVec(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help, ConstLabels: m.customLabels,
	}, labels)
}

func (m *Manager) histogram(name, help string, buckets []float64) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help, Buckets: buckets, ConstLabels: m.customLabels,
	})
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help, ConstLabels: m.customLabels,
	})
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // long function required for comprehensive metrics initialization
	auto := promauto.With(m.registry)

	m.validationsTotal = m.counterVec("validations_total", "Trader validations by outcome", "status")
	m.validationDuration = m.histogram("validation_duration_milliseconds", "End-to-end validation latency per trader", m.histogramBuckets)
	m.tradesRejected = m.counterVec("trades_rejected_total", "Input trades discarded before calculation", "reason")
	m.trackedTraders = m.gauge("tracked_traders", "Number of (trader, platform) rows held by the repository")
	m.fraudScore = m.histogram("fraud_score", "Distribution of computed fraud scores", scoreBuckets)
	m.overallScore = m.histogram("overall_score", "Distribution of composite ranking scores", scoreBuckets)
	m.fraudRuleHits = m.counterVec("fraud_rule_hits_total", "Fraud rules triggered by reason", "reason")

	m.verificationOutcomes = m.counterVec("verification_outcomes_total", "Trade verification outcomes by source", "source")
	m.verificationLatency = m.histogram("verification_latency_milliseconds", "Latency of a single trade verification including retries", m.histogramBuckets)
	m.verificationRetries = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name("verification_retries_total"),
		Help: "Explorer calls retried after a transient failure", ConstLabels: m.customLabels,
	})
	m.limiterWait = m.histogram("limiter_wait_milliseconds", "Time spent waiting on the global explorer rate limiter", m.histogramBuckets)
	m.breakerState = m.gaugeVec("explorer_breaker_state", "Circuit breaker state per network (0 closed, 1 half-open, 2 open)", "network")
	m.explorerCache = m.counterVec("explorer_cache_total", "Explorer response cache lookups", "result")

	m.httpRequests = m.counterVec("http_requests_total", "Total number of HTTP requests by endpoint and method", "endpoint", "method", "status_code")
	m.httpRequestDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name("http_request_duration_milliseconds"),
		Help: "HTTP request duration in milliseconds", Buckets: m.histogramBuckets, ConstLabels: m.customLabels,
	}, []string{"endpoint", "method", "status_code"})

	m.repositoryWriteLatency = m.histogram("repository_write_latency_milliseconds", "Repository upsert latency", m.histogramBuckets)
	m.repositoryQueryLatency = m.histogram("repository_query_latency_milliseconds", "Repository read latency", m.histogramBuckets)
	m.repositoryErrors = m.counterVec("repository_errors_total", "Repository failures by operation", "op")

	m.queueSize = m.gaugeVec("queue_size", "Tasks waiting in a worker pool queue", "pool")
	m.queueCapacity = m.gaugeVec("queue_capacity", "Capacity of a worker pool queue", "pool")
	m.queueEnqueueErrors = m.counterVec("queue_enqueue_errors_total", "Rejected enqueue attempts", "pool", "reason")
	m.workerActiveCount = m.gaugeVec("worker_active_count", "Workers running in a pool", "pool")
	m.workerTasks = m.counterVec("worker_tasks_total", "Tasks executed by a pool", "pool")
	m.workerTaskLatency = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name("worker_task_latency_milliseconds"),
		Help: "Task execution latency per pool", Buckets: m.histogramBuckets, ConstLabels: m.customLabels,
	}, []string{"pool"})

	m.errorRateByComponent = m.counterVec("errors_by_component_total", "Errors by component and type", "component", "error_type")
	m.errorRateByEndpoint = m.counterVec("errors_by_endpoint_total", "HTTP errors by endpoint", "endpoint", "method", "error_type")

	m.systemMemoryUsage = m.gauge("system_memory_bytes", "Heap bytes allocated")
	m.systemGoroutineCount = m.gauge("system_goroutines", "Number of goroutines")
	m.systemGCPauseTime = m.histogram("system_gc_pause_milliseconds", "Average GC pause in milliseconds",
		[]float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000})
}

// RecordValidation increments the validation counter for status ("ok", "failed", "cancelled").
func RecordValidation(status string) {
	globalManager.validationsTotal.WithLabelValues(status).Inc()
}

// RecordValidationDuration records per-trader validation latency.
func RecordValidationDuration(latencyMs float64) {
	globalManager.validationDuration.Observe(latencyMs)
}

// RecordTradeRejected counts a discarded input trade.
func RecordTradeRejected(reason string) {
	globalManager.tradesRejected.WithLabelValues(reason).Inc()
}

// UpdateTrackedTraders sets the number of stored trader rows.
func UpdateTrackedTraders(count int) {
	globalManager.trackedTraders.Set(float64(count))
}

// RecordScores observes the fraud and composite scores of a validated trader.
func RecordScores(fraud, overall float64) {
	globalManager.fraudScore.Observe(fraud)
	globalManager.overallScore.Observe(overall)
}

// RecordFraudRuleHit counts a triggered fraud rule.
func RecordFraudRuleHit(reason string) {
	globalManager.fraudRuleHits.WithLabelValues(reason).Inc()
}

// RecordVerificationOutcome counts a verification result by source.
func RecordVerificationOutcome(source string) {
	globalManager.verificationOutcomes.WithLabelValues(source).Inc()
}

// RecordVerificationLatency records one trade verification latency.
func RecordVerificationLatency(latencyMs float64) {
	globalManager.verificationLatency.Observe(latencyMs)
}

// RecordVerificationRetry increments the explorer retry counter.
func RecordVerificationRetry() {
	globalManager.verificationRetries.Inc()
}

// RecordLimiterWait records time spent blocked on the rate limiter.
func RecordLimiterWait(waitMs float64) {
	globalManager.limiterWait.Observe(waitMs)
}

// UpdateBreakerState publishes a circuit breaker state for a network.
func UpdateBreakerState(network string, state int) {
	globalManager.breakerState.WithLabelValues(network).Set(float64(state))
}

// RecordExplorerCache counts a cache lookup; result is "hit", "miss" or "error".
func RecordExplorerCache(result string) {
	globalManager.explorerCache.WithLabelValues(result).Inc()
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// RecordRepositoryWriteLatency records repository upsert latency.
func RecordRepositoryWriteLatency(latencyMs float64) {
	globalManager.repositoryWriteLatency.Observe(latencyMs)
}

// RecordRepositoryQueryLatency records repository read latency.
func RecordRepositoryQueryLatency(latencyMs float64) {
	globalManager.repositoryQueryLatency.Observe(latencyMs)
}

// RecordRepositoryError counts a failed repository operation.
func RecordRepositoryError(op string) {
	globalManager.repositoryErrors.WithLabelValues(op).Inc()
}

// UpdateQueueSize sets the current queue length of a pool.
func UpdateQueueSize(pool string, size int) {
	globalManager.queueSize.WithLabelValues(pool).Set(float64(size))
}

// UpdateQueueCapacity sets the queue capacity of a pool.
func UpdateQueueCapacity(pool string, capacity int) {
	globalManager.queueCapacity.WithLabelValues(pool).Set(float64(capacity))
}

// RecordQueueEnqueueError counts a rejected enqueue.
func RecordQueueEnqueueError(pool, reason string) {
	globalManager.queueEnqueueErrors.WithLabelValues(pool, reason).Inc()
}

// UpdateWorkerActiveCount sets the number of running workers in a pool.
func UpdateWorkerActiveCount(pool string, count int) {
	globalManager.workerActiveCount.WithLabelValues(pool).Set(float64(count))
}

// RecordWorkerTask records one executed task and its latency.
func RecordWorkerTask(pool string, latencyMs float64) {
	globalManager.workerTasks.WithLabelValues(pool).Inc()
	globalManager.workerTaskLatency.WithLabelValues(pool).Observe(latencyMs)
}

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorRateByComponent.WithLabelValues(component, errorType).Inc()
}

// RecordErrorByEndpoint records an error with endpoint, method, and error type labels.
func RecordErrorByEndpoint(endpoint, method, errorType string) {
	globalManager.errorRateByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
}

// UpdateSystemMemoryUsage sets the system memory usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) {
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) {
	globalManager.systemGoroutineCount.Set(float64(count))
}

// RecordSystemGCPauseTime records GC pause time in milliseconds.
func RecordSystemGCPauseTime(pauseMs float64) {
	globalManager.systemGCPauseTime.Observe(pauseMs)
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
