// Package metrics provides Prometheus metrics for the blitzrec service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	defaultRefreshInterval = 10 * time.Second
)

// Manager owns every Prometheus collector exported by the service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	refreshInterval  time.Duration
	registry         prometheus.Registerer

	// Retraining loop
	trainingCycles        *prometheus.CounterVec
	trainingCycleDuration prometheus.Histogram
	trainingLastSuccess   prometheus.Gauge
	windowItems           prometheus.Gauge
	windowPulled          prometheus.Counter
	windowEvicted         prometheus.Counter
	degenerateSamples     *prometheus.CounterVec

	// Similarity
	similarityVehicles prometheus.Gauge
	similarityPairs    prometheus.Counter
	similarityDuration prometheus.Histogram
	modelsPersisted    prometheus.Counter

	// Serving
	recommendRequests    prometheus.Counter
	recommendPredictions prometheus.Histogram
	recommendLatency     prometheus.Histogram

	// Latent factors
	factorUpdates       prometheus.Counter
	factorCacheAccounts prometheus.Gauge
	factorCacheVehicles prometheus.Gauge
	factorDirty         prometheus.Gauge
	factorFlushDuration prometheus.Histogram
	factorFlushErrors   prometheus.Counter
	factorReinit        *prometheus.CounterVec

	// Observation pipeline
	observationsAccepted  prometheus.Counter
	observationsDuplicate prometheus.Counter
	queueSize             prometheus.Gauge
	queueCapacity         prometheus.Gauge
	queueEnqueueErrors    *prometheus.CounterVec
	workerCount           prometheus.Gauge
	workerLatency         prometheus.Histogram
	ingestMessages        *prometheus.CounterVec

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Errors
	errorsByComponent *prometheus.CounterVec

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
}

var globalManager *Manager //nolint:gochecknoglobals // singleton metrics manager

var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // process registry

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "blitzrec",
		subsystem:        "",
		histogramBuckets: prometheus.DefBuckets,
		refreshInterval:  defaultRefreshInterval,
		registry:         prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
	})
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
	}, labels)
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
	})
}

func (m *Manager) histogram(name, help string, buckets []float64) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, Buckets: buckets,
	})
}

func (m *Manager) initializeMetrics() { //nolint:funlen // one place for every collector
	secondsBuckets := []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300, 900}

	m.trainingCycles = m.counterVec("training_cycles_total", "Retraining cycles by outcome", "outcome")
	m.trainingCycleDuration = m.histogram("training_cycle_duration_seconds", "Duration of successful retraining cycles", secondsBuckets)
	m.trainingLastSuccess = m.gauge("training_last_success_unixtime", "Unix time of the last successful retraining cycle")
	m.windowItems = m.gauge("window_items", "Train items currently held in the window")
	m.windowPulled = m.counter("window_pulled_total", "Train items pulled from the source")
	m.windowEvicted = m.counter("window_evicted_total", "Train items evicted from the window")
	m.degenerateSamples = m.counterVec("degenerate_samples_total", "Samples dropped because the estimator was not finite", "kind")

	m.similarityVehicles = m.gauge("similarity_vehicles", "Vehicles with a baseline in the last cycle")
	m.similarityPairs = m.counter("similarity_pairs_total", "Vehicle pairs with a finite similarity")
	m.similarityDuration = m.histogram("similarity_duration_seconds", "Pairwise similarity computation time", secondsBuckets)
	m.modelsPersisted = m.counter("vehicle_models_persisted_total", "Vehicle models upserted to the store")

	m.recommendRequests = m.counter("recommend_requests_total", "Recommendation requests served")
	m.recommendPredictions = m.histogram("recommend_predictions", "Predictions returned per request", []float64{0, 1, 2, 5, 10, 25, 50, 100, 250})
	m.recommendLatency = m.histogram("recommend_latency_milliseconds", "Recommendation latency in milliseconds", m.histogramBuckets)

	m.factorUpdates = m.counter("factor_updates_total", "SGD updates applied to latent factors")
	m.factorCacheAccounts = m.gauge("factor_cache_accounts", "Accounts held in the latent factor cache")
	m.factorCacheVehicles = m.gauge("factor_cache_vehicles", "Vehicles held in the latent factor cache")
	m.factorDirty = m.gauge("factor_dirty_accounts", "Accounts modified since the last flush")
	m.factorFlushDuration = m.histogram("factor_flush_duration_seconds", "Latent factor flush duration", secondsBuckets)
	m.factorFlushErrors = m.counter("factor_flush_errors_total", "Failed latent factor flushes")
	m.factorReinit = m.counterVec("factor_reinit_total", "Latent vectors reinitialized on load", "reason")

	m.observationsAccepted = m.counter("observations_accepted_total", "Observations accepted for online training")
	m.observationsDuplicate = m.counter("observations_duplicate_total", "Duplicate observations dropped")
	m.queueSize = m.gauge("queue_size", "Current observation queue length")
	m.queueCapacity = m.gauge("queue_capacity", "Observation queue capacity")
	m.queueEnqueueErrors = m.counterVec("queue_enqueue_errors_total", "Rejected enqueues by reason", "reason")
	m.workerCount = m.gauge("worker_count", "Observation workers running")
	m.workerLatency = m.histogram("worker_processing_latency_milliseconds", "Observation processing latency in milliseconds", m.histogramBuckets)
	m.ingestMessages = m.counterVec("ingest_messages_total", "Crawler feed messages by outcome", "outcome")

	m.httpRequests = m.counterVec("http_requests_total", "HTTP requests by endpoint and method", "endpoint", "method", "status_code")
	m.httpRequestDuration = promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "http_request_duration_milliseconds",
		Help:      "HTTP request duration in milliseconds",
		Buckets:   m.histogramBuckets,
	}, []string{"endpoint", "method", "status_code"})

	m.errorsByComponent = m.counterVec("errors_total", "Errors by component and type", "component", "error_type")

	m.systemMemoryUsage = m.gauge("system_memory_usage_bytes", "Allocated heap bytes")
	m.systemGoroutineCount = m.gauge("system_goroutine_count", "Number of goroutines")
}

// RecordTrainingCycle counts a retraining cycle with the given outcome
// ("success", "failed", "skipped") and observes its duration on success.
func RecordTrainingCycle(outcome string, d time.Duration) {
	globalManager.trainingCycles.WithLabelValues(outcome).Inc()
	if outcome == "success" {
		globalManager.trainingCycleDuration.Observe(d.Seconds())
		globalManager.trainingLastSuccess.SetToCurrentTime()
	}
}

// UpdateWindowItems sets the current window size.
func UpdateWindowItems(n int) {
	globalManager.windowItems.Set(float64(n))
}

// RecordWindowRefresh counts pulled and evicted train items.
func RecordWindowRefresh(pulled, evicted int) {
	globalManager.windowPulled.Add(float64(pulled))
	globalManager.windowEvicted.Add(float64(evicted))
}

// RecordDegenerateSamples counts samples dropped by the aggregator.
func RecordDegenerateSamples(kind string, n int) {
	globalManager.degenerateSamples.WithLabelValues(kind).Add(float64(n))
}

// RecordSimilarity records the outcome of one similarity computation.
func RecordSimilarity(vehicles, pairs int, d time.Duration) {
	globalManager.similarityVehicles.Set(float64(vehicles))
	globalManager.similarityPairs.Add(float64(pairs))
	globalManager.similarityDuration.Observe(d.Seconds())
}

// RecordModelsPersisted counts upserted vehicle models.
func RecordModelsPersisted(n int) {
	globalManager.modelsPersisted.Add(float64(n))
}

// RecordRecommendation records a served recommendation request.
func RecordRecommendation(predictions int, latencyMs float64) {
	globalManager.recommendRequests.Inc()
	globalManager.recommendPredictions.Observe(float64(predictions))
	globalManager.recommendLatency.Observe(latencyMs)
}

// RecordFactorUpdate counts one SGD update.
func RecordFactorUpdate() {
	globalManager.factorUpdates.Inc()
}

// UpdateFactorCache sets latent factor cache gauges.
func UpdateFactorCache(accounts, vehicles, dirty int) {
	globalManager.factorCacheAccounts.Set(float64(accounts))
	globalManager.factorCacheVehicles.Set(float64(vehicles))
	globalManager.factorDirty.Set(float64(dirty))
}

// RecordFactorFlush records a flush and whether it failed.
func RecordFactorFlush(d time.Duration, err error) {
	globalManager.factorFlushDuration.Observe(d.Seconds())
	if err != nil {
		globalManager.factorFlushErrors.Inc()
	}
}

// RecordFactorReinit counts a vector replaced by fresh initialization.
func RecordFactorReinit(reason string) {
	globalManager.factorReinit.WithLabelValues(reason).Inc()
}

// RecordObservationAccepted counts an observation accepted into the queue.
func RecordObservationAccepted() {
	globalManager.observationsAccepted.Inc()
}

// RecordObservationDuplicate counts a duplicate observation.
func RecordObservationDuplicate() {
	globalManager.observationsDuplicate.Inc()
}

// UpdateQueueSize sets the current queue size.
func UpdateQueueSize(size int) {
	globalManager.queueSize.Set(float64(size))
}

// UpdateQueueCapacity sets the queue capacity.
func UpdateQueueCapacity(capacity int) {
	globalManager.queueCapacity.Set(float64(capacity))
}

// RecordQueueEnqueueError counts a rejected enqueue.
func RecordQueueEnqueueError(reason string) {
	globalManager.queueEnqueueErrors.WithLabelValues(reason).Inc()
}

// UpdateWorkerCount sets the number of running workers.
func UpdateWorkerCount(count int) {
	globalManager.workerCount.Set(float64(count))
}

// RecordWorkerProcessingLatency records observation processing latency.
func RecordWorkerProcessingLatency(latencyMs float64) {
	globalManager.workerLatency.Observe(latencyMs)
}

// RecordIngestMessage counts a crawler feed message by outcome.
func RecordIngestMessage(outcome string) {
	globalManager.ingestMessages.WithLabelValues(outcome).Inc()
}

// RecordHTTPRequest increments the HTTP requests counter.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration in milliseconds.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// RecordErrorByComponent counts an error raised by a component.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorsByComponent.WithLabelValues(component, errorType).Inc()
}

// UpdateSystemMemoryUsage sets allocated heap bytes.
func UpdateSystemMemoryUsage(bytes uint64) {
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the goroutine gauge.
func UpdateSystemGoroutineCount(count int) {
	globalManager.systemGoroutineCount.Set(float64(count))
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
