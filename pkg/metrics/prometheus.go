// Package metrics provides Prometheus metrics for the match score engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager manages all Prometheus metrics for the engine.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	enabled          bool
	registry         prometheus.Registerer

	// Queue
	tasksEnqueued  *prometheus.CounterVec
	tasksMerged    prometheus.Counter
	tasksDropped   *prometheus.CounterVec
	tasksRejected  *prometheus.CounterVec
	tasksCancelled prometheus.Counter
	queuePending   *prometheus.GaugeVec
	queueInflight  prometheus.Gauge
	queueWait      prometheus.Histogram

	// Workers
	workerCount    prometheus.Gauge
	workerActive   prometheus.Gauge
	tasksCompleted *prometheus.CounterVec
	tasksRetried   prometheus.Counter
	tasksFailed    prometheus.Counter
	taskDuration   *prometheus.HistogramVec
	lockContention prometheus.Counter

	// Scoring and storage
	scoringLatency prometheus.Histogram
	scoresWritten  prometheus.Counter
	storeLatency   *prometheus.HistogramVec
	sourceErrors   *prometheus.CounterVec
	cacheLookups   *prometheus.CounterVec

	// Triggers
	mutationsReceived  *prometheus.CounterVec
	mutationsDuplicate prometheus.Counter

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
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
		namespace:        "match",
		subsystem:        "engine",
		histogramBuckets: []float64{0.5, 1, 2.5, 5, 10, 25, 50, 100, 250, 500, 1000, 5000},
		enabled:          true,
		registry:         prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // flat list of metric definitions
	auto := promauto.With(m.registry)
	counter := func(name, help string) prometheus.Counter {
		return auto.NewCounter(prometheus.CounterOpts{Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help})
	}
	counterVec := func(name, help string, labels ...string) *prometheus.CounterVec {
		return auto.NewCounterVec(prometheus.CounterOpts{Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help}, labels)
	}
	gauge := func(name, help string) prometheus.Gauge {
		return auto.NewGauge(prometheus.GaugeOpts{Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help})
	}

	m.tasksEnqueued = counterVec("tasks_enqueued_total", "Tasks admitted to the queue", "subject_type", "priority")
	m.tasksMerged = counter("tasks_merged_total", "Enqueue requests merged into an already pending task")
	m.tasksDropped = counterVec("tasks_dropped_total", "Pending tasks evicted under backpressure", "priority")
	m.tasksRejected = counterVec("tasks_rejected_total", "Enqueue requests refused", "reason")
	m.tasksCancelled = counter("tasks_cancelled_total", "Tasks cancelled before completion")
	m.queuePending = auto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "queue_pending",
		Help:      "Pending tasks per priority",
	}, []string{"priority"})
	m.queueInflight = gauge("queue_processing", "Tasks currently claimed by workers")
	m.queueWait = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "queue_wait_milliseconds",
		Help:      "Time from enqueue to claim in milliseconds",
		Buckets:   m.histogramBuckets,
	})

	m.workerCount = gauge("worker_count", "Configured number of workers")
	m.workerActive = gauge("worker_active", "Workers currently processing a task")
	m.tasksCompleted = counterVec("tasks_completed_total", "Tasks that reached DONE by outcome", "outcome")
	m.tasksRetried = counter("tasks_retried_total", "Transient failures rescheduled with backoff")
	m.tasksFailed = counter("tasks_failed_total", "Tasks moved to FAILED after exhausting retries")
	m.taskDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "task_duration_milliseconds",
		Help:      "Task processing time in milliseconds",
		Buckets:   m.histogramBuckets,
	}, []string{"subject_type"})
	m.lockContention = counter("pair_lock_contention_total", "Pair lock acquisitions that had to wait")

	m.scoringLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "scoring_latency_milliseconds",
		Help:      "Score computation latency in milliseconds",
		Buckets:   m.histogramBuckets,
	})
	m.scoresWritten = counter("scores_written_total", "Match scores persisted")
	m.storeLatency = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "store_latency_milliseconds",
		Help:      "Score store operation latency in milliseconds",
		Buckets:   m.histogramBuckets,
	}, []string{"op"})
	m.sourceErrors = counterVec("source_errors_total", "Errors reading snapshots from data collaborators", "entity")
	m.cacheLookups = counterVec("snapshot_cache_lookups_total", "Snapshot cache lookups by result", "entity", "result")

	m.mutationsReceived = counterVec("mutations_received_total", "Mutation notifications received", "kind")
	m.mutationsDuplicate = counter("mutations_duplicate_total", "Mutation notifications ignored as replays")

	m.httpRequests = counterVec("http_requests_total", "Total number of HTTP requests by endpoint and method",
		"endpoint", "method", "status_code")
	m.httpRequestDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "http_request_duration_milliseconds",
		Help:      "HTTP request duration in milliseconds",
		Buckets:   m.histogramBuckets,
	}, []string{"endpoint", "method", "status_code"})
}

// GetRegistry returns the registry the global manager is registered on.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}

func active() *Manager {
	if globalManager == nil || !globalManager.enabled {
		return nil
	}
	return globalManager
}

// Queue Metrics Functions.

// RecordTaskEnqueued counts a newly admitted task.
func RecordTaskEnqueued(subjectType, priority string) {
	if m := active(); m != nil {
		m.tasksEnqueued.WithLabelValues(subjectType, priority).Inc()
	}
}

// RecordTaskMerged counts an enqueue folded into a pending task.
func RecordTaskMerged() {
	if m := active(); m != nil {
		m.tasksMerged.Inc()
	}
}

// RecordTaskDropped counts a pending task evicted under backpressure.
func RecordTaskDropped(priority string) {
	if m := active(); m != nil {
		m.tasksDropped.WithLabelValues(priority).Inc()
	}
}

// RecordTaskRejected counts a refused enqueue.
func RecordTaskRejected(reason string) {
	if m := active(); m != nil {
		m.tasksRejected.WithLabelValues(reason).Inc()
	}
}

// RecordTaskCancelled counts a cancelled task.
func RecordTaskCancelled() {
	if m := active(); m != nil {
		m.tasksCancelled.Inc()
	}
}

// UpdateQueuePending sets the pending gauge for one priority.
func UpdateQueuePending(priority string, n int) {
	if m := active(); m != nil {
		m.queuePending.WithLabelValues(priority).Set(float64(n))
	}
}

// UpdateQueueProcessing sets the number of claimed tasks.
func UpdateQueueProcessing(n int) {
	if m := active(); m != nil {
		m.queueInflight.Set(float64(n))
	}
}

// RecordQueueWait records how long a task waited before being claimed.
func RecordQueueWait(latencyMs float64) {
	if m := active(); m != nil {
		m.queueWait.Observe(latencyMs)
	}
}

// Worker Metrics Functions.

// UpdateWorkerCount sets the current worker count.
func UpdateWorkerCount(count int) {
	if m := active(); m != nil {
		m.workerCount.Set(float64(count))
	}
}

// IncWorkerActive marks a worker busy.
func IncWorkerActive() {
	if m := active(); m != nil {
		m.workerActive.Inc()
	}
}

// DecWorkerActive marks a worker idle.
func DecWorkerActive() {
	if m := active(); m != nil {
		m.workerActive.Dec()
	}
}

// RecordTaskCompleted counts a task reaching DONE.
func RecordTaskCompleted(outcome string) {
	if m := active(); m != nil {
		m.tasksCompleted.WithLabelValues(outcome).Inc()
	}
}

// RecordTaskRetried counts a transient failure that will be retried.
func RecordTaskRetried() {
	if m := active(); m != nil {
		m.tasksRetried.Inc()
	}
}

// RecordTaskFailed counts a task moved to FAILED.
func RecordTaskFailed() {
	if m := active(); m != nil {
		m.tasksFailed.Inc()
	}
}

// RecordTaskDuration records time spent processing one task.
func RecordTaskDuration(subjectType string, latencyMs float64) {
	if m := active(); m != nil {
		m.taskDuration.WithLabelValues(subjectType).Observe(latencyMs)
	}
}

// RecordLockContention counts a pair lock acquisition that had to wait.
func RecordLockContention() {
	if m := active(); m != nil {
		m.lockContention.Inc()
	}
}

// Scoring and Store Metrics Functions.

// RecordScoringLatency records scoring latency in milliseconds.
func RecordScoringLatency(latencyMs float64) {
	if m := active(); m != nil {
		m.scoringLatency.Observe(latencyMs)
	}
}

// RecordScoreWritten counts a persisted score.
func RecordScoreWritten() {
	if m := active(); m != nil {
		m.scoresWritten.Inc()
	}
}

// RecordStoreLatency records a score store operation latency.
func RecordStoreLatency(op string, latencyMs float64) {
	if m := active(); m != nil {
		m.storeLatency.WithLabelValues(op).Observe(latencyMs)
	}
}

// RecordSourceError counts a failed snapshot read.
func RecordSourceError(entity string) {
	if m := active(); m != nil {
		m.sourceErrors.WithLabelValues(entity).Inc()
	}
}

// RecordCacheLookup counts a snapshot cache hit or miss.
func RecordCacheLookup(entity string, hit bool) {
	if m := active(); m != nil {
		result := "miss"
		if hit {
			result = "hit"
		}
		m.cacheLookups.WithLabelValues(entity, result).Inc()
	}
}

// Trigger Metrics Functions.

// RecordMutationReceived counts an incoming mutation notification.
func RecordMutationReceived(kind string) {
	if m := active(); m != nil {
		m.mutationsReceived.WithLabelValues(kind).Inc()
	}
}

// RecordMutationDuplicate counts a replayed mutation notification.
func RecordMutationDuplicate() {
	if m := active(); m != nil {
		m.mutationsDuplicate.Inc()
	}
}

// HTTP Metrics Functions.

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	if m := active(); m != nil {
		m.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
	}
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	if m := active(); m != nil {
		m.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
	}
}
