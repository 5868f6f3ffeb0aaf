package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
	"go.uber.org/zap"
)

// PrometheusMetrics provides high-performance metrics collection for the
// screenshot service
type PrometheusMetrics struct {
	// Browser pool metrics
	browserPoolSize  prometheus.Gauge
	contextsInFlight prometheus.Gauge
	browsersLaunched prometheus.Counter
	browsersRetired  *prometheus.CounterVec

	// Capture metrics
	capturesTotal     *prometheus.CounterVec
	captureDuration   prometheus.Histogram
	captureRetries    prometheus.Counter
	emergencyCaptures *prometheus.CounterVec

	// Queue metrics
	queueDepth    prometheus.Gauge
	queueOutcomes *prometheus.CounterVec
	queueWaitTime prometheus.Histogram

	// Cache metrics
	cacheLookups *prometheus.CounterVec
	cacheSize    prometheus.Gauge

	// Storage metrics
	storageUploads *prometheus.CounterVec
	storageRetries prometheus.Counter
	uploadDuration prometheus.Histogram

	// HTTP metrics
	httpRequests *prometheus.CounterVec

	logger      *zap.Logger
	httpHandler func(*fasthttp.RequestCtx)
}

// NewPrometheusMetrics creates a new Prometheus-based metrics collector
func NewPrometheusMetrics(namespace string, logger *zap.Logger) *PrometheusMetrics {
	return NewPrometheusMetricsWithRegistry(namespace, prometheus.NewRegistry(), logger)
}

// NewPrometheusMetricsWithRegistry creates a new Prometheus-based metrics collector with custom registry
func NewPrometheusMetricsWithRegistry(namespace string, registerer prometheus.Registerer, logger *zap.Logger) *PrometheusMetrics {
	pm := &PrometheusMetrics{
		logger: logger,
	}

	pm.browserPoolSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "browser_pool_size",
		Help:      "Number of live browser processes in the pool",
	})

	pm.contextsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "contexts_in_flight",
		Help:      "Browser contexts currently checked out",
	})

	pm.browsersLaunched = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "browsers_launched_total",
		Help:      "Total browser processes launched",
	})

	pm.browsersRetired = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "browsers_retired_total",
		Help:      "Total browser processes retired by reason",
	}, []string{"reason"}) // reason: age, idle, unhealthy, recycled, shutdown

	pm.capturesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "captures_total",
		Help:      "Total screenshot captures by outcome",
	}, []string{"status"}) // status: success, error, timeout, emergency

	pm.captureDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "capture_duration_seconds",
		Help:      "Time spent capturing screenshots",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10), // 0.1s to ~100s
	})

	pm.captureRetries = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "capture_retries_total",
		Help:      "Total capture retry attempts",
	})

	pm.emergencyCaptures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "emergency_captures_total",
		Help:      "Total emergency fallback captures by outcome",
	}, []string{"status"}) // status: success, error

	pm.queueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "queue_depth",
		Help:      "Current number of requests waiting in the queue",
	})

	pm.queueOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "queue_outcomes_total",
		Help:      "Queue admission outcomes",
	}, []string{"outcome"}) // outcome: processed, queued, rejected, timeout

	pm.queueWaitTime = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "queue_wait_seconds",
		Help:      "Time spent waiting in the queue before dispatch",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
	})

	pm.cacheLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_lookups_total",
		Help:      "Result cache lookups by outcome",
	}, []string{"result"}) // result: hit, miss

	pm.cacheSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "cache_entries",
		Help:      "Current number of cached results",
	})

	pm.storageUploads = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "storage_uploads_total",
		Help:      "Storage uploads by outcome",
	}, []string{"status"}) // status: success, error

	pm.storageRetries = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "storage_retries_total",
		Help:      "Upload retries after throttling responses",
	})

	pm.uploadDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "upload_duration_seconds",
		Help:      "Time spent uploading screenshots to storage",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
	})

	pm.httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Total HTTP requests by endpoint and status",
	}, []string{"endpoint", "status"})

	registerer.MustRegister(
		pm.browserPoolSize,
		pm.contextsInFlight,
		pm.browsersLaunched,
		pm.browsersRetired,
		pm.capturesTotal,
		pm.captureDuration,
		pm.captureRetries,
		pm.emergencyCaptures,
		pm.queueDepth,
		pm.queueOutcomes,
		pm.queueWaitTime,
		pm.cacheLookups,
		pm.cacheSize,
		pm.storageUploads,
		pm.storageRetries,
		pm.uploadDuration,
		pm.httpRequests,
	)

	gatherer, ok := registerer.(prometheus.Gatherer)
	if !ok {
		gatherer = prometheus.DefaultGatherer
	}
	pm.httpHandler = fasthttpadaptor.NewFastHTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	logger.Info("Prometheus metrics initialized")
	return pm
}

// UpdateBrowserPoolSize updates the live browser count
func (pm *PrometheusMetrics) UpdateBrowserPoolSize(size float64) {
	pm.browserPoolSize.Set(size)
}

// UpdateContextsInFlight updates the checked-out context count
func (pm *PrometheusMetrics) UpdateContextsInFlight(n float64) {
	pm.contextsInFlight.Set(n)
}

// RecordBrowserLaunched records a browser process launch
func (pm *PrometheusMetrics) RecordBrowserLaunched() {
	pm.browsersLaunched.Inc()
}

// RecordBrowserRetired records a browser retirement with its reason
func (pm *PrometheusMetrics) RecordBrowserRetired(reason string) {
	pm.browsersRetired.WithLabelValues(reason).Inc()
}

// RecordCapture records a capture outcome
func (pm *PrometheusMetrics) RecordCapture(status string) {
	pm.capturesTotal.WithLabelValues(status).Inc()
}

// RecordCaptureDuration records capture duration
func (pm *PrometheusMetrics) RecordCaptureDuration(seconds float64) {
	pm.captureDuration.Observe(seconds)
}

// RecordCaptureRetry records a retry attempt
func (pm *PrometheusMetrics) RecordCaptureRetry() {
	pm.captureRetries.Inc()
}

// RecordEmergencyCapture records an emergency fallback outcome
func (pm *PrometheusMetrics) RecordEmergencyCapture(status string) {
	pm.emergencyCaptures.WithLabelValues(status).Inc()
}

// UpdateQueueDepth updates the current queue depth
func (pm *PrometheusMetrics) UpdateQueueDepth(depth float64) {
	pm.queueDepth.Set(depth)
}

// RecordQueueOutcome records an admission outcome
func (pm *PrometheusMetrics) RecordQueueOutcome(outcome string) {
	pm.queueOutcomes.WithLabelValues(outcome).Inc()
}

// RecordQueueWait records time spent queued before dispatch
func (pm *PrometheusMetrics) RecordQueueWait(seconds float64) {
	pm.queueWaitTime.Observe(seconds)
}

// RecordCacheLookup records a cache hit or miss
func (pm *PrometheusMetrics) RecordCacheLookup(result string) {
	pm.cacheLookups.WithLabelValues(result).Inc()
}

// UpdateCacheSize updates the cached entry count
func (pm *PrometheusMetrics) UpdateCacheSize(n float64) {
	pm.cacheSize.Set(n)
}

// RecordStorageUpload records an upload outcome
func (pm *PrometheusMetrics) RecordStorageUpload(status string) {
	pm.storageUploads.WithLabelValues(status).Inc()
}

// RecordStorageRetry records a throttled upload retry
func (pm *PrometheusMetrics) RecordStorageRetry() {
	pm.storageRetries.Inc()
}

// RecordUploadDuration records upload duration
func (pm *PrometheusMetrics) RecordUploadDuration(seconds float64) {
	pm.uploadDuration.Observe(seconds)
}

// RecordHTTPRequest records an HTTP request
func (pm *PrometheusMetrics) RecordHTTPRequest(endpoint, status string) {
	pm.httpRequests.WithLabelValues(endpoint, status).Inc()
}

// ServeHTTP serves Prometheus metrics via HTTP
func (pm *PrometheusMetrics) ServeHTTP(ctx *fasthttp.RequestCtx) {
	pm.httpHandler(ctx)
}
