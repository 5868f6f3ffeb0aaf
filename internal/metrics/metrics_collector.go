package metrics

import (
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/web2img/engine/pkg/types"
)

// MetricsCollector centralizes all metrics recording for the service.
// A nil *MetricsCollector is valid and records nothing, so components can
// run without metrics in tests.
type MetricsCollector struct {
	prometheus *PrometheusMetrics
	logger     *zap.Logger
}

// NewMetricsCollector creates a new MetricsCollector instance
func NewMetricsCollector(namespace string, logger *zap.Logger) *MetricsCollector {
	return &MetricsCollector{
		prometheus: NewPrometheusMetrics(namespace, logger),
		logger:     logger,
	}
}

// UpdateBrowserPoolSize updates the live browser count
func (mc *MetricsCollector) UpdateBrowserPoolSize(size int) {
	if mc == nil {
		return
	}
	mc.prometheus.UpdateBrowserPoolSize(float64(size))
}

// UpdateContextsInFlight updates the checked-out context count
func (mc *MetricsCollector) UpdateContextsInFlight(n int) {
	if mc == nil {
		return
	}
	mc.prometheus.UpdateContextsInFlight(float64(n))
}

// RecordBrowserLaunched records a browser process launch
func (mc *MetricsCollector) RecordBrowserLaunched() {
	if mc == nil {
		return
	}
	mc.prometheus.RecordBrowserLaunched()
}

// RecordBrowserRetired records a browser retirement with its reason
func (mc *MetricsCollector) RecordBrowserRetired(reason string) {
	if mc == nil {
		return
	}
	mc.prometheus.RecordBrowserRetired(reason)
}

// RecordCaptureSuccess records a successful capture with its duration
func (mc *MetricsCollector) RecordCaptureSuccess(duration time.Duration) {
	if mc == nil {
		return
	}
	mc.prometheus.RecordCapture("success")
	mc.prometheus.RecordCaptureDuration(duration.Seconds())
}

// RecordCaptureError records a failed capture
func (mc *MetricsCollector) RecordCaptureError() {
	if mc == nil {
		return
	}
	mc.prometheus.RecordCapture("error")
}

// RecordCaptureTimeout records a capture abandoned at its deadline
func (mc *MetricsCollector) RecordCaptureTimeout() {
	if mc == nil {
		return
	}
	mc.prometheus.RecordCapture("timeout")
}

// RecordCaptureRetry records a retry attempt
func (mc *MetricsCollector) RecordCaptureRetry() {
	if mc == nil {
		return
	}
	mc.prometheus.RecordCaptureRetry()
}

// RecordEmergencyCapture records an emergency fallback attempt
func (mc *MetricsCollector) RecordEmergencyCapture(success bool) {
	if mc == nil {
		return
	}
	status := "error"
	if success {
		status = "success"
	}
	mc.prometheus.RecordEmergencyCapture(status)
}

// UpdateQueueDepth updates the current queue depth
func (mc *MetricsCollector) UpdateQueueDepth(depth int) {
	if mc == nil {
		return
	}
	mc.prometheus.UpdateQueueDepth(float64(depth))
}

// RecordQueueOutcome records an admission outcome
func (mc *MetricsCollector) RecordQueueOutcome(outcome types.QueueOutcome) {
	if mc == nil {
		return
	}
	mc.prometheus.RecordQueueOutcome(outcome.String())
}

// RecordQueueWait records time spent queued before dispatch
func (mc *MetricsCollector) RecordQueueWait(wait time.Duration) {
	if mc == nil {
		return
	}
	mc.prometheus.RecordQueueWait(wait.Seconds())
}

// RecordCacheHit records a cache hit
func (mc *MetricsCollector) RecordCacheHit() {
	if mc == nil {
		return
	}
	mc.prometheus.RecordCacheLookup("hit")
}

// RecordCacheMiss records a cache miss
func (mc *MetricsCollector) RecordCacheMiss() {
	if mc == nil {
		return
	}
	mc.prometheus.RecordCacheLookup("miss")
}

// UpdateCacheSize updates the cached entry count
func (mc *MetricsCollector) UpdateCacheSize(n int) {
	if mc == nil {
		return
	}
	mc.prometheus.UpdateCacheSize(float64(n))
}

// RecordStorageUpload records an upload outcome with its duration
func (mc *MetricsCollector) RecordStorageUpload(success bool, duration time.Duration) {
	if mc == nil {
		return
	}
	status := "error"
	if success {
		status = "success"
	}
	mc.prometheus.RecordStorageUpload(status)
	mc.prometheus.RecordUploadDuration(duration.Seconds())
}

// RecordStorageRetry records a throttled upload retry
func (mc *MetricsCollector) RecordStorageRetry() {
	if mc == nil {
		return
	}
	mc.prometheus.RecordStorageRetry()
}

// RecordHTTPRequest records an HTTP request
func (mc *MetricsCollector) RecordHTTPRequest(endpoint, status string) {
	if mc == nil {
		return
	}
	mc.prometheus.RecordHTTPRequest(endpoint, status)
}

// ServeHTTP serves Prometheus metrics via HTTP
func (mc *MetricsCollector) ServeHTTP(ctx *fasthttp.RequestCtx) {
	mc.prometheus.ServeHTTP(ctx)
}
