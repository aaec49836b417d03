package s3

import (
	"sync"
	"time"
)

// BackendMetrics tracks S3 backend performance metrics.
type BackendMetrics struct {
	Requests        int64         `json:"requests"`
	Errors          int64         `json:"errors"`
	BytesUploaded   int64         `json:"bytes_uploaded"`
	BytesDownloaded int64         `json:"bytes_downloaded"`
	AverageLatency  time.Duration `json:"average_latency"`
	LastError       string        `json:"last_error"`
	LastErrorTime   time.Time     `json:"last_error_time"`

	MultipartUploads          int64         `json:"multipart_uploads"`
	MultipartUploadsParts     int64         `json:"multipart_uploads_parts"`
	MultipartUploadsCompleted int64         `json:"multipart_uploads_completed"`
	MultipartUploadsFailed    int64         `json:"multipart_uploads_failed"`
	MultipartBytes            int64         `json:"multipart_bytes"`
	AveragePartSize           int64         `json:"average_part_size"`
	MultipartLatency          time.Duration `json:"multipart_latency"`
}

// MetricsCollector handles metrics collection and aggregation for the S3
// backend. internal/metrics exports the process-wide Prometheus surface;
// this collector is the backend's own in-memory rollup, queried by
// GetMetrics for diagnostics; it is not exported over Prometheus.
type MetricsCollector struct {
	mu      sync.RWMutex
	metrics BackendMetrics
}

func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{}
}

func (mc *MetricsCollector) RecordMetrics(duration time.Duration, isError bool) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.metrics.Requests++
	if isError {
		mc.metrics.Errors++
	}

	if mc.metrics.Requests == 1 {
		mc.metrics.AverageLatency = duration
	} else {
		mc.metrics.AverageLatency = time.Duration(
			(int64(mc.metrics.AverageLatency)*9 + int64(duration)) / 10,
		)
	}
}

func (mc *MetricsCollector) RecordError(err error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.metrics.LastError = err.Error()
	mc.metrics.LastErrorTime = time.Now()
}

func (mc *MetricsCollector) RecordBytesUploaded(bytes int64) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.metrics.BytesUploaded += bytes
}

func (mc *MetricsCollector) RecordBytesDownloaded(bytes int64) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.metrics.BytesDownloaded += bytes
}

func (mc *MetricsCollector) GetMetrics() BackendMetrics {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	return mc.metrics
}

func (mc *MetricsCollector) Reset() {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.metrics = BackendMetrics{}
}

func (mc *MetricsCollector) GetErrorRate() float64 {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	if mc.metrics.Requests == 0 {
		return 0
	}
	return float64(mc.metrics.Errors) / float64(mc.metrics.Requests)
}

func (mc *MetricsCollector) RecordMultipartUploadStart() {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.metrics.MultipartUploads++
}

func (mc *MetricsCollector) RecordMultipartUploadPart(partSize int64) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.metrics.MultipartUploadsParts++
	mc.metrics.MultipartBytes += partSize

	if mc.metrics.MultipartUploadsParts == 1 {
		mc.metrics.AveragePartSize = partSize
	} else {
		mc.metrics.AveragePartSize = (mc.metrics.AveragePartSize*9 + partSize) / 10
	}
}

func (mc *MetricsCollector) RecordMultipartUploadComplete(duration time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.metrics.MultipartUploadsCompleted++
	if mc.metrics.MultipartUploadsCompleted == 1 {
		mc.metrics.MultipartLatency = duration
	} else {
		mc.metrics.MultipartLatency = time.Duration(
			(int64(mc.metrics.MultipartLatency)*9 + int64(duration)) / 10,
		)
	}
}

func (mc *MetricsCollector) RecordMultipartUploadFailed() {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.metrics.MultipartUploadsFailed++
}

func (mc *MetricsCollector) GetMultipartSuccessRate() float64 {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	total := mc.metrics.MultipartUploadsCompleted + mc.metrics.MultipartUploadsFailed
	if total == 0 {
		return 100.0
	}
	return float64(mc.metrics.MultipartUploadsCompleted) / float64(total) * 100
}
