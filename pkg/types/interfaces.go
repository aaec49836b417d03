package types

import (
	"context"
	"time"
)

// ObjectStore defines the object-store collaborator the page-cache core
// depends on but never implements itself (spec §6): fetch a byte range,
// upload a part, copy a part server-side, and complete a multipart upload.
type ObjectStore interface {
	// GetObjectRange fetches [offset, offset+size) of key. size <= 0 means
	// "to end of object".
	GetObjectRange(ctx context.Context, key string, offset, size int64) ([]byte, error)
	PutObject(ctx context.Context, key string, data []byte) error
	HeadObject(ctx context.Context, key string) (*ObjectInfo, error)
	DeleteObject(ctx context.Context, key string) error

	// ListObjects lists up to limit objects under prefix; limit <= 0 means
	// no cap. Used by the filesystem adapter to populate directory
	// listings, not by the page-cache core itself.
	ListObjects(ctx context.Context, prefix string, limit int) ([]ObjectInfo, error)

	CreateMultipartUpload(ctx context.Context, key string) (uploadID string, err error)
	UploadPart(ctx context.Context, key, uploadID string, partNumber int, data []byte) (etag string, err error)
	UploadPartCopy(ctx context.Context, key, uploadID string, partNumber int, sourceKey string, sourceOffset, sourceLength int64) (etag string, err error)
	CompleteMultipartUpload(ctx context.Context, key, uploadID string, parts []CompletedPart) error
	AbortMultipartUpload(ctx context.Context, key, uploadID string) error

	HealthCheck(ctx context.Context) error
}

// CompletedPart identifies one part of a finished multipart upload.
type CompletedPart struct {
	PartNumber int
	ETag       string
}

// MetricsCollector defines a metrics collection interface for operational
// counters. Nothing in this module uses it: the worker pool and page-cache
// engine report through internal/metrics.Collector.
type MetricsCollector interface {
	RecordOperation(operation string, duration time.Duration, size int64, success bool)
	RecordCacheHit(key string, size int64)
	RecordCacheMiss(key string, size int64)
	RecordError(operation string, err error)
	GetMetrics() map[string]interface{}
}
