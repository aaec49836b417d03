// Package s3 implements the object-store collaborator (pkg/types.ObjectStore)
// against Amazon S3, using the AWS SDK for Go v2 and CargoShip's
// accelerated-transfer config loader.
package s3

import (
	"bytes"
	"context"
	stderr "errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	awsconfig "github.com/scttfrdmn/cargoship/pkg/aws/config"
	cargoships3 "github.com/scttfrdmn/cargoship/pkg/aws/s3"

	"github.com/nimbusfs/nimbusfs/pkg/errors"
	"github.com/nimbusfs/nimbusfs/pkg/retry"
	"github.com/nimbusfs/nimbusfs/pkg/types"
)

// S3 storage class names accepted in Config.StorageTier.
const (
	TierStandard    = "STANDARD"
	TierStandardIA  = "STANDARD_IA"
	TierGlacierIR   = "GLACIER_IR"
	TierGlacier     = "GLACIER"
	TierDeepArchive = "DEEP_ARCHIVE"
)

// convertTierToStorageClass maps our tier constants onto the SDK's own
// storage class enum.
func convertTierToStorageClass(tier string) s3types.StorageClass {
	switch tier {
	case TierStandard:
		return s3types.StorageClassStandard
	case TierStandardIA:
		return s3types.StorageClassStandardIa
	case TierGlacierIR:
		return s3types.StorageClassGlacierIr
	case TierGlacier:
		return s3types.StorageClassGlacier
	case TierDeepArchive:
		return s3types.StorageClassDeepArchive
	default:
		return s3types.StorageClassStandard
	}
}

// convertTierToCargoShipStorageClass maps our tier constants onto
// CargoShip's own storage class enum, which doesn't cover every S3 class.
func convertTierToCargoShipStorageClass(tier string) awsconfig.StorageClass {
	switch tier {
	case TierStandard:
		return awsconfig.StorageClassStandard
	case TierStandardIA:
		return awsconfig.StorageClassStandardIA
	case TierGlacierIR, TierGlacier:
		return awsconfig.StorageClassGlacier
	case TierDeepArchive:
		return awsconfig.StorageClassDeepArchive
	default:
		return awsconfig.StorageClassStandard
	}
}

// Backend implements types.ObjectStore against a single S3 bucket.
type Backend struct {
	bucket string
	client *s3.Client
	config *Config

	transporter *cargoships3.Transporter
	logger      *slog.Logger
	retryer     *retry.Retryer

	uploads *MultipartStateManager
	metrics *MetricsCollector
}

// NewBackend constructs a Backend for bucket, verifying connectivity via
// HealthCheck before returning.
func NewBackend(ctx context.Context, bucket string, cfg *Config) (*Backend, error) {
	if cfg == nil {
		cfg = NewDefaultConfig()
	}
	if cfg.StorageTier == "" {
		cfg.StorageTier = TierStandard
	}

	logger := slog.Default().With("component", "s3-backend", "bucket", bucket)
	cm, err := NewClientManager(ctx, bucket, cfg, logger)
	if err != nil {
		return nil, err
	}

	retryCfg := retry.DefaultConfig()
	if cfg.MaxRetries > 0 {
		retryCfg.MaxAttempts = cfg.MaxRetries
	}

	backend := &Backend{
		bucket:      bucket,
		client:      cm.GetClient(),
		config:      cfg,
		transporter: cm.GetTransporter(),
		logger:      logger,
		retryer:     retry.New(retryCfg),
		uploads:     NewMultipartStateManager(),
		metrics:     NewMetricsCollector(),
	}

	if err := backend.HealthCheck(ctx); err != nil {
		return nil, fmt.Errorf("s3: health check failed: %w", err)
	}
	return backend, nil
}

// GetObjectRange implements types.ObjectStore. Transient failures (timeouts,
// connection resets) are retried with backoff; a NoSuchKey or malformed
// range is not.
func (b *Backend) GetObjectRange(ctx context.Context, key string, offset, size int64) ([]byte, error) {
	start := time.Now()

	var rangeHeader *string
	if offset > 0 || size > 0 {
		if size > 0 {
			rangeHeader = aws.String(fmt.Sprintf("bytes=%d-%d", offset, offset+size-1))
		} else {
			rangeHeader = aws.String(fmt.Sprintf("bytes=%d-", offset))
		}
	}

	var data []byte
	err := b.retryer.DoWithContext(ctx, func(ctx context.Context) error {
		client := b.client

		result, err := client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(b.bucket),
			Key:    aws.String(key),
			Range:  rangeHeader,
		})
		if err != nil {
			return b.translateError(err, "GetObjectRange", key)
		}
		defer result.Body.Close()

		data, err = io.ReadAll(result.Body)
		if err != nil {
			return fmt.Errorf("s3: reading object body for %q: %w", key, err)
		}
		return nil
	})
	b.metrics.RecordMetrics(time.Since(start), err != nil)
	if err != nil {
		b.metrics.RecordError(err)
		return nil, err
	}
	b.metrics.RecordBytesDownloaded(int64(len(data)))
	return data, nil
}

// PutObject implements types.ObjectStore.
func (b *Backend) PutObject(ctx context.Context, key string, data []byte) error {
	start := time.Now()
	storageClass := convertTierToStorageClass(b.config.StorageTier)

	if b.transporter != nil {
		_, err := b.transporter.Upload(ctx, cargoships3.Archive{
			Key:          key,
			Reader:       bytes.NewReader(data),
			Size:         int64(len(data)),
			StorageClass: convertTierToCargoShipStorageClass(b.config.StorageTier),
		})
		if err == nil {
			b.metrics.RecordMetrics(time.Since(start), false)
			b.metrics.RecordBytesUploaded(int64(len(data)))
			return nil
		}
		b.logger.Warn("cargoship upload failed, falling back to plain PutObject", "key", key, "error", err)
	}

	err := b.retryer.DoWithContext(ctx, func(ctx context.Context) error {
		client := b.client
		_, err := client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(b.bucket),
			Key:           aws.String(key),
			Body:          bytes.NewReader(data),
			ContentLength: aws.Int64(int64(len(data))),
			StorageClass:  storageClass,
		})
		if err != nil {
			return b.translateError(err, "PutObject", key)
		}
		return nil
	})
	b.metrics.RecordMetrics(time.Since(start), err != nil)
	if err != nil {
		b.metrics.RecordError(err)
		return err
	}
	b.metrics.RecordBytesUploaded(int64(len(data)))
	return nil
}

// HeadObject implements types.ObjectStore.
func (b *Backend) HeadObject(ctx context.Context, key string) (*types.ObjectInfo, error) {
	client := b.client

	result, err := client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, b.translateError(err, "HeadObject", key)
	}

	info := &types.ObjectInfo{
		Key:          key,
		Size:         aws.ToInt64(result.ContentLength),
		StorageClass: string(result.StorageClass),
	}
	if result.LastModified != nil {
		info.LastModified = *result.LastModified
	}
	if result.ETag != nil {
		info.ETag = *result.ETag
	}
	return info, nil
}

// ListObjects implements types.ObjectStore, used by the fuse adapter to
// populate directory listings. limit <= 0 means "no cap" and lets S3's own
// per-call maximum apply.
func (b *Backend) ListObjects(ctx context.Context, prefix string, limit int) ([]types.ObjectInfo, error) {
	client := b.client

	var maxKeys *int32
	if limit > 0 {
		if limit > 0x7FFFFFFF {
			maxKeys = aws.Int32(0x7FFFFFFF)
		} else {
			maxKeys = aws.Int32(int32(limit))
		}
	}

	result, err := client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(b.bucket),
		Prefix:  aws.String(prefix),
		MaxKeys: maxKeys,
	})
	if err != nil {
		return nil, b.translateError(err, "ListObjects", prefix)
	}

	objects := make([]types.ObjectInfo, 0, len(result.Contents))
	for _, obj := range result.Contents {
		objects = append(objects, types.ObjectInfo{
			Key:          aws.ToString(obj.Key),
			Size:         aws.ToInt64(obj.Size),
			LastModified: aws.ToTime(obj.LastModified),
			ETag:         aws.ToString(obj.ETag),
		})
	}
	return objects, nil
}

// DeleteObject implements types.ObjectStore.
func (b *Backend) DeleteObject(ctx context.Context, key string) error {
	client := b.client

	_, err := client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return b.translateError(err, "DeleteObject", key)
	}
	return nil
}

// CreateMultipartUpload implements types.ObjectStore. If key already
// exists, the new upload keeps its current storage class instead of
// Config.StorageTier's default, so a mixupload that's mostly COPY parts
// re-using an archived object's bytes never silently migrates it back to
// Standard.
func (b *Backend) CreateMultipartUpload(ctx context.Context, key string) (string, error) {
	storageClass := convertTierToStorageClass(b.config.StorageTier)
	if existing, err := b.HeadObject(ctx, key); err == nil && existing.StorageClass != "" {
		storageClass = s3types.StorageClass(existing.StorageClass)
	}

	client := b.client

	result, err := client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket:       aws.String(b.bucket),
		Key:          aws.String(key),
		StorageClass: storageClass,
	})
	if err != nil {
		return "", b.translateError(err, "CreateMultipartUpload", key)
	}

	uploadID := aws.ToString(result.UploadId)
	b.uploads.TrackUpload(NewMultipartUploadState(uploadID, b.bucket, key, 0))
	b.metrics.RecordMultipartUploadStart()
	return uploadID, nil
}

// UploadPart implements types.ObjectStore. A transient failure is retried
// with backoff; each attempt re-reads data from the start, so retries never
// upload a partial part.
func (b *Backend) UploadPart(ctx context.Context, key, uploadID string, partNumber int, data []byte) (string, error) {
	var etag string
	err := b.retryer.DoWithContext(ctx, func(ctx context.Context) error {
		client := b.client

		result, err := client.UploadPart(ctx, &s3.UploadPartInput{
			Bucket:        aws.String(b.bucket),
			Key:           aws.String(key),
			UploadId:      aws.String(uploadID),
			PartNumber:    aws.Int32(int32(partNumber)),
			Body:          bytes.NewReader(data),
			ContentLength: aws.Int64(int64(len(data))),
		})
		if err != nil {
			return b.translateError(err, "UploadPart", key)
		}
		etag = aws.ToString(result.ETag)
		return nil
	})
	if err != nil {
		b.uploads.UpdatePartStatus(uploadID, partNumber, 0, "", PartTransferPut, err)
		b.metrics.RecordMultipartUploadFailed()
		return "", err
	}

	b.uploads.UpdatePartStatus(uploadID, partNumber, int64(len(data)), etag, PartTransferPut, nil)
	b.metrics.RecordMultipartUploadPart(int64(len(data)))
	return etag, nil
}

// UploadPartCopy implements types.ObjectStore: a COPY part sourced from
// bytes already resident in the bucket, at zero client-side bandwidth.
func (b *Backend) UploadPartCopy(ctx context.Context, key, uploadID string, partNumber int, sourceKey string, sourceOffset, sourceLength int64) (string, error) {
	client := b.client

	copySource := fmt.Sprintf("%s/%s", b.bucket, sourceKey)
	copyRange := fmt.Sprintf("bytes=%d-%d", sourceOffset, sourceOffset+sourceLength-1)

	result, err := client.UploadPartCopy(ctx, &s3.UploadPartCopyInput{
		Bucket:          aws.String(b.bucket),
		Key:             aws.String(key),
		UploadId:        aws.String(uploadID),
		PartNumber:      aws.Int32(int32(partNumber)),
		CopySource:      aws.String(copySource),
		CopySourceRange: aws.String(copyRange),
	})
	if err != nil {
		b.uploads.UpdatePartStatus(uploadID, partNumber, 0, "", PartTransferCopy, err)
		b.metrics.RecordMultipartUploadFailed()
		return "", b.translateError(err, "UploadPartCopy", key)
	}

	etag := aws.ToString(result.CopyPartResult.ETag)
	b.uploads.UpdatePartStatus(uploadID, partNumber, sourceLength, etag, PartTransferCopy, nil)
	b.metrics.RecordMultipartUploadPart(sourceLength)
	return etag, nil
}

// CompleteMultipartUpload implements types.ObjectStore.
func (b *Backend) CompleteMultipartUpload(ctx context.Context, key, uploadID string, parts []types.CompletedPart) error {
	start := time.Now()

	completedParts := make([]s3types.CompletedPart, len(parts))
	for i, p := range parts {
		completedParts[i] = s3types.CompletedPart{
			PartNumber: aws.Int32(int32(p.PartNumber)),
			ETag:       aws.String(p.ETag),
		}
	}

	client := b.client

	_, err := client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(b.bucket),
		Key:             aws.String(key),
		UploadId:        aws.String(uploadID),
		MultipartUpload: &s3types.CompletedMultipartUpload{Parts: completedParts},
	})
	if err != nil {
		b.uploads.MarkUploadFailed(uploadID)
		b.metrics.RecordMultipartUploadFailed()
		return b.translateError(err, "CompleteMultipartUpload", key)
	}

	b.uploads.MarkUploadCompleted(uploadID)
	b.metrics.RecordMultipartUploadComplete(time.Since(start))
	return nil
}

// AbortMultipartUpload implements types.ObjectStore.
func (b *Backend) AbortMultipartUpload(ctx context.Context, key, uploadID string) error {
	client := b.client

	_, err := client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(b.bucket),
		Key:      aws.String(key),
		UploadId: aws.String(uploadID),
	})
	b.uploads.RemoveUpload(uploadID)
	if err != nil {
		return b.translateError(err, "AbortMultipartUpload", key)
	}
	return nil
}

// HealthCheck implements types.ObjectStore via a cheap HeadBucket call.
func (b *Backend) HealthCheck(ctx context.Context) error {
	client := b.client

	_, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(b.bucket)})
	if err != nil {
		return fmt.Errorf("s3: health check failed: %w", err)
	}
	return nil
}

// GetMetrics returns a snapshot of the backend's own request/multipart
// counters, independent of the process-wide Prometheus exporter.
func (b *Backend) GetMetrics() BackendMetrics {
	return b.metrics.GetMetrics()
}

// Close releases the transport-level resources backing the S3 client.
func (b *Backend) Close() error {
	if hc, ok := b.client.Options().HTTPClient.(interface{ CloseIdleConnections() }); ok {
		hc.CloseIdleConnections()
	}
	return nil
}

// translateError classifies an AWS error into a structured code so
// b.retryer can decide, from the code alone, whether the failed operation
// is worth retrying.
func (b *Backend) translateError(err error, operation, key string) error {
	code, detail := classifyAWSError(err, operation)
	return errors.New(code, fmt.Sprintf("%s %q: %s", operation, key, detail)).
		WithComponent("s3").WithOperation(operation).WithContext("key", key).WithCause(err)
}

// classifyAWSError maps a raw AWS SDK error onto our error codes.
// Object/bucket lookup failures are permanent; network and timeout errors
// are transient and retryable via isRetryableByDefault.
func classifyAWSError(err error, operation string) (errors.ErrorCode, string) {
	var notFound *s3types.NoSuchKey
	if stderr.As(err, &notFound) {
		return errors.ErrCodeObjectNotFound, "object not found"
	}
	var noBucket *s3types.NoSuchBucket
	if stderr.As(err, &noBucket) {
		return errors.ErrCodeObjectNotFound, "bucket not found"
	}
	if stderr.Is(err, context.DeadlineExceeded) {
		return errors.ErrCodeOperationTimeout, "deadline exceeded"
	}
	var netErr net.Error
	if stderr.As(err, &netErr) {
		if netErr.Timeout() {
			return errors.ErrCodeConnectionTimeout, "network timeout"
		}
		return errors.ErrCodeConnectionFailed, "network error"
	}
	switch operation {
	case "PutObject", "UploadPart", "UploadPartCopy", "CompleteMultipartUpload":
		return errors.ErrCodeStorageWrite, err.Error()
	default:
		return errors.ErrCodeStorageRead, err.Error()
	}
}
