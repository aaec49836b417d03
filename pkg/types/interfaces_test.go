package types

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

// fakeObjectStore is a minimal in-memory ObjectStore used to check the
// interface shape compiles and behaves the way callers expect.
type fakeObjectStore struct {
	objects map[string][]byte
	uploads map[string][][]byte
}

func newFakeObjectStore() *fakeObjectStore {
	return &fakeObjectStore{
		objects: make(map[string][]byte),
		uploads: make(map[string][][]byte),
	}
}

func (f *fakeObjectStore) GetObjectRange(ctx context.Context, key string, offset, size int64) ([]byte, error) {
	data, ok := f.objects[key]
	if !ok {
		return nil, errors.New("not found")
	}
	if offset+size > int64(len(data)) {
		return nil, errors.New("range out of bounds")
	}
	return data[offset : offset+size], nil
}

func (f *fakeObjectStore) PutObject(ctx context.Context, key string, data []byte) error {
	f.objects[key] = data
	return nil
}

func (f *fakeObjectStore) HeadObject(ctx context.Context, key string) (*ObjectInfo, error) {
	data, ok := f.objects[key]
	if !ok {
		return nil, errors.New("not found")
	}
	return &ObjectInfo{Key: key, Size: int64(len(data)), LastModified: time.Now()}, nil
}

func (f *fakeObjectStore) DeleteObject(ctx context.Context, key string) error {
	delete(f.objects, key)
	return nil
}

func (f *fakeObjectStore) CreateMultipartUpload(ctx context.Context, key string) (string, error) {
	uploadID := key + "-upload"
	f.uploads[uploadID] = nil
	return uploadID, nil
}

func (f *fakeObjectStore) UploadPart(ctx context.Context, key, uploadID string, partNumber int, data []byte) (string, error) {
	f.uploads[uploadID] = append(f.uploads[uploadID], data)
	return "etag", nil
}

func (f *fakeObjectStore) UploadPartCopy(ctx context.Context, key, uploadID string, partNumber int, sourceKey string, sourceOffset, sourceLength int64) (string, error) {
	data, err := f.GetObjectRange(ctx, sourceKey, sourceOffset, sourceLength)
	if err != nil {
		return "", err
	}
	f.uploads[uploadID] = append(f.uploads[uploadID], data)
	return "etag", nil
}

func (f *fakeObjectStore) CompleteMultipartUpload(ctx context.Context, key, uploadID string, parts []CompletedPart) error {
	var full []byte
	for _, chunk := range f.uploads[uploadID] {
		full = append(full, chunk...)
	}
	f.objects[key] = full
	delete(f.uploads, uploadID)
	return nil
}

func (f *fakeObjectStore) AbortMultipartUpload(ctx context.Context, key, uploadID string) error {
	delete(f.uploads, uploadID)
	return nil
}

func (f *fakeObjectStore) HealthCheck(ctx context.Context) error {
	return nil
}

func (f *fakeObjectStore) ListObjects(ctx context.Context, prefix string, limit int) ([]ObjectInfo, error) {
	var infos []ObjectInfo
	for key, data := range f.objects {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		infos = append(infos, ObjectInfo{Key: key, Size: int64(len(data)), LastModified: time.Now()})
		if limit > 0 && len(infos) >= limit {
			break
		}
	}
	return infos, nil
}

func TestObjectStoreInterface(t *testing.T) {
	var store ObjectStore = newFakeObjectStore()
	ctx := context.Background()

	if err := store.PutObject(ctx, "source", []byte("hello world")); err != nil {
		t.Fatalf("PutObject: %v", err)
	}

	data, err := store.GetObjectRange(ctx, "source", 6, 5)
	if err != nil {
		t.Fatalf("GetObjectRange: %v", err)
	}
	if string(data) != "world" {
		t.Errorf("GetObjectRange = %q, want %q", data, "world")
	}

	uploadID, err := store.CreateMultipartUpload(ctx, "dest")
	if err != nil {
		t.Fatalf("CreateMultipartUpload: %v", err)
	}
	if _, err := store.UploadPartCopy(ctx, "dest", uploadID, 1, "source", 0, 5); err != nil {
		t.Fatalf("UploadPartCopy: %v", err)
	}
	if _, err := store.UploadPart(ctx, "dest", uploadID, 2, []byte(" there")); err != nil {
		t.Fatalf("UploadPart: %v", err)
	}
	if err := store.CompleteMultipartUpload(ctx, "dest", uploadID, []CompletedPart{{PartNumber: 1, ETag: "etag"}, {PartNumber: 2, ETag: "etag"}}); err != nil {
		t.Fatalf("CompleteMultipartUpload: %v", err)
	}

	info, err := store.HeadObject(ctx, "dest")
	if err != nil {
		t.Fatalf("HeadObject: %v", err)
	}
	if info.Size != int64(len("hello there")) {
		t.Errorf("HeadObject size = %d, want %d", info.Size, len("hello there"))
	}

	if err := store.HealthCheck(ctx); err != nil {
		t.Errorf("HealthCheck: %v", err)
	}
}

// fakeMetricsCollector checks the MetricsCollector interface shape.
type fakeMetricsCollector struct {
	hits, misses int
}

func (f *fakeMetricsCollector) RecordOperation(operation string, duration time.Duration, size int64, success bool) {
}
func (f *fakeMetricsCollector) RecordCacheHit(key string, size int64)  { f.hits++ }
func (f *fakeMetricsCollector) RecordCacheMiss(key string, size int64) { f.misses++ }
func (f *fakeMetricsCollector) RecordError(operation string, err error) {}
func (f *fakeMetricsCollector) GetMetrics() map[string]interface{}      { return nil }

func TestMetricsCollectorInterface(t *testing.T) {
	var mc MetricsCollector = &fakeMetricsCollector{}
	mc.RecordCacheHit("page-0", 4096)
	mc.RecordCacheMiss("page-1", 4096)

	fake := mc.(*fakeMetricsCollector)
	if fake.hits != 1 || fake.misses != 1 {
		t.Errorf("hits=%d misses=%d, want 1 and 1", fake.hits, fake.misses)
	}
}
