package s3

import (
	"sync"
	"time"
)

// PartTransferKind distinguishes a part uploaded from local bytes from one
// copied server-side out of the object's existing remote content, so a
// tracked upload's progress can report how much of it was free.
type PartTransferKind int

const (
	PartTransferPut PartTransferKind = iota
	PartTransferCopy
)

// TrackedPart is one part of an in-progress multipart upload as observed
// by the backend, not the plan that produced it: Kind records how the
// part actually landed, RetryCount how many attempts UploadPart or
// UploadPartCopy needed before it did.
type TrackedPart struct {
	PartNumber   int
	Size         int64
	ETag         string
	Kind         PartTransferKind
	Completed    bool
	LastModified time.Time
	RetryCount   int
	Error        string
}

// MultipartUploadState tracks the progress of one in-flight mixupload:
// how many of its parts landed via a cheap server-side copy versus a
// bandwidth-consuming put, so a caller can tell how much of the commit
// was actually free.
type MultipartUploadState struct {
	UploadID       string
	Bucket         string
	Key            string
	TotalParts     int
	Parts          map[int]*TrackedPart
	StartedAt      time.Time
	LastUpdatedAt  time.Time
	CompletedParts int
	BytesCopied    int64
	BytesUploaded  int64
	Status         MultipartUploadStatus
}

type MultipartUploadStatus string

const (
	UploadStatusInitiated  MultipartUploadStatus = "initiated"
	UploadStatusInProgress MultipartUploadStatus = "in_progress"
	UploadStatusCompleted  MultipartUploadStatus = "completed"
	UploadStatusFailed     MultipartUploadStatus = "failed"
	UploadStatusAborted    MultipartUploadStatus = "aborted"
)

func (s MultipartUploadStatus) IsCompleted() bool {
	return s == UploadStatusCompleted || s == UploadStatusFailed || s == UploadStatusAborted
}

// CalculatePartCount returns the number of parts a totalSize-byte upload
// splits into at chunkSize bytes per part, rounding up. Nothing in the
// backend calls it; the mixupload planner decides how a file actually
// gets split.
func CalculatePartCount(totalSize, chunkSize int64) int {
	if totalSize <= 0 || chunkSize <= 0 {
		return 0
	}
	return int((totalSize + chunkSize - 1) / chunkSize)
}

// NewMultipartUploadState starts tracking a mixupload with totalParts
// parts still to land, of unknown kind until each one completes.
func NewMultipartUploadState(uploadID, bucket, key string, totalParts int) *MultipartUploadState {
	return &MultipartUploadState{
		UploadID:      uploadID,
		Bucket:        bucket,
		Key:           key,
		TotalParts:    totalParts,
		Parts:         make(map[int]*TrackedPart),
		StartedAt:     time.Now(),
		LastUpdatedAt: time.Now(),
		Status:        UploadStatusInitiated,
	}
}

// MarkPartCompleted records a part as landed, via a put or a copy.
func (s *MultipartUploadState) MarkPartCompleted(partNumber int, size int64, etag string, kind PartTransferKind) {
	part := s.partOrNew(partNumber)
	part.Size = size
	part.ETag = etag
	part.Kind = kind
	part.Completed = true
	part.LastModified = time.Now()
	part.Error = ""

	s.CompletedParts++
	if kind == PartTransferCopy {
		s.BytesCopied += size
	} else {
		s.BytesUploaded += size
	}
	s.LastUpdatedAt = time.Now()
	s.Status = UploadStatusInProgress
}

// MarkPartFailed records a failed attempt at partNumber, keeping its
// retry count so the caller can decide when to give up on the whole
// upload rather than just this part.
func (s *MultipartUploadState) MarkPartFailed(partNumber int, err error) {
	part := s.partOrNew(partNumber)
	part.Completed = false
	part.RetryCount++
	part.LastModified = time.Now()
	part.Error = err.Error()

	s.LastUpdatedAt = time.Now()
}

func (s *MultipartUploadState) partOrNew(partNumber int) *TrackedPart {
	if s.Parts[partNumber] == nil {
		s.Parts[partNumber] = &TrackedPart{PartNumber: partNumber}
	}
	return s.Parts[partNumber]
}

// IsComplete returns true once every part the upload was told to expect
// has landed.
func (s *MultipartUploadState) IsComplete() bool {
	return s.CompletedParts == s.TotalParts
}

// CopyRatio returns the fraction (0-1) of bytes that landed via a
// server-side copy rather than a client upload. A mixupload that's
// mostly unmodified data should have this close to 1; one where the
// whole file changed should have it close to 0.
func (s *MultipartUploadState) CopyRatio() float64 {
	total := s.BytesCopied + s.BytesUploaded
	if total == 0 {
		return 0
	}
	return float64(s.BytesCopied) / float64(total)
}

// GetRemainingParts returns the part numbers not yet completed.
func (s *MultipartUploadState) GetRemainingParts() []int {
	remaining := make([]int, 0)
	for i := 1; i <= s.TotalParts; i++ {
		part, exists := s.Parts[i]
		if !exists || !part.Completed {
			remaining = append(remaining, i)
		}
	}
	return remaining
}

// MultipartStateManager tracks every mixupload currently in flight
// against the bucket, keyed by S3 upload ID.
type MultipartStateManager struct {
	mu      sync.RWMutex
	uploads map[string]*MultipartUploadState
}

func NewMultipartStateManager() *MultipartStateManager {
	return &MultipartStateManager{
		uploads: make(map[string]*MultipartUploadState),
	}
}

func (m *MultipartStateManager) TrackUpload(state *MultipartUploadState) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.uploads[state.UploadID] = state
}

func (m *MultipartStateManager) GetUploadState(uploadID string) (*MultipartUploadState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, exists := m.uploads[uploadID]
	return state, exists
}

// UpdatePartStatus records the outcome of one UploadPart/UploadPartCopy
// attempt against a tracked upload. A call for an upload ID the manager
// doesn't know about (already completed, aborted, or never tracked) is
// silently ignored.
func (m *MultipartStateManager) UpdatePartStatus(uploadID string, partNumber int, size int64, etag string, kind PartTransferKind, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, exists := m.uploads[uploadID]
	if !exists {
		return
	}

	if err != nil {
		state.MarkPartFailed(partNumber, err)
	} else {
		state.MarkPartCompleted(partNumber, size, etag, kind)
	}
}

func (m *MultipartStateManager) MarkUploadCompleted(uploadID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if state, exists := m.uploads[uploadID]; exists {
		state.Status = UploadStatusCompleted
		state.LastUpdatedAt = time.Now()
	}
}

func (m *MultipartStateManager) MarkUploadFailed(uploadID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if state, exists := m.uploads[uploadID]; exists {
		state.Status = UploadStatusFailed
		state.LastUpdatedAt = time.Now()
	}
}

func (m *MultipartStateManager) RemoveUpload(uploadID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.uploads, uploadID)
}

// CleanupOldUploads drops uploads that reached a terminal state more
// than maxAge ago, returning how many were removed. Guards against a
// long-lived Backend accumulating state for aborted or failed uploads
// nobody ever calls RemoveUpload for.
func (m *MultipartStateManager) CleanupOldUploads(maxAge time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	cutoff := time.Now().Add(-maxAge)

	for uploadID, state := range m.uploads {
		if state.Status.IsCompleted() && state.LastUpdatedAt.Before(cutoff) {
			delete(m.uploads, uploadID)
			removed++
		}
	}

	return removed
}

func (m *MultipartStateManager) GetUploadCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.uploads)
}
