package fuse

import (
	"context"
	"sync"
	"time"
)

// ReadAheadManager watches sequential read patterns and asks the
// corresponding open engine.File to prefetch ahead of the reader.
type ReadAheadManager struct {
	mu          sync.RWMutex
	activeReads map[string]*ReadPattern
	fsys        *FileSystem
	config      *ReadAheadConfig

	prefetchQueue chan *PrefetchRequest
	stopCh        chan struct{}
}

// ReadAheadConfig configures read-ahead behavior.
type ReadAheadConfig struct {
	Enabled         bool          `yaml:"enabled"`
	WindowSize      int64         `yaml:"window_size"`
	MinSequential   int           `yaml:"min_sequential"`
	ConcurrentReads int           `yaml:"concurrent_reads"`
	TTL             time.Duration `yaml:"ttl"`
}

// ReadPattern tracks one path's recent read offsets to detect sequential
// access worth prefetching ahead of.
type ReadPattern struct {
	path           string
	lastOffset     int64
	lastSize       int64
	sequentialHits int
	lastAccess     time.Time
	predictedNext  int64
	confidence     float64
}

// PrefetchRequest is a queued read-ahead job.
type PrefetchRequest struct {
	path   string
	offset int64
	size   int64
}

// NewReadAheadManager creates a new read-ahead manager bound to fsys.
func NewReadAheadManager(fsys *FileSystem, config *ReadAheadConfig) *ReadAheadManager {
	if config == nil {
		config = &ReadAheadConfig{
			Enabled:         true,
			WindowSize:      64 * 1024,
			MinSequential:   3,
			ConcurrentReads: 4,
			TTL:             5 * time.Minute,
		}
	}

	ram := &ReadAheadManager{
		activeReads:   make(map[string]*ReadPattern),
		fsys:          fsys,
		config:        config,
		prefetchQueue: make(chan *PrefetchRequest, 100),
		stopCh:        make(chan struct{}),
	}

	for i := 0; i < config.ConcurrentReads; i++ {
		go ram.prefetchWorker()
	}
	go ram.cleanupWorker()

	return ram
}

// OnRead records a read and, once a strong enough sequential pattern
// emerges on path, schedules a prefetch of the bytes just ahead of it.
func (ram *ReadAheadManager) OnRead(path string, offset, size int64) {
	if !ram.config.Enabled {
		return
	}

	ram.mu.Lock()
	defer ram.mu.Unlock()

	pattern, exists := ram.activeReads[path]
	if !exists {
		pattern = &ReadPattern{path: path, lastAccess: time.Now()}
		ram.activeReads[path] = pattern
	}

	if offset == pattern.lastOffset+pattern.lastSize {
		pattern.sequentialHits++
		pattern.confidence = float64(pattern.sequentialHits) / 10.0
		if pattern.confidence > 1.0 {
			pattern.confidence = 1.0
		}
	} else {
		pattern.sequentialHits = 0
		pattern.confidence = 0.1
	}

	pattern.lastOffset = offset
	pattern.lastSize = size
	pattern.lastAccess = time.Now()
	pattern.predictedNext = offset + size

	if pattern.sequentialHits >= ram.config.MinSequential && pattern.confidence > 0.5 {
		ram.schedulePrefetch(path, pattern.predictedNext, ram.config.WindowSize)
	}
}

func (ram *ReadAheadManager) schedulePrefetch(path string, offset, size int64) {
	select {
	case ram.prefetchQueue <- &PrefetchRequest{path: path, offset: offset, size: size}:
	default:
		// queue full, skip this round
	}
}

func (ram *ReadAheadManager) prefetchWorker() {
	for {
		select {
		case req := <-ram.prefetchQueue:
			ram.performPrefetch(req)
		case <-ram.stopCh:
			return
		}
	}
}

// performPrefetch hands the request to the path's already-open
// engine.File. A path with no open handle has nothing to prefetch into,
// so the request is dropped.
func (ram *ReadAheadManager) performPrefetch(req *PrefetchRequest) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	eng := ram.fsys.engineFor(req.path)
	if eng == nil {
		return
	}
	eng.Prefetch(ctx, req.offset, req.size)
}

func (ram *ReadAheadManager) cleanupWorker() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ram.cleanup()
		case <-ram.stopCh:
			return
		}
	}
}

func (ram *ReadAheadManager) cleanup() {
	ram.mu.Lock()
	defer ram.mu.Unlock()

	now := time.Now()
	for path, pattern := range ram.activeReads {
		if now.Sub(pattern.lastAccess) > ram.config.TTL {
			delete(ram.activeReads, path)
		}
	}
}

// Stop shuts down the manager's prefetch and cleanup goroutines.
func (ram *ReadAheadManager) Stop() {
	close(ram.stopCh)
}
