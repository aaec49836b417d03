// Package workerpool runs a fixed-size pool of goroutines that execute
// jobs against per-worker persistent HTTP handles: the download
// traffic (reads, flush gap-fills, prefetch) generated by the page-cache
// engine.
package workerpool

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/sourcegraph/conc"
	"go.uber.org/multierr"

	"github.com/nimbusfs/nimbusfs/internal/metrics"
)

// HTTPHandle is the per-worker resource re-initialized before every job.
// A production handle wraps a http.Client and clears any request-scoped
// state such as retry counters between jobs.
type HTTPHandle interface {
	Client() *http.Client
	Reset()
	Close()
}

type defaultHandle struct {
	client *http.Client
}

func (h *defaultHandle) Client() *http.Client { return h.client }
func (h *defaultHandle) Reset()               {}
func (h *defaultHandle) Close()               { h.client.CloseIdleConnections() }

// NewDefaultHandleFactory returns a HandleFactory producing one
// *http.Client per worker, closed when the worker exits.
func NewDefaultHandleFactory() func() HTTPHandle {
	return func() HTTPHandle {
		return &defaultHandle{client: &http.Client{}}
	}
}

// JobFunc is the work invoked by a worker for a job. args is whatever the
// submitter attached to the Job.
type JobFunc func(handle HTTPHandle, args interface{}) error

// Job is one unit of work submitted to the pool.
type Job struct {
	Fn   JobFunc
	Args interface{}

	// DedupKey, if non-empty, identifies work that shouldn't be
	// in flight twice at once (e.g. two reads racing to fill the same
	// byte range). A job whose key matches one already queued or
	// running is dropped rather than enqueued.
	DedupKey string

	// Err holds the JobFunc's return value after the job completes.
	// Safe to read only after the job's completion channel fires.
	Err error

	completion chan struct{}
}

// Pool is a fixed-size worker pool backed by an unbounded FIFO queue: a
// mutex-guarded slice signaled with a condition variable, not a buffered
// channel, so Instruct and InstructAsync can never block the caller no
// matter how deep the backlog runs.
type Pool struct {
	mu      sync.Mutex
	cond    *sync.Cond
	queue   []*Job
	closed  bool
	started bool

	handleFn  func() HTTPHandle
	logger    *slog.Logger
	metrics   *metrics.Collector
	wg        conc.WaitGroup
	warnDepth int

	inFlight   map[uint64]struct{}
	inFlightMu sync.Mutex
}

// Initialize starts count workers pulling from a shared, unbounded queue.
// count <= 0 defaults to 10, the object store client's default
// concurrency. queueDepth is not a capacity limit (the queue never blocks
// a submitter) but a backlog watermark: once the queue holds more than
// queueDepth jobs, every further enqueue logs a warning so a runaway
// producer shows up in the logs well before it shows up as memory
// pressure. queueDepth <= 0 disables the warning. collector may be nil,
// in which case job metrics aren't recorded. Each call starts a new,
// independent Pool with its own workers.
func Initialize(count, queueDepth int, handleFn func() HTTPHandle, logger *slog.Logger, collector *metrics.Collector) *Pool {
	if count <= 0 {
		count = 10
	}
	if handleFn == nil {
		handleFn = NewDefaultHandleFactory()
	}
	if logger == nil {
		logger = slog.Default()
	}

	p := &Pool{
		handleFn:  handleFn,
		logger:    logger,
		metrics:   collector,
		warnDepth: queueDepth,
		inFlight:  make(map[uint64]struct{}),
	}
	p.cond = sync.NewCond(&p.mu)

	for i := 0; i < count; i++ {
		p.wg.Go(p.runWorker)
	}
	p.started = true
	return p
}

func (p *Pool) runWorker() {
	handle := p.handleFn()
	defer handle.Close()

	for {
		job, ok := p.dequeue()
		if !ok {
			return
		}
		handle.Reset()
		err := job.Fn(handle, job.Args)
		job.Err = err
		if err != nil {
			p.logger.Warn("worker job failed", "error", err)
			if p.metrics != nil {
				p.metrics.RecordJobFailed()
			}
		} else if p.metrics != nil {
			p.metrics.RecordJobCompleted()
		}
		if job.DedupKey != "" {
			p.forget(job.DedupKey)
		}
		if job.completion != nil {
			job.completion <- struct{}{}
		}
	}
}

// dequeue blocks until a job is available or the pool is closed. A closed,
// empty queue returns ok=false, telling the worker to exit.
func (p *Pool) dequeue() (job *Job, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.queue) == 0 && !p.closed {
		p.cond.Wait()
	}
	if len(p.queue) == 0 {
		return nil, false
	}
	job = p.queue[0]
	p.queue = p.queue[1:]
	if p.metrics != nil {
		p.metrics.SetQueueDepth(len(p.queue))
	}
	return job, true
}

// Instruct enqueues job without blocking on its completion. job.Err is
// only meaningful once the completion channel supplied by the caller (if
// any) fires; a purely fire-and-forget submission should leave
// job.completion unset by using InstructAsync instead. A nil completion
// channel is refused: Instruct returns false and enqueues nothing, leaving
// the caller free to fall back to InstructAsync or AwaitInstruct.
func (p *Pool) Instruct(job *Job, completion chan struct{}) bool {
	if completion == nil {
		p.logger.Warn("workerpool: Instruct refused, nil completion channel")
		return false
	}
	job.completion = completion
	p.enqueue(job)
	return true
}

// InstructAsync enqueues job with no completion signal at all: true
// fire-and-forget, useful for best-effort background work like prefetch.
func (p *Pool) InstructAsync(job *Job) {
	p.enqueue(job)
}

// AwaitInstruct enqueues job and blocks until a worker has run it,
// returning the job's error.
func (p *Pool) AwaitInstruct(job *Job) error {
	done := make(chan struct{}, 1)
	job.completion = done
	p.enqueue(job)
	<-done
	return job.Err
}

// AwaitAll enqueues every job and blocks until all have completed,
// returning the combined error of all jobs that failed.
func (p *Pool) AwaitAll(jobs []*Job) error {
	var wg sync.WaitGroup
	wg.Add(len(jobs))
	for _, j := range jobs {
		j := j
		done := make(chan struct{}, 1)
		j.completion = done
		go func() {
			defer wg.Done()
			<-done
		}()
		p.enqueue(j)
	}
	wg.Wait()

	var combined error
	for _, j := range jobs {
		combined = multierr.Append(combined, j.Err)
	}
	return combined
}

// enqueue never blocks: it appends to the in-memory queue under a mutex
// and wakes one waiting worker. A job submitted after Destroy, or one
// whose DedupKey collides with work already queued or running, is
// dropped without running; its completion channel still fires so a
// caller blocked in AwaitInstruct doesn't hang.
func (p *Pool) enqueue(job *Job) {
	if job.DedupKey != "" && !p.claim(job.DedupKey) {
		if job.completion != nil {
			job.completion <- struct{}{}
		}
		return
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		if job.DedupKey != "" {
			p.forget(job.DedupKey)
		}
		if job.completion != nil {
			job.completion <- struct{}{}
		}
		return
	}
	p.queue = append(p.queue, job)
	depth := len(p.queue)
	p.mu.Unlock()
	p.cond.Signal()

	if p.warnDepth > 0 && depth > p.warnDepth {
		p.logger.Warn("workerpool: queue backlog above watermark", "depth", depth, "watermark", p.warnDepth)
	}
	if p.metrics != nil {
		p.metrics.RecordJobDispatched()
		p.metrics.SetQueueDepth(depth)
	}
}

func (p *Pool) claim(key string) bool {
	h := xxhash.Sum64String(key)
	p.inFlightMu.Lock()
	defer p.inFlightMu.Unlock()
	if _, exists := p.inFlight[h]; exists {
		return false
	}
	p.inFlight[h] = struct{}{}
	return true
}

func (p *Pool) forget(key string) {
	h := xxhash.Sum64String(key)
	p.inFlightMu.Lock()
	delete(p.inFlight, h)
	p.inFlightMu.Unlock()
}

// Destroy discards any job still sitting in the queue and stops every
// worker once its current job (if any) finishes. Discarded jobs never run
// their Fn and never signal their completion channel: a caller with a job
// still queued at shutdown is expected to have already given up on it, the
// same way the original thread pool abandons its pending instruction list
// on exit rather than draining it. Calling Destroy on a pool that was
// never Initialize'd panics.
func (p *Pool) Destroy() {
	if !p.started {
		panic("workerpool: Destroy called before Initialize")
	}
	p.mu.Lock()
	p.closed = true
	p.queue = nil
	p.mu.Unlock()
	p.cond.Broadcast()
	p.wg.Wait()
}
