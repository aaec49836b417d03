// Package engine owns the per-open-file control flow that the rest of the
// core only describes: one File per open cache file, holding exactly one
// PageList and at most one stats-file handle, fetching the ranges that
// reads and flushes need through the worker pool and flushing
// modifications back to the object store through the multipart planner.
package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"go.uber.org/multierr"

	"github.com/nimbusfs/nimbusfs/internal/metrics"
	"github.com/nimbusfs/nimbusfs/internal/multipart"
	"github.com/nimbusfs/nimbusfs/internal/pagecache"
	"github.com/nimbusfs/nimbusfs/internal/pagestats"
	"github.com/nimbusfs/nimbusfs/internal/workerpool"
	"github.com/nimbusfs/nimbusfs/pkg/errors"
	"github.com/nimbusfs/nimbusfs/pkg/types"
)

// Options configures a File at open time. Pool and Store are required;
// Metrics and Logger may be nil.
type Options struct {
	Key         string // object store key this file mirrors
	CachePath   string // local sparse cache file
	StatsPath   string // sidecar stats file
	Store       types.ObjectStore
	Pool        *workerpool.Pool
	Metrics     *metrics.Collector
	Logger      *slog.Logger
	MinPartSize int64
	MaxPartSize int64
}

// File is the page-cache engine's view of one open file: the cache file
// descriptor, the page list describing its byte ranges, and the stats
// sidecar that persists that page list across opens. Every method takes
// the File's own mutex, so one File may be shared by several goroutines
// (the fuse adapter shares one File among all handles of a path).
type File struct {
	opts Options

	mu    sync.Mutex
	cache *os.File
	pages *pagecache.PageList
	stats *pagestats.Stats
	inode uint64
}

// Open opens or creates the cache file at opts.CachePath, loads or
// initializes its page list from the stats sidecar, and reconciles that
// page list against the cache file's actual sparse-file layout. remoteSize
// is the object's size as last observed by the caller (e.g. via
// HeadObject); it seeds a brand-new page list for a file with no prior
// stats.
func Open(ctx context.Context, opts Options, remoteSize int64) (*File, error) {
	if opts.Store == nil || opts.Pool == nil {
		return nil, errors.New(errors.ErrCodeInvalidConfig, "engine: Store and Pool are required").
			WithComponent("engine").WithOperation("Open")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	cache, err := os.OpenFile(opts.CachePath, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, errors.New(errors.ErrCodeStorageRead, "failed to open cache file").
			WithComponent("engine").WithOperation("Open").WithContext("path", opts.CachePath).WithCause(err)
	}

	info, err := cache.Stat()
	if err != nil {
		cache.Close()
		return nil, errors.New(errors.ErrCodeStorageRead, "failed to stat cache file").
			WithComponent("engine").WithOperation("Open").WithCause(err)
	}

	f := &File{
		opts:  opts,
		cache: cache,
		stats: pagestats.New(opts.StatsPath, opts.Logger),
		inode: inodeOf(info),
	}

	if err := f.loadOrInit(remoteSize); err != nil {
		cache.Close()
		return nil, err
	}
	if f.pages.Size() != info.Size() {
		if err := cache.Truncate(f.pages.Size()); err != nil {
			cache.Close()
			return nil, errors.New(errors.ErrCodeStorageWrite, "failed to size cache file to page list").
				WithComponent("engine").WithOperation("Open").WithCause(err)
		}
	}
	f.reconcile()

	return f, nil
}

func (f *File) loadOrInit(remoteSize int64) error {
	pl, err := f.stats.Deserialize(f.inode)
	if err != nil {
		f.opts.Logger.Warn("stats unreadable, reinitializing page list", "path", f.opts.StatsPath, "error", err)
		f.pages = pagecache.NewPageList(remoteSize, remoteSize == 0, false)
		return nil
	}
	f.pages = pl
	return nil
}

// reconcile probes the cache file's sparse-file layout against the loaded
// page list and folds the result back in: claimed-loaded ranges the probe
// found absent are marked unloaded (so a subsequent read re-downloads
// them), and claimed-unloaded ranges the probe found nonzero are marked
// loaded (so a subsequent read doesn't clobber data already on disk).
// Reconciliation outcomes are recorded on Metrics if present; it never
// fails the open.
func (f *File) reconcile() {
	if f.pages.Size() == 0 {
		return
	}
	result, err := pagestats.CompareSparseFile(int(f.cache.Fd()), f.pages.Size(), f.pages)
	if err != nil {
		f.opts.Logger.Warn("sparse-file reconciliation failed", "path", f.opts.CachePath, "error", err)
		return
	}
	for _, p := range result.ErrList {
		f.opts.Logger.Warn("reconcile: claimed data missing on disk", "offset", p.Offset, "length", p.Length)
		f.pages.SetPageLoadedStatus(p.Offset, p.Length, pagecache.NotLoadedNotModified, false)
		if f.opts.Metrics != nil {
			f.opts.Metrics.RecordReconcileError()
		}
	}
	for _, p := range result.WarnList {
		f.opts.Logger.Warn("reconcile: unexpected data found on disk", "offset", p.Offset, "length", p.Length)
		f.pages.SetPageLoadedStatus(p.Offset, p.Length, pagecache.Loaded, false)
		if f.opts.Metrics != nil {
			f.opts.Metrics.RecordReconcileWarning()
		}
	}
	f.pages.Compress()
}

// Size returns the file's current logical size.
func (f *File) Size() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pages.Size()
}

// Read satisfies [offset, offset+len(dst)) from the cache file, downloading
// any unloaded ranges it covers first.
func (f *File) Read(ctx context.Context, dst []byte, offset int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	length := int64(len(dst))
	if offset >= f.pages.Size() {
		return 0, nil
	}
	if offset+length > f.pages.Size() {
		length = f.pages.Size() - offset
	}

	missing := f.pages.GetUnloadedPages(offset, length)
	if len(missing) > 0 {
		if err := f.downloadPages(ctx, missing); err != nil {
			return 0, err
		}
	}

	n, err := f.cache.ReadAt(dst[:length], offset)
	if err != nil && err != io.EOF {
		return n, errors.New(errors.ErrCodeStorageRead, "cache file read failed").
			WithComponent("engine").WithOperation("Read").WithCause(err)
	}
	return n, nil
}

// Write writes data at offset into the cache file and marks the affected
// range loaded-and-modified.
func (f *File) Write(ctx context.Context, data []byte, offset int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	n, err := f.cache.WriteAt(data, offset)
	if err != nil {
		return n, errors.New(errors.ErrCodeStorageWrite, "cache file write failed").
			WithComponent("engine").WithOperation("Write").WithCause(err)
	}

	f.pages.SetPageLoadedStatus(offset, int64(n), pagecache.LoadedModified, true)
	if f.opts.Metrics != nil {
		f.opts.Metrics.AddBytesModified(int64(n))
	}
	return n, nil
}

// Truncate resizes the file's logical size, recording an intentional
// shrink so a subsequent Flush knows to propagate it upstream.
func (f *File) Truncate(size int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.cache.Truncate(size); err != nil {
		return errors.New(errors.ErrCodeStorageWrite, "cache file truncate failed").
			WithComponent("engine").WithOperation("Truncate").WithCause(err)
	}
	// Both flags true regardless of direction: a grown region reads as
	// zeros the kernel already materializes in the sparse hole, so it's
	// loaded; either direction changes what the remote object must
	// contain, so Resize's modified param also marks a shrink `shrunk`.
	f.pages.Resize(size, true, true)
	return nil
}

// Prefetch fires off best-effort background downloads for any unloaded
// bytes in [offset, offset+length) without blocking the caller. A failed
// prefetch job is only logged by the worker pool: the range simply stays
// unloaded and a later Read pays for the download itself.
func (f *File) Prefetch(ctx context.Context, offset, length int64) {
	f.mu.Lock()
	missing := f.pages.GetUnloadedPages(offset, length)
	f.mu.Unlock()

	for _, p := range missing {
		p := p
		f.opts.Pool.InstructAsync(&workerpool.Job{
			DedupKey: fmt.Sprintf("%s:%d:%d", f.opts.Key, p.Offset, p.Length),
			Fn: func(handle workerpool.HTTPHandle, args interface{}) error {
				data, err := f.opts.Store.GetObjectRange(ctx, f.opts.Key, p.Offset, p.Length)
				if err != nil {
					return err
				}
				f.mu.Lock()
				defer f.mu.Unlock()
				if _, err := f.cache.WriteAt(data, p.Offset); err != nil {
					return err
				}
				f.pages.SetPageLoadedStatus(p.Offset, p.Length, pagecache.Loaded, true)
				return nil
			},
		})
	}
}

// downloadPages fetches each missing page from the object store through
// the worker pool and writes it into the cache file, marking it loaded on
// success. It blocks until every page has completed and combines any
// failures.
func (f *File) downloadPages(ctx context.Context, missing []pagecache.Page) error {
	jobs := make([]*workerpool.Job, len(missing))
	for i, p := range missing {
		p := p
		jobs[i] = &workerpool.Job{
			DedupKey: fmt.Sprintf("%s:%d:%d", f.opts.Key, p.Offset, p.Length),
			Fn: func(handle workerpool.HTTPHandle, args interface{}) error {
				data, err := f.opts.Store.GetObjectRange(ctx, f.opts.Key, p.Offset, p.Length)
				if err != nil {
					return errors.New(errors.ErrCodeStorageRead, "failed to download range").
						WithComponent("engine").WithOperation("downloadPages").
						WithContext("key", f.opts.Key).WithCause(err)
				}
				if _, err := f.cache.WriteAt(data, p.Offset); err != nil {
					return errors.New(errors.ErrCodeStorageWrite, "failed to write downloaded range to cache").
						WithComponent("engine").WithOperation("downloadPages").WithCause(err)
				}
				return nil
			},
		}
	}

	if err := f.opts.Pool.AwaitAll(jobs); err != nil {
		return err
	}
	for _, p := range missing {
		f.pages.SetPageLoadedStatus(p.Offset, p.Length, pagecache.Loaded, false)
	}
	f.pages.Compress()
	return nil
}

// Flush commits every locally-modified byte range back to the object
// store: it plans a multipart upload, downloads whatever ranges the plan
// needs to fill gaps below the minimum part size, uploads the resulting
// parts (copying unmodified ranges server-side, putting modified ranges
// from the cache file), completes the multipart upload, then clears every
// modified flag. The page list is re-persisted to the stats sidecar
// either way, since a flush with nothing modified may still have pages
// newly marked loaded by a Read since the last persist.
func (f *File) Flush(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.pages.IsModified() {
		return f.persistLocked()
	}

	plan := multipart.Compute(f.pages, f.opts.MinPartSize, f.opts.MaxPartSize)
	if len(plan.DownloadPages) > 0 {
		if err := f.downloadPages(ctx, plan.DownloadPages); err != nil {
			return err
		}
	}

	if len(plan.MixuploadParts) > 0 {
		if err := f.commitParts(ctx, plan.MixuploadParts); err != nil {
			return err
		}
	}

	f.pages.ClearAllModified()
	return f.persistLocked()
}

func (f *File) commitParts(ctx context.Context, parts []multipart.Part) error {
	uploadID, err := f.opts.Store.CreateMultipartUpload(ctx, f.opts.Key)
	if err != nil {
		return errors.New(errors.ErrCodeStorageWrite, "failed to start multipart upload").
			WithComponent("engine").WithOperation("commitParts").WithContext("key", f.opts.Key).WithCause(err)
	}

	completed := make([]types.CompletedPart, len(parts))
	var uploadErr error
	for i, part := range parts {
		etag, err := f.uploadOnePart(ctx, uploadID, i+1, part)
		if err != nil {
			uploadErr = multierr.Append(uploadErr, err)
			continue
		}
		completed[i] = types.CompletedPart{PartNumber: i + 1, ETag: etag}
	}
	if uploadErr != nil {
		if abortErr := f.opts.Store.AbortMultipartUpload(ctx, f.opts.Key, uploadID); abortErr != nil {
			uploadErr = multierr.Append(uploadErr, abortErr)
		}
		return uploadErr
	}

	if err := f.opts.Store.CompleteMultipartUpload(ctx, f.opts.Key, uploadID, completed); err != nil {
		return errors.New(errors.ErrCodeStorageWrite, "failed to complete multipart upload").
			WithComponent("engine").WithOperation("commitParts").WithContext("key", f.opts.Key).WithCause(err)
	}
	return nil
}

func (f *File) uploadOnePart(ctx context.Context, uploadID string, partNumber int, part multipart.Part) (string, error) {
	if part.Kind == multipart.PartCopy {
		return f.opts.Store.UploadPartCopy(ctx, f.opts.Key, uploadID, partNumber, f.opts.Key, part.Offset, part.Length)
	}

	buf := make([]byte, part.Length)
	if _, err := f.cache.ReadAt(buf, part.Offset); err != nil {
		return "", errors.New(errors.ErrCodeStorageRead, "failed to read part from cache file").
			WithComponent("engine").WithOperation("uploadOnePart").WithCause(err)
	}
	return f.opts.Store.UploadPart(ctx, f.opts.Key, uploadID, partNumber, buf)
}

// persistLocked writes the current page list to the stats sidecar. Caller
// must hold f.mu.
func (f *File) persistLocked() error {
	if err := f.stats.Serialize(f.pages, f.inode); err != nil {
		return err
	}
	return nil
}

// Close flushes any pending modifications and closes the cache file
// descriptor.
func (f *File) Close(ctx context.Context) error {
	flushErr := f.Flush(ctx)

	f.mu.Lock()
	closeErr := f.cache.Close()
	f.mu.Unlock()

	return multierr.Append(flushErr, closeErr)
}
