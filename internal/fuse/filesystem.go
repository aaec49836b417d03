package fuse

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/nimbusfs/nimbusfs/internal/engine"
	"github.com/nimbusfs/nimbusfs/internal/metrics"
	"github.com/nimbusfs/nimbusfs/internal/workerpool"
	"github.com/nimbusfs/nimbusfs/pkg/types"
	"github.com/nimbusfs/nimbusfs/pkg/utils"
)

// safeInt64ToUint64 safely converts int64 to uint64, preventing negative values
func safeInt64ToUint64(i int64) uint64 {
	if i < 0 {
		return 0
	}
	return uint64(i)
}

// safeIntToUint32 safely converts int to uint32, preventing overflow
func safeIntToUint32(i int) uint32 {
	if i < 0 {
		return 0
	}
	if i > 0xFFFFFFFF {
		return 0xFFFFFFFF
	}
	return uint32(i)
}

// Config represents FUSE filesystem configuration.
type Config struct {
	MountPoint string `yaml:"mount_point"`
	ReadOnly   bool   `yaml:"read_only"`
	AllowOther bool   `yaml:"allow_other"`

	DirectIO  bool   `yaml:"direct_io"`
	KeepCache bool   `yaml:"keep_cache"`
	BigWrites bool   `yaml:"big_writes"`
	MaxRead   uint32 `yaml:"max_read"`
	MaxWrite  uint32 `yaml:"max_write"`

	DefaultUID  uint32        `yaml:"default_uid"`
	DefaultGID  uint32        `yaml:"default_gid"`
	DefaultMode uint32        `yaml:"default_mode"`
	CacheTTL    time.Duration `yaml:"cache_ttl"`

	// CacheDir is where each open file's sparse cache file and stats
	// sidecar live, mirrored under the object's own key.
	CacheDir string `yaml:"cache_dir"`

	MinPartSize int64 `yaml:"min_part_size"`
	MaxPartSize int64 `yaml:"max_part_size"`

	ReadAhead *ReadAheadConfig `yaml:"read_ahead"`
}

func defaultConfig() *Config {
	return &Config{
		DefaultUID:  1000,
		DefaultGID:  1000,
		DefaultMode: 0644,
		CacheTTL:    5 * time.Minute,
		CacheDir:    "/var/cache/nimbusfs",
		MinPartSize: 8 << 20,
		MaxPartSize: 512 << 20,
	}
}

// engineEntry refcounts one engine.File across the possibly multiple FUSE
// handles a single path can have open at once, so every open shares the
// one PageList that owns the path's cache and stats files.
type engineEntry struct {
	file *engine.File
	refs int
}

// FileSystem implements the FUSE filesystem interface, translating kernel
// callbacks into page-cache engine operations.
type FileSystem struct {
	fs.Inode

	store   types.ObjectStore
	pool    *workerpool.Pool
	metrics *metrics.Collector
	logger  *slog.Logger
	config  *Config

	mu         sync.Mutex
	engines    map[string]*engineEntry
	nextHandle uint64

	stats *Stats

	readAhead *ReadAheadManager
}

// OpenFile tracks the bookkeeping FUSE needs per open handle, independent
// of the underlying engine.File (which is refcounted separately, one per
// path rather than one per handle).
type OpenFile struct {
	path        string
	flags       uint32
	lastAccess  time.Time
	accessCount int64
}

// Stats tracks filesystem operation counts, kept for operators inspecting
// a running mount; the page-cache-specific counters live in
// internal/metrics instead.
type Stats struct {
	mu sync.RWMutex

	Lookups int64 `json:"lookups"`
	Opens   int64 `json:"opens"`
	Reads   int64 `json:"reads"`
	Writes  int64 `json:"writes"`
	Creates int64 `json:"creates"`
	Deletes int64 `json:"deletes"`

	BytesRead    int64 `json:"bytes_read"`
	BytesWritten int64 `json:"bytes_written"`

	Errors int64 `json:"errors"`
}

func (s *Stats) inc(counter *int64) {
	s.mu.Lock()
	*counter++
	s.mu.Unlock()
}

func (s *Stats) addBytes(counter *int64, n int64) {
	s.mu.Lock()
	*counter += n
	s.mu.Unlock()
}

// NewFileSystem creates a new FUSE filesystem backed by store, dispatching
// download and upload-part jobs through pool. metrics and logger may be
// nil.
func NewFileSystem(store types.ObjectStore, pool *workerpool.Pool, collector *metrics.Collector, logger *slog.Logger, config *Config) *FileSystem {
	if config == nil {
		config = defaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	filesystem := &FileSystem{
		store:      store,
		pool:       pool,
		metrics:    collector,
		logger:     logger,
		config:     config,
		engines:    make(map[string]*engineEntry),
		nextHandle: 1,
		stats:      &Stats{},
	}
	filesystem.readAhead = NewReadAheadManager(filesystem, config.ReadAhead)

	return filesystem
}

// Root returns the root inode.
func (fsys *FileSystem) Root() fs.InodeEmbedder {
	return &DirectoryNode{fsys: fsys, path: ""}
}

// GetStats returns a snapshot of current filesystem statistics.
func (fsys *FileSystem) GetStats() *Stats {
	fsys.stats.mu.RLock()
	defer fsys.stats.mu.RUnlock()

	return &Stats{
		Lookups:      fsys.stats.Lookups,
		Opens:        fsys.stats.Opens,
		Reads:        fsys.stats.Reads,
		Writes:       fsys.stats.Writes,
		Creates:      fsys.stats.Creates,
		Deletes:      fsys.stats.Deletes,
		BytesRead:    fsys.stats.BytesRead,
		BytesWritten: fsys.stats.BytesWritten,
		Errors:       fsys.stats.Errors,
	}
}

// Shutdown stops background workers owned by the filesystem. It does not
// close any open engine.File: Release is responsible for that.
func (fsys *FileSystem) Shutdown() {
	fsys.readAhead.Stop()
}

// cachePathFor joins the remote object key onto the cache directory. Keys
// come from listing/lookup calls against the backing store, so a
// maliciously crafted key (e.g. containing "../") must not be allowed to
// escape CacheDir/data.
func (fsys *FileSystem) cachePathFor(key string) (string, error) {
	return utils.SecureJoin(filepath.Join(fsys.config.CacheDir, "data"), utils.SanitizeObjectKey(key))
}

func (fsys *FileSystem) statsPathFor(key string) (string, error) {
	return utils.SecureJoin(filepath.Join(fsys.config.CacheDir, "stats"), utils.SanitizeObjectKey(key)+".stats")
}

// acquireEngine returns the shared engine.File for key, opening it (and
// creating its cache/stats directories) on the first caller and
// incrementing a refcount on every subsequent one.
func (fsys *FileSystem) acquireEngine(ctx context.Context, key string, remoteSize int64) (*engine.File, error) {
	fsys.mu.Lock()
	if e, ok := fsys.engines[key]; ok {
		e.refs++
		fsys.mu.Unlock()
		return e.file, nil
	}
	fsys.mu.Unlock()

	cachePath, err := fsys.cachePathFor(key)
	if err != nil {
		return nil, fmt.Errorf("fuse: refusing unsafe cache path for key %q: %w", key, err)
	}
	statsPath, err := fsys.statsPathFor(key)
	if err != nil {
		return nil, fmt.Errorf("fuse: refusing unsafe stats path for key %q: %w", key, err)
	}
	for _, dir := range []string{filepath.Dir(cachePath), filepath.Dir(statsPath)} {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("fuse: creating cache directory %q: %w", dir, err)
		}
	}

	f, err := engine.Open(ctx, engine.Options{
		Key:         key,
		CachePath:   cachePath,
		StatsPath:   statsPath,
		Store:       fsys.store,
		Pool:        fsys.pool,
		Metrics:     fsys.metrics,
		Logger:      fsys.logger,
		MinPartSize: fsys.config.MinPartSize,
		MaxPartSize: fsys.config.MaxPartSize,
	}, remoteSize)
	if err != nil {
		return nil, err
	}

	fsys.mu.Lock()
	defer fsys.mu.Unlock()
	if e, ok := fsys.engines[key]; ok {
		// Lost the race to open this key; keep the winner's File and
		// drop ours.
		e.refs++
		_ = f.Close(ctx)
		return e.file, nil
	}
	fsys.engines[key] = &engineEntry{file: f, refs: 1}
	return f, nil
}

// engineFor returns the currently-open engine.File for key, if any,
// without acquiring a new reference. Used by read-ahead, which piggybacks
// on an existing open rather than opening its own.
func (fsys *FileSystem) engineFor(key string) *engine.File {
	fsys.mu.Lock()
	defer fsys.mu.Unlock()
	if e, ok := fsys.engines[key]; ok {
		return e.file
	}
	return nil
}

// releaseEngine drops one reference to key's engine.File, closing (and
// flushing) it once the last handle releases.
func (fsys *FileSystem) releaseEngine(ctx context.Context, key string) error {
	fsys.mu.Lock()
	e, ok := fsys.engines[key]
	if !ok {
		fsys.mu.Unlock()
		return nil
	}
	e.refs--
	if e.refs > 0 {
		fsys.mu.Unlock()
		return nil
	}
	delete(fsys.engines, key)
	fsys.mu.Unlock()

	return e.file.Close(ctx)
}

// DirectoryNode represents a directory in the filesystem.
type DirectoryNode struct {
	fs.Inode
	fsys *FileSystem
	path string
}

func (n *DirectoryNode) joinPath(name string) string {
	if n.path == "" {
		return name
	}
	return n.path + "/" + name
}

// Lookup looks up a child node by name.
func (n *DirectoryNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	n.fsys.stats.inc(&n.fsys.stats.Lookups)
	childPath := n.joinPath(name)

	info, err := n.fsys.store.HeadObject(ctx, childPath)
	if err == nil {
		out.Size = safeInt64ToUint64(info.Size)
		return n.createChildNode(name, info), 0
	}

	objects, listErr := n.fsys.store.ListObjects(ctx, childPath+"/", 1)
	if listErr != nil || len(objects) == 0 {
		return nil, syscall.ENOENT
	}
	return n.createDirectoryNode(name, childPath), 0
}

// Readdir reads directory contents.
func (n *DirectoryNode) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	prefix := n.path
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	objects, err := n.fsys.store.ListObjects(ctx, prefix, 1000)
	if err != nil {
		n.fsys.stats.inc(&n.fsys.stats.Errors)
		n.fsys.logger.Warn("readdir failed", "path", n.path, "error", err)
		return nil, syscall.EIO
	}

	entries := make([]fuse.DirEntry, 0, len(objects))
	seen := make(map[string]bool)
	for _, obj := range objects {
		name := strings.TrimPrefix(obj.Key, prefix)
		if name == "" {
			continue
		}
		if slashIdx := strings.Index(name, "/"); slashIdx != -1 {
			dirName := name[:slashIdx]
			if !seen[dirName] {
				entries = append(entries, fuse.DirEntry{Name: dirName, Mode: fuse.S_IFDIR})
				seen[dirName] = true
			}
			continue
		}
		entries = append(entries, fuse.DirEntry{Name: name, Mode: fuse.S_IFREG})
	}

	return fs.NewListDirStream(entries), 0
}

// Mkdir creates a new directory, represented as a zero-length object with
// a trailing slash key, matching how Readdir infers subdirectories.
func (n *DirectoryNode) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	if n.fsys.config.ReadOnly {
		return nil, syscall.EROFS
	}

	childPath := n.joinPath(name) + "/"
	if err := n.fsys.store.PutObject(ctx, childPath, nil); err != nil {
		n.fsys.stats.inc(&n.fsys.stats.Errors)
		n.fsys.logger.Warn("mkdir failed", "path", childPath, "error", err)
		return nil, syscall.EIO
	}
	return n.createDirectoryNode(name, n.joinPath(name)), 0
}

// Create creates a new empty file and opens it.
func (n *DirectoryNode) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (node *fs.Inode, fh fs.FileHandle, fuseFlags uint32, errno syscall.Errno) {
	if n.fsys.config.ReadOnly {
		return nil, nil, 0, syscall.EROFS
	}

	childPath := n.joinPath(name)
	if err := n.fsys.store.PutObject(ctx, childPath, nil); err != nil {
		n.fsys.stats.inc(&n.fsys.stats.Errors)
		n.fsys.logger.Warn("create failed", "path", childPath, "error", err)
		return nil, nil, 0, syscall.EIO
	}
	n.fsys.stats.inc(&n.fsys.stats.Creates)

	info := &types.ObjectInfo{Key: childPath, Size: 0, LastModified: time.Now()}
	fileNode := &FileNode{fsys: n.fsys, path: childPath, info: info}
	node = n.NewInode(ctx, fileNode, fs.StableAttr{Mode: fuse.S_IFREG})

	fh, fuseFlags, errno = fileNode.Open(ctx, flags)
	return node, fh, fuseFlags, errno
}

// Unlink removes a file.
func (n *DirectoryNode) Unlink(ctx context.Context, name string) syscall.Errno {
	if n.fsys.config.ReadOnly {
		return syscall.EROFS
	}
	childPath := n.joinPath(name)
	if err := n.fsys.store.DeleteObject(ctx, childPath); err != nil {
		n.fsys.stats.inc(&n.fsys.stats.Errors)
		n.fsys.logger.Warn("unlink failed", "path", childPath, "error", err)
		return syscall.EIO
	}
	n.fsys.stats.inc(&n.fsys.stats.Deletes)
	return 0
}

func (n *DirectoryNode) createChildNode(name string, info *types.ObjectInfo) *fs.Inode {
	fileNode := &FileNode{fsys: n.fsys, path: n.joinPath(name), info: info}
	return n.NewInode(context.Background(), fileNode, fs.StableAttr{Mode: fuse.S_IFREG})
}

func (n *DirectoryNode) createDirectoryNode(name, path string) *fs.Inode {
	dirNode := &DirectoryNode{fsys: n.fsys, path: path}
	return n.NewInode(context.Background(), dirNode, fs.StableAttr{Mode: fuse.S_IFDIR})
}

// FileNode represents a file in the filesystem.
type FileNode struct {
	fs.Inode
	fsys *FileSystem
	path string
	info *types.ObjectInfo
}

// Open opens the file's shared engine.File, creating the cache/stats
// sidecar the first time this path is opened by any handle.
func (f *FileNode) Open(ctx context.Context, flags uint32) (fh fs.FileHandle, fuseFlags uint32, errno syscall.Errno) {
	f.fsys.stats.inc(&f.fsys.stats.Opens)

	if f.fsys.config.ReadOnly && (flags&(syscall.O_WRONLY|syscall.O_RDWR|syscall.O_CREAT|syscall.O_TRUNC) != 0) {
		return nil, 0, syscall.EROFS
	}

	eng, err := f.fsys.acquireEngine(ctx, f.path, f.info.Size)
	if err != nil {
		f.fsys.stats.inc(&f.fsys.stats.Errors)
		f.fsys.logger.Warn("open failed", "path", f.path, "error", err)
		return nil, 0, syscall.EIO
	}

	if flags&syscall.O_TRUNC != 0 {
		if err := eng.Truncate(0); err != nil {
			f.fsys.stats.inc(&f.fsys.stats.Errors)
			return nil, 0, syscall.EIO
		}
	}

	f.fsys.mu.Lock()
	handle := f.fsys.nextHandle
	f.fsys.nextHandle++
	f.fsys.mu.Unlock()

	return &FileHandle{
		fsys:   f.fsys,
		handle: handle,
		path:   f.path,
		engine: eng,
		open:   &OpenFile{path: f.path, flags: flags, lastAccess: time.Now(), accessCount: 1},
	}, 0, 0
}

// Getattr gets file attributes.
func (f *FileNode) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	size := f.info.Size
	if handle, ok := fh.(*FileHandle); ok {
		size = handle.engine.Size()
	}

	out.Mode = f.fsys.config.DefaultMode
	out.Size = safeInt64ToUint64(size)
	out.Uid = f.fsys.config.DefaultUID
	out.Gid = f.fsys.config.DefaultGID

	unixTime := f.info.LastModified.Unix()
	out.Mtime = safeInt64ToUint64(unixTime)
	out.Atime = safeInt64ToUint64(unixTime)
	out.Ctime = safeInt64ToUint64(unixTime)
	return 0
}

// Setattr handles attribute changes, currently just truncation.
func (f *FileNode) Setattr(ctx context.Context, fh fs.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	if f.fsys.config.ReadOnly {
		return syscall.EROFS
	}
	if size, ok := in.GetSize(); ok {
		handle, ok := fh.(*FileHandle)
		if !ok {
			return syscall.EINVAL
		}
		if err := handle.engine.Truncate(int64(size)); err != nil {
			f.fsys.stats.inc(&f.fsys.stats.Errors)
			return syscall.EIO
		}
		f.info.Size = int64(size)
	}
	return f.Getattr(ctx, fh, out)
}

// FileHandle represents an open file handle backed by a shared
// engine.File.
type FileHandle struct {
	fsys   *FileSystem
	handle uint64
	path   string
	engine *engine.File
	open   *OpenFile
}

// Read satisfies the request from the engine, downloading any unloaded
// ranges it covers first.
func (fh *FileHandle) Read(ctx context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	fh.fsys.stats.inc(&fh.fsys.stats.Reads)
	fh.open.lastAccess = time.Now()
	fh.open.accessCount++

	n, err := fh.engine.Read(ctx, dest, off)
	if err != nil {
		fh.fsys.stats.inc(&fh.fsys.stats.Errors)
		fh.fsys.logger.Warn("read failed", "path", fh.path, "offset", off, "error", err)
		return nil, syscall.EIO
	}
	fh.fsys.stats.addBytes(&fh.fsys.stats.BytesRead, int64(n))
	fh.fsys.readAhead.OnRead(fh.path, off, int64(n))

	return fuse.ReadResultData(dest[:n]), 0
}

// Write writes data through the engine, marking the affected range
// loaded-and-modified.
func (fh *FileHandle) Write(ctx context.Context, data []byte, off int64) (uint32, syscall.Errno) {
	if fh.fsys.config.ReadOnly {
		return 0, syscall.EROFS
	}
	fh.fsys.stats.inc(&fh.fsys.stats.Writes)
	fh.open.lastAccess = time.Now()

	n, err := fh.engine.Write(ctx, data, off)
	if err != nil {
		fh.fsys.stats.inc(&fh.fsys.stats.Errors)
		fh.fsys.logger.Warn("write failed", "path", fh.path, "offset", off, "error", err)
		return 0, syscall.EIO
	}
	fh.fsys.stats.addBytes(&fh.fsys.stats.BytesWritten, int64(n))
	return safeIntToUint32(n), 0
}

// Flush commits pending modifications back to the object store through
// the multipart planner.
func (fh *FileHandle) Flush(ctx context.Context) syscall.Errno {
	if err := fh.engine.Flush(ctx); err != nil {
		fh.fsys.stats.inc(&fh.fsys.stats.Errors)
		fh.fsys.logger.Warn("flush failed", "path", fh.path, "error", err)
		return syscall.EIO
	}
	return 0
}

// Release drops this handle's reference to the shared engine.File,
// flushing and closing it once no handle on this path remains open.
func (fh *FileHandle) Release(ctx context.Context) syscall.Errno {
	if err := fh.fsys.releaseEngine(ctx, fh.path); err != nil {
		fh.fsys.stats.inc(&fh.fsys.stats.Errors)
		fh.fsys.logger.Warn("release failed", "path", fh.path, "error", err)
		return syscall.EIO
	}
	return 0
}
