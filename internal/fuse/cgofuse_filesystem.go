//go:build cgofuse
// +build cgofuse

package fuse

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/winfsp/cgofuse/fuse"
)

// CgoFuseFS mounts a FileSystem through winfsp/cgofuse, for platforms
// without a native FUSE driver. It reuses FileSystem's store, worker pool
// and per-path engine.File refcounting; only the wire format between the
// kernel and this process differs from the default go-fuse build.
type CgoFuseFS struct {
	fuse.FileSystemBase

	fsys *FileSystem

	mu      sync.RWMutex
	handles map[uint64]string
	nextH   uint64
	host    *fuse.FileSystemHost
	mounted bool
}

// NewCgoFuseFS wraps fsys for a cgofuse mount.
func NewCgoFuseFS(fsys *FileSystem) *CgoFuseFS {
	return &CgoFuseFS{
		fsys:    fsys,
		handles: make(map[uint64]string),
		nextH:   1,
	}
}

// Mount mounts the filesystem at cfg.MountPoint.
func (cf *CgoFuseFS) Mount(ctx context.Context, cfg *Config) error {
	cf.mu.Lock()
	defer cf.mu.Unlock()

	if cf.mounted {
		return fmt.Errorf("filesystem already mounted")
	}

	cf.host = fuse.NewFileSystemHost(cf)

	options := []string{
		"-o", "fsname=nimbusfs",
		"-o", "subtype=objectstore",
	}
	if cfg.AllowOther {
		options = append(options, "-o", "allow_other")
	}
	switch os.Getenv("GOOS") {
	case "darwin":
		options = append(options, "-o", "volname=nimbusfs")
	case "windows":
		options = append(options, "-o", "FileSystemName=nimbusfs")
	}

	go func() {
		if ret := cf.host.Mount(cfg.MountPoint, options); ret != 0 {
			cf.fsys.logger.Error("cgofuse mount failed", "code", ret)
		}
	}()

	time.Sleep(100 * time.Millisecond)
	cf.mounted = true
	cf.fsys.logger.Info("filesystem mounted", "mount_point", cfg.MountPoint)
	return nil
}

// Unmount unmounts the filesystem.
func (cf *CgoFuseFS) Unmount() error {
	cf.mu.Lock()
	defer cf.mu.Unlock()

	if !cf.mounted {
		return fmt.Errorf("filesystem not mounted")
	}
	if cf.host != nil {
		if ret := cf.host.Unmount(); ret != 0 {
			return fmt.Errorf("unmount failed with code: %d", ret)
		}
	}
	cf.mounted = false
	return nil
}

// IsMounted reports whether the filesystem is currently mounted.
func (cf *CgoFuseFS) IsMounted() bool {
	cf.mu.RLock()
	defer cf.mu.RUnlock()
	return cf.mounted
}

// GetStats returns the underlying FileSystem's operation counters.
func (cf *CgoFuseFS) GetStats() *FilesystemStats {
	stats := cf.fsys.GetStats()
	return &FilesystemStats{
		Lookups:      stats.Lookups,
		Opens:        stats.Opens,
		Reads:        stats.Reads,
		Writes:       stats.Writes,
		BytesRead:    stats.BytesRead,
		BytesWritten: stats.BytesWritten,
		Errors:       stats.Errors,
	}
}

func keyFromPath(path string) string {
	return strings.TrimPrefix(path, "/")
}

// Getattr gets file attributes for path.
func (cf *CgoFuseFS) Getattr(path string, stat *fuse.Stat_t, fh uint64) int {
	if path == "/" {
		stat.Mode = fuse.S_IFDIR | 0755
		stat.Nlink = 2
		return 0
	}

	key := keyFromPath(path)
	ctx := context.Background()

	info, err := cf.fsys.store.HeadObject(ctx, key)
	if err == nil {
		stat.Mode = fuse.S_IFREG | cf.fsys.config.DefaultMode
		stat.Size = info.Size
		stat.Nlink = 1
		stat.Mtim.Sec = info.LastModified.Unix()
		return 0
	}

	objects, listErr := cf.fsys.store.ListObjects(ctx, key+"/", 1)
	if listErr == nil && len(objects) > 0 {
		stat.Mode = fuse.S_IFDIR | 0755
		stat.Nlink = 2
		return 0
	}
	return -fuse.ENOENT
}

// Open opens path, acquiring or joining its shared engine.File.
func (cf *CgoFuseFS) Open(path string, flags int) (int, uint64) {
	key := keyFromPath(path)
	ctx := context.Background()

	info, err := cf.fsys.store.HeadObject(ctx, key)
	remoteSize := int64(0)
	if err == nil {
		remoteSize = info.Size
	}

	if _, err := cf.fsys.acquireEngine(ctx, key, remoteSize); err != nil {
		cf.fsys.logger.Warn("cgofuse open failed", "path", path, "error", err)
		return -fuse.EIO, 0
	}

	cf.mu.Lock()
	handle := cf.nextH
	cf.nextH++
	cf.handles[handle] = key
	cf.mu.Unlock()

	return 0, handle
}

// Read reads from the file at fh's offset.
func (cf *CgoFuseFS) Read(path string, buff []byte, ofst int64, fh uint64) int {
	cf.mu.RLock()
	key := cf.handles[fh]
	cf.mu.RUnlock()

	eng := cf.fsys.engineFor(key)
	if eng == nil {
		return -fuse.EIO
	}

	n, err := eng.Read(context.Background(), buff, ofst)
	if err != nil {
		return -fuse.EIO
	}
	return n
}

// Write writes to the file at fh's offset.
func (cf *CgoFuseFS) Write(path string, buff []byte, ofst int64, fh uint64) int {
	if cf.fsys.config.ReadOnly {
		return -fuse.EROFS
	}

	cf.mu.RLock()
	key := cf.handles[fh]
	cf.mu.RUnlock()

	eng := cf.fsys.engineFor(key)
	if eng == nil {
		return -fuse.EIO
	}

	n, err := eng.Write(context.Background(), buff, ofst)
	if err != nil {
		return -fuse.EIO
	}
	return n
}

// Release drops fh's reference to its path's shared engine.File.
func (cf *CgoFuseFS) Release(path string, fh uint64) int {
	cf.mu.Lock()
	key, ok := cf.handles[fh]
	delete(cf.handles, fh)
	cf.mu.Unlock()

	if !ok {
		return 0
	}
	if err := cf.fsys.releaseEngine(context.Background(), key); err != nil {
		return -fuse.EIO
	}
	return 0
}

// Readdir lists the directory at path.
func (cf *CgoFuseFS) Readdir(path string, fill func(name string, stat *fuse.Stat_t, ofst int64) bool, ofst int64, fh uint64) int {
	fill(".", nil, 0)
	fill("..", nil, 0)

	prefix := keyFromPath(path)
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	objects, err := cf.fsys.store.ListObjects(context.Background(), prefix, 1000)
	if err != nil {
		return -fuse.EIO
	}

	seen := make(map[string]bool)
	for _, obj := range objects {
		relative := strings.TrimPrefix(obj.Key, prefix)
		if relative == "" {
			continue
		}
		parts := strings.SplitN(relative, "/", 2)
		name := parts[0]
		if seen[name] {
			continue
		}
		seen[name] = true

		stat := &fuse.Stat_t{}
		if len(parts) > 1 {
			stat.Mode = fuse.S_IFDIR | 0755
			stat.Nlink = 2
		} else {
			stat.Mode = fuse.S_IFREG | 0644
			stat.Size = obj.Size
			stat.Nlink = 1
		}
		if !fill(name, stat, 0) {
			break
		}
	}
	return 0
}
