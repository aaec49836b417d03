package fuse

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
)

// FilesystemStats mirrors FileSystem's own counters, exposed through
// MountManager so a caller only needs one type to watch.
type FilesystemStats struct {
	Lookups      int64 `json:"lookups"`
	Opens        int64 `json:"opens"`
	Reads        int64 `json:"reads"`
	Writes       int64 `json:"writes"`
	BytesRead    int64 `json:"bytes_read"`
	BytesWritten int64 `json:"bytes_written"`
	Errors       int64 `json:"errors"`
}

// MountManager owns the go-fuse server lifecycle for one FileSystem:
// mounting, unmounting, and remounting with a new MountConfig.
type MountManager struct {
	filesystem *FileSystem
	server     *fuse.Server
	config     *MountConfig
	logger     *slog.Logger
	mounted    bool
}

// MountConfig contains mount-specific configuration
type MountConfig struct {
	MountPoint  string        `yaml:"mount_point"`
	Options     *MountOptions `yaml:"options"`
	Permissions *Permissions  `yaml:"permissions"`
}

// MountOptions contains FUSE mount options. Most of these map onto libfuse
// mount option strings (see mount.fuse(8)) rather than fields go-fuse's own
// fuse.MountOptions exposes directly, so buildFUSEOptions appends them to
// opts.Options instead of setting a struct field.
type MountOptions struct {
	ReadOnly     bool
	AllowOther   bool
	AllowRoot    bool
	DefaultPerms bool

	DirectIO  bool
	KeepCache bool
	BigWrites bool
	MaxRead   uint32
	MaxWrite  uint32

	Debug        bool
	FSName       string
	Subtype      string
	AttrTimeout  time.Duration
	EntryTimeout time.Duration

	AsyncRead      bool
	WritebackCache bool
	SpliceRead     bool
	SpliceWrite    bool
	SpliceMove     bool
}

// Permissions contains permission settings
type Permissions struct {
	UID      uint32
	GID      uint32
	FileMode uint32
	DirMode  uint32
}

// NewMountManager creates a new mount manager
func NewMountManager(filesystem *FileSystem, config *MountConfig) *MountManager {
	if config == nil {
		config = &MountConfig{
			Options: &MountOptions{
				MaxRead:      128 * 1024,
				MaxWrite:     128 * 1024,
				AttrTimeout:  time.Second,
				EntryTimeout: time.Second,
				FSName:       "nimbusfs",
				Subtype:      "objectstore",
			},
			Permissions: &Permissions{
				UID:      safeIntToUint32(os.Getuid()),
				GID:      safeIntToUint32(os.Getgid()),
				FileMode: 0644,
				DirMode:  0755,
			},
		}
	}

	return &MountManager{
		filesystem: filesystem,
		config:     config,
		logger:     slog.Default(),
	}
}

// Mount mounts the filesystem at the specified mount point
func (m *MountManager) Mount(ctx context.Context) error {
	if m.mounted {
		return fmt.Errorf("filesystem is already mounted")
	}

	if err := m.validateMountPoint(); err != nil {
		return fmt.Errorf("invalid mount point: %w", err)
	}

	opts := m.buildFUSEOptions()

	server, err := fs.Mount(m.config.MountPoint, m.filesystem.Root(), opts)
	if err != nil {
		return fmt.Errorf("failed to mount filesystem: %w", err)
	}

	m.server = server
	m.mounted = true

	m.logger.Info("filesystem mounted", "mount_point", m.config.MountPoint, "fsname", m.config.Options.FSName)

	go func() {
		m.logger.Info("starting fuse server", "mount_point", m.config.MountPoint)
		m.server.Wait()
		m.logger.Info("fuse server stopped", "mount_point", m.config.MountPoint)
		m.mounted = false
	}()

	return nil
}

// Unmount unmounts the filesystem
func (m *MountManager) Unmount() error {
	if !m.mounted {
		return fmt.Errorf("filesystem is not mounted")
	}
	if m.server == nil {
		return fmt.Errorf("no active server to unmount")
	}

	m.logger.Info("unmounting filesystem", "mount_point", m.config.MountPoint)

	if err := m.server.Unmount(); err != nil {
		m.logger.Warn("normal unmount failed, trying force unmount", "error", err)
		if forceErr := m.forceUnmount(); forceErr != nil {
			return fmt.Errorf("unmount failed: %w (force unmount also failed: %v)", err, forceErr)
		}
	}

	m.mounted = false
	m.server = nil
	m.filesystem.Shutdown()

	m.logger.Info("filesystem unmounted", "mount_point", m.config.MountPoint)
	return nil
}

func (m *MountManager) IsMounted() bool { return m.mounted }

func (m *MountManager) GetMountPoint() string { return m.config.MountPoint }

// Wait blocks until the mount's server loop exits.
func (m *MountManager) Wait() {
	if m.server != nil {
		m.server.Wait()
	}
}

// GetStats returns filesystem statistics
func (m *MountManager) GetStats() *FilesystemStats {
	if m.filesystem == nil {
		return &FilesystemStats{}
	}
	stats := m.filesystem.GetStats()
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

// Remount unmounts (if currently mounted), swaps in newConfig, and
// remounts only if the filesystem was mounted beforehand.
func (m *MountManager) Remount(newConfig *MountConfig) error {
	wasMounted := m.mounted

	if m.mounted {
		if err := m.Unmount(); err != nil {
			return fmt.Errorf("failed to unmount for remount: %w", err)
		}
	}

	if newConfig != nil {
		m.config = newConfig
	}

	if wasMounted {
		return m.Mount(context.Background())
	}
	return nil
}

func (m *MountManager) validateMountPoint() error {
	if m.config.MountPoint == "" {
		return fmt.Errorf("mount point cannot be empty")
	}

	info, err := os.Stat(m.config.MountPoint)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("mount point does not exist: %s", m.config.MountPoint)
		}
		return fmt.Errorf("cannot access mount point: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("mount point is not a directory: %s", m.config.MountPoint)
	}

	entries, err := os.ReadDir(m.config.MountPoint)
	if err != nil {
		return fmt.Errorf("cannot read mount point directory: %w", err)
	}
	if len(entries) > 0 {
		m.logger.Warn("mount point is not empty", "mount_point", m.config.MountPoint)
	}

	if isMounted(m.config.MountPoint) {
		return fmt.Errorf("mount point %s is already mounted", m.config.MountPoint)
	}
	return nil
}

// buildFUSEOptions translates MountOptions into a *fs.Options, sending
// anything with no direct go-fuse field through as a raw libfuse mount
// option string.
func (m *MountManager) buildFUSEOptions() *fs.Options {
	o := m.config.Options
	opts := &fs.Options{
		MountOptions: fuse.MountOptions{
			Name:        o.FSName,
			FsName:      o.FSName,
			DirectMount: true,
			Debug:       o.Debug,
			AllowOther:  o.AllowOther,
			MaxWrite:    int(o.MaxWrite),
		},
		AttrTimeout:     &o.AttrTimeout,
		EntryTimeout:    &o.EntryTimeout,
		NullPermissions: !o.DefaultPerms,
	}

	rawOpts := map[string]bool{
		"ro":              o.ReadOnly,
		"allow_root":      o.AllowRoot,
		"direct_io":       o.DirectIO,
		"kernel_cache":    o.KeepCache,
		"big_writes":      o.BigWrites,
		"async_read":      o.AsyncRead,
		"writeback_cache": o.WritebackCache,
		"splice_read":     o.SpliceRead,
		"splice_write":    o.SpliceWrite,
		"splice_move":     o.SpliceMove,
	}
	for opt, enabled := range rawOpts {
		if enabled {
			opts.Options = append(opts.Options, opt)
		}
	}

	if o.MaxRead > 0 {
		opts.Options = append(opts.Options, fmt.Sprintf("max_read=%d", o.MaxRead))
	}
	if o.FSName != "" {
		opts.Options = append(opts.Options, fmt.Sprintf("fsname=%s", o.FSName))
	}
	if o.Subtype != "" {
		opts.Options = append(opts.Options, fmt.Sprintf("subtype=%s", o.Subtype))
	}

	return opts
}

// isMounted reports whether mountPoint appears as a mount target in
// /proc/mounts. Each line is "device mountpoint fstype options dump
// pass"; matching on the second field avoids false positives from a
// mount point that's merely a substring of another entry.
func isMounted(mountPoint string) bool {
	f, err := os.Open("/proc/mounts")
	if err != nil {
		return false
	}
	defer f.Close()

	target := filepath.Clean(mountPoint)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) >= 2 && filepath.Clean(fields[1]) == target {
			return true
		}
	}
	return false
}

func (m *MountManager) forceUnmount() error {
	if err := syscall.Unmount(m.config.MountPoint, 2); err == nil { // MNT_DETACH: lazy
		return nil
	}
	return syscall.Unmount(m.config.MountPoint, 1) // MNT_FORCE
}

// MountWatcher periodically checks that a mount's actual kernel-visible
// state (per /proc/mounts) still agrees with MountManager's own bookkeeping,
// logging a warning the moment they drift apart (e.g. the kernel dropped
// the mount out from under a still-running server after a crash upstream).
type MountWatcher struct {
	manager  *MountManager
	interval time.Duration
	stopCh   chan struct{}
	stopped  chan struct{}
}

func NewMountWatcher(manager *MountManager, interval time.Duration) *MountWatcher {
	if interval == 0 {
		interval = 30 * time.Second
	}
	return &MountWatcher{
		manager:  manager,
		interval: interval,
		stopCh:   make(chan struct{}),
		stopped:  make(chan struct{}),
	}
}

func (w *MountWatcher) Start() { go w.run() }

func (w *MountWatcher) Stop() {
	close(w.stopCh)
	<-w.stopped
}

func (w *MountWatcher) run() {
	defer close(w.stopped)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.checkMount()
		}
	}
}

func (w *MountWatcher) checkMount() {
	expected := w.manager.IsMounted()
	actual := isMounted(w.manager.GetMountPoint())

	if expected == actual {
		return
	}
	if expected {
		w.manager.logger.Warn("filesystem should be mounted but appears unmounted", "mount_point", w.manager.GetMountPoint())
	} else {
		w.manager.logger.Warn("filesystem should be unmounted but appears mounted", "mount_point", w.manager.GetMountPoint())
	}
}
