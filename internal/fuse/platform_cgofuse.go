//go:build cgofuse
// +build cgofuse

package fuse

import (
	"context"
	"log/slog"

	"github.com/nimbusfs/nimbusfs/internal/metrics"
	"github.com/nimbusfs/nimbusfs/internal/workerpool"
	"github.com/nimbusfs/nimbusfs/pkg/types"
)

// PlatformFileSystem is the subset of MountManager every platform build
// exposes to callers that don't need the go-fuse/cgofuse-specific types.
type PlatformFileSystem interface {
	Mount(ctx context.Context) error
	Unmount() error
	IsMounted() bool
	GetStats() *FilesystemStats
}

// CreatePlatformMountManager creates the cgofuse-backed mount manager,
// selected under the cgofuse build tag.
func CreatePlatformMountManager(store types.ObjectStore, pool *workerpool.Pool, collector *metrics.Collector,
	logger *slog.Logger, config *MountConfig) PlatformFileSystem {

	fuseConfig := defaultConfig()
	if config.MountPoint != "" {
		fuseConfig.MountPoint = config.MountPoint
	}
	if config.Permissions != nil {
		fuseConfig.DefaultUID = config.Permissions.UID
		fuseConfig.DefaultGID = config.Permissions.GID
		fuseConfig.DefaultMode = config.Permissions.FileMode
	}
	if config.Options != nil {
		fuseConfig.ReadOnly = config.Options.ReadOnly
	}

	filesystem := NewFileSystem(store, pool, collector, logger, fuseConfig)
	return NewCgoFuseMountManager(filesystem, config)
}
