//go:build cgofuse
// +build cgofuse

package fuse

import (
	"context"
)

// CgoFuseMountManager manages cgofuse-based mounts.
type CgoFuseMountManager struct {
	cgofuse *CgoFuseFS
	config  *MountConfig
}

// NewCgoFuseMountManager creates a new cgofuse mount manager wrapping fsys.
func NewCgoFuseMountManager(fsys *FileSystem, config *MountConfig) *CgoFuseMountManager {
	return &CgoFuseMountManager{
		cgofuse: NewCgoFuseFS(fsys),
		config:  config,
	}
}

// Mount mounts the filesystem.
func (m *CgoFuseMountManager) Mount(ctx context.Context) error {
	fuseConfig := defaultConfig()
	fuseConfig.MountPoint = m.config.MountPoint
	if m.config.Options != nil {
		fuseConfig.ReadOnly = m.config.Options.ReadOnly
		fuseConfig.AllowOther = m.config.Options.AllowOther
	}
	return m.cgofuse.Mount(ctx, fuseConfig)
}

// Unmount unmounts the filesystem.
func (m *CgoFuseMountManager) Unmount() error {
	return m.cgofuse.Unmount()
}

// IsMounted returns whether the filesystem is mounted.
func (m *CgoFuseMountManager) IsMounted() bool {
	return m.cgofuse.IsMounted()
}

// GetStats returns filesystem statistics.
func (m *CgoFuseMountManager) GetStats() *FilesystemStats {
	return m.cgofuse.GetStats()
}
