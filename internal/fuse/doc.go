/*
Package fuse mounts an object store as a POSIX filesystem.

It translates open/read/write/release calls from the kernel's FUSE driver
into calls on a shared internal/engine.File per object path, which in turn
downloads or uploads byte ranges through the object store and the
multipart planner. The package builds on github.com/hanwen/go-fuse/v2 by
default and on github.com/winfsp/cgofuse under the cgofuse build tag for
platforms without a native FUSE driver.

# Path to object mapping

	File path      -> object key, unchanged
	File content   -> object bytes, paged through internal/engine
	Directory path -> object key prefix
	Empty directory -> zero-byte object with a trailing "/" key

Directory listings come from ListObjects against the path's prefix;
one-level subdirectories are inferred from the first "/" after the
prefix in each returned key.

# Mounting

	filesystem := fuse.NewFileSystem(store, pool, collector, logger, config)
	manager := fuse.NewMountManager(filesystem, mountConfig)
	if err := manager.Mount(ctx); err != nil {
		return err
	}
	defer manager.Unmount()

# Concurrency

Multiple FUSE opens of the same path share one internal/engine.File,
refcounted by FileSystem so that only the last Release triggers a flush
and close. Everything else follows go-fuse's own per-request concurrency;
this package adds no additional serialization beyond what the shared
engine.File already needs for its own PageList.

# Scope

Symbolic links, hard links, extended attributes and device/pipe special
files are not supported; PutObject/HeadObject/DeleteObject/ListObjects
carry no metadata for any of them.
*/
package fuse
