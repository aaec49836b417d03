// Package types holds the shared data structures and the ObjectStore
// collaborator interface that internal/storage/s3 implements and
// internal/engine and internal/fuse depend on.
package types
