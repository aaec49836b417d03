// Package utils holds small helpers shared by the cache and fuse layers
// that don't belong to either one specifically.
package utils

import (
	"fmt"
	"path/filepath"
	"strings"
)

// SanitizeObjectKey turns a remote object key into something safe to use
// as a single path segment under the on-disk cache tree. Object keys come
// from the bucket, not from a trusted local caller, so a key containing
// ".." or a leading slash must not be allowed to walk the joined path
// outside the cache directory before SecureJoin even sees it.
func SanitizeObjectKey(key string) string {
	key = strings.ReplaceAll(key, "\\", "/")
	key = strings.TrimLeft(key, "/")
	segments := strings.Split(key, "/")
	kept := segments[:0]
	for _, seg := range segments {
		if seg == "" || seg == "." || seg == ".." {
			continue
		}
		kept = append(kept, seg)
	}
	return filepath.Join(kept...)
}

// SecureJoin joins elements onto base and rejects the result if it would
// land outside base, the way a malicious object key with an embedded ".."
// could otherwise trick a naive filepath.Join into escaping the cache
// directory.
func SecureJoin(base string, elements ...string) (string, error) {
	if base == "" {
		return "", fmt.Errorf("utils: base path cannot be empty")
	}

	cleanBase := filepath.Clean(base)
	fullPath := filepath.Join(append([]string{cleanBase}, elements...)...)

	if fullPath != cleanBase && !strings.HasPrefix(fullPath, cleanBase+string(filepath.Separator)) {
		return "", fmt.Errorf("utils: path escapes cache directory %s", base)
	}

	return fullPath, nil
}
