// Package pagestats persists a PageList to an inode-bound sidecar file and
// reconciles it against the cache file's true sparse-file layout.
package pagestats

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/natefinch/atomic"

	"github.com/nimbusfs/nimbusfs/internal/pagecache"
	"github.com/nimbusfs/nimbusfs/pkg/errors"
)

// Stats manages the sidecar stats file for one cache file.
type Stats struct {
	path   string
	logger *slog.Logger
}

// New returns a Stats bound to the sidecar file at path. A nil logger
// falls back to slog.Default().
func New(path string, logger *slog.Logger) *Stats {
	if logger == nil {
		logger = slog.Default()
	}
	return &Stats{path: path, logger: logger}
}

// Serialize writes the page list to the sidecar file, prefixed with the
// inode binding and total size, replacing any previous contents
// atomically so a crash mid-write never leaves a torn file.
func (s *Stats) Serialize(pl *pagecache.PageList, inode uint64) error {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%d:%d\n", inode, pl.Size())
	for _, p := range pl.Pages() {
		fmt.Fprintf(&buf, "%d:%d:%d:%d\n", p.Offset, p.Length, boolBit(p.Loaded), boolBit(p.Modified))
	}

	if err := atomic.WriteFile(s.path, &buf); err != nil {
		wrapped := errors.New(errors.ErrCodeStatsCorrupt, "failed to write stats file").
			WithComponent("pagestats").WithOperation("Serialize").
			WithContext("path", s.path).WithCause(err)
		s.logger.Warn("stats serialize failed", "path", s.path, "error", err)
		return wrapped
	}
	return nil
}

// Deserialize reads the sidecar file and rebuilds a PageList. It accepts
// both the current inode-prefixed header and the legacy size-only header;
// the legacy form skips the inode check. A missing modified field on a
// page line defaults to false. An empty stats file yields an empty,
// zero-size PageList and success. Any structural inconsistency (a
// mismatched inode, a malformed line, or a reconstructed size that
// disagrees with the header) is reported as an error and no partial list
// is returned.
func (s *Stats) Deserialize(inode uint64) (*pagecache.PageList, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		wrapped := errors.New(errors.ErrCodeStatsCorrupt, "failed to read stats file").
			WithComponent("pagestats").WithOperation("Deserialize").
			WithContext("path", s.path).WithCause(err)
		s.logger.Warn("stats deserialize failed", "path", s.path, "error", err)
		return nil, wrapped
	}

	if len(data) == 0 {
		return pagecache.NewPageList(0, false, false), nil
	}

	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	declaredSize, err := s.parseHeader(lines[0], inode)
	if err != nil {
		return nil, err
	}

	pl := pagecache.NewPageList(0, false, false)
	for lineNo, line := range lines[1:] {
		if line == "" {
			continue
		}
		if err := applyPageLine(pl, line); err != nil {
			wrapped := errors.New(errors.ErrCodeStatsCorrupt, "malformed stats line").
				WithComponent("pagestats").WithOperation("Deserialize").
				WithContext("path", s.path).WithContext("line", strconv.Itoa(lineNo+2)).WithCause(err)
			s.logger.Warn("stats deserialize failed", "path", s.path, "line", lineNo+2, "error", err)
			return nil, wrapped
		}
	}

	if pl.Size() != declaredSize {
		wrapped := errors.New(errors.ErrCodeStatsCorrupt, "reconstructed size disagrees with header").
			WithComponent("pagestats").WithOperation("Deserialize").
			WithContext("path", s.path).
			WithContext("declared", strconv.FormatInt(declaredSize, 10)).
			WithContext("reconstructed", strconv.FormatInt(pl.Size(), 10))
		s.logger.Warn("stats deserialize size mismatch", "path", s.path, "declared", declaredSize, "reconstructed", pl.Size())
		return nil, wrapped
	}

	return pl, nil
}

// parseHeader accepts "<inode>:<size>" (current) or "<size>" (legacy).
func (s *Stats) parseHeader(header string, inode uint64) (int64, error) {
	fields := strings.Split(header, ":")
	switch len(fields) {
	case 1:
		size, err := strconv.ParseInt(fields[0], 10, 64)
		if err != nil {
			return 0, errors.New(errors.ErrCodeStatsCorrupt, "invalid legacy header").WithCause(err)
		}
		return size, nil
	case 2:
		fileInode, err := strconv.ParseUint(fields[0], 10, 64)
		if err != nil {
			return 0, errors.New(errors.ErrCodeStatsCorrupt, "invalid header inode field").WithCause(err)
		}
		if fileInode != inode {
			return 0, errors.New(errors.ErrCodeInodeMismatch, "stats file bound to a different inode").
				WithContext("expected", strconv.FormatUint(inode, 10)).
				WithContext("found", strconv.FormatUint(fileInode, 10))
		}
		size, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return 0, errors.New(errors.ErrCodeStatsCorrupt, "invalid header size field").WithCause(err)
		}
		return size, nil
	default:
		return 0, errors.New(errors.ErrCodeStatsCorrupt, "unrecognized header format")
	}
}

func applyPageLine(pl *pagecache.PageList, line string) error {
	fields := strings.Split(line, ":")
	if len(fields) != 3 && len(fields) != 4 {
		return fmt.Errorf("expected 3 or 4 fields, got %d", len(fields))
	}

	offset, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return fmt.Errorf("offset: %w", err)
	}
	length, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return fmt.Errorf("length: %w", err)
	}
	loaded := fields[2] == "1"
	modified := false
	if len(fields) == 4 {
		modified = fields[3] == "1"
	}

	pl.SetPageLoadedStatus(offset, length, pagecache.StatusFromFlags(loaded, modified), true)
	return nil
}

func boolBit(b bool) int {
	if b {
		return 1
	}
	return 0
}
