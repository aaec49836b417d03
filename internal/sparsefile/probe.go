//go:build !windows

// Package sparsefile derives a PageList from a cache file's physical
// allocation on disk, using SEEK_HOLE/SEEK_DATA. The Go standard library
// has no portable equivalent, so this reaches directly into
// golang.org/x/sys/unix.
package sparsefile

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/nimbusfs/nimbusfs/internal/pagecache"
)

// GetSparseFilePages probes the open file descriptor fd, whose logical
// size is fileSize, and returns the gap-free page list implied by its
// hole/data map: loaded is true for data segments, false for holes;
// modified is always false, since this reflects only physical allocation.
//
// If fileSize is 0 the result is an empty list. If the filesystem doesn't
// implement SEEK_HOLE/SEEK_DATA at all, the whole file is reported as one
// loaded segment rather than failing, so reconciliation against a
// filesystem with no hole support never spuriously warns.
func GetSparseFilePages(fd int, fileSize int64) (*pagecache.PageList, error) {
	if fileSize == 0 {
		return pagecache.NewPageList(0, false, false), nil
	}

	isData, unsupported, err := probeInitialType(fd)
	if err != nil {
		return nil, fmt.Errorf("sparsefile: initial probe at fd %d: %w", fd, err)
	}
	if unsupported {
		return pagecache.NewPageList(fileSize, true, false), nil
	}

	pl := pagecache.NewPageList(fileSize, false, false)
	pos := int64(0)
	for pos < fileSize {
		next, err := seekNextTransition(fd, pos, isData)
		if err != nil {
			return nil, fmt.Errorf("sparsefile: seek from %d: %w", pos, err)
		}
		if next > fileSize || next < pos {
			next = fileSize
		}
		if isData && next > pos {
			pl.SetPageLoadedStatus(pos, next-pos, pagecache.Loaded, false)
		}
		pos = next
		isData = !isData
	}
	pl.Compress()
	return pl, nil
}

// seekNextTransition seeks from pos to the next hole (if isData) or the
// next data run (if !isData). ENXIO ("nothing more of that kind") is not
// an error here; it means the rest of the file to EOF is the other kind.
func seekNextTransition(fd int, pos int64, isData bool) (int64, error) {
	whence := unix.SEEK_DATA
	if isData {
		whence = unix.SEEK_HOLE
	}

	next, err := unix.Seek(fd, pos, whence)
	if err == nil {
		return next, nil
	}
	if errors.Is(err, unix.ENXIO) {
		off, sizeErr := unix.Seek(fd, 0, unix.SEEK_END)
		if sizeErr != nil {
			return 0, sizeErr
		}
		return off, nil
	}
	return 0, err
}

// probeInitialType determines whether byte 0 is inside a data run or a
// hole, per spec 4.2: seek to the first hole and the first data run from
// offset 0, and let the smaller of the two positions win. If SEEK_DATA
// finds nothing, the file starts with a hole. If neither call is
// implemented by the filesystem, unsupported is true.
func probeInitialType(fd int) (isData bool, unsupported bool, err error) {
	dataPos, dataErr := unix.Seek(fd, 0, unix.SEEK_DATA)
	holePos, holeErr := unix.Seek(fd, 0, unix.SEEK_HOLE)

	if dataErr == nil && holeErr == nil {
		return dataPos <= holePos, false, nil
	}

	if isUnsupportedErr(dataErr) && isUnsupportedErr(holeErr) {
		return true, true, nil
	}

	dataExhausted := dataErr != nil && errors.Is(dataErr, unix.ENXIO)
	if dataExhausted && holeErr == nil {
		// No data anywhere from offset 0: the file starts with a hole.
		return false, false, nil
	}

	if holeErr != nil && !isUnsupportedErr(holeErr) {
		return false, false, holeErr
	}
	if dataErr != nil && !dataExhausted && !isUnsupportedErr(dataErr) {
		return false, false, dataErr
	}
	return dataErr == nil, false, nil
}

func isUnsupportedErr(err error) bool {
	return errors.Is(err, unix.EINVAL) || errors.Is(err, unix.EOPNOTSUPP) || errors.Is(err, unix.ENOTSUP)
}
