//go:build !windows

package pagestats

import (
	"golang.org/x/sys/unix"

	"github.com/nimbusfs/nimbusfs/internal/pagecache"
	"github.com/nimbusfs/nimbusfs/internal/sparsefile"
)

// ReconcileResult is the outcome of comparing a stored page list against
// the cache file's actual sparse-file layout.
type ReconcileResult struct {
	// OK is false whenever ErrList or WarnList is non-empty, or the sparse
	// probe itself failed.
	OK bool
	// ErrList holds claimed-data ranges that turned out to be holes:
	// corruption, since the page list promised bytes that aren't there.
	ErrList []pagecache.Page
	// WarnList holds claimed-hole ranges that turned out to hold non-zero
	// data: unexpected, but not necessarily corrupt.
	WarnList []pagecache.Page
	// ReadErrors is true if any zero-check read against the cache file
	// failed. Those regions are still added to WarnList, since a read
	// failure gets treated the same as found data, but this flag lets a
	// caller distinguish "we found real unexpected data" from "we
	// couldn't check and assumed the worst".
	ReadErrors bool
}

// CompareSparseFile probes fd's sparse-file layout and compares it against
// stored. It never mutates stored.
func CompareSparseFile(fd int, fileSize int64, stored *pagecache.PageList) (*ReconcileResult, error) {
	sparse, err := sparsefile.GetSparseFilePages(fd, fileSize)
	if err != nil {
		return &ReconcileResult{
			OK:      false,
			ErrList: []pagecache.Page{{Offset: 0, Length: fileSize}},
		}, nil
	}

	result := &ReconcileResult{OK: true}
	storedPages := stored.Pages()
	sparsePages := sparse.Pages()

	i, j := 0, 0
	for i < len(storedPages) && j < len(sparsePages) {
		p := storedPages[i]
		s := sparsePages[j]

		lo, hi := p.Offset, p.End()
		if s.Offset > lo {
			lo = s.Offset
		}
		if s.End() < hi {
			hi = s.End()
		}

		if hi > lo {
			switch {
			case (p.Loaded || p.Modified) && !s.Loaded:
				result.ErrList = append(result.ErrList, pagecache.Page{Offset: lo, Length: hi - lo})
			case !p.Loaded && !p.Modified && s.Loaded:
				nonZero, readErr := regionHasNonZero(fd, lo, hi)
				if readErr {
					result.ReadErrors = true
				}
				if nonZero {
					result.WarnList = append(result.WarnList, pagecache.Page{Offset: lo, Length: hi - lo})
				}
			}
		}

		if p.End() <= s.End() {
			i++
		} else {
			j++
		}
	}

	if len(result.ErrList) > 0 || len(result.WarnList) > 0 {
		result.OK = false
	}
	return result, nil
}

// regionHasNonZero reads [start, end) from fd in 16 KiB chunks looking for
// any non-zero byte. A read failure counts as "non-zero found" per spec,
// but is also reported back via readErr so the caller can tell the two
// apart.
func regionHasNonZero(fd int, start, end int64) (nonZero bool, readErr bool) {
	const chunkSize = 16 * 1024
	buf := make([]byte, chunkSize)

	for pos := start; pos < end; {
		want := chunkSize
		if remaining := end - pos; remaining < int64(want) {
			want = int(remaining)
		}
		n, err := unix.Pread(fd, buf[:want], pos)
		if err != nil {
			return true, true
		}
		if n == 0 {
			return true, true
		}
		for _, b := range buf[:n] {
			if b != 0 {
				return true, false
			}
		}
		pos += int64(n)
	}
	return false, false
}
