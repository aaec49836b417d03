package pagecache

// PageList is an ordered, non-overlapping, gap-free partition of [0, size)
// into Pages, plus a shrunk flag recording whether a truncation has
// happened that a future commit still needs to reflect upstream.
//
// PageList is not safe for concurrent use. Callers (the filesystem
// adapter, in the full system) are responsible for serializing access to
// one PageList per open file.
type PageList struct {
	pages  []Page
	shrunk bool
}

// NewPageList returns an initialized PageList of the given logical size.
func NewPageList(size int64, loaded, modified bool) *PageList {
	pl := &PageList{}
	pl.Init(size, loaded, modified)
	return pl
}

// Init replaces the list's state with a single page (0, size, loaded,
// modified), or an empty list if size is negative. Clears shrunk.
func (pl *PageList) Init(size int64, loaded, modified bool) {
	pl.shrunk = false
	if size < 0 {
		pl.pages = nil
		return
	}
	pl.pages = []Page{{Offset: 0, Length: size, Loaded: loaded, Modified: modified}}
}

// Size returns the logical size of the file this list describes.
func (pl *PageList) Size() int64 {
	if len(pl.pages) == 0 {
		return 0
	}
	last := pl.pages[len(pl.pages)-1]
	return last.End()
}

// Pages returns the list's pages. The returned slice must not be mutated;
// callers that need to inspect pages should copy what they need.
func (pl *PageList) Pages() []Page {
	return pl.pages
}

// IsShrunk reports whether a truncation has occurred that a future commit
// still needs to propagate upstream.
func (pl *PageList) IsShrunk() bool {
	return pl.shrunk
}

// SetShrunk sets the shrunk flag directly, used when reconstructing a list
// from a state that already carries the bit (there is currently no such
// caller, but stats persistence keeps the accessor for symmetry with
// ClearAllModified's explicit reset).
func (pl *PageList) SetShrunk(shrunk bool) {
	pl.shrunk = shrunk
}

// Resize grows or shrinks the logical size.
//
// Growing appends a single page covering the new bytes with the given
// flags. Shrinking drops pages wholly past the new size and shortens any
// page straddling it; if modified is true the shrink is recorded via the
// shrunk flag, since the truncated bytes can no longer be expressed as a
// modified page. A zero current size behaves like Init but preserves
// shrunk.
func (pl *PageList) Resize(size int64, loaded, modified bool) {
	current := pl.Size()
	switch {
	case current == 0:
		shrunk := pl.shrunk
		pl.Init(size, loaded, modified)
		pl.shrunk = shrunk
	case size > current:
		pl.pages = append(pl.pages, Page{Offset: current, Length: size - current, Loaded: loaded, Modified: modified})
	case size < current:
		pl.truncate(size)
		if modified {
			pl.shrunk = true
		}
	}
	pl.Compress()
}

func (pl *PageList) truncate(size int64) {
	kept := make([]Page, 0, len(pl.pages))
	for _, p := range pl.pages {
		if p.Offset >= size {
			break
		}
		if p.End() > size {
			p.Length = size - p.Offset
		}
		kept = append(kept, p)
	}
	if len(kept) == 0 {
		kept = []Page{{Offset: 0, Length: 0}}
	}
	pl.pages = kept
}

// Parse splits the page containing pos into two adjacent pages with
// identical flags. It is a no-op returning true if pos already falls on a
// page boundary (including the boundary at end-of-list). It returns false
// when pos is negative or lies beyond end-of-list.
func (pl *PageList) Parse(pos int64) bool {
	if pos < 0 {
		return false
	}
	for i, p := range pl.pages {
		if pos == p.Offset {
			return true
		}
		if pos > p.Offset && pos < p.End() {
			first := Page{Offset: p.Offset, Length: pos - p.Offset, Loaded: p.Loaded, Modified: p.Modified}
			second := Page{Offset: pos, Length: p.End() - pos, Loaded: p.Loaded, Modified: p.Modified}
			tail := append([]Page{first, second}, pl.pages[i+1:]...)
			pl.pages = append(append([]Page{}, pl.pages[:i]...), tail...)
			return true
		}
	}
	return pos == pl.Size()
}

// Compress merges adjacent pages whose (loaded, modified) flags are equal,
// and fills any internal gap left by external misuse with a
// (false, false) page. A single zero-length page is left alone. Compress
// is idempotent.
func (pl *PageList) Compress() {
	if len(pl.pages) <= 1 {
		return
	}

	merged := make([]Page, 0, len(pl.pages))
	expected := int64(0)
	for _, p := range pl.pages {
		if p.Offset > expected {
			merged = appendOrMerge(merged, Page{Offset: expected, Length: p.Offset - expected})
		}
		merged = appendOrMerge(merged, p)
		expected = p.End()
	}
	pl.pages = merged
}

func appendOrMerge(pages []Page, p Page) []Page {
	if n := len(pages); n > 0 {
		last := &pages[n-1]
		if last.End() == p.Offset && last.Loaded == p.Loaded && last.Modified == p.Modified {
			last.Length += p.Length
			return pages
		}
	}
	return append(pages, p)
}

// SetPageLoadedStatus sets the (loaded, modified) flags implied by status
// across [start, start+length). If the range extends past the current
// size, the list is grown first: the prefix between the old end and start
// becomes (false, false), and only [start, start+length) receives status's
// flags.
func (pl *PageList) SetPageLoadedStatus(start, length int64, status LoadStatus, compress bool) {
	loaded, modified := status.flags()
	end := start + length
	current := pl.Size()

	if end > current {
		if start > current {
			pl.Resize(start, false, false)
		}
		pl.Resize(end, loaded, modified)
	}

	pl.Parse(start)
	pl.Parse(end)
	for i := range pl.pages {
		p := &pl.pages[i]
		if p.Offset >= start && p.End() <= end {
			p.Loaded = loaded
			p.Modified = modified
		}
	}

	if compress {
		pl.Compress()
	}
}

// IsPageLoaded reports whether every page intersecting [start, start+length)
// has loaded=true. length=0 means "to end of list".
func (pl *PageList) IsPageLoaded(start, length int64) bool {
	end := pl.rangeEnd(start, length)
	for _, p := range pl.pages {
		if p.End() <= start {
			continue
		}
		if p.Offset >= end {
			break
		}
		if !p.Loaded {
			return false
		}
	}
	return true
}

// FindUnloadedPage returns the first page intersecting [from, Size()) with
// loaded=false and modified=false.
func (pl *PageList) FindUnloadedPage(from int64) (Page, bool) {
	for _, p := range pl.pages {
		if p.End() <= from {
			continue
		}
		if !p.Loaded && !p.Modified {
			return p, true
		}
	}
	return Page{}, false
}

// GetTotalUnloadedPageSize sums the intersection lengths of every
// unloaded-and-unmodified page in [start, start+length). If limit > 0,
// pages whose own full length is >= limit are excluded from the sum, so
// callers can ask "how many bytes of small gaps would a read pull in"
// without counting a hole so large it isn't worth speculative loading.
// length=0 means "to end of list".
func (pl *PageList) GetTotalUnloadedPageSize(start, length, limit int64) int64 {
	end := pl.rangeEnd(start, length)
	var total int64
	for _, p := range pl.pages {
		if p.End() <= start {
			continue
		}
		if p.Offset >= end {
			break
		}
		if p.Loaded || p.Modified {
			continue
		}
		if limit > 0 && p.Length >= limit {
			continue
		}
		lo, hi := clampRange(p.Offset, p.End(), start, end)
		if hi > lo {
			total += hi - lo
		}
	}
	return total
}

// GetUnloadedPages returns the unloaded-and-unmodified pages intersecting
// [start, start+length), clipped to the range, with adjacent results
// merged. length=0 means "to end of list".
func (pl *PageList) GetUnloadedPages(start, length int64) []Page {
	end := pl.rangeEnd(start, length)
	var out []Page
	for _, p := range pl.pages {
		if p.End() <= start {
			continue
		}
		if p.Offset >= end {
			break
		}
		if p.Loaded || p.Modified {
			continue
		}
		lo, hi := clampRange(p.Offset, p.End(), start, end)
		if hi <= lo {
			continue
		}
		out = appendOrMergePlain(out, Page{Offset: lo, Length: hi - lo})
	}
	return out
}

func appendOrMergePlain(pages []Page, p Page) []Page {
	if n := len(pages); n > 0 && pages[n-1].End() == p.Offset {
		pages[n-1].Length += p.Length
		return pages
	}
	return append(pages, p)
}

// BytesModified returns the total length of pages with modified=true.
func (pl *PageList) BytesModified() int64 {
	var total int64
	for _, p := range pl.pages {
		if p.Modified {
			total += p.Length
		}
	}
	return total
}

// IsModified reports whether any page is modified, or the list is shrunk.
func (pl *PageList) IsModified() bool {
	if pl.shrunk {
		return true
	}
	for _, p := range pl.pages {
		if p.Modified {
			return true
		}
	}
	return false
}

// ClearAllModified clears every page's modified flag and the shrunk flag,
// then compresses.
func (pl *PageList) ClearAllModified() {
	for i := range pl.pages {
		pl.pages[i].Modified = false
	}
	pl.shrunk = false
	pl.Compress()
}

func (pl *PageList) rangeEnd(start, length int64) int64 {
	if length == 0 {
		return pl.Size()
	}
	return start + length
}

func clampRange(pStart, pEnd, start, end int64) (int64, int64) {
	lo, hi := pStart, pEnd
	if lo < start {
		lo = start
	}
	if hi > end {
		hi = end
	}
	return lo, hi
}
