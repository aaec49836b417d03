// Package multipart turns a page list into the download and upload-part
// plan needed to commit a locally-modified cache file back to the object
// store as a multi-part upload.
package multipart

import (
	"github.com/nimbusfs/nimbusfs/internal/pagecache"
)

// PartKind tags one entry of a mixupload plan.
type PartKind int

const (
	// PartCopy re-uses bytes already present in the remote object; no
	// local data is needed.
	PartCopy PartKind = iota
	// PartPut uploads local bytes and therefore requires the range to
	// have been downloaded first if it wasn't already loaded.
	PartPut
)

// Part is one entry of a mixupload plan: a byte range tagged with how it
// gets delivered to the object store.
type Part struct {
	Offset int64
	Length int64
	Kind   PartKind
}

func (p Part) End() int64 { return p.Offset + p.Length }

// Plan is the result of planning a multi-part upload: the ranges to
// download before uploading, and the ordered upload parts. Concatenated
// in order, DownloadPages and MixuploadParts each independently cover the
// spans they're responsible for; MixuploadParts alone covers [0, Size()).
type Plan struct {
	DownloadPages  []pagecache.Page
	MixuploadParts []Part
}

// Compute computes the multi-part upload plan for pl given the object
// store's minimum part size and the configured maximum part size. min
// must be positive and max must be at least 2*min.
func Compute(pl *pagecache.PageList, min, max int64) *Plan {
	if pl.Size() == 0 {
		return &Plan{}
	}

	pl.Compress()
	modified := deriveModifiedPages(pl)

	downloadPages, mixuploadPages := walkModifiedPages(modified, min)

	downloadPages = compressPages(downloadPages, func(a, b pagecache.Page) bool { return true })
	mixuploadPages = compressPages(mixuploadPages, func(a, b pagecache.Page) bool { return a.Modified == b.Modified })

	return &Plan{
		DownloadPages:  parseByMaxPartsize(downloadPages, max),
		MixuploadParts: toParts(parseByMaxPartsize(mixuploadPages, max)),
	}
}

// deriveModifiedPages compresses pl ignoring the loaded flag: adjacent
// pages merge whenever their modified flags agree, regardless of loaded.
func deriveModifiedPages(pl *pagecache.PageList) []pagecache.Page {
	src := pl.Pages()
	if len(src) == 0 {
		return nil
	}
	out := make([]pagecache.Page, 0, len(src))
	cur := pagecache.Page{Offset: src[0].Offset, Length: src[0].Length, Modified: src[0].Modified}
	for _, p := range src[1:] {
		if p.Modified == cur.Modified {
			cur.Length += p.Length
			continue
		}
		out = append(out, cur)
		cur = pagecache.Page{Offset: p.Offset, Length: p.Length, Modified: p.Modified}
	}
	out = append(out, cur)
	return out
}

// walkModifiedPages runs the left-to-right accumulation pass of the
// planner over modified, per spec 4.5 step 3-4.
func walkModifiedPages(modified []pagecache.Page, min int64) (downloadPages, mixuploadPages []pagecache.Page) {
	if len(modified) == 0 {
		return nil, nil
	}

	prev := modified[0]

	emit := func(p pagecache.Page) {
		mixuploadPages = append(mixuploadPages, p)
	}

	for _, current := range modified[1:] {
		switch {
		case current.Modified && !prev.Modified:
			if prev.Length < min {
				downloadPages = append(downloadPages, prev)
				prev.Modified = true
				emit(prev)
			} else {
				emit(prev)
			}
			prev = current

		case current.Modified && prev.Modified:
			prev.Length += current.Length

		case !current.Modified && !prev.Modified:
			prev.Length += current.Length

		default: // !current.Modified && prev.Modified
			if prev.Length < min {
				missing := min - prev.Length
				if missing+min < current.Length {
					downloadPages = append(downloadPages, pagecache.Page{Offset: current.Offset, Length: missing})
					prev.Length = min
					emit(prev)
					prev = pagecache.Page{
						Offset:   current.Offset + missing,
						Length:   current.Length - missing,
						Loaded:   current.Loaded,
						Modified: true,
					}
				} else {
					downloadPages = append(downloadPages, current)
					prev.Length += current.Length
				}
			} else {
				emit(prev)
				prev = current
			}
		}
	}

	emit(prev)
	return downloadPages, mixuploadPages
}

// compressPages merges adjacent pages for which mergeable returns true,
// mirroring PageList.Compress but over a plain slice with a
// caller-supplied merge predicate rather than pagecache's own (loaded,
// modified) equality.
func compressPages(pages []pagecache.Page, mergeable func(a, b pagecache.Page) bool) []pagecache.Page {
	if len(pages) == 0 {
		return nil
	}
	out := make([]pagecache.Page, 0, len(pages))
	cur := pages[0]
	for _, p := range pages[1:] {
		if cur.End() == p.Offset && mergeable(cur, p) {
			cur.Length += p.Length
			continue
		}
		out = append(out, cur)
		cur = p
	}
	out = append(out, cur)
	return out
}

// parseByMaxPartsize splits every modified page into chunks of size max
// while the remaining unsplit tail exceeds 2*max; a tail still longer than
// max is then cut into two near-equal halves, so no modified chunk exceeds
// max and, since max >= 2*min, neither half is shorter than min. Modified
// pages no longer than max and all unmodified pages pass through unchanged.
func parseByMaxPartsize(pages []pagecache.Page, max int64) []pagecache.Page {
	out := make([]pagecache.Page, 0, len(pages))
	for _, p := range pages {
		if !p.Modified || p.Length <= max {
			out = append(out, p)
			continue
		}
		offset := p.Offset
		remaining := p.Length
		for remaining > 2*max {
			out = append(out, pagecache.Page{Offset: offset, Length: max, Loaded: p.Loaded, Modified: p.Modified})
			offset += max
			remaining -= max
		}
		if remaining > max {
			half := remaining / 2
			out = append(out, pagecache.Page{Offset: offset, Length: half, Loaded: p.Loaded, Modified: p.Modified})
			offset += half
			remaining -= half
		}
		out = append(out, pagecache.Page{Offset: offset, Length: remaining, Loaded: p.Loaded, Modified: p.Modified})
	}
	return out
}

func toParts(pages []pagecache.Page) []Part {
	parts := make([]Part, len(pages))
	for i, p := range pages {
		kind := PartCopy
		if p.Modified {
			kind = PartPut
		}
		parts[i] = Part{Offset: p.Offset, Length: p.Length, Kind: kind}
	}
	return parts
}
