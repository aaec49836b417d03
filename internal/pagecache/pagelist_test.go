package pagecache

import (
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// assertInvariants checks the invariants every PageList must hold:
// pages are ordered, non-overlapping, and gap-free across [0, Size()).
func assertInvariants(t *testing.T, pl *PageList) {
	t.Helper()
	pages := pl.Pages()

	if len(pages) == 0 {
		return
	}

	require.Equal(t, int64(0), pages[0].Offset, "first page must start at offset 0")

	for i, p := range pages {
		require.GreaterOrEqual(t, p.Offset, int64(0), "page %d offset must be non-negative", i)
		require.GreaterOrEqual(t, p.Length, int64(0), "page %d length must be non-negative", i)
		if p.Length == 0 {
			require.Len(t, pages, 1, "a zero-length page may only appear alone")
		}
		if i+1 < len(pages) {
			require.Equal(t, p.End(), pages[i+1].Offset, "page %d must abut page %d with no gap or overlap", i, i+1)
		}
	}

	last := pages[len(pages)-1]
	require.Equal(t, last.End(), pl.Size(), "Size() must equal the end of the last page")
}

func assertCompressed(t *testing.T, pl *PageList) {
	t.Helper()
	pages := pl.Pages()
	for i := 0; i+1 < len(pages); i++ {
		a, b := pages[i], pages[i+1]
		if a.Loaded == b.Loaded && a.Modified == b.Modified {
			t.Fatalf("adjacent pages %d and %d were not merged by Compress: %+v, %+v", i, i+1, a, b)
		}
	}
}

func TestPageList_RandomizedHistory(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	for trial := 0; trial < 200; trial++ {
		pl := NewPageList(0, false, false)
		assertInvariants(t, pl)

		size := int64(0)
		for step := 0; step < 30; step++ {
			switch rng.Intn(6) {
			case 0:
				size = rng.Int63n(4096)
				pl.Init(size, rng.Intn(2) == 0, rng.Intn(2) == 0)
			case 1:
				size = rng.Int63n(4096)
				pl.Resize(size, rng.Intn(2) == 0, rng.Intn(2) == 0)
			case 2:
				if size > 0 {
					pl.Parse(rng.Int63n(size + 1))
				}
			case 3:
				if size > 0 {
					start := rng.Int63n(size)
					length := rng.Int63n(size - start + 1)
					pl.SetPageLoadedStatus(start, length, LoadStatus(rng.Intn(4)), true)
				}
			case 4:
				pl.Compress()
			case 5:
				pl.ClearAllModified()
			}
			assertInvariants(t, pl)
			size = pl.Size()
		}
		assertInvariants(t, pl)
	}
}

func TestPageList_ParseIdempotent(t *testing.T) {
	pl := NewPageList(1000, true, false)
	require.True(t, pl.Parse(400))
	after1 := append([]Page{}, pl.Pages()...)
	require.True(t, pl.Parse(400))
	after2 := pl.Pages()

	if diff := cmp.Diff(after1, after2); diff != "" {
		t.Errorf("Parse(p); Parse(p) changed the list (-first +second):\n%s", diff)
	}
}

func TestPageList_ParseBeyondEndFails(t *testing.T) {
	pl := NewPageList(1000, true, false)
	require.False(t, pl.Parse(1001))
	require.True(t, pl.Parse(1000), "the boundary at end-of-list is a no-op, not a failure")
}

func TestPageList_SetPageLoadedStatusIdempotent(t *testing.T) {
	pl := NewPageList(1000, false, false)
	pl.SetPageLoadedStatus(100, 200, Modified, true)
	after1 := append([]Page{}, pl.Pages()...)
	pl.SetPageLoadedStatus(100, 200, Modified, true)
	after2 := pl.Pages()

	if diff := cmp.Diff(after1, after2); diff != "" {
		t.Errorf("repeated SetPageLoadedStatus changed the list (-first +second):\n%s", diff)
	}
}

func TestPageList_EmptyFileScenario(t *testing.T) {
	pl := NewPageList(0, false, false)
	assert.Equal(t, int64(0), pl.Size())
	assert.False(t, pl.IsModified())
}

func TestPageList_SingleWriteScenario(t *testing.T) {
	pl := NewPageList(0, false, false)
	pl.SetPageLoadedStatus(100, 50, Modified, true)

	want := []Page{
		{Offset: 0, Length: 100, Loaded: false, Modified: false},
		{Offset: 100, Length: 50, Loaded: false, Modified: true},
	}
	if diff := cmp.Diff(want, pl.Pages()); diff != "" {
		t.Errorf("pages mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, int64(50), pl.BytesModified())
}

func TestPageList_TruncationShrinkScenario(t *testing.T) {
	pl := NewPageList(1000, true, false)
	pl.Resize(400, false, true)

	want := []Page{{Offset: 0, Length: 400, Loaded: true, Modified: false}}
	if diff := cmp.Diff(want, pl.Pages()); diff != "" {
		t.Errorf("pages mismatch (-want +got):\n%s", diff)
	}
	assert.True(t, pl.IsShrunk())
	assert.True(t, pl.IsModified())
}

func TestPageList_ClearAllModifiedResetsShrunk(t *testing.T) {
	pl := NewPageList(1000, true, false)
	pl.Resize(400, false, true)
	require.True(t, pl.IsModified())

	pl.ClearAllModified()
	assert.False(t, pl.IsShrunk())
	assert.False(t, pl.IsModified())
}

func TestPageList_IsPageLoaded(t *testing.T) {
	pl := NewPageList(1000, false, false)
	pl.SetPageLoadedStatus(0, 500, Loaded, true)

	assert.True(t, pl.IsPageLoaded(0, 500))
	assert.False(t, pl.IsPageLoaded(0, 501))
	assert.False(t, pl.IsPageLoaded(500, 500))
}

func TestPageList_FindUnloadedPage(t *testing.T) {
	pl := NewPageList(1000, false, false)
	pl.SetPageLoadedStatus(0, 500, Loaded, true)

	page, ok := pl.FindUnloadedPage(0)
	require.True(t, ok)
	assert.Equal(t, int64(500), page.Offset)
	assert.Equal(t, int64(500), page.Length)

	_, ok = pl.FindUnloadedPage(500)
	require.True(t, ok)

	pl.SetPageLoadedStatus(500, 500, Loaded, true)
	_, ok = pl.FindUnloadedPage(0)
	assert.False(t, ok)
}

func TestPageList_GetTotalUnloadedPageSize(t *testing.T) {
	pl := NewPageList(3000, false, false)
	pl.SetPageLoadedStatus(0, 1000, Loaded, true)

	assert.Equal(t, int64(2000), pl.GetTotalUnloadedPageSize(0, 0, 0))
	assert.Equal(t, int64(0), pl.GetTotalUnloadedPageSize(0, 0, 1500), "the 2000-byte hole exceeds the limit and is excluded")
	assert.Equal(t, int64(2000), pl.GetTotalUnloadedPageSize(0, 0, 2500))
}

func TestPageList_GetUnloadedPagesMerged(t *testing.T) {
	pl := NewPageList(1000, false, false)

	pages := pl.GetUnloadedPages(0, 0)
	require.Len(t, pages, 1)
	assert.Equal(t, Page{Offset: 0, Length: 1000}, pages[0])
}

func TestPageList_CompressFillsGapsFromMisuse(t *testing.T) {
	pl := &PageList{}
	// Simulate external misuse producing a gap: pages don't abut.
	pl.pages = []Page{
		{Offset: 0, Length: 100, Loaded: true},
		{Offset: 200, Length: 100, Loaded: true},
	}
	pl.Compress()

	want := []Page{
		{Offset: 0, Length: 100, Loaded: true},
		{Offset: 100, Length: 100},
		{Offset: 200, Length: 100, Loaded: true},
	}
	if diff := cmp.Diff(want, pl.Pages()); diff != "" {
		t.Errorf("pages mismatch (-want +got):\n%s", diff)
	}
}

func TestPageList_CompressLeavesZeroLengthPageAlone(t *testing.T) {
	pl := NewPageList(0, false, false)
	pl.Compress()
	assert.Equal(t, []Page{{Offset: 0, Length: 0}}, pl.Pages())
}
