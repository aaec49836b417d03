package multipart

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nimbusfs/nimbusfs/internal/pagecache"
)

const mib = 1024 * 1024

func totalCoverage(parts []Part) (start, end int64, gapFree bool) {
	if len(parts) == 0 {
		return 0, 0, true
	}
	gapFree = true
	start = parts[0].Offset
	prevEnd := parts[0].End()
	for _, p := range parts[1:] {
		if p.Offset != prevEnd {
			gapFree = false
		}
		prevEnd = p.End()
	}
	return start, prevEnd, gapFree
}

func TestCompute_SmallModificationSurroundedByLoadedData(t *testing.T) {
	min := int64(5 * mib)
	max := int64(2 * min)

	pl := pagecache.NewPageList(20*mib, true, false)
	pl.SetPageLoadedStatus(10*mib, 1*mib, pagecache.Modified, true)

	plan := Compute(pl, min, max)

	start, end, gapFree := totalCoverage(plan.MixuploadParts)
	require.True(t, gapFree)
	require.Equal(t, int64(0), start)
	require.Equal(t, int64(20*mib), end)

	for i, p := range plan.MixuploadParts {
		if i != len(plan.MixuploadParts)-1 {
			require.GreaterOrEqual(t, p.Length, min, "non-tail part %d below MIN", i)
		}
		require.LessOrEqual(t, p.Length, max)
	}

	var putCoversModified bool
	for _, p := range plan.MixuploadParts {
		if p.Kind == PartPut && p.Offset <= 10*mib && p.End() >= 11*mib {
			putCoversModified = true
		}
	}
	require.True(t, putCoversModified, "the modified MiB must be fully contained in a PUT part")

	// The unmodified tail [11MiB,20MiB) is only 9MiB, not longer than the
	// missing 4MiB plus min, so the planner downloads the whole tail and merges
	// it with the trailing part rather than splitting off just the missing
	// 4MiB needed to round the PUT part up to min.
	var downloadTotal int64
	for _, p := range plan.DownloadPages {
		downloadTotal += p.Length
	}
	require.Equal(t, int64(9*mib), downloadTotal)
}

func TestCompute_NoModificationsProducesOneCopyPart(t *testing.T) {
	min := int64(5 * mib)
	max := int64(2 * min)

	pl := pagecache.NewPageList(20*mib, true, false)
	plan := Compute(pl, min, max)

	require.Empty(t, plan.DownloadPages)
	require.Len(t, plan.MixuploadParts, 1)
	require.Equal(t, PartCopy, plan.MixuploadParts[0].Kind)
	require.Equal(t, int64(20*mib), plan.MixuploadParts[0].Length)
}

func TestCompute_EntireFileModified(t *testing.T) {
	min := int64(5 * mib)
	max := int64(2 * min)

	pl := pagecache.NewPageList(20*mib, false, false)
	pl.SetPageLoadedStatus(0, 20*mib, pagecache.Modified, true)

	plan := Compute(pl, min, max)
	require.Empty(t, plan.DownloadPages)

	start, end, gapFree := totalCoverage(plan.MixuploadParts)
	require.True(t, gapFree)
	require.Equal(t, int64(0), start)
	require.Equal(t, int64(20*mib), end)
	for _, p := range plan.MixuploadParts {
		require.Equal(t, PartPut, p.Kind)
		require.LessOrEqual(t, p.Length, max)
	}
}

func TestCompute_LargePutSplitsByMaxPartSize(t *testing.T) {
	min := int64(5 * mib)
	max := int64(2 * min)

	// 5*max of modified data must split into chunks that never exceed
	// max.
	pl := pagecache.NewPageList(5*max, false, false)
	pl.SetPageLoadedStatus(0, 5*max, pagecache.Modified, true)

	plan := Compute(pl, min, max)

	for i, p := range plan.MixuploadParts {
		require.LessOrEqual(t, p.Length, max, "part %d exceeds MAX", i)
	}
	_, end, gapFree := totalCoverage(plan.MixuploadParts)
	require.True(t, gapFree)
	require.Equal(t, int64(5*max), end)
}

// assertPlanInvariants checks the four properties Compute's result must
// hold regardless of the page list it was built from: MixuploadParts
// covers [0, size) with no gap, every non-tail part meets min, every
// part stays at or under max, and every modified byte is contained in a
// PUT part.
func assertPlanInvariants(t *testing.T, pl *pagecache.PageList, plan *Plan, min, max int64) {
	t.Helper()

	size := pl.Size()
	if size == 0 {
		require.Empty(t, plan.MixuploadParts)
		require.Empty(t, plan.DownloadPages)
		return
	}

	start, end, gapFree := totalCoverage(plan.MixuploadParts)
	require.True(t, gapFree, "MixuploadParts must abut with no gap or overlap")
	require.Equal(t, int64(0), start, "MixuploadParts must start at 0")
	require.Equal(t, size, end, "MixuploadParts must cover the whole file")

	for i, p := range plan.MixuploadParts {
		require.Greater(t, p.Length, int64(0), "part %d must not be empty", i)
		if i != len(plan.MixuploadParts)-1 {
			require.GreaterOrEqual(t, p.Length, min, "non-tail part %d below MIN", i)
		}
		require.LessOrEqual(t, p.Length, max, "part %d exceeds MAX", i)
	}

	for _, p := range pl.Pages() {
		if !p.Modified || p.Length == 0 {
			continue
		}
		for offset := p.Offset; offset < p.End(); {
			part, ok := partContaining(plan.MixuploadParts, offset)
			require.True(t, ok, "no mixupload part contains modified offset %d", offset)
			require.Equal(t, PartPut, part.Kind, "modified offset %d landed in a non-PUT part", offset)
			offset = part.End()
		}
	}
}

func partContaining(parts []Part, offset int64) (Part, bool) {
	for _, p := range parts {
		if offset >= p.Offset && offset < p.End() {
			return p, true
		}
	}
	return Part{}, false
}

func TestCompute_RandomizedHistory(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	min := int64(5 * mib)
	max := int64(2 * min)

	for trial := 0; trial < 200; trial++ {
		size := rng.Int63n(10 * max)
		pl := pagecache.NewPageList(size, rng.Intn(2) == 0, false)

		for step := 0; step < 10 && size > 0; step++ {
			start := rng.Int63n(size)
			length := rng.Int63n(size-start+1) + 1
			if start+length > size {
				length = size - start
			}
			pl.SetPageLoadedStatus(start, length, pagecache.LoadStatus(rng.Intn(4)), true)
		}

		plan := Compute(pl, min, max)
		assertPlanInvariants(t, pl, plan, min, max)
	}
}

func TestCompute_UnmodifiedFileAllCopy(t *testing.T) {
	min := int64(5 * mib)
	max := int64(2 * min)

	pl := pagecache.NewPageList(0, false, false)
	plan := Compute(pl, min, max)
	require.Empty(t, plan.DownloadPages)
	require.Empty(t, plan.MixuploadParts)
}
