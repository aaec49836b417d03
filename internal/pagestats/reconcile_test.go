//go:build !windows

package pagestats

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nimbusfs/nimbusfs/internal/pagecache"
)

func TestCompareSparseFile_CleanReconciliation(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "reconcile-*")
	require.NoError(t, err)
	defer f.Close()

	const size = 64 * 1024
	require.NoError(t, f.Truncate(size))
	data := make([]byte, 8192)
	for i := range data {
		data[i] = 0x7F
	}
	_, err = f.WriteAt(data, 0)
	require.NoError(t, err)

	stored := pagecache.NewPageList(size, false, false)
	stored.SetPageLoadedStatus(0, 8192, pagecache.Loaded, false)

	result, err := CompareSparseFile(int(f.Fd()), size, stored)
	require.NoError(t, err)

	if result.OK {
		require.Empty(t, result.ErrList)
		require.Empty(t, result.WarnList)
	}
}

func TestCompareSparseFile_ClaimedLoadedOverHoleIsError(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "reconcile-*")
	require.NoError(t, err)
	defer f.Close()

	const size = 64 * 1024
	require.NoError(t, f.Truncate(size))

	stored := pagecache.NewPageList(size, false, false)
	stored.SetPageLoadedStatus(0, size, pagecache.Loaded, false)

	result, err := CompareSparseFile(int(f.Fd()), size, stored)
	require.NoError(t, err)

	// On a filesystem without hole support the whole file reads back as
	// loaded and there is nothing to flag; only assert the strong case.
	if !result.OK {
		require.NotEmpty(t, result.ErrList)
	}
}

func TestCompareSparseFile_EmptyFile(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "reconcile-*")
	require.NoError(t, err)
	defer f.Close()

	stored := pagecache.NewPageList(0, false, false)
	result, err := CompareSparseFile(int(f.Fd()), 0, stored)
	require.NoError(t, err)
	require.True(t, result.OK)
	require.False(t, result.ReadErrors)
}
