package pagestats

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nimbusfs/nimbusfs/internal/pagecache"
	"github.com/nimbusfs/nimbusfs/pkg/errors"
)

func TestStats_SerializeThenDeserializeRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.stats")
	s := New(path, nil)

	pl := pagecache.NewPageList(4096, false, false)
	pl.SetPageLoadedStatus(0, 1024, pagecache.Loaded, true)
	pl.SetPageLoadedStatus(2048, 512, pagecache.LoadedModified, true)

	require.NoError(t, s.Serialize(pl, 42))

	got, err := s.Deserialize(42)
	require.NoError(t, err)
	require.Equal(t, pl.Size(), got.Size())
	require.Equal(t, pl.Pages(), got.Pages())
}

func TestStats_DeserializeRejectsInodeMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.stats")
	s := New(path, nil)

	pl := pagecache.NewPageList(100, false, false)
	require.NoError(t, s.Serialize(pl, 7))

	_, err := s.Deserialize(8)
	require.Error(t, err)
	appErr, ok := err.(*errors.Error)
	require.True(t, ok)
	require.Equal(t, errors.ErrCodeInodeMismatch, appErr.Code)
}

func TestStats_DeserializeAcceptsLegacyHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.stats")
	require.NoError(t, os.WriteFile(path, []byte("4096\n0:1024:1:0\n1024:3072:0:0\n"), 0o600))

	s := New(path, nil)
	pl, err := s.Deserialize(999)
	require.NoError(t, err)
	require.Equal(t, int64(4096), pl.Size())
	require.True(t, pl.IsPageLoaded(0, 1024))
}

func TestStats_DeserializeEmptyFileYieldsZeroPageList(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.stats")
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	s := New(path, nil)
	pl, err := s.Deserialize(0)
	require.NoError(t, err)
	require.Equal(t, int64(0), pl.Size())
}

func TestStats_DeserializeRejectsSizeMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.stats")
	require.NoError(t, os.WriteFile(path, []byte("1:8192\n0:1024:1:0\n"), 0o600))

	s := New(path, nil)
	_, err := s.Deserialize(1)
	require.Error(t, err)
	appErr, ok := err.(*errors.Error)
	require.True(t, ok)
	require.Equal(t, errors.ErrCodeStatsCorrupt, appErr.Code)
}

func TestStats_DeserializeMissingFile(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "missing.stats"), nil)
	_, err := s.Deserialize(0)
	require.Error(t, err)
}
