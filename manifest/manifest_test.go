package manifest

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmp/bkv/bkerrors"
)

func openT(t *testing.T) *Manifest {
	t.Helper()
	dir := t.TempDir()
	m, err := Open(filepath.Join(dir, "manifest.db"))
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m
}

func TestInsertAndGetEntryExactTime(t *testing.T) {
	m := openT(t)
	require.NoError(t, m.Insert(Entry{Path: "a/b.txt", CommitTimeNanos: 100, Size: 5}))

	e, err := m.GetEntry("a/b.txt", 100)
	require.NoError(t, err)
	assert.Equal(t, int64(5), e.Size)
}

func TestGetEntryReturnsNewestAtOrBefore(t *testing.T) {
	m := openT(t)
	require.NoError(t, m.Insert(Entry{Path: "f", CommitTimeNanos: 100, Size: 1}))
	require.NoError(t, m.Insert(Entry{Path: "f", CommitTimeNanos: 200, Size: 2}))
	require.NoError(t, m.Insert(Entry{Path: "f", CommitTimeNanos: 300, Size: 3}))

	e, err := m.GetEntry("f", 250)
	require.NoError(t, err)
	assert.Equal(t, int64(2), e.Size)

	e, err = m.GetEntry("f", 1000)
	require.NoError(t, err)
	assert.Equal(t, int64(3), e.Size)

	_, err = m.GetEntry("f", 50)
	assert.ErrorIs(t, err, bkerrors.ErrNotFound)
}

func TestGetEntryDoesNotConfusePrefixPaths(t *testing.T) {
	m := openT(t)
	// "foo" and "foobar" share a byte prefix; a naive encoding could
	// interleave their keys and corrupt lookups for one or the other.
	require.NoError(t, m.Insert(Entry{Path: "foo", CommitTimeNanos: 10, Size: 1}))
	require.NoError(t, m.Insert(Entry{Path: "foobar", CommitTimeNanos: 20, Size: 2}))
	require.NoError(t, m.Insert(Entry{Path: "foo", CommitTimeNanos: 30, Size: 3}))

	e, err := m.GetEntry("foo", 1000)
	require.NoError(t, err)
	assert.Equal(t, int64(3), e.Size, "foo's own latest entry, not foobar's")

	e, err = m.GetEntry("foobar", 1000)
	require.NoError(t, err)
	assert.Equal(t, int64(2), e.Size)

	hist, err := m.History("foo")
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, int64(10), hist[0].CommitTimeNanos)
	assert.Equal(t, int64(30), hist[1].CommitTimeNanos)
}

func TestTombstoneExcludesFromLatestPaths(t *testing.T) {
	m := openT(t)
	require.NoError(t, m.Insert(Entry{Path: "x", CommitTimeNanos: 10, Size: 1}))
	require.NoError(t, m.Insert(Entry{Path: "y", CommitTimeNanos: 10, Size: 1}))
	require.NoError(t, m.Tombstone("x", 20))

	paths, err := m.AllLatestPaths(1000)
	require.NoError(t, err)
	assert.Equal(t, []string{"y"}, paths)

	// But the tombstoned path's history before the tombstone is still
	// queryable, preserving point-in-time semantics.
	e, err := m.GetEntry("x", 15)
	require.NoError(t, err)
	assert.False(t, e.Tombstone)
}

func TestAllLatestPathsUsesNewestEntryNotOldest(t *testing.T) {
	m := openT(t)
	require.NoError(t, m.Insert(Entry{Path: "x", CommitTimeNanos: 100, Size: 1}))
	require.NoError(t, m.Tombstone("x", 200))

	// Queried well after the tombstone, x must not reappear: the decision
	// has to be driven by the newest entry at or before "at" (the
	// tombstone), not whichever entry the scan happens to see first.
	paths, err := m.AllLatestPaths(300)
	require.NoError(t, err)
	assert.Empty(t, paths)

	// Queried before the tombstone, x is still present.
	paths, err = m.AllLatestPaths(150)
	require.NoError(t, err)
	assert.Equal(t, []string{"x"}, paths)
}

func TestSearchFiltersByPredicate(t *testing.T) {
	m := openT(t)
	require.NoError(t, m.Insert(Entry{Path: "dir/a.txt", CommitTimeNanos: 1}))
	require.NoError(t, m.Insert(Entry{Path: "dir/b.log", CommitTimeNanos: 1}))

	matches, err := m.Search(1000, func(p string) bool {
		return filepath.Ext(p) == ".txt"
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"dir/a.txt"}, matches)
}
