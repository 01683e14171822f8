package restore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmp/bkv/blobstore"
	"github.com/mmp/bkv/bkerrors"
	"github.com/mmp/bkv/compress"
	"github.com/mmp/bkv/crypto"
	"github.com/mmp/bkv/diffcodec"
	"github.com/mmp/bkv/engine"
	"github.com/mmp/bkv/manifest"
)

func newHarness(t *testing.T) (*engine.Store, *manifest.Manifest) {
	t.Helper()
	store := engine.NewStore(blobstore.NewMemory(), compress.NewPipeline(false), crypto.NewPipeline(nil, nil))
	m, err := manifest.Open(filepath.Join(t.TempDir(), "manifest.db"))
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return store, m
}

func TestResolveSingleVersionFile(t *testing.T) {
	store, m := newHarness(t)

	content := []byte("version one contents")
	saved, err := store.Save(content)
	require.NoError(t, err)

	entry := manifest.Entry{
		Path:            "a.txt",
		CommitTimeNanos: 100,
		ContentSHA:      saved.SHA,
		BlobAddr:        saved.SHA,
		Size:            int64(len(content)),
	}
	require.NoError(t, m.Insert(entry))

	got, err := Resolve(store, m, entry)
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestResolveMultiLevelDiffChain(t *testing.T) {
	store, m := newHarness(t)

	v1 := []byte("the quick brown fox jumps over the lazy dog, repeated many many times for bsdiff to find structure")
	saved1, err := store.Save(v1)
	require.NoError(t, err)
	e1 := manifest.Entry{
		Path:            "a.txt",
		CommitTimeNanos: 100,
		ContentSHA:      saved1.SHA,
		BlobAddr:        saved1.SHA,
		Size:            int64(len(v1)),
	}
	require.NoError(t, m.Insert(e1))

	v2 := append([]byte{}, v1...)
	v2[5] = 'X'
	patch12, err := diffcodec.Diff(v1, v2)
	require.NoError(t, err)
	saved2, err := store.Save(patch12)
	require.NoError(t, err)
	e2 := manifest.Entry{
		Path:            "a.txt",
		CommitTimeNanos: 200,
		ContentSHA:      blobstore.Sum(v2),
		BlobAddr:        saved2.SHA,
		IsDiff:          true,
		ParentSHA:       e1.ContentSHA,
		Size:            int64(len(v2)),
	}
	require.NoError(t, m.Insert(e2))

	v3 := append([]byte{}, v2...)
	v3[10] = 'Y'
	patch23, err := diffcodec.Diff(v2, v3)
	require.NoError(t, err)
	saved3, err := store.Save(patch23)
	require.NoError(t, err)
	e3 := manifest.Entry{
		Path:            "a.txt",
		CommitTimeNanos: 300,
		ContentSHA:      blobstore.Sum(v3),
		BlobAddr:        saved3.SHA,
		IsDiff:          true,
		ParentSHA:       e2.ContentSHA,
		Size:            int64(len(v3)),
	}
	require.NoError(t, m.Insert(e3))

	got, err := Resolve(store, m, e3)
	require.NoError(t, err)
	assert.Equal(t, v3, got)

	got2, err := Resolve(store, m, e2)
	require.NoError(t, err)
	assert.Equal(t, v2, got2)
}

func TestResolveDetectsContentSHAMismatch(t *testing.T) {
	store, m := newHarness(t)

	content := []byte("version one contents")
	saved, err := store.Save(content)
	require.NoError(t, err)

	entry := manifest.Entry{
		Path:            "a.txt",
		CommitTimeNanos: 100,
		ContentSHA:      blobstore.Sum([]byte("some other content entirely")),
		BlobAddr:        saved.SHA,
		Size:            int64(len(content)),
	}
	require.NoError(t, m.Insert(entry))

	_, err = Resolve(store, m, entry)
	require.Error(t, err)
	assert.ErrorIs(t, err, bkerrors.ErrCorrupt)
}

func TestResolveTombstoneIsNotFound(t *testing.T) {
	store, m := newHarness(t)
	entry := manifest.Entry{Path: "gone.txt", CommitTimeNanos: 100, Tombstone: true}
	_, err := Resolve(store, m, entry)
	require.Error(t, err)
	assert.ErrorIs(t, err, bkerrors.ErrNotFound)
}

func TestWriteToDiskAppliesModeAndMtime(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "nested", "out.txt")
	entry := manifest.Entry{Mode: 0640, Mtime: 1700000000000000000}

	require.NoError(t, WriteToDisk(entry, []byte("hello"), dest))

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), data)

	info, err := os.Stat(dest)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0640), info.Mode().Perm())
	assert.Equal(t, int64(1700000000), info.ModTime().Unix())
}
