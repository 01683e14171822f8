package blobstore

import (
	"crypto/sha256"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hashOf(data []byte) Hash {
	sum := sha256.Sum256(data)
	return Hash(sum)
}

func newLocalT(t *testing.T) *Local {
	dir := t.TempDir()
	l, err := NewLocal(dir)
	require.NoError(t, err)
	return l
}

func TestLocalPutGetRoundTrip(t *testing.T) {
	l := newLocalT(t)
	data := []byte("hello")
	h := hashOf(data)

	require.NoError(t, l.Put(h, data))

	exists, err := l.Exists(h)
	require.NoError(t, err)
	assert.True(t, exists)

	r, err := l.Get(h)
	require.NoError(t, err)
	defer r.Close()
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestLocalPutIsIdempotent(t *testing.T) {
	l := newLocalT(t)
	data := []byte("idempotent")
	h := hashOf(data)

	require.NoError(t, l.Put(h, data))
	require.NoError(t, l.Put(h, data)) // re-put of identical bytes: no-op
}

func TestLocalPutRejectsDivergentContent(t *testing.T) {
	l := newLocalT(t)
	data := []byte("original")
	h := hashOf(data)

	require.NoError(t, l.Put(h, data))
	err := l.Put(h, []byte("different-bytes"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestLocalGetMissingIsNotFound(t *testing.T) {
	l := newLocalT(t)
	_, err := l.Get(hashOf([]byte("absent")))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLocalPutLeavesNoPartialFileOnCrashInjection(t *testing.T) {
	// Simulate a crash mid-publish: stageThenRename writes to a temp
	// file first, so a half-written temp file must never appear at the
	// final blob path.
	dir := t.TempDir()
	l, err := NewLocal(dir)
	require.NoError(t, err)

	h := hashOf([]byte("x"))
	dest := l.blobPath(h)
	require.NoError(t, os.MkdirAll(filepath.Dir(dest), 0700))

	// Write a truncated temp file directly, bypassing Put, to model a
	// crash between write and rename.
	tmp := filepath.Join(filepath.Dir(dest), ".stage-crash")
	require.NoError(t, os.WriteFile(tmp, []byte("partial"), 0600))

	exists, err := l.Exists(h)
	require.NoError(t, err)
	assert.False(t, exists, "a staged-but-unrenamed file must not satisfy Exists")
}

func TestManifestPutGetAndRetention(t *testing.T) {
	l := newLocalT(t)

	for i, ts := range []int64{100, 200, 300, 400} {
		data := []byte{byte(i)}
		require.NoError(t, l.ManifestPut("s1", ts, data, 2))
	}

	versions, err := l.ManifestVersions("s1")
	require.NoError(t, err)
	require.Len(t, versions, 2, "only max_manifest_versions should be retained")
	assert.Equal(t, int64(400), versions[0].TimestampNanos)
	assert.Equal(t, int64(300), versions[1].TimestampNanos)

	r, err := l.ManifestGet("s1")
	require.NoError(t, err)
	defer r.Close()
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, []byte{3}, got)
}

func TestManifestGetMissingIsNotFound(t *testing.T) {
	l := newLocalT(t)
	_, err := l.ManifestGet("nonexistent")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
}
