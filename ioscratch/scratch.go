// Package ioscratch owns the per-run scratch directory (spec.md §5,
// "Scoped resources") and the primitive streamed read/write helpers that
// every other package builds on: a temp file for intermediate plaintext
// or ciphertext, and a SHA-256-while-copying reader used to compute a
// blob's address without buffering the whole blob in memory.
//
// Mirrors the teacher's pack/index scratch-file handling in
// storage/disk.go, generalized into its own scope-bound type so that two
// engines can be instantiated in the same process (spec.md §9, "Global
// state").
package ioscratch

import (
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/mmp/bkv/bkerrors"
)

// Area is a scoped, run-private temporary directory. It is acquired once
// at the start of a backup or restore run and released by the caller's
// defer on normal and error returns. No signal handler releases it: a
// process killed by a signal leaves the directory behind.
type Area struct {
	dir string
}

// Acquire creates a fresh scratch directory under root (the CLI passes
// os.TempDir()).
func Acquire(root, setName string) (*Area, error) {
	dir, err := os.MkdirTemp(root, "bkv-"+setName+"-")
	if err != nil {
		return nil, fmt.Errorf("%w: create scratch dir: %v", bkerrors.ErrTransport, err)
	}
	return &Area{dir: dir}, nil
}

// Release removes the scratch directory and everything under it. Safe to
// call more than once.
func (a *Area) Release() error {
	if a == nil || a.dir == "" {
		return nil
	}
	return os.RemoveAll(a.dir)
}

// Dir returns the scratch directory's path.
func (a *Area) Dir() string {
	return a.dir
}

// TempFile creates a new, empty scratch file with the given name prefix.
// Callers write to it and then either rename it into place (stage-then-
// rename) or pass it to CopyWithHash / discard it.
func (a *Area) TempFile(prefix string) (*os.File, error) {
	f, err := os.CreateTemp(a.dir, prefix+"-*")
	if err != nil {
		return nil, fmt.Errorf("%w: create scratch file: %v", bkerrors.ErrTransport, err)
	}
	return f, nil
}

// Path joins a relative name onto the scratch directory.
func (a *Area) Path(name string) string {
	return filepath.Join(a.dir, name)
}

// HashingReader wraps an io.Reader, accumulating a running SHA-256 of
// every byte read through it. Sum() is only meaningful after the
// underlying stream has been fully consumed.
type HashingReader struct {
	r io.Reader
	h interface {
		io.Writer
		Sum([]byte) []byte
	}
}

func NewHashingReader(r io.Reader) *HashingReader {
	return &HashingReader{r: r, h: sha256.New()}
}

func (hr *HashingReader) Read(p []byte) (int, error) {
	n, err := hr.r.Read(p)
	if n > 0 {
		hr.h.Write(p[:n])
	}
	return n, err
}

// Sum32 returns the 32-byte SHA-256 digest of everything read so far.
func (hr *HashingReader) Sum32() [32]byte {
	var out [32]byte
	copy(out[:], hr.h.Sum(nil))
	return out
}

// CopyWithHash streams src to dst, returning the number of bytes copied
// and the SHA-256 of the plaintext that passed through. Used by the
// Snapshotter to copy a file into scratch while computing its content
// address in the same pass (spec.md §4.7, content-change detection).
func CopyWithHash(dst io.Writer, src io.Reader) (int64, [32]byte, error) {
	hr := NewHashingReader(src)
	n, err := io.Copy(dst, hr)
	if err != nil {
		return n, [32]byte{}, fmt.Errorf("%w: %v", bkerrors.ErrTransport, err)
	}
	return n, hr.Sum32(), nil
}
