// Package blobstore defines the content-addressed Blob Store Interface
// (spec.md §4.1) and the backends that implement it. The interface is
// shaped after the teacher's storage.Backend, generalized to the
// manifest-versioning and atomic-publish semantics spec.md requires.
package blobstore

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"time"
)

// HashSize is the number of bytes in a blob address.
const HashSize = 32

// Hash is the SHA-256 of a blob's plaintext, uncompressed contents (I2).
type Hash [HashSize]byte

func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// IsZero reports whether h is the zero value, used to represent "no
// prior blob" in manifest entries without an extra bool field.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// HashFromBytes constructs a Hash from an already-computed 32-byte
// digest, e.g. one read back out of a manifest entry. It does not hash
// its argument; callers that need to address arbitrary-length content
// must use Sum.
func HashFromBytes(b []byte) (h Hash) {
	copy(h[:], b)
	return h
}

// Sum computes the content address of data: the SHA-256 of its
// plaintext, uncompressed bytes (I2). This is what determines dedup
// identity, so it must be computed on the same bytes regardless of
// whether compression or encryption is enabled for a given backup set.
func Sum(data []byte) Hash {
	sum := sha256.Sum256(data)
	return Hash(sum)
}

func HashFromHex(s string) (Hash, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Hash{}, err
	}
	return HashFromBytes(b), nil
}

// Backend is the storage contract the engine requires of any backup
// destination (spec.md §4.1). Implementations must make Put atomic: a
// concurrent or later Exists/Get only observes a payload once it is
// completely and durably written (stage-then-rename or an equivalently
// atomic backend operation).
//
// Backend implementations are not required to be safe for concurrent
// Put/Get from multiple goroutines simultaneously, matching the
// single-process, primarily-single-threaded concurrency model of
// spec.md §5; Get may be called concurrently with other Gets.
type Backend interface {
	// String names the backend, for logging.
	String() string

	// Exists reports whether a blob with the given hash is durably
	// stored.
	Exists(hash Hash) (bool, error)

	// Put publishes data under hash atomically. If a blob already
	// exists at hash, Put is a no-op on byte-identical content
	// (ErrAlreadyExists is swallowed) and returns ErrCorrupt if the
	// existing content differs.
	Put(hash Hash, data []byte) error

	// Get returns a reader for the blob at hash. Returns ErrNotFound if
	// absent.
	Get(hash Hash) (io.ReadCloser, error)

	// List returns every stored hash whose hex encoding has the given
	// prefix (used by garbage collection, out of scope for the backup
	// path itself).
	List(prefix string) ([]Hash, error)

	// Delete removes a blob. Only used by GC.
	Delete(hash Hash) error

	// ManifestPut publishes a named manifest version atomically, with
	// the same atomicity guarantee as Put. Unlike Put, the name is not
	// content-derived; implementations retain up to maxVersions prior
	// manifest files (spec.md §4.6, M4) and update an alias pointing at
	// the newest one.
	ManifestPut(setName string, timestampNanos int64, data []byte, maxVersions int) error

	// ManifestGet returns the latest committed manifest version for
	// setName. Returns ErrNotFound if none has ever been published.
	ManifestGet(setName string) (io.ReadCloser, error)

	// ManifestVersions lists all retained manifest versions for setName,
	// newest first.
	ManifestVersions(setName string) ([]ManifestVersion, error)
}

// ManifestVersion describes one retained manifest publication.
type ManifestVersion struct {
	TimestampNanos int64
	PublishedAt    time.Time
}
