// Package manifest implements the point-in-time queryable manifest of
// spec.md §4.6: a single bbolt file keyed by path, with entries ordered by
// commit time so that "what did path look like at time T" is a cursor
// seek rather than a scan. The whole file is what gets handed to the
// compress/crypto/blobstore pipeline for publication as one opaque blob.
package manifest

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"sort"

	"go.etcd.io/bbolt"

	"github.com/mmp/bkv/bkerrors"
)

var bucketEntries = []byte("entries")

// Entry records one version of one path as of some commit time.
type Entry struct {
	Path            string
	CommitTimeNanos int64

	// Tombstone marks that the path was observed to no longer exist as of
	// CommitTimeNanos; all other fields are zero when true.
	Tombstone bool

	// ContentSHA addresses this entry's target plaintext content,
	// regardless of how it is stored (whole or as a diff). Two entries
	// for the same path with equal ContentSHA have identical content;
	// classify relies on this to detect an unchanged file.
	ContentSHA [32]byte

	// BlobAddr addresses the bytes actually written to the blob store for
	// this entry: ContentSHA's full plaintext when IsDiff is false, or a
	// bsdiff patch against the prior version's content when IsDiff is
	// true.
	BlobAddr [32]byte

	// IsDiff reports whether BlobAddr names a patch rather than a full
	// base blob.
	IsDiff bool

	// ParentSHA, when non-zero, names the prior Entry's ContentSHA that
	// BlobAddr's patch applies against. Zero when IsDiff is false.
	ParentSHA [32]byte

	WrappedKey []byte
	Nonce      []byte

	Mode  uint32
	UID   uint32
	GID   uint32
	Size  int64
	Mtime int64
}

// Manifest wraps a bbolt database holding Entry records for one backup
// set, keyed by compositeKey(path, commitTimeNanos) (a length-prefixed
// path followed by the big-endian commit time) so that a cursor seek on
// a path's lower bound finds all of that path's history ordered by time.
type Manifest struct {
	db *bbolt.DB
}

// Open opens (creating if absent) the bbolt file at dbPath.
func Open(dbPath string) (*Manifest, error) {
	db, err := bbolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: open manifest: %v", bkerrors.ErrConfig, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketEntries)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: create bucket: %v", bkerrors.ErrConfig, err)
	}
	return &Manifest{db: db}, nil
}

// Close closes the underlying bbolt file.
func (m *Manifest) Close() error {
	return m.db.Close()
}

// Path returns the bbolt file's path on disk.
func (m *Manifest) Path() string {
	return m.db.Path()
}

// compositeKey encodes (path, commitTimeNanos) as
// big-endian(len(path)) || path || big-endian(commitTimeNanos). The
// length prefix, rather than relying on path bytes alone, guarantees that
// every key for one path sorts as one contiguous block: two keys compare
// equal on their length prefix only when their paths are the same length,
// so a shorter path can never interleave with a longer path that happens
// to share its first few bytes.
func compositeKey(path string, commitTimeNanos int64) []byte {
	k := make([]byte, 4+len(path)+8)
	binary.BigEndian.PutUint32(k, uint32(len(path)))
	copy(k[4:], path)
	binary.BigEndian.PutUint64(k[4+len(path):], uint64(commitTimeNanos))
	return k
}

func splitCompositeKey(k []byte) (path string, commitTimeNanos int64) {
	n := binary.BigEndian.Uint32(k[:4])
	path = string(k[4 : 4+n])
	commitTimeNanos = int64(binary.BigEndian.Uint64(k[4+n:]))
	return path, commitTimeNanos
}

// pathLowerBound returns the smallest possible composite key for path,
// i.e. with commitTimeNanos == 0, usable as a Cursor.Seek starting point
// that is guaranteed to land at or before that path's first entry.
func pathLowerBound(path string) []byte {
	return compositeKey(path, 0)
}

func encodeEntry(e Entry) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(e); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeEntry(data []byte) (Entry, error) {
	var e Entry
	err := gob.NewDecoder(bytes.NewReader(data)).Decode(&e)
	return e, err
}

// Insert records a new version of e.Path as of e.CommitTimeNanos.
func (m *Manifest) Insert(e Entry) error {
	data, err := encodeEntry(e)
	if err != nil {
		return fmt.Errorf("%w: encode entry: %v", bkerrors.ErrCorrupt, err)
	}
	return m.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketEntries)
		return b.Put(compositeKey(e.Path, e.CommitTimeNanos), data)
	})
}

// Tombstone records that path no longer exists as of commitTimeNanos.
func (m *Manifest) Tombstone(path string, commitTimeNanos int64) error {
	return m.Insert(Entry{Path: path, CommitTimeNanos: commitTimeNanos, Tombstone: true})
}

// GetEntry returns the most recent Entry for path with CommitTimeNanos <=
// at, or bkerrors.ErrNotFound if path has no version at or before at.
func (m *Manifest) GetEntry(path string, at int64) (Entry, error) {
	var result Entry
	found := false
	err := m.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketEntries).Cursor()
		// Seek to (path, at): an exact hit is the answer. Otherwise the
		// cursor lands just past it (or at the bucket's end), so step
		// back to find the newest version of path at or before at. The
		// length-prefixed key encoding keeps all of one path's entries
		// contiguous, so stepping back can only ever cross into a
		// different path, never skip over more of this one.
		seekKey := compositeKey(path, at)
		k, v := c.Seek(seekKey)
		if k != nil && bytes.Equal(k, seekKey) {
			e, err := decodeEntry(v)
			if err != nil {
				return fmt.Errorf("%w: decode entry: %v", bkerrors.ErrCorrupt, err)
			}
			result, found = e, true
			return nil
		}
		// k is either nil (at end) or the first key greater than seekKey;
		// step back to find the newest version <= at.
		var pk []byte
		var pv []byte
		if k == nil {
			pk, pv = c.Last()
		} else {
			pk, pv = c.Prev()
		}
		for pk != nil {
			p, ts := splitCompositeKey(pk)
			if p != path {
				break
			}
			if ts <= at {
				e, err := decodeEntry(pv)
				if err != nil {
					return fmt.Errorf("%w: decode entry: %v", bkerrors.ErrCorrupt, err)
				}
				result, found = e, true
				return nil
			}
			pk, pv = c.Prev()
		}
		return nil
	})
	if err != nil {
		return Entry{}, err
	}
	if !found {
		return Entry{}, fmt.Errorf("%w: %s at or before %d", bkerrors.ErrNotFound, path, at)
	}
	return result, nil
}

// Latest returns the most recent Entry ever recorded for path, regardless
// of time, or bkerrors.ErrNotFound.
func (m *Manifest) Latest(path string) (Entry, error) {
	return m.GetEntryAtOrBefore(path, maxCommitTime)
}

const maxCommitTime = int64(1<<63 - 1)

// GetEntryAtOrBefore is an alias kept for call sites that read more
// naturally with an explicit name than GetEntry's "at" parameter.
func (m *Manifest) GetEntryAtOrBefore(path string, at int64) (Entry, error) {
	return m.GetEntry(path, at)
}

// AllLatestPaths returns every path with a non-tombstone entry as of at,
// used for end-of-walk tombstoning and for listing a snapshot's contents.
func (m *Manifest) AllLatestPaths(at int64) ([]string, error) {
	var out []string
	err := m.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketEntries).Cursor()

		// Keys are ordered first by path, then ascending by commit time, so
		// every entry with ts <= at that belongs to curPath is a newer
		// candidate than the one before it; curEntry holds the newest one
		// seen so far for curPath. flush records the decision for curPath
		// once the scan moves on to a different path (or ends).
		var curPath string
		var curEntry Entry
		haveCur := false
		flush := func() {
			if haveCur && !curEntry.Tombstone {
				out = append(out, curPath)
			}
		}

		for k, v := c.First(); k != nil; k, v = c.Next() {
			path, ts := splitCompositeKey(k)
			if ts > at {
				continue
			}
			if path != curPath {
				flush()
				curPath, haveCur = path, false
			}
			e, err := decodeEntry(v)
			if err != nil {
				return fmt.Errorf("%w: decode entry: %v", bkerrors.ErrCorrupt, err)
			}
			curEntry, haveCur = e, true
		}
		flush()
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}

// Search returns every path whose latest non-tombstone entry as of at
// matches the predicate, sorted lexicographically.
func (m *Manifest) Search(at int64, matches func(path string) bool) ([]string, error) {
	paths, err := m.AllLatestPaths(at)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, p := range paths {
		if matches(p) {
			out = append(out, p)
		}
	}
	return out, nil
}

// History returns every Entry ever recorded for path, oldest first.
func (m *Manifest) History(path string) ([]Entry, error) {
	var out []Entry
	err := m.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketEntries).Cursor()
		for k, v := c.Seek(pathLowerBound(path)); k != nil; k, v = c.Next() {
			p, _ := splitCompositeKey(k)
			if p != path {
				break
			}
			e, err := decodeEntry(v)
			if err != nil {
				return fmt.Errorf("%w: decode entry: %v", bkerrors.ErrCorrupt, err)
			}
			out = append(out, e)
		}
		return nil
	})
	return out, err
}
