// Package snapshot implements the depth-first filesystem walk that backs
// up one set: for every file under its configured directories, it
// classifies the file against the manifest's last-known entry, writes a
// new blob (full content or a diff against the prior version) when
// something changed, and tombstones any path that was seen before but not
// seen in this walk.
package snapshot

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"

	"github.com/mmp/bkv/bkerrors"
	"github.com/mmp/bkv/blobstore"
	"github.com/mmp/bkv/diffcodec"
	"github.com/mmp/bkv/engine"
	"github.com/mmp/bkv/ioscratch"
	"github.com/mmp/bkv/manifest"
	"github.com/mmp/bkv/metrics"
	"github.com/mmp/bkv/restore"
	"github.com/mmp/bkv/util"
)

var log *util.Logger

// SetLogger installs the logger used by this package.
func SetLogger(l *util.Logger) {
	log = l
}

// Classification is the outcome of comparing a walked file against the
// manifest's last entry for its path.
type Classification int

const (
	ClassNew Classification = iota
	ClassUnchanged
	ClassMetadataOnly
	ClassChanged
	ClassDeleted
)

func (c Classification) String() string {
	switch c {
	case ClassNew:
		return "new"
	case ClassUnchanged:
		return "unchanged"
	case ClassMetadataOnly:
		return "metadata-only"
	case ClassChanged:
		return "changed"
	case ClassDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// classify is a pure function: given the manifest's last entry for a path
// (nil if none), the current os.FileInfo, the owning uid/gid as currently
// reported by the filesystem, and the file's freshly computed content SHA,
// it decides what changed. Metadata is (mode, uid, gid, mtime); a change to
// any of those with unchanged content is ClassMetadataOnly, not
// ClassUnchanged, so the new ownership still gets recorded. Deletion is
// detected separately, at end-of-walk, since it requires knowing which
// paths were *not* seen.
func classify(prior *manifest.Entry, stat os.FileInfo, uid, gid uint32, sha blobstore.Hash) Classification {
	if prior == nil || prior.Tombstone {
		return ClassNew
	}
	if blobstore.Hash(prior.ContentSHA) != sha {
		return ClassChanged
	}

	mode := uint32(stat.Mode())
	mtime := stat.ModTime().UnixNano()
	if prior.Mode != mode || prior.Mtime != mtime || prior.Size != stat.Size() || prior.UID != uid || prior.GID != gid {
		return ClassMetadataOnly
	}
	return ClassUnchanged
}

// Options configures one walk of one backup set.
type Options struct {
	SetName     string
	Directories []string
	Exclusions  []*regexp.Regexp

	// CheckpointEvery commits to the manifest after this many changed
	// files; 0 disables mid-walk checkpointing.
	CheckpointEvery int
	MinPatchSavings float64
}

// Result summarizes one completed walk.
type Result struct {
	New, Unchanged, MetadataOnly, Changed, Deleted, Skipped int
}

// Run walks every directory in opts.Directories, updating m to reflect
// the filesystem's current state as of commitTimeNanos, saving changed
// file content through store. Per-file errors (permission denied, a file
// vanishing mid-read, a failed blob save or manifest insert for that
// file) are logged and counted as skipped rather than aborting the run,
// per this package's failure-isolation guarantee; an error from the
// checkpoint callback or from end-of-walk tombstoning is returned.
//
// If opts.CheckpointEvery is positive, checkpoint is invoked after every
// CheckpointEvery changed files, giving the caller a chance to publish
// the manifest's current state mid-walk so a crash partway through a
// large backup doesn't lose all progress since the last publish.
func Run(store *engine.Store, m *manifest.Manifest, scratch *ioscratch.Area, opts Options, commitTimeNanos int64, checkpoint func() error) (Result, error) {
	var res Result
	seen := map[string]bool{}
	sinceCheckpoint := 0

	for _, root := range opts.Directories {
		absRoot, err := filepath.Abs(root)
		if err != nil {
			return res, err
		}
		err = filepath.Walk(absRoot, func(path string, info fs.FileInfo, err error) error {
			if err != nil {
				logSkip(path, err)
				res.Skipped++
				metrics.FilesTotal.WithLabelValues("skipped").Inc()
				return nil
			}
			if info.IsDir() {
				return nil
			}
			if excluded(path, opts.Exclusions) {
				if log != nil {
					log.Verbose("%s: excluding from backup", path)
				}
				return nil
			}

			seen[path] = true
			class, err := processFile(store, m, scratch, path, info, commitTimeNanos, opts.MinPatchSavings)
			if err != nil {
				logSkip(path, err)
				res.Skipped++
				metrics.FilesTotal.WithLabelValues("skipped").Inc()
				return nil
			}
			switch class {
			case ClassNew:
				res.New++
			case ClassUnchanged:
				res.Unchanged++
			case ClassMetadataOnly:
				res.MetadataOnly++
			case ClassChanged:
				res.Changed++
			}
			metrics.FilesTotal.WithLabelValues(class.String()).Inc()

			if class != ClassUnchanged && opts.CheckpointEvery > 0 {
				sinceCheckpoint++
				if sinceCheckpoint >= opts.CheckpointEvery && checkpoint != nil {
					if err := checkpoint(); err != nil {
						return err
					}
					sinceCheckpoint = 0
				}
			}
			return nil
		})
		if err != nil {
			return res, err
		}
	}

	tombstoned, err := tombstoneUnseen(m, seen, commitTimeNanos)
	if err != nil {
		return res, err
	}
	res.Deleted = tombstoned

	return res, nil
}

func logSkip(path string, err error) {
	if log != nil {
		log.Error("skipping %s: %v", path, err)
	}
}

// processFile handles one regular file: it streams the file's content
// through a scratch file while hashing it (I2: content hashed, not
// copied, to decide dedup), re-stats the file afterward to detect a
// concurrent modification race (the content read may not match what a
// second stat would now report, F2), classifies it against the manifest,
// and if anything changed, saves the new content (as a diff against the
// prior base when that is smaller, otherwise as a new base blob) and
// inserts a fresh manifest entry.
func processFile(store *engine.Store, m *manifest.Manifest, scratch *ioscratch.Area, path string, info os.FileInfo, commitTimeNanos int64, minPatchSavings float64) (Classification, error) {
	before := info
	plaintext, sha, after, err := readWithRaceCheck(scratch, path)
	if err != nil {
		return 0, err
	}
	if before.Size() != after.Size() || before.ModTime() != after.ModTime() {
		return 0, fmt.Errorf("%w: %s changed while being read", bkerrors.ErrFileRace, path)
	}

	var prior *manifest.Entry
	if e, err := m.Latest(path); err == nil {
		prior = &e
	}

	uid, gid, _ := statOwnership(after)

	class := classify(prior, after, uid, gid, sha)
	if class == ClassUnchanged {
		return class, nil
	}

	entry := manifest.Entry{
		Path:            path,
		CommitTimeNanos: commitTimeNanos,
		Mode:            uint32(after.Mode()),
		UID:             uid,
		GID:             gid,
		Size:            after.Size(),
		Mtime:           after.ModTime().UnixNano(),
	}

	entry.ContentSHA = [32]byte(sha)

	if class == ClassMetadataOnly {
		entry.ContentSHA = prior.ContentSHA
		entry.BlobAddr = prior.BlobAddr
		entry.IsDiff = prior.IsDiff
		entry.ParentSHA = prior.ParentSHA
		entry.WrappedKey = prior.WrappedKey
		entry.Nonce = prior.Nonce
		return class, m.Insert(entry)
	}

	// class == ClassChanged implies a non-tombstoned prior entry exists
	// (classify only returns ClassNew when prior is nil or a tombstone).
	// Diff against the prior version's full reconstructed plaintext, not
	// a single store.Load of prior's BlobAddr: when prior is itself a
	// diff entry, BlobAddr names a patch, not the prior content, so the
	// base for this diff has to come from walking prior's own chain.
	if class == ClassChanged {
		base, err := restore.Resolve(store, m, *prior)
		if err == nil {
			patch, derr := diffcodec.Diff(base, plaintext)
			if derr == nil && diffcodec.WorthStoringAsPatch(len(patch), len(plaintext), minPatchSavings) {
				if saved, serr := store.Save(patch); serr == nil {
					metrics.RecordDiffSavings(int64(len(plaintext)), int64(len(patch)))
					entry.BlobAddr = saved.SHA
					entry.IsDiff = true
					entry.ParentSHA = prior.ContentSHA
					entry.WrappedKey = saved.WrappedKey
					entry.Nonce = saved.Nonce
					return class, m.Insert(entry)
				}
			}
		}
	}

	saved, err := store.Save(plaintext)
	if err != nil {
		return class, err
	}
	entry.BlobAddr = saved.SHA
	entry.WrappedKey = saved.WrappedKey
	entry.Nonce = saved.Nonce
	return class, m.Insert(entry)
}

// readWithRaceCheck streams path's contents through a scratch file while
// hashing them, then returns the assembled plaintext, its content SHA,
// and a fresh os.FileInfo taken right after the read finished. The
// scratch file is removed before returning; engine.Store's []byte-based
// Save/Load boundary (DESIGN.md) means the plaintext still needs to end
// up in memory, but routing it through scratch first keeps the hashing
// and the read on the same streamed path every other package uses.
func readWithRaceCheck(scratch *ioscratch.Area, path string) ([]byte, blobstore.Hash, os.FileInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, blobstore.Hash{}, nil, err
	}
	defer f.Close()

	tmp, err := scratch.TempFile("snap")
	if err != nil {
		return nil, blobstore.Hash{}, nil, err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)
	defer tmp.Close()

	_, sha, err := ioscratch.CopyWithHash(tmp, f)
	if err != nil {
		return nil, blobstore.Hash{}, nil, err
	}

	after, err := os.Stat(path)
	if err != nil {
		return nil, blobstore.Hash{}, nil, err
	}

	if err := tmp.Sync(); err != nil {
		return nil, blobstore.Hash{}, nil, err
	}
	plaintext, err := os.ReadFile(tmpPath)
	if err != nil {
		return nil, blobstore.Hash{}, nil, err
	}

	return plaintext, blobstore.Hash(sha), after, nil
}

func excluded(path string, patterns []*regexp.Regexp) bool {
	for _, p := range patterns {
		if p.MatchString(path) {
			return true
		}
	}
	return false
}

// tombstoneUnseen records a deletion entry for every path the manifest
// knows about that wasn't touched by this walk.
func tombstoneUnseen(m *manifest.Manifest, seen map[string]bool, commitTimeNanos int64) (int, error) {
	paths, err := m.AllLatestPaths(commitTimeNanos - 1)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, p := range paths {
		if seen[p] {
			continue
		}
		if err := m.Tombstone(p, commitTimeNanos); err != nil {
			return count, err
		}
		count++
		metrics.FilesTotal.WithLabelValues(ClassDeleted.String()).Inc()
		if log != nil {
			log.Info("%s has been deleted", p)
		}
	}
	return count, nil
}
