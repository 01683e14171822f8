// Package restore resolves a manifest entry back into file content and
// writes it to disk: following a chain of diffs back to a full base
// blob, applying each patch in turn, and then applying the entry's
// recorded mode, uid, gid, and mtime to the restored file.
package restore

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mmp/bkv/bkerrors"
	"github.com/mmp/bkv/blobstore"
	"github.com/mmp/bkv/diffcodec"
	"github.com/mmp/bkv/engine"
	"github.com/mmp/bkv/manifest"
	"github.com/mmp/bkv/util"
)

var log *util.Logger

// SetLogger installs the logger used by this package.
func SetLogger(l *util.Logger) {
	log = l
}

// Resolve reconstructs entry's plaintext content: it walks backward
// through entry's chain of ParentSHA links (via m, to find the ancestor
// manifest entries that stored each earlier version) until it reaches a
// full base blob, loads and decrypts every blob in the chain, then
// applies each patch forward in order. engine.Store.Load verifies each
// loaded blob's content address as it goes, so a corrupted link in the
// chain surfaces as bkerrors.ErrCorrupt rather than silently producing
// wrong output. Before returning, the fully reconstructed plaintext's
// SHA is checked against entry.ContentSHA, catching a bad diff chain
// (wrong base, patches applied out of order) that a per-blob address
// check alone would miss.
func Resolve(store *engine.Store, m *manifest.Manifest, entry manifest.Entry) ([]byte, error) {
	if entry.Tombstone {
		return nil, fmt.Errorf("%w: entry for %s is a tombstone", bkerrors.ErrNotFound, entry.Path)
	}

	chain, err := chainToBase(m, entry)
	if err != nil {
		return nil, err
	}

	plaintext, err := store.Load(blobstore.Hash(chain[0].BlobAddr), chain[0].WrappedKey, chain[0].Nonce)
	if err != nil {
		return nil, err
	}
	for _, link := range chain[1:] {
		patch, err := store.Load(blobstore.Hash(link.BlobAddr), link.WrappedKey, link.Nonce)
		if err != nil {
			return nil, err
		}
		plaintext, err = diffcodec.Patch(plaintext, patch)
		if err != nil {
			return nil, err
		}
	}

	if got := blobstore.Sum(plaintext); got != blobstore.Hash(entry.ContentSHA) {
		return nil, fmt.Errorf("%w: %s reconstructed to content addressed as %s, expected %x",
			bkerrors.ErrCorrupt, entry.Path, got, entry.ContentSHA)
	}
	return plaintext, nil
}

// chainToBase returns the sequence of entries from the full base blob up
// through entry itself, each one a patch against the one before it
// except the first.
func chainToBase(m *manifest.Manifest, entry manifest.Entry) ([]manifest.Entry, error) {
	chain := []manifest.Entry{entry}
	cur := entry
	for cur.ParentSHA != ([32]byte{}) {
		parent, err := findEntryBySHA(m, cur.Path, cur.ParentSHA)
		if err != nil {
			return nil, err
		}
		chain = append([]manifest.Entry{parent}, chain...)
		cur = parent
	}
	return chain, nil
}

// findEntryBySHA walks path's history to find the entry whose ContentSHA
// equals target. This is a linear scan of one file's history, which is
// small relative to the whole manifest.
func findEntryBySHA(m *manifest.Manifest, path string, target [32]byte) (manifest.Entry, error) {
	hist, err := m.History(path)
	if err != nil {
		return manifest.Entry{}, err
	}
	for _, e := range hist {
		if e.ContentSHA == target {
			return e, nil
		}
	}
	return manifest.Entry{}, fmt.Errorf("%w: no entry for %s has content %x", bkerrors.ErrCorrupt, path, target)
}

// WriteToDisk writes plaintext to destPath, creating parent directories
// as needed, then applies entry's recorded mode, ownership, and mtime.
func WriteToDisk(entry manifest.Entry, plaintext []byte, destPath string) error {
	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return fmt.Errorf("%w: %v", bkerrors.ErrTransport, err)
	}
	if err := os.WriteFile(destPath, plaintext, os.FileMode(entry.Mode)); err != nil {
		return fmt.Errorf("%w: %v", bkerrors.ErrTransport, err)
	}
	if err := os.Chmod(destPath, os.FileMode(entry.Mode)); err != nil {
		return fmt.Errorf("%w: %v", bkerrors.ErrTransport, err)
	}
	chownIfPossible(destPath, entry.UID, entry.GID)
	mtime := time.Unix(0, entry.Mtime)
	if err := os.Chtimes(destPath, mtime, mtime); err != nil {
		return fmt.Errorf("%w: %v", bkerrors.ErrTransport, err)
	}
	if log != nil {
		log.Debug("restored %s", destPath)
	}
	return nil
}
