// local.go implements Backend over a local directory, using the
// stage-then-rename publication idiom the teacher uses in storage/disk.go
// (there: pack/index files written under a temp name and only linked into
// the index once fully flushed). Blobs live under
// <root>/blobs/<sha[0:2]>/<sha[2:]>, and each set's manifest versions
// under <root>/manifests/<set>/manifest.<unix-nanos>, with a "manifest"
// symlink in the same directory naming the newest; nothing is stored
// directly under <root>.
package blobstore

import (
	"bytes"
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/mmp/bkv/bkerrors"
)

// Local is a Backend that stores blobs and manifest versions under a
// single root directory on local (or network-mounted) disk.
type Local struct {
	root string
}

// NewLocal returns a Local backend rooted at dir, creating the "blobs"
// and "manifests" subdirectories if this is a fresh store.
func NewLocal(dir string) (*Local, error) {
	for _, sub := range []string{"blobs", "manifests"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0700); err != nil {
			return nil, fmt.Errorf("%w: %v", bkerrors.ErrTransport, err)
		}
	}
	return &Local{root: dir}, nil
}

func (l *Local) String() string {
	return "local: " + l.root
}

func (l *Local) blobPath(hash Hash) string {
	hex := hash.String()
	return filepath.Join(l.root, "blobs", hex[:2], hex[2:])
}

func (l *Local) Exists(hash Hash) (bool, error) {
	_, err := os.Stat(l.blobPath(hash))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("%w: %v", bkerrors.ErrTransport, err)
}

func (l *Local) Put(hash Hash, data []byte) error {
	dest := l.blobPath(hash)
	if existing, err := ioutil.ReadFile(dest); err == nil {
		if bytes.Equal(existing, data) {
			// Idempotent re-Put of identical content (I6-style
			// tolerance scenario 6 in spec.md §8); nothing to do.
			return nil
		}
		return fmt.Errorf("%w: %s: existing blob content differs", bkerrors.ErrCorrupt, hash)
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("%w: %v", bkerrors.ErrTransport, err)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0700); err != nil {
		return fmt.Errorf("%w: %v", bkerrors.ErrTransport, err)
	}
	return stageThenRename(filepath.Dir(dest), dest, data)
}

func (l *Local) Get(hash Hash) (io.ReadCloser, error) {
	f, err := os.Open(l.blobPath(hash))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", bkerrors.ErrNotFound, hash)
		}
		return nil, fmt.Errorf("%w: %v", bkerrors.ErrTransport, err)
	}
	return f, nil
}

func (l *Local) List(prefix string) ([]Hash, error) {
	var out []Hash
	blobsDir := filepath.Join(l.root, "blobs")
	err := filepath.Walk(blobsDir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		rel, err := filepath.Rel(blobsDir, path)
		if err != nil {
			return err
		}
		hex := strings.ReplaceAll(rel, string(filepath.Separator), "")
		if !strings.HasPrefix(hex, prefix) {
			return nil
		}
		h, err := HashFromHex(hex)
		if err != nil {
			return nil // skip anything that isn't a blob file
		}
		out = append(out, h)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", bkerrors.ErrTransport, err)
	}
	return out, nil
}

func (l *Local) Delete(hash Hash) error {
	err := os.Remove(l.blobPath(hash))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: %v", bkerrors.ErrTransport, err)
	}
	return nil
}

func (l *Local) manifestDir(setName string) string {
	return filepath.Join(l.root, "manifests", setName)
}

func (l *Local) manifestVersionPath(setName string, ts int64) string {
	return filepath.Join(l.manifestDir(setName), fmt.Sprintf("manifest.%d", ts))
}

func (l *Local) manifestAliasPath(setName string) string {
	return filepath.Join(l.manifestDir(setName), "manifest")
}

func (l *Local) ManifestPut(setName string, ts int64, data []byte, maxVersions int) error {
	dir := l.manifestDir(setName)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("%w: %v", bkerrors.ErrTransport, err)
	}

	dest := l.manifestVersionPath(setName, ts)
	if err := stageThenRename(dir, dest, data); err != nil {
		return err
	}

	alias := l.manifestAliasPath(setName)
	tmpAlias := alias + fmt.Sprintf(".tmp-%d", ts)
	if err := os.Symlink(filepath.Base(dest), tmpAlias); err != nil {
		return fmt.Errorf("%w: %v", bkerrors.ErrTransport, err)
	}
	if err := os.Rename(tmpAlias, alias); err != nil {
		return fmt.Errorf("%w: %v", bkerrors.ErrTransport, err)
	}

	return l.pruneManifestVersions(setName, maxVersions)
}

func (l *Local) pruneManifestVersions(setName string, maxVersions int) error {
	if maxVersions <= 0 {
		return nil
	}
	versions, err := l.ManifestVersions(setName)
	if err != nil {
		return err
	}
	if len(versions) <= maxVersions {
		return nil
	}
	for _, v := range versions[maxVersions:] {
		path := l.manifestVersionPath(setName, v.TimestampNanos)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("%w: %v", bkerrors.ErrTransport, err)
		}
	}
	return nil
}

func (l *Local) ManifestGet(setName string) (io.ReadCloser, error) {
	f, err := os.Open(l.manifestAliasPath(setName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: no manifest for %s", bkerrors.ErrNotFound, setName)
		}
		return nil, fmt.Errorf("%w: %v", bkerrors.ErrTransport, err)
	}
	return f, nil
}

func (l *Local) ManifestVersions(setName string) ([]ManifestVersion, error) {
	dir := l.manifestDir(setName)
	entries, err := ioutil.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", bkerrors.ErrTransport, err)
	}

	var out []ManifestVersion
	for _, e := range entries {
		if e.IsDir() || e.Name() == "manifest" || !strings.HasPrefix(e.Name(), "manifest.") {
			continue
		}
		ts, err := strconv.ParseInt(strings.TrimPrefix(e.Name(), "manifest."), 10, 64)
		if err != nil {
			continue
		}
		out = append(out, ManifestVersion{TimestampNanos: ts, PublishedAt: e.ModTime()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TimestampNanos > out[j].TimestampNanos })
	return out, nil
}

// stageThenRename writes data to a temp file in dir and renames it onto
// dest, guaranteeing that a reader either sees no file or the complete
// contents — never a partial write (spec.md §4.1, §6).
func stageThenRename(dir, dest string, data []byte) error {
	tmp, err := ioutil.TempFile(dir, ".stage-*")
	if err != nil {
		return fmt.Errorf("%w: %v", bkerrors.ErrTransport, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%w: %v", bkerrors.ErrTransport, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%w: %v", bkerrors.ErrTransport, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: %v", bkerrors.ErrTransport, err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: %v", bkerrors.ErrTransport, err)
	}
	return nil
}
