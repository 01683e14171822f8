// memory.go adapts the teacher's storage/memory.go in-RAM backend: it
// exists purely so that engine/manifest/snapshot/restore tests don't need
// a real filesystem or object store to exercise the Backend contract.
package blobstore

import (
	"bytes"
	"fmt"
	"io"
	"io/ioutil"
	"sort"
	"strings"
	"sync"

	"github.com/mmp/bkv/bkerrors"
)

type manifestVersion struct {
	data []byte
	ts   int64
}

// Memory is a Backend that keeps everything in process memory.
type Memory struct {
	mu        sync.Mutex
	blobs     map[Hash][]byte
	manifests map[string][]manifestVersion // setName -> versions, newest last
}

func NewMemory() *Memory {
	return &Memory{
		blobs:     make(map[Hash][]byte),
		manifests: make(map[string][]manifestVersion),
	}
}

func (m *Memory) String() string { return "memory" }

func (m *Memory) Exists(hash Hash) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.blobs[hash]
	return ok, nil
}

func (m *Memory) Put(hash Hash, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.blobs[hash]; ok {
		if bytes.Equal(existing, data) {
			return nil
		}
		return fmt.Errorf("%w: %s: existing blob content differs", bkerrors.ErrCorrupt, hash)
	}
	dup := make([]byte, len(data))
	copy(dup, data)
	m.blobs[hash] = dup
	return nil
}

func (m *Memory) Get(hash Hash) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.blobs[hash]
	if !ok {
		return nil, fmt.Errorf("%w: %s", bkerrors.ErrNotFound, hash)
	}
	return ioutil.NopCloser(bytes.NewReader(data)), nil
}

func (m *Memory) List(prefix string) ([]Hash, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Hash
	for h := range m.blobs {
		if strings.HasPrefix(h.String(), prefix) {
			out = append(out, h)
		}
	}
	return out, nil
}

func (m *Memory) Delete(hash Hash) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blobs, hash)
	return nil
}

func (m *Memory) ManifestPut(setName string, ts int64, data []byte, maxVersions int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	dup := make([]byte, len(data))
	copy(dup, data)
	versions := append(m.manifests[setName], manifestVersion{data: dup, ts: ts})
	sort.Slice(versions, func(i, j int) bool { return versions[i].ts < versions[j].ts })
	if maxVersions > 0 && len(versions) > maxVersions {
		versions = versions[len(versions)-maxVersions:]
	}
	m.manifests[setName] = versions
	return nil
}

func (m *Memory) ManifestGet(setName string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	versions := m.manifests[setName]
	if len(versions) == 0 {
		return nil, fmt.Errorf("%w: no manifest for %s", bkerrors.ErrNotFound, setName)
	}
	latest := versions[len(versions)-1]
	return ioutil.NopCloser(bytes.NewReader(latest.data)), nil
}

func (m *Memory) ManifestVersions(setName string) ([]ManifestVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	versions := m.manifests[setName]
	out := make([]ManifestVersion, len(versions))
	for i, v := range versions {
		out[len(versions)-1-i] = ManifestVersion{TimestampNanos: v.ts}
	}
	return out, nil
}
