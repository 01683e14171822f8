// Package engine implements the Backup Store facade that every other
// component talks to: Save/Load compose compression, encryption, and the
// underlying blobstore.Backend into one call, so snapshot and restore
// never touch those layers directly.
package engine

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/mmp/bkv/blobstore"
	"github.com/mmp/bkv/bkerrors"
	"github.com/mmp/bkv/compress"
	"github.com/mmp/bkv/crypto"
	"github.com/mmp/bkv/metrics"
	"github.com/mmp/bkv/util"
)

var log *util.Logger

// SetLogger installs the logger used by this package, following the
// teacher's package-level logger convention.
func SetLogger(l *util.Logger) {
	log = l
}

// Store composes the compression, encryption, and blob storage layers for
// one backup set.
type Store struct {
	Backend  blobstore.Backend
	Compress *compress.Pipeline
	Crypto   *crypto.Pipeline

	blobsWritten   int
	blobsDeduped   int
	bytesPlaintext int64
	bytesStored    int64
}

// NewStore returns a Store over the given backend, with compression and
// encryption configured per a backup set's options.
func NewStore(backend blobstore.Backend, comp *compress.Pipeline, crypt *crypto.Pipeline) *Store {
	return &Store{Backend: backend, Compress: comp, Crypto: crypt}
}

// SavedBlob is what the manifest needs to later reconstruct and decrypt a
// saved blob.
type SavedBlob struct {
	SHA        blobstore.Hash
	WrappedKey []byte
	Nonce      []byte
	Deduped    bool
}

// Save stores plaintext (either a full file's contents or a bsdiff patch
// against a prior version) and returns its address plus whatever key
// material the manifest needs to decrypt it later. The returned SHA
// always addresses plaintext, computed before compression or encryption,
// so dedup identity never changes when use_compression or use_encryption
// is toggled.
func (s *Store) Save(plaintext []byte) (SavedBlob, error) {
	sha := blobstore.Sum(plaintext)

	exists, err := s.Backend.Exists(sha)
	if err != nil {
		return SavedBlob{}, err
	}
	if exists {
		s.blobsDeduped++
		s.bytesPlaintext += int64(len(plaintext))
		metrics.BlobsDedupedTotal.Inc()
		metrics.BytesPlaintextTotal.Add(float64(len(plaintext)))
		return SavedBlob{SHA: sha, Deduped: true}, nil
	}

	tagged, err := s.Compress.Compress(plaintext)
	if err != nil {
		return SavedBlob{}, err
	}

	enc, err := s.Crypto.Encrypt(tagged)
	if err != nil {
		return SavedBlob{}, err
	}

	if err := s.Backend.Put(sha, enc.Ciphertext); err != nil {
		return SavedBlob{}, err
	}

	s.blobsWritten++
	s.bytesPlaintext += int64(len(plaintext))
	s.bytesStored += int64(len(enc.Ciphertext))

	metrics.BlobsWrittenTotal.Inc()
	metrics.BytesPlaintextTotal.Add(float64(len(plaintext)))
	metrics.BytesStoredTotal.Add(float64(len(enc.Ciphertext)))

	return SavedBlob{SHA: sha, WrappedKey: enc.WrappedKey, Nonce: enc.Nonce}, nil
}

// Load retrieves and decrypts/decompresses the blob at sha, verifying
// that its content hashes back to sha before returning it. A mismatch
// means the blob was corrupted at rest or the store's backend returned
// the wrong bytes, and is reported as bkerrors.ErrCorrupt.
func (s *Store) Load(sha blobstore.Hash, wrappedKey, nonce []byte) ([]byte, error) {
	r, err := s.Backend.Get(sha)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	ciphertext, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: read blob %s: %v", bkerrors.ErrTransport, sha, err)
	}

	tagged, err := s.Crypto.Decrypt(ciphertext, wrappedKey, nonce)
	if err != nil {
		return nil, err
	}

	plaintext, err := s.Compress.Decompress(tagged)
	if err != nil {
		return nil, err
	}

	if got := blobstore.Sum(plaintext); got != sha {
		return nil, fmt.Errorf("%w: blob %s decoded to content addressed as %s", bkerrors.ErrCorrupt, sha, got)
	}

	return plaintext, nil
}

// LoadManifest reads the newest published manifest file for setName and
// reverses the same decrypt-then-decompress steps applied to every blob,
// since a published manifest is stored encrypted/compressed exactly like
// one (spec.md §4.6: "loaded (decrypt+decompress) into a scratch area").
// An encryption-wrapped manifest carries its wrapped key and nonce as a
// length-prefixed header in front of the ciphertext, since there is no
// manifest entry of its own to hold them.
func (s *Store) LoadManifest(setName string) ([]byte, error) {
	r, err := s.Backend.ManifestGet(setName)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: read manifest: %v", bkerrors.ErrTransport, err)
	}

	ciphertext, wrappedKey, nonce, err := splitManifestHeader(raw)
	if err != nil {
		return nil, err
	}
	tagged, err := s.Crypto.Decrypt(ciphertext, wrappedKey, nonce)
	if err != nil {
		return nil, err
	}
	return s.Compress.Decompress(tagged)
}

// SaveManifest publishes a new manifest version, pruning older versions
// beyond maxVersions (0 meaning unlimited). data is compressed and
// encrypted exactly like a blob before publication.
func (s *Store) SaveManifest(setName string, commitTimeNanos int64, data []byte, maxVersions int) error {
	tagged, err := s.Compress.Compress(data)
	if err != nil {
		return err
	}
	enc, err := s.Crypto.Encrypt(tagged)
	if err != nil {
		return err
	}
	return s.Backend.ManifestPut(setName, commitTimeNanos, joinManifestHeader(enc), maxVersions)
}

// joinManifestHeader/splitManifestHeader prepend a manifest publication
// with its wrapped key and nonce, each length-prefixed, so a nil-key
// (unencrypted) manifest round-trips as two zero-length headers.
func joinManifestHeader(enc crypto.EncryptResult) []byte {
	buf := make([]byte, 0, 8+len(enc.WrappedKey)+len(enc.Nonce)+len(enc.Ciphertext))
	buf = appendLenPrefixed(buf, enc.WrappedKey)
	buf = appendLenPrefixed(buf, enc.Nonce)
	buf = append(buf, enc.Ciphertext...)
	return buf
}

func splitManifestHeader(raw []byte) (ciphertext, wrappedKey, nonce []byte, err error) {
	wrappedKey, rest, err := readLenPrefixed(raw)
	if err != nil {
		return nil, nil, nil, err
	}
	nonce, rest, err = readLenPrefixed(rest)
	if err != nil {
		return nil, nil, nil, err
	}
	return rest, wrappedKey, nonce, nil
}

func appendLenPrefixed(buf, field []byte) []byte {
	var lenBytes [4]byte
	binary.BigEndian.PutUint32(lenBytes[:], uint32(len(field)))
	buf = append(buf, lenBytes[:]...)
	return append(buf, field...)
}

func readLenPrefixed(buf []byte) (field, rest []byte, err error) {
	if len(buf) < 4 {
		return nil, nil, fmt.Errorf("%w: truncated manifest header", bkerrors.ErrCorrupt)
	}
	n := binary.BigEndian.Uint32(buf[:4])
	buf = buf[4:]
	if uint32(len(buf)) < n {
		return nil, nil, fmt.Errorf("%w: truncated manifest header", bkerrors.ErrCorrupt)
	}
	if n == 0 {
		return nil, buf, nil
	}
	return buf[:n], buf[n:], nil
}

// LogStats prints a summary of this run's dedup and byte savings, in the
// spirit of the teacher's per-backend LogStats methods.
func (s *Store) LogStats() {
	if log == nil {
		return
	}
	total := s.blobsWritten + s.blobsDeduped
	if total == 0 {
		return
	}
	log.Info("wrote %d new blobs, deduped %d of %d (%.1f%%)",
		s.blobsWritten, s.blobsDeduped, total, 100.*float64(s.blobsDeduped)/float64(total))
	if s.bytesPlaintext > 0 {
		log.Info("stored %s for %s plaintext processed", util.FmtBytes(s.bytesStored), util.FmtBytes(s.bytesPlaintext))
	}
}

// ReadAllFrom drains r into memory, reporting a read failure as
// bkerrors.ErrTransport. Nothing in this module calls it.
func ReadAllFrom(r io.Reader) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return nil, fmt.Errorf("%w: %v", bkerrors.ErrTransport, err)
	}
	return buf.Bytes(), nil
}
