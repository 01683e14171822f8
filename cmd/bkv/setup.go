package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/mmp/bkv/blobstore"
	"github.com/mmp/bkv/bkerrors"
	"github.com/mmp/bkv/compress"
	"github.com/mmp/bkv/config"
	"github.com/mmp/bkv/crypto"
	"github.com/mmp/bkv/engine"
	"github.com/mmp/bkv/ioscratch"
	"github.com/mmp/bkv/manifest"
	"github.com/mmp/bkv/restore"
	"github.com/mmp/bkv/snapshot"
)

// runContext bundles everything a subcommand needs to operate on one
// backup set: its validated configuration, the compose-everything
// Store, a per-run scratch area, and the advisory lock held for the
// duration of the command.
type runContext struct {
	set     config.BackupSet
	store   *engine.Store
	scratch *ioscratch.Area
	lock    *config.RunLock
}

// openSet loads the configuration file, resolves setName to its
// BackupSet, builds the Store for its protocol/options, and acquires the
// scratch area and advisory run lock. Callers must release() when done.
func openSet(setName string) (*runContext, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	set, ok := cfg.Sets[setName]
	if !ok {
		return nil, fmt.Errorf("%w: no backup set named %q", bkerrors.ErrConfig, setName)
	}

	backend, err := buildBackend(set.Protocol)
	if err != nil {
		return nil, err
	}

	crypt, err := buildCrypto(set)
	if err != nil {
		return nil, err
	}

	engine.SetLogger(log)
	snapshot.SetLogger(log)
	restore.SetLogger(log)

	store := engine.NewStore(backend, compress.NewPipeline(set.Options.UseCompression), crypt)

	lock, err := config.AcquireLock(os.TempDir(), setName)
	if err != nil {
		return nil, err
	}

	scratch, err := ioscratch.Acquire(os.TempDir(), setName)
	if err != nil {
		_ = lock.Release()
		return nil, err
	}

	return &runContext{set: set, store: store, scratch: scratch, lock: lock}, nil
}

func (rc *runContext) release() {
	_ = rc.scratch.Release()
	_ = rc.lock.Release()
}

func buildBackend(p config.Protocol) (blobstore.Backend, error) {
	switch p.Type {
	case "local":
		return blobstore.NewLocal(p.Directory)
	case "gcs":
		return blobstore.NewGCS(context.Background(), blobstore.GCSOptions{
			BucketName:                p.Bucket,
			MaxUploadBytesPerSecond:   p.MaxUploadBytesPerSecond,
			MaxDownloadBytesPerSecond: p.MaxDownloadBytesPerSecond,
		})
	default:
		return nil, fmt.Errorf("%w: unrecognized protocol type %q", bkerrors.ErrConfig, p.Type)
	}
}

func buildCrypto(set config.BackupSet) (*crypto.Pipeline, error) {
	if !set.Options.UseEncryption {
		return crypto.NewPipeline(nil, nil), nil
	}
	priv, err := crypto.LoadPrivateKey(set.PrivateKeyFilename)
	if err != nil {
		return nil, err
	}
	return crypto.NewPipeline(crypto.PublicKeyFromPrivate(priv), priv), nil
}

// openManifest pulls down the set's last published manifest (if any)
// into the scratch area and opens it for querying/mutation. A set with
// no prior publication starts from an empty manifest.
func (rc *runContext) openManifest(setName string) (*manifest.Manifest, error) {
	path := rc.scratch.Path(setName + "-manifest.db")

	data, err := rc.store.LoadManifest(setName)
	switch {
	case err == nil:
		if err := os.WriteFile(path, data, 0600); err != nil {
			return nil, fmt.Errorf("%w: write local manifest copy: %v", bkerrors.ErrTransport, err)
		}
	case !isNotFound(err):
		return nil, err
	}

	return manifest.Open(path)
}

// publishManifest serializes m's backing file and publishes it through
// the Store, pruning old versions beyond the set's configured retention.
func (rc *runContext) publishManifest(setName string, m *manifest.Manifest, commitTimeNanos int64, maxVersions int) error {
	data, err := os.ReadFile(m.Path())
	if err != nil {
		return fmt.Errorf("%w: read local manifest copy: %v", bkerrors.ErrTransport, err)
	}
	return rc.store.SaveManifest(setName, commitTimeNanos, data, maxVersions)
}

func isNotFound(err error) bool {
	return errors.Is(err, bkerrors.ErrNotFound)
}

// parseTimeFlag parses a --before/--after value into Unix nanoseconds,
// returning def when s is empty. s may be an RFC3339 timestamp (spec.md
// §6's "Timestamps" are Unix nanoseconds; RFC3339 is the human-friendly
// surface form) or a raw integer count of Unix nanoseconds, for scripts
// that already have a manifest entry's exact commit time.
func parseTimeFlag(s string, def int64) (int64, error) {
	if s == "" {
		return def, nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: expected RFC3339 timestamp or Unix nanoseconds: %v", bkerrors.ErrConfig, s, err)
	}
	return t.UnixNano(), nil
}
