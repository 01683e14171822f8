package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/mmp/bkv/bkerrors"
)

// RunLock is an advisory, O_EXCL-created lock file held for the duration
// of one backup run on a given set. A second concurrent run against the
// same set fails fast with bkerrors.ErrAlreadyRunning rather than
// corrupting the manifest with interleaved writes.
type RunLock struct {
	path string
}

// AcquireLock creates <scratchRoot>/<setName>.lock, failing if it already
// exists.
func AcquireLock(scratchRoot, setName string) (*RunLock, error) {
	path := filepath.Join(scratchRoot, setName+".lock")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("%w: a backup for %q is already running (lock file %s)", bkerrors.ErrAlreadyRunning, setName, path)
		}
		return nil, fmt.Errorf("%w: create lock file: %v", bkerrors.ErrConfig, err)
	}
	f.Close()
	return &RunLock{path: path}, nil
}

// Release removes the lock file.
func (l *RunLock) Release() error {
	if l == nil {
		return nil
	}
	return os.Remove(l.path)
}
