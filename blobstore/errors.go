package blobstore

import (
	"github.com/mmp/bkv/bkerrors"
)

// Re-exported for callers that only import blobstore; all are the same
// sentinels defined in bkerrors so errors.Is works across package
// boundaries.
var (
	ErrNotFound      = bkerrors.ErrNotFound
	ErrAlreadyExists = bkerrors.ErrAlreadyExists
	ErrCorrupt       = bkerrors.ErrCorrupt
	ErrTransport     = bkerrors.ErrTransport
)
