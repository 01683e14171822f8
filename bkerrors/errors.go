// Package bkerrors defines the error kinds used throughout the backup
// engine (spec.md §7). Callers distinguish kinds with errors.Is against
// the sentinels below; wrapped errors carry the offending resource via
// %w so the original cause survives for logging.
package bkerrors

import "errors"

var (
	// ErrNotFound means the requested blob or manifest version does not
	// exist in the backend.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is benign: a Put of byte-identical content that's
	// already stored. Put() swallows this; it's only surfaced when the
	// existing payload differs, in which case ErrCorrupt is returned
	// instead.
	ErrAlreadyExists = errors.New("already exists")

	// ErrTransport covers backend I/O failures (disk errors, network
	// errors from an object-store client).
	ErrTransport = errors.New("transport error")

	// ErrCorrupt means a blob's stored bytes don't hash to the address
	// they're stored under, or a stored payload can't be decoded. A
	// failed authenticated decryption is ErrCryptoAuth instead.
	ErrCorrupt = errors.New("corrupt")

	// ErrCryptoAuth means unwrapping a per-blob key or authenticating a
	// ciphertext failed; fatal at run start (wrong key), per-file
	// otherwise.
	ErrCryptoAuth = errors.New("crypto authentication failed")

	// ErrFileRace means a file's content changed between the time it was
	// hashed and the time its bytes were durably staged (F2).
	ErrFileRace = errors.New("file changed during backup")

	// ErrConfig means the configuration file is invalid or missing
	// required fields; fatal at run start.
	ErrConfig = errors.New("invalid configuration")

	// ErrExclusion names the excluded-path signal (not a failure). The
	// snapshot walk skips excluded paths directly without producing it,
	// and no function in this module returns it.
	ErrExclusion = errors.New("path excluded")

	// ErrCancelRequested names a request to stop a run. No code in this
	// module produces it: a backup run has no cancellation path.
	ErrCancelRequested = errors.New("cancel requested")

	// ErrAlreadyRunning means a concurrent backup holds the advisory
	// lock for this set.
	ErrAlreadyRunning = errors.New("backup already running for this set")
)
