//go:build !windows

package snapshot

import (
	"os"
	"syscall"
)

// statOwnership extracts the owning uid/gid from a *syscall.Stat_t, which
// os.FileInfo.Sys() returns on Unix-like platforms. ok is false if the
// underlying Sys() value isn't the expected type (e.g. running against a
// synthetic fs.FileInfo in a test).
func statOwnership(info os.FileInfo) (uid, gid uint32, ok bool) {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, 0, false
	}
	return st.Uid, st.Gid, true
}
