//go:build windows

package snapshot

import "os"

// Windows has no POSIX uid/gid; metadata restoration there is limited to
// mode and timestamps.
func statOwnership(info os.FileInfo) (uid, gid uint32, ok bool) {
	return 0, 0, false
}
