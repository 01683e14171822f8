//go:build windows

package restore

// Windows has no POSIX uid/gid to restore.
func chownIfPossible(path string, uid, gid uint32) {}
