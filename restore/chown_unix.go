//go:build !windows

package restore

import "os"

// chownIfPossible applies the recorded uid/gid, best-effort: a restore
// run not executed as root commonly can't chown to the original owner,
// and that shouldn't abort an otherwise-successful restore.
func chownIfPossible(path string, uid, gid uint32) {
	_ = os.Chown(path, int(uid), int(gid))
}
