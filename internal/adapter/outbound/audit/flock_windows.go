//go:build windows

package audit

import "golang.org/x/sys/windows"

// flockTryLock acquires an exclusive file lock without blocking, failing
// immediately when another process holds it. Matches Unix flock(LOCK_NB)
// behavior.
func flockTryLock(fd uintptr) error {
	var ol windows.Overlapped
	return windows.LockFileEx(windows.Handle(fd),
		windows.LOCKFILE_EXCLUSIVE_LOCK|windows.LOCKFILE_FAIL_IMMEDIATELY, 0, 1, 0, &ol)
}

// flockUnlock releases the file lock on Windows using UnlockFileEx.
func flockUnlock(fd uintptr) error {
	var ol windows.Overlapped
	return windows.UnlockFileEx(windows.Handle(fd), 0, 1, 0, &ol)
}
