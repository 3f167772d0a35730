//go:build !windows

package audit

import "syscall"

// flockTryLock acquires an exclusive file lock without blocking. Returns
// EWOULDBLOCK when another process holds it.
func flockTryLock(fd uintptr) error {
	return syscall.Flock(int(fd), syscall.LOCK_EX|syscall.LOCK_NB)
}

// flockUnlock releases the file lock (Unix implementation using flock).
func flockUnlock(fd uintptr) error {
	return syscall.Flock(int(fd), syscall.LOCK_UN)
}
