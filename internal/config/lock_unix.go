//go:build unix

package config

import (
	"os"
	"syscall"
)

// lockFileExclusive blocks until f holds an exclusive flock.
func lockFileExclusive(f *os.File) error {
	return syscall.Flock(int(f.Fd()), syscall.LOCK_EX)
}

func unlockFile(f *os.File) {
	_ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
}
