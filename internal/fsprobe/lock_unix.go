//go:build unix

package fsprobe

import (
	"errors"
	"io/fs"
	"os"

	"golang.org/x/sys/unix"
)

// platformLockChecker tries a non-blocking exclusive flock on a fresh
// descriptor. EWOULDBLOCK means someone else holds a lock on the file.
type platformLockChecker struct{}

func (platformLockChecker) Locked(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	defer f.Close()

	fd := int(f.Fd())
	err = unix.Flock(fd, unix.LOCK_EX|unix.LOCK_NB)
	switch {
	case err == nil:
		_ = unix.Flock(fd, unix.LOCK_UN)
		return false, nil
	case errors.Is(err, unix.EWOULDBLOCK):
		return true, nil
	default:
		return false, err
	}
}

func writable(path string) bool {
	return unix.Access(path, unix.W_OK) == nil
}
