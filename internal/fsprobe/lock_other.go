//go:build !unix && !windows

package fsprobe

import "os"

type platformLockChecker struct{}

func (platformLockChecker) Locked(string) (bool, error) { return false, nil }

func writable(path string) bool {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return false
	}
	_ = f.Close()
	return true
}
