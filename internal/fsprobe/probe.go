// Package fsprobe answers simple questions about files on disk: does it exist,
// how big is it, can we write it, is another process holding it, and how does
// its modification time compare to a reference.
package fsprobe

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"strings"
	"time"

	"wfsched/internal/errs"
)

const (
	DefaultReadyTimeout  = 60 * time.Second
	DefaultReadyInterval = time.Second
)

// LockChecker reports whether another process holds path exclusively.
// A missing file is never locked.
type LockChecker interface {
	Locked(path string) (bool, error)
}

// LockCheckerFunc adapts a function to LockChecker.
type LockCheckerFunc func(path string) (bool, error)

func (f LockCheckerFunc) Locked(path string) (bool, error) { return f(path) }

// DefaultLockChecker returns the checker for the running platform.
func DefaultLockChecker() LockChecker { return platformLockChecker{} }

func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Size returns the file size in bytes. A missing file is NotFound.
func Size(path string) (int64, error) {
	st, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, errs.NotFound("file %q", path)
		}
		return 0, err
	}
	return st.Size(), nil
}

// Writable reports whether the current process may write path.
func Writable(path string) bool {
	if !Exists(path) {
		return false
	}
	return writable(path)
}

// Op is a modification time comparison operator.
type Op string

const (
	OpGE Op = ">="
	OpLE Op = "<="
	OpEQ Op = "=="
	OpGT Op = ">"
	OpLT Op = "<"
)

func ParseOp(s string) (Op, error) {
	switch op := Op(strings.TrimSpace(s)); op {
	case OpGE, OpLE, OpEQ, OpGT, OpLT:
		return op, nil
	case "":
		return OpGE, nil
	default:
		return "", errs.Validation("unsupported operator %q (use >=, <=, ==, > or <)", s)
	}
}

// ModTimeCompare evaluates "mtime(path) op ref". The path must be a regular file.
// Times are compared at second precision.
func ModTimeCompare(path string, op Op, ref time.Time) (bool, error) {
	st, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, errs.NotFound("file %q", path)
		}
		return false, err
	}
	if !st.Mode().IsRegular() {
		return false, errs.Validation("%q is not a regular file", path)
	}
	mt := st.ModTime().Truncate(time.Second)
	ref = ref.Truncate(time.Second)
	switch op {
	case OpGE:
		return !mt.Before(ref), nil
	case OpLE:
		return !mt.After(ref), nil
	case OpEQ:
		return mt.Equal(ref), nil
	case OpGT:
		return mt.After(ref), nil
	case OpLT:
		return mt.Before(ref), nil
	default:
		return false, errs.Validation("unsupported operator %q", op)
	}
}

// Ready reports whether path exists and is not exclusively locked. Only a
// positive lock answer holds the file back: a checker error such as EACCES
// on open counts as unlocked, so an unreadable file does not wait forever.
func Ready(path string, lc LockChecker) bool {
	if !Exists(path) {
		return false
	}
	if lc == nil {
		lc = DefaultLockChecker()
	}
	locked, err := lc.Locked(path)
	if err != nil {
		return true
	}
	return !locked
}

// WaitOptions tunes WaitReady. Zero values use the package defaults.
type WaitOptions struct {
	Timeout  time.Duration
	Interval time.Duration
	Checker  LockChecker
}

// WaitReady polls path until it is Ready, the timeout elapses (FileReadiness
// error) or ctx is done.
func WaitReady(ctx context.Context, path string, o WaitOptions) error {
	if o.Timeout <= 0 {
		o.Timeout = DefaultReadyTimeout
	}
	if o.Interval <= 0 {
		o.Interval = DefaultReadyInterval
	}
	deadline := time.Now().Add(o.Timeout)
	t := time.NewTicker(o.Interval)
	defer t.Stop()
	for {
		if Ready(path, o.Checker) {
			return nil
		}
		if !time.Now().Before(deadline) {
			return errs.FileReadiness("%s not ready after %s", path, o.Timeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}
