package fsprobe

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wfsched/internal/errs"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestExistsAndSize(t *testing.T) {
	t.Parallel()
	p := writeFile(t, "out.csv", "a,b\n")
	assert.True(t, Exists(p))
	assert.False(t, Exists(p+".missing"))

	n, err := Size(p)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	_, err = Size(p + ".missing")
	assert.ErrorIs(t, err, errs.ErrNotFound)
	assert.True(t, Writable(p))
	assert.False(t, Writable(p+".missing"))
}

func TestModTimeCompare(t *testing.T) {
	t.Parallel()
	p := writeFile(t, "stamp", "x")
	mt := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, os.Chtimes(p, mt, mt))

	tests := []struct {
		op   Op
		ref  time.Time
		want bool
	}{
		{OpGE, mt, true},
		{OpGE, mt.Add(time.Hour), false},
		{OpLE, mt, true},
		{OpEQ, mt, true},
		{OpEQ, mt.Add(time.Second), false},
		{OpGT, mt.Add(-time.Minute), true},
		{OpLT, mt.Add(time.Minute), true},
		{OpLT, mt, false},
	}
	for _, tt := range tests {
		got, err := ModTimeCompare(p, tt.op, tt.ref)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "%s %s", tt.op, tt.ref)
	}

	_, err := ModTimeCompare(filepath.Dir(p), OpGE, mt)
	assert.ErrorIs(t, err, errs.ErrValidation)
	_, err = ModTimeCompare(p+".missing", OpGE, mt)
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestParseOp(t *testing.T) {
	t.Parallel()
	op, err := ParseOp("")
	require.NoError(t, err)
	assert.Equal(t, OpGE, op)
	op, err = ParseOp(" < ")
	require.NoError(t, err)
	assert.Equal(t, OpLT, op)
	_, err = ParseOp("!=")
	assert.ErrorIs(t, err, errs.ErrValidation)
}

func TestWaitReadyTimesOutOnMissingFile(t *testing.T) {
	t.Parallel()
	err := WaitReady(context.Background(), filepath.Join(t.TempDir(), "never"), WaitOptions{
		Timeout:  50 * time.Millisecond,
		Interval: 10 * time.Millisecond,
	})
	assert.ErrorIs(t, err, errs.ErrFileReadiness)
}

func TestWaitReadyWaitsForLockRelease(t *testing.T) {
	t.Parallel()
	p := writeFile(t, "busy", "x")
	checks := 0
	lc := LockCheckerFunc(func(string) (bool, error) {
		checks++
		return checks < 3, nil
	})
	err := WaitReady(context.Background(), p, WaitOptions{
		Timeout:  time.Second,
		Interval: 5 * time.Millisecond,
		Checker:  lc,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, checks)
}

func TestReadyTreatsLockCheckErrorAsUnlocked(t *testing.T) {
	t.Parallel()
	failing := LockCheckerFunc(func(string) (bool, error) {
		return false, os.ErrPermission
	})
	p := writeFile(t, "restricted", "x")
	assert.True(t, Ready(p, failing))
	assert.False(t, Ready(filepath.Join(t.TempDir(), "missing"), failing))

	err := WaitReady(context.Background(), p, WaitOptions{
		Timeout:  50 * time.Millisecond,
		Interval: 5 * time.Millisecond,
		Checker:  failing,
	})
	assert.NoError(t, err)
}

func TestWaitReadyPicksUpLateFile(t *testing.T) {
	t.Parallel()
	p := filepath.Join(t.TempDir(), "late")
	go func() {
		time.Sleep(30 * time.Millisecond)
		_ = os.WriteFile(p, []byte("done"), 0o644)
	}()
	err := WaitReady(context.Background(), p, WaitOptions{Timeout: 2 * time.Second, Interval: 10 * time.Millisecond})
	assert.NoError(t, err)
}

func TestWaitReadyHonorsContext(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := WaitReady(ctx, filepath.Join(t.TempDir(), "never"), WaitOptions{Timeout: time.Minute, Interval: time.Millisecond})
	assert.ErrorIs(t, err, context.Canceled)
}
