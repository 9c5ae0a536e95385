package logx

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerWritesFieldsInOrder(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "debug").With(String("job", "nightly"))

	log.Warn("task failed", Int("attempt", 2), String("job", "override"), Err(errors.New("boom")))

	var m map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &m))
	assert.Equal(t, "task failed", m["message"])
	assert.Equal(t, "warn", m["level"])
	assert.Equal(t, "override", m["job"])
	assert.EqualValues(t, 2, m["attempt"])
	assert.Equal(t, "boom", m["err"])
}

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "warn")

	log.Info("hidden")
	assert.Zero(t, buf.Len())
	assert.False(t, log.Enabled(LevelDebug))
	assert.True(t, log.Enabled(LevelError))
}

func TestZeroLoggerIsSafe(t *testing.T) {
	var log Logger
	assert.True(t, log.IsZero())
	log.Error("nothing happens")
	assert.False(t, Nop().IsZero())
}

func TestValidLevel(t *testing.T) {
	for _, lvl := range []string{"", "debug", "INFO", " warn ", "error"} {
		assert.True(t, ValidLevel(lvl), lvl)
	}
	assert.False(t, ValidLevel("verbose"))
}

func TestServiceFileSinkSurvivesLevelChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wfsched.log")
	svc, log := New(Config{Level: "info", File: FileConfig{Enabled: true, Path: path}})
	t.Cleanup(func() { _ = svc.Close() })

	log.Debug("dropped")
	log.Info("first", JobID("nightly"))
	f := svc.file

	require.NoError(t, svc.Apply(Config{Level: "debug", File: FileConfig{Enabled: true, Path: path}}))
	assert.Same(t, f, svc.file, "same path keeps the handle")
	log.Debug("second")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &m))
	assert.Equal(t, "first", m["message"])
	assert.Equal(t, "nightly", m[KeyJobID])
}

func TestServiceApplyReportsBadFile(t *testing.T) {
	svc, _ := New(Config{Level: "info"})
	err := svc.Apply(Config{File: FileConfig{Enabled: true, Path: filepath.Join(t.TempDir(), "missing", "x.log")}})
	require.Error(t, err)
	assert.Nil(t, svc.file)
	assert.NoError(t, svc.Close())
}
