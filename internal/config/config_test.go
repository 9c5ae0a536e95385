package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wfsched/internal/errs"
	"wfsched/internal/fsprobe"
	"wfsched/internal/task/trigger"
)

const sampleYAML = `
logging:
  level: debug
  console: false
scheduler:
  timezone: Europe/Berlin
  catch_up_limit: 50
executor:
  max_threads: 4
job_defaults:
  misfire_grace_time: 30
  coalesce: true
storage:
  url: sqlite:///jobs.sqlite
workflow:
  readiness_timeout: 10s
workflows:
  - id: nightly
    tasks:
      - id: extract
        command: /opt/etl/extract
        args: ["--day", "today"]
        retry_count: 2
        retry_delay: 5
        continue_on_failure: false
        output_files: [/data/out.csv]
jobs:
  - id: nightly-run
    kind: workflow
    args: [nightly]
    trigger: {type: cron, day_of_week: "mon-fri", hour: 2, minute: 30}
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func noEnv(string) string { return "" }

func TestParseYAML(t *testing.T) {
	t.Parallel()
	m := NewManager(writeFile(t, "wfsched.yaml", sampleYAML))
	m.SetEnv(noEnv)

	cfg, err := m.Parse()
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.False(t, cfg.Logging.Console)
	assert.Equal(t, "Europe/Berlin", cfg.Scheduler.Timezone)
	assert.True(t, cfg.Scheduler.AutostartEnabled())
	assert.Equal(t, 4, cfg.Executor.MaxThreads)
	assert.Equal(t, "127.0.0.1:8080", cfg.HTTP.Addr, "untouched defaults survive")

	require.Len(t, cfg.Workflows, 1)
	assert.Equal(t, []string{"--day", "today"}, cfg.Workflows[0].Tasks[0].Args)
	require.Len(t, cfg.Jobs, 1)
	assert.Equal(t, trigger.KindCron, cfg.Jobs[0].Trigger.Type)
	assert.Equal(t, 30, cfg.Jobs[0].Trigger.Minute)

	sc, err := cfg.Storage.Resolve()
	require.NoError(t, err)
	assert.Equal(t, "sqlite", sc.Driver)
	assert.Equal(t, "jobs.sqlite", sc.Path)

	ro, err := cfg.Workflow.Readiness()
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, ro.Timeout)
	assert.Equal(t, fsprobe.DefaultReadyInterval, ro.Interval)

	s := cfg.SchedulerConfig()
	assert.Equal(t, 30, s.Defaults.MisfireGraceTime)
	assert.True(t, s.Defaults.Coalesce)
	assert.Equal(t, 50, s.CatchUpLimit)
}

func TestParseJSONRejectsUnknownAndTrailing(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"unknown field":  `{"logging": {"level": "info"}, "telegram": {}}`,
		"trailing data":  `{"logging": {"level": "info"}} {}`,
		"nested unknown": `{"storage": {"driver": "sqlite", "path": "x", "bogus": 1}}`,
	}
	for name, body := range cases {
		name, body := name, body
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			m := NewManager(writeFile(t, "wfsched.json", body))
			m.SetEnv(noEnv)
			_, err := m.Parse()
			require.Error(t, err)
			assert.ErrorIs(t, err, errs.ErrValidation)
		})
	}
}

func TestDecodeYAMLEdgeCases(t *testing.T) {
	t.Parallel()

	var cfg Config
	require.NoError(t, Decode("empty.yaml", []byte("# nothing yet\n"), &cfg))

	cfg = Config{}
	body := "jobs:\n  - id: once\n    kind: shell\n    args: [\"true\"]\n    trigger: {type: date, run_date: 2030-01-01 10:00:00}\n"
	require.NoError(t, Decode("date.yaml", []byte(body), &cfg))
	require.Len(t, cfg.Jobs, 1)
	assert.Equal(t, "2030-01-01 10:00:00", cfg.Jobs[0].Trigger.RunDate)

	for name, body := range map[string]string{
		"two documents":   "logging: {level: info}\n---\nlogging: {level: debug}\n",
		"non-string key":  "workflows:\n  - id: a\n    tasks: []\n    7: x\n",
		"unknown section": "telegram: {token: x}\n",
	} {
		err := Decode(name+".yaml", []byte(body), &Config{})
		assert.ErrorIs(t, err, errs.ErrValidation, name)
	}
}

func TestYAMLRunDateUsesSchedulerTimezone(t *testing.T) {
	t.Parallel()
	body := `
scheduler:
  timezone: Asia/Tokyo
jobs:
  - id: once
    kind: shell
    args: ["true"]
    trigger: {type: date, run_date: 2030-01-01 10:00:00}
`
	m := NewManager(writeFile(t, "wfsched.yaml", body))
	m.SetEnv(noEnv)
	cfg, err := m.Parse()
	require.NoError(t, err)
	require.Len(t, cfg.Jobs, 1)
	assert.Equal(t, "2030-01-01 10:00:00", cfg.Jobs[0].Trigger.RunDate)

	tokyo, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)
	trig, err := trigger.Parse(cfg.Jobs[0].Trigger, tokyo)
	require.NoError(t, err)
	d, ok := trig.(trigger.Date)
	require.True(t, ok)
	assert.True(t, d.RunAt.Equal(time.Date(2030, 1, 1, 10, 0, 0, 0, tokyo)), d.RunAt.String())
}

func TestYAMLMergeKeys(t *testing.T) {
	t.Parallel()
	body := `
workflows:
  - id: a
    tasks:
      - &base {id: one, command: "true", retry_count: 2}
      - <<: *base
        id: two
`
	var cfg Config
	require.NoError(t, Decode("merge.yaml", []byte(body), &cfg))
	require.Len(t, cfg.Workflows, 1)
	tasks := cfg.Workflows[0].Tasks
	require.Len(t, tasks, 2)
	assert.Equal(t, "two", tasks[1].ID)
	assert.Equal(t, "true", tasks[1].Command)
	assert.Equal(t, 2, tasks[1].RetryCount)
}

func TestEnvOverrides(t *testing.T) {
	t.Parallel()
	env := map[string]string{
		EnvDBURL:        "postgres://sched@db/wfsched",
		EnvMaxThreads:   "20",
		EnvMaxProcesses: "2",
		EnvTimezone:     "Asia/Tokyo",
		EnvLogLevel:     "warn",
	}
	m := NewManager(writeFile(t, "wfsched.yaml", sampleYAML))
	m.SetEnv(func(k string) string { return env[k] })

	cfg, err := m.Parse()
	require.NoError(t, err)
	assert.Equal(t, 20, cfg.Executor.MaxThreads)
	assert.Equal(t, 2, cfg.Executor.MaxProcesses)
	assert.Equal(t, "Asia/Tokyo", cfg.Scheduler.Timezone)
	assert.Equal(t, "warn", cfg.Logging.Level)

	sc, err := cfg.Storage.Resolve()
	require.NoError(t, err)
	assert.Equal(t, "postgres", sc.Driver)
	assert.Equal(t, "postgres://sched@db/wfsched", sc.DSN)

	ec := cfg.Executor.EngineConfig()
	assert.Equal(t, 20, ec.DefaultWorkers)
	assert.Equal(t, 2, ec.IsolatedWorkers)
}

func TestEnvOverrideRejectsBadNumber(t *testing.T) {
	t.Parallel()
	cfg := Default()
	err := cfg.ApplyEnv(func(k string) string {
		if k == EnvMaxThreads {
			return "many"
		}
		return ""
	})
	assert.ErrorIs(t, err, errs.ErrValidation)
}

func TestNoFileUsesDefaults(t *testing.T) {
	t.Parallel()
	m := NewManager("")
	m.SetEnv(noEnv)
	cfg, err := m.Load()
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Same(t, cfg, m.Get())
}

func TestValidate(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"log level", func(c *Config) { c.Logging.Level = "loud" }},
		{"log file path", func(c *Config) { c.Logging.File.Enabled = true }},
		{"timezone", func(c *Config) { c.Scheduler.Timezone = "Mars/Olympus" }},
		{"catch up", func(c *Config) { c.Scheduler.CatchUpLimit = -1 }},
		{"threads", func(c *Config) { c.Executor.MaxThreads = -3 }},
		{"pool", func(c *Config) { c.JobDefaults.Pool = "gpu" }},
		{"storage driver", func(c *Config) { c.Storage = StorageConfig{Driver: "mongo"} }},
		{"sqlite path", func(c *Config) { c.Storage = StorageConfig{Driver: "sqlite"} }},
		{"postgres dsn", func(c *Config) { c.Storage = StorageConfig{Driver: "postgres"} }},
		{"url scheme", func(c *Config) { c.Storage.URL = "redis://x" }},
		{"busy timeout", func(c *Config) { c.Storage.BusyTimeout = "soon" }},
		{"readiness", func(c *Config) { c.Workflow.ReadinessInterval = "-1s" }},
		{"http timeout", func(c *Config) { c.HTTP.ReadTimeout = "x" }},
		{"cors origin", func(c *Config) { c.HTTP.CORSOrigins = []string{" "} }},
		{"workflow", func(c *Config) { c.Workflows = append(c.Workflows, c.Workflows[0]) }},
		{"seed job id", func(c *Config) { c.Jobs[0].ID = "" }},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := Default()
			require.NoError(t, Decode("x.yaml", []byte(sampleYAML), cfg))
			require.NoError(t, cfg.Validate())
			tc.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), errs.ErrValidation)
		})
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	oldCfg := Default()
	require.NoError(t, Decode("x.yaml", []byte(sampleYAML), oldCfg))
	newCfg := Default()
	require.NoError(t, Decode("x.yaml", []byte(sampleYAML), newCfg))

	changed, _, wf := SummarizeConfigChange(oldCfg, newCfg)
	assert.Empty(t, changed)
	assert.Empty(t, wf)

	newCfg.Logging.Level = "warn"
	newCfg.Executor.MaxThreads = 8
	newCfg.Workflows[0].Tasks[0].RetryCount = 5
	changed, attrs, wf := SummarizeConfigChange(oldCfg, newCfg)
	assert.Equal(t, []string{"executor", "logging", "workflows"}, changed)
	assert.NotEmpty(t, attrs)
	assert.Equal(t, []string{"nightly"}, wf)

	newCfg = Default()
	require.NoError(t, Decode("x.yaml", []byte(sampleYAML), newCfg))
	newCfg.HTTP.CORSOrigins = []string{"https://ops.example.com"}
	changed, _, _ = SummarizeConfigChange(oldCfg, newCfg)
	assert.Equal(t, []string{"http"}, changed)
}

func TestWatchPublishesValidReloads(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "wfsched.yaml", sampleYAML)
	m := NewManager(path)
	m.SetEnv(noEnv)
	m.debounce = 20 * time.Millisecond
	_, err := m.Load()
	require.NoError(t, err)

	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Watch(ctx)
	}()

	// Give the watcher a moment to register before writing.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("logging: {level: nope}\n"), 0o600))
	time.Sleep(200 * time.Millisecond)
	select {
	case <-ch:
		t.Fatal("invalid config must not be published")
	default:
	}

	require.NoError(t, os.WriteFile(path, []byte("logging: {level: error}\n"), 0o600))
	select {
	case cfg := <-ch:
		assert.Equal(t, "error", cfg.Logging.Level)
		assert.Equal(t, "error", m.Get().Logging.Level)
	case <-time.After(5 * time.Second):
		t.Fatal("reload not published")
	}

	cancel()
	<-done
}
