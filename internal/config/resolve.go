package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"wfsched/internal/errs"
	"wfsched/internal/fsprobe"
	"wfsched/internal/storage"
	"wfsched/internal/task/engine"
	"wfsched/internal/task/scheduler"
	logx "wfsched/pkg/logx"
)

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info", Console: true},
		Storage: StorageConfig{Driver: "sqlite", Path: "wfsched.sqlite"},
		HTTP:    HTTPConfig{Addr: "127.0.0.1:8080"},
	}
}

// Environment overrides, applied after the file is decoded.
const (
	EnvDBURL        = "WFSCHED_DB_URL"
	EnvMaxThreads   = "WFSCHED_MAX_THREADS"
	EnvMaxProcesses = "WFSCHED_MAX_PROCESSES"
	EnvTimezone     = "WFSCHED_TIMEZONE"
	EnvLogLevel     = "WFSCHED_LOG_LEVEL"
)

// ApplyEnv overlays the WFSCHED_* variables. getenv is os.Getenv outside tests.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if getenv == nil {
		getenv = os.Getenv
	}
	if v := strings.TrimSpace(getenv(EnvDBURL)); v != "" {
		c.Storage.URL = v
	}
	if v := strings.TrimSpace(getenv(EnvTimezone)); v != "" {
		c.Scheduler.Timezone = v
	}
	if v := strings.TrimSpace(getenv(EnvLogLevel)); v != "" {
		c.Logging.Level = v
	}
	for _, e := range []struct {
		key string
		dst *int
	}{
		{EnvMaxThreads, &c.Executor.MaxThreads},
		{EnvMaxProcesses, &c.Executor.MaxProcesses},
	} {
		v := strings.TrimSpace(getenv(e.key))
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return errs.Validation("%s must be a positive integer, got %q", e.key, v)
		}
		*e.dst = n
	}
	return nil
}

// Validate checks the whole config, including embedded workflow and job
// definitions, without side effects.
func (c *Config) Validate() error {
	if lvl := strings.TrimSpace(c.Logging.Level); lvl != "" && !logx.ValidLevel(lvl) {
		return errs.Validation("logging.level: unknown level %q", lvl)
	}
	if c.Logging.File.Enabled && strings.TrimSpace(c.Logging.File.Path) == "" {
		return errs.Validation("logging.file.path required when logging.file.enabled")
	}
	if tz := strings.TrimSpace(c.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return errs.Validation("scheduler.timezone: %v", err)
		}
	}
	if c.Scheduler.CatchUpLimit < 0 {
		return errs.Validation("scheduler.catch_up_limit must be >= 0")
	}
	for name, v := range map[string]int{
		"executor.max_threads":            c.Executor.MaxThreads,
		"executor.max_processes":          c.Executor.MaxProcesses,
		"executor.queue_size":             c.Executor.QueueSize,
		"executor.history_size":           c.Executor.HistorySize,
		"job_defaults.misfire_grace_time": c.JobDefaults.MisfireGraceTime,
		"job_defaults.max_instances":      c.JobDefaults.MaxInstances,
		"storage.compact_every":           c.Storage.CompactEvery,
	} {
		if v < 0 {
			return errs.Validation("%s must be >= 0", name)
		}
	}
	switch p := strings.ToLower(strings.TrimSpace(c.JobDefaults.Pool)); p {
	case "", storage.PoolDefault, storage.PoolIsolated:
	default:
		return errs.Validation("job_defaults.pool: unknown pool %q", p)
	}
	if _, err := c.Storage.Resolve(); err != nil {
		return err
	}
	if _, err := c.Workflow.Readiness(); err != nil {
		return err
	}
	if _, _, err := c.HTTP.Timeouts(); err != nil {
		return err
	}
	for _, o := range c.HTTP.CORSOrigins {
		if strings.TrimSpace(o) == "" {
			return errs.Validation("http.cors_origins: empty origin")
		}
	}

	seen := map[string]struct{}{}
	for _, w := range c.Workflows {
		if err := w.Validate(); err != nil {
			return errs.Validation("workflows[%s]: %v", w.ID, err)
		}
		if _, dup := seen[w.ID]; dup {
			return errs.Validation("workflows: duplicate id %q", w.ID)
		}
		seen[w.ID] = struct{}{}
	}
	jobIDs := map[string]struct{}{}
	for i, j := range c.Jobs {
		if strings.TrimSpace(j.ID) == "" {
			return errs.Validation("jobs[%d]: id required for seed jobs", i)
		}
		if _, dup := jobIDs[j.ID]; dup {
			return errs.Validation("jobs: duplicate id %q", j.ID)
		}
		jobIDs[j.ID] = struct{}{}
	}
	return nil
}

// Resolve turns the storage section into a driver config.
func (s StorageConfig) Resolve() (storage.Config, error) {
	var out storage.Config
	if u := strings.TrimSpace(s.URL); u != "" {
		parsed, err := storage.DriverFromURL(u)
		if err != nil {
			return storage.Config{}, err
		}
		out = parsed
	} else {
		out = storage.Config{
			Driver: strings.ToLower(strings.TrimSpace(s.Driver)),
			Path:   strings.TrimSpace(s.Path),
			DSN:    strings.TrimSpace(s.DSN),
		}
	}
	switch out.Driver {
	case "", "memory":
	case "file", "sqlite", "sqlite3":
		if out.Path == "" {
			return storage.Config{}, errs.Validation("storage.path required for driver %q", out.Driver)
		}
	case "postgres", "postgresql":
		if out.DSN == "" {
			return storage.Config{}, errs.Validation("storage.dsn required for driver %q", out.Driver)
		}
	default:
		return storage.Config{}, errs.Validation("storage.driver: unknown driver %q", out.Driver)
	}
	bt, err := ParseDurationField("storage.busy_timeout", s.BusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	out.BusyTimeout = bt
	out.CompactEvery = s.CompactEvery
	return out, nil
}

func (w WorkflowConfig) Readiness() (fsprobe.WaitOptions, error) {
	timeout, err := ParseDurationOrDefault("workflow.readiness_timeout", w.ReadinessTimeout, fsprobe.DefaultReadyTimeout)
	if err != nil {
		return fsprobe.WaitOptions{}, err
	}
	interval, err := ParseDurationOrDefault("workflow.readiness_interval", w.ReadinessInterval, fsprobe.DefaultReadyInterval)
	if err != nil {
		return fsprobe.WaitOptions{}, err
	}
	return fsprobe.WaitOptions{Timeout: timeout, Interval: interval}, nil
}

func (h HTTPConfig) Timeouts() (read, write time.Duration, err error) {
	if read, err = ParseDurationOrDefault("http.read_timeout", h.ReadTimeout, 15*time.Second); err != nil {
		return 0, 0, err
	}
	if write, err = ParseDurationOrDefault("http.write_timeout", h.WriteTimeout, 60*time.Second); err != nil {
		return 0, 0, err
	}
	return read, write, nil
}

func (h HTTPConfig) ListenAddr() string {
	if a := strings.TrimSpace(h.Addr); a != "" {
		return a
	}
	return "127.0.0.1:8080"
}

func (l LoggingConfig) LogxConfig() logx.Config {
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
	}
}

func (e ExecutorConfig) EngineConfig() engine.Config {
	return engine.Config{
		DefaultWorkers:  e.MaxThreads,
		IsolatedWorkers: e.MaxProcesses,
		QueueSize:       e.QueueSize,
		HistorySize:     e.HistorySize,
	}
}

func (c *Config) SchedulerConfig() scheduler.Config {
	return scheduler.Config{
		Timezone:     c.Scheduler.Timezone,
		CatchUpLimit: c.Scheduler.CatchUpLimit,
		Defaults: scheduler.Defaults{
			MisfireGraceTime: c.JobDefaults.MisfireGraceTime,
			MaxInstances:     c.JobDefaults.MaxInstances,
			Coalesce:         c.JobDefaults.Coalesce,
			Pool:             strings.ToLower(strings.TrimSpace(c.JobDefaults.Pool)),
		},
	}
}
