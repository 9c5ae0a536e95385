package config

import (
	"encoding/json"
	"hash/fnv"

	"wfsched/internal/task/scheduler"
	"wfsched/internal/workflow"
)

// Config is the whole daemon configuration. It can be written as JSON or
// YAML; unknown keys are rejected in both.
type Config struct {
	Logging     LoggingConfig     `json:"logging"`
	Scheduler   SchedulerConfig   `json:"scheduler"`
	Executor    ExecutorConfig    `json:"executor"`
	JobDefaults JobDefaultsConfig `json:"job_defaults"`
	Storage     StorageConfig     `json:"storage"`
	Workflow    WorkflowConfig    `json:"workflow"`
	HTTP        HTTPConfig        `json:"http"`

	// Workflows are upserted into the registry on start and on every reload.
	Workflows []workflow.Workflow `json:"workflows,omitempty"`
	// Jobs are seed jobs: added on start when no job with the same id exists.
	Jobs []scheduler.JobDef `json:"jobs,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SchedulerConfig controls the firing loop.
//
// Autostart is a pointer so an omitted key means true.
type SchedulerConfig struct {
	Timezone     string `json:"timezone,omitempty"`
	CatchUpLimit int    `json:"catch_up_limit,omitempty"`
	Autostart    *bool  `json:"autostart,omitempty"`
}

func (s SchedulerConfig) AutostartEnabled() bool { return s.Autostart == nil || *s.Autostart }

// ExecutorConfig sizes the two worker pools.
//
// Defaults (when fields are omitted/zero):
//   - max_threads: 10 (default pool)
//   - max_processes: 5 (isolated pool)
//   - queue_size: 256 per pool
//   - history_size: 200
type ExecutorConfig struct {
	MaxThreads   int `json:"max_threads,omitempty"`
	MaxProcesses int `json:"max_processes,omitempty"`
	QueueSize    int `json:"queue_size,omitempty"`
	HistorySize  int `json:"history_size,omitempty"`
}

// JobDefaultsConfig fills unset fields of new jobs.
type JobDefaultsConfig struct {
	MisfireGraceTime int    `json:"misfire_grace_time,omitempty"` // seconds, default 60
	MaxInstances     int    `json:"max_instances,omitempty"`      // default 3
	Coalesce         bool   `json:"coalesce,omitempty"`
	Pool             string `json:"pool,omitempty"`
}

// StorageConfig selects the job store.
//
// Either url (sqlite:///jobs.sqlite, postgres://..., file:///var/lib/wfsched/store,
// memory://) or driver plus path/dsn. url wins when both are set.
//
//	"storage": { "driver": "sqlite", "path": "./wfsched.sqlite" }
type StorageConfig struct {
	URL          string `json:"url,omitempty"`
	Driver       string `json:"driver,omitempty"`
	Path         string `json:"path,omitempty"`
	DSN          string `json:"dsn,omitempty"`
	BusyTimeout  string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
	CompactEvery int    `json:"compact_every,omitempty"`
}

// WorkflowConfig tunes output-file readiness polling. Go duration strings.
type WorkflowConfig struct {
	ReadinessTimeout  string `json:"readiness_timeout,omitempty"`  // default 60s
	ReadinessInterval string `json:"readiness_interval,omitempty"` // default 1s
}

// HTTPConfig controls the admin API.
//
// Security:
//   - Prefer binding to localhost (default).
//   - A non-loopback addr requires Token or AllowInsecure.
type HTTPConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"` // default: "127.0.0.1:8080"
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	ReadTimeout   string `json:"read_timeout,omitempty"`
	WriteTimeout  string `json:"write_timeout,omitempty"`
	// Pprof mounts net/http/pprof under /debug.
	Pprof bool `json:"pprof,omitempty"`
	// CORSOrigins lists browser origins allowed to call the API.
	CORSOrigins []string `json:"cors_origins,omitempty"`
}

// hashBytes returns a stable 64-bit hash of bytes. Empty input returns 0.
func hashBytes(b []byte) uint64 {
	if len(b) == 0 {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}

func hashJSON(v any) uint64 {
	b, err := json.Marshal(v)
	if err != nil {
		return 0
	}
	return hashBytes(b)
}
