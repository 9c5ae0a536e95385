package storage

import (
	"encoding/json"
	"time"

	"wfsched/internal/task/trigger"
)

// Config selects and configures a driver.
//
// Driver values: "memory", "file", "sqlite", "postgres". Path is used by the
// file and sqlite drivers, DSN by postgres.
type Config struct {
	Driver       string
	Path         string
	DSN          string
	BusyTimeout  time.Duration // sqlite only; 0 means 5s
	CompactEvery int           // file only; journal records between snapshots, 0 means 500
}

// Pool hints understood by the executor.
const (
	PoolDefault  = "default"
	PoolIsolated = "isolated"
)

// Job is the persisted job definition plus its schedule metadata.
type Job struct {
	ID               string       `json:"id"`
	Name             string       `json:"name,omitempty"`
	Kind             string       `json:"kind"`
	Args             []string     `json:"args,omitempty"`
	Trigger          trigger.Spec `json:"trigger"`
	MisfireGraceTime int          `json:"misfire_grace_time"` // seconds
	MaxInstances     int          `json:"max_instances"`
	Coalesce         bool         `json:"coalesce"`
	Pool             string       `json:"pool,omitempty"`
	Paused           bool         `json:"paused"`
	NextRunTime      *time.Time   `json:"next_run_time,omitempty"`
	LastRunTime      *time.Time   `json:"last_run_time,omitempty"`
	CreatedAt        time.Time    `json:"created_at"`
}

// Clone returns a deep copy so callers never share slices or time pointers
// with the store.
func (j Job) Clone() Job {
	out := j
	if j.Args != nil {
		out.Args = append([]string(nil), j.Args...)
	}
	if j.NextRunTime != nil {
		t := *j.NextRunTime
		out.NextRunTime = &t
	}
	if j.LastRunTime != nil {
		t := *j.LastRunTime
		out.LastRunTime = &t
	}
	return out
}

// MisfireGrace returns the grace window as a duration.
func (j Job) MisfireGrace() time.Duration {
	return time.Duration(j.MisfireGraceTime) * time.Second
}

// Workflow is an opaque, JSON-encoded workflow definition keyed by id. The
// workflow package owns the encoding.
type Workflow struct {
	ID   string          `json:"id"`
	Data json.RawMessage `json:"data"`
}
