package engine

import (
	"context"
	"sync"
	"time"
)

// Pool names. An empty hint selects PoolDefault.
const (
	PoolDefault  = "default"
	PoolIsolated = "isolated"
)

// Config sizes the two pools. Each pool has its own queue and workers.
type Config struct {
	DefaultWorkers  int // N, default 10
	IsolatedWorkers int // M, default 5
	QueueSize       int // per pool, default 256
	HistorySize     int // default 200
}

func (c Config) withDefaults() Config {
	if c.DefaultWorkers <= 0 {
		c.DefaultWorkers = 10
	}
	if c.IsolatedWorkers <= 0 {
		c.IsolatedWorkers = 5
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 200
	}
	return c
}

// Occurrence is one scheduled fire of a job, submitted by the scheduler.
//
// Backlog holds earlier fire times of the same catch-up batch; they run (or
// are missed) before ScheduledAt and share one instance slot.
// MisfireGrace <= 0 disables the lateness check. MaxInstances <= 0 means 1.
type Occurrence struct {
	JobID        string
	Pool         string
	ScheduledAt  time.Time
	Backlog      []time.Time
	MisfireGrace time.Duration
	MaxInstances int
	Run          func(ctx context.Context) error
}

// Outcome labels a finished occurrence in history and metrics.
type Outcome string

const (
	OutcomeExecuted     Outcome = "executed"
	OutcomeError        Outcome = "error"
	OutcomeMissed       Outcome = "missed"
	OutcomeDropped      Outcome = "dropped"
	OutcomeMaxInstances Outcome = "max_instances"
)

type HistoryItem struct {
	JobID       string        `json:"job_id"`
	Pool        string        `json:"pool"`
	ScheduledAt time.Time     `json:"scheduled_at"`
	Started     time.Time     `json:"started"`
	Duration    time.Duration `json:"duration"`
	Outcome     Outcome       `json:"outcome"`
	Error       string        `json:"error,omitempty"`
}

type PoolSnapshot struct {
	Name     string `json:"name"`
	Workers  int    `json:"workers"`
	QueueLen int    `json:"queue_len"`
	QueueCap int    `json:"queue_cap"`
	InFlight int    `json:"in_flight"`
}

type Snapshot struct {
	Running bool               `json:"running"`
	Pools   []PoolSnapshot     `json:"pools"`
	Counts  map[Outcome]uint64 `json:"counts"`
	History []HistoryItem      `json:"history"`
}

// instances counts queued plus running occurrences per job id.
type instances struct {
	mu sync.Mutex
	n  map[string]int
}

func (in *instances) tryAcquire(jobID string, limit int) bool {
	if limit <= 0 {
		limit = 1
	}
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.n == nil {
		in.n = map[string]int{}
	}
	if in.n[jobID] >= limit {
		return false
	}
	in.n[jobID]++
	return true
}

func (in *instances) release(jobID string) {
	in.mu.Lock()
	if in.n[jobID] > 1 {
		in.n[jobID]--
	} else {
		delete(in.n, jobID)
	}
	in.mu.Unlock()
}

func (in *instances) count(jobID string) int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.n[jobID]
}
