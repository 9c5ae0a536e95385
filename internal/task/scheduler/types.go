package scheduler

import (
	"context"
	"sync"
	"time"

	"wfsched/internal/eventbus"
	rtsup "wfsched/internal/runtime/supervisor"
	"wfsched/internal/storage"
	"wfsched/internal/task/engine"
	"wfsched/internal/task/trigger"
	logx "wfsched/pkg/logx"
)

// Config controls the scheduler.
type Config struct {
	Timezone string // IANA TZ, e.g. "Europe/Berlin"; empty means UTC
	// CatchUpLimit bounds how many missed occurrences of one job are enumerated
	// after downtime. Older ones are skipped in bulk. Default 1000.
	CatchUpLimit int
	Defaults     Defaults
}

// Defaults fill unset fields of new job definitions.
type Defaults struct {
	MisfireGraceTime int // seconds, default 60
	MaxInstances     int // default 3
	Coalesce         bool
	Pool             string // default "default"
}

func (c Config) withDefaults() Config {
	if c.CatchUpLimit <= 0 {
		c.CatchUpLimit = 1000
	}
	if c.Defaults.MisfireGraceTime <= 0 {
		c.Defaults.MisfireGraceTime = 60
	}
	if c.Defaults.MaxInstances <= 0 {
		c.Defaults.MaxInstances = 3
	}
	if c.Defaults.Pool == "" {
		c.Defaults.Pool = storage.PoolDefault
	}
	return c
}

type State string

const (
	Stopped State = "stopped"
	Running State = "running"
)

// JobDef is the input of AddJob. Zero values take the configured defaults;
// Coalesce is a pointer so an explicit false can override a true default.
type JobDef struct {
	ID               string       `json:"id,omitempty"`
	Name             string       `json:"name,omitempty"`
	Kind             string       `json:"kind"`
	Args             []string     `json:"args,omitempty"`
	Trigger          trigger.Spec `json:"trigger"`
	MisfireGraceTime int          `json:"misfire_grace_time,omitempty"`
	MaxInstances     int          `json:"max_instances,omitempty"`
	Coalesce         *bool        `json:"coalesce,omitempty"`
	Pool             string       `json:"pool,omitempty"`
}

// JobInfo is a listed job. Evaluated is false while the scheduler is stopped:
// next_run_time is then the persisted value, not a live schedule.
type JobInfo struct {
	storage.Job
	Evaluated bool `json:"evaluated"`
}

// Executor accepts occurrences. *engine.Service implements it.
type Executor interface {
	Submit(o engine.Occurrence) error
}

// Kinds validates and runs job payloads. *jobkind.Registry implements it.
type Kinds interface {
	Validate(kind string, args []string) error
	Run(ctx context.Context, kind string, args []string) error
}

type Service struct {
	mu sync.Mutex

	log   logx.Logger
	cfg   Config
	loc   *time.Location
	bus   eventbus.Bus
	store storage.Store
	exec  Executor
	kinds Kinds
	now   func() time.Time

	state  State
	sup    *rtsup.Supervisor
	wakeCh chan struct{}
	// nextWake is the earliest next_run_time seen by the last loop pass.
	nextWake time.Time

	// Submit error throttling: key is job id.
	enqMu       sync.Mutex
	lastEnqWarn map[string]time.Time
}

type Snapshot struct {
	State    State            `json:"state"`
	Timezone string           `json:"timezone"`
	Jobs     int              `json:"jobs"`
	Paused   int              `json:"paused"`
	NextWake time.Time        `json:"next_wake,omitempty"`
	Executor *engine.Snapshot `json:"executor,omitempty"`
}
