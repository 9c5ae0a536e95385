// Package status keeps the last outcome of every job, fed by executor events.
// It is read-only with respect to scheduling.
package status

import (
	"context"
	"sort"
	"sync"
	"time"

	"wfsched/internal/eventbus"
	logx "wfsched/pkg/logx"
)

type State string

const (
	NotRun State = "not_run"
	Passed State = "passed"
	Failed State = "failed"
)

type Status struct {
	JobID     string    `json:"job_id"`
	State     State     `json:"state"`
	LastRun   time.Time `json:"last_run,omitempty"`
	LastError string    `json:"last_error,omitempty"`
}

type Tracker struct {
	mu sync.RWMutex
	m  map[string]Status

	log logx.Logger
}

func New(log logx.Logger) *Tracker {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Tracker{m: map[string]Status{}, log: log.With(logx.String("comp", "status"))}
}

// Run consumes job events from bus until ctx is done.
func (t *Tracker) Run(ctx context.Context, bus eventbus.Bus) error {
	ch, unsubscribe := t.Subscribe(bus)
	defer unsubscribe()
	return t.Consume(ctx, ch)
}

// Subscribe registers the tracker's filter on bus. Callers that must not miss
// early events subscribe before starting producers and then call Consume.
func (t *Tracker) Subscribe(bus eventbus.Bus) (<-chan eventbus.Event, func()) {
	return bus.Subscribe(1024, eventbus.JobExecuted, eventbus.JobError, eventbus.JobRemoved)
}

func (t *Tracker) Consume(ctx context.Context, ch <-chan eventbus.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			t.Record(ev)
		}
	}
}

// Record applies one event. Events other than executed, error and removed are
// ignored.
func (t *Tracker) Record(ev eventbus.Event) {
	je, ok := ev.Data.(eventbus.JobEvent)
	if !ok || je.JobID == "" {
		return
	}
	at := ev.Time
	if at.IsZero() {
		at = time.Now()
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	switch ev.Type {
	case eventbus.JobExecuted:
		t.m[je.JobID] = Status{JobID: je.JobID, State: Passed, LastRun: at}
	case eventbus.JobError:
		t.m[je.JobID] = Status{JobID: je.JobID, State: Failed, LastRun: at, LastError: je.Err}
		t.log.Debug("job marked failed", logx.JobID(je.JobID), logx.String("error", je.Err))
	case eventbus.JobRemoved:
		delete(t.m, je.JobID)
	}
}

// Get returns the status of id; unknown ids are NotRun.
func (t *Tracker) Get(id string) Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if st, ok := t.m[id]; ok {
		return st
	}
	return Status{JobID: id, State: NotRun}
}

// Snapshot returns every recorded status sorted by job id.
func (t *Tracker) Snapshot() []Status {
	t.mu.RLock()
	out := make([]Status, 0, len(t.m))
	for _, st := range t.m {
		out = append(out, st)
	}
	t.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].JobID < out[j].JobID })
	return out
}
