// Package eventbus fans out job lifecycle events from the executor and the
// scheduler to in-process listeners (status tracker, metrics, API streams).
package eventbus

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by the scheduler and the executor pools.
const (
	JobAdded        = "job.added"
	JobRemoved      = "job.removed"
	JobPaused       = "job.paused"
	JobResumed      = "job.resumed"
	JobSubmitted    = "job.submitted"
	JobExecuted     = "job.executed"
	JobError        = "job.error"
	JobMissed       = "job.missed"
	JobMaxInstances = "job.max_instances"
	JobDropped      = "job.dropped"
	SchedulerStart  = "scheduler.started"
	SchedulerStop   = "scheduler.stopped"
)

// Event is one signal on the bus. Publish never blocks: a subscriber whose
// buffer is full loses the event and the bus counts it as dropped.
type Event struct {
	Type string
	Time time.Time
	Data any
}

// JobEvent is the payload of every job.* event.
type JobEvent struct {
	JobID       string        `json:"job_id"`
	Pool        string        `json:"pool,omitempty"`
	ScheduledAt time.Time     `json:"scheduled_at,omitempty"`
	Duration    time.Duration `json:"duration,omitempty"`
	Err         string        `json:"error,omitempty"`
}

type Bus interface {
	Publish(e Event)
	// Subscribe registers a listener. When prefixes are given, only events whose
	// Type starts with one of them are delivered.
	Subscribe(buffer int, prefixes ...string) (ch <-chan Event, unsubscribe func())
	Dropped() uint64
}

func New() Bus {
	return &memBus{subs: map[uint64]*sub{}}
}

type sub struct {
	ch       chan Event
	prefixes []string
}

func (s *sub) wants(typ string) bool {
	if len(s.prefixes) == 0 {
		return true
	}
	for _, p := range s.prefixes {
		if strings.HasPrefix(typ, p) {
			return true
		}
	}
	return false
}

type memBus struct {
	mu      sync.RWMutex
	subs    map[uint64]*sub
	seq     atomic.Uint64
	dropped atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	targets := make([]*sub, 0, len(b.subs))
	for _, s := range b.subs {
		if s.wants(e.Type) {
			targets = append(targets, s)
		}
	}
	b.mu.RUnlock()

	for _, s := range targets {
		b.deliver(s.ch, e)
	}
}

func (b *memBus) deliver(ch chan Event, e Event) {
	// A concurrent unsubscribe may close ch between snapshot and send.
	defer func() { _ = recover() }()
	select {
	case ch <- e:
	default:
		b.dropped.Add(1)
	}
}

func (b *memBus) Subscribe(buffer int, prefixes ...string) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	s := &sub{ch: make(chan Event, buffer), prefixes: append([]string(nil), prefixes...)}
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = s
	b.mu.Unlock()

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(s.ch)
		})
	}
}

func (b *memBus) Dropped() uint64 { return b.dropped.Load() }
