// Package engine is the executor: two bounded worker pools that run job
// occurrences handed over by the scheduler.
//
// Every occurrence is gated twice. At submit time the per-job max_instances
// cap (queued plus running) is checked and excess occurrences are skipped. At
// pick-up time the misfire grace window is checked and late occurrences are
// skipped as missed. Running occurrences are never cancelled: they execute
// under a context detached from pool shutdown.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"wfsched/internal/eventbus"
	rtsup "wfsched/internal/runtime/supervisor"
	logx "wfsched/pkg/logx"
)

type Service struct {
	mu      sync.Mutex
	cfg     Config
	log     logx.Logger
	bus     eventbus.Bus
	now     func() time.Time
	pools   map[string]*pool
	sup     *rtsup.Supervisor
	stopCh  chan struct{}
	running bool

	inst instances

	hmu     sync.Mutex
	history []HistoryItem
	counts  map[Outcome]uint64

	// Queue-full warnings come in bursts when a pool is saturated.
	warnLimiter *rate.Limiter
}

type pool struct {
	name     string
	workers  int
	q        chan queued
	inFlight atomic.Int32
}

type queued struct {
	occ        Occurrence
	enqueuedAt time.Time
}

type Option func(*Service)

// WithClock replaces time.Now for misfire checks and history timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		cfg:         cfg.withDefaults(),
		log:         log.With(logx.String("comp", "executor")),
		bus:         bus,
		now:         time.Now,
		counts:      map[Outcome]uint64{},
		warnLimiter: rate.NewLimiter(rate.Every(5*time.Second), 3),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Start builds fresh queues and launches the workers of both pools.
// Starting a running executor is a no-op.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	cfg := s.cfg
	s.pools = map[string]*pool{
		PoolDefault:  {name: PoolDefault, workers: cfg.DefaultWorkers, q: make(chan queued, cfg.QueueSize)},
		PoolIsolated: {name: PoolIsolated, workers: cfg.IsolatedWorkers, q: make(chan queued, cfg.QueueSize)},
	}
	s.stopCh = make(chan struct{})
	s.sup = rtsup.New(ctx, rtsup.WithLogger(s.log))
	s.running = true

	stopCh := s.stopCh
	for _, p := range s.pools {
		for i := 0; i < p.workers; i++ {
			p := p
			s.sup.GoRestart(fmt.Sprintf("%s.worker.%d", p.name, i), 250*time.Millisecond, 30*time.Second,
				func(c context.Context) error {
					s.worker(c, stopCh, p)
					select {
					case <-stopCh:
						return nil
					default:
					}
					if c.Err() != nil {
						return nil
					}
					return errors.New("worker exited unexpectedly")
				})
		}
	}
	s.log.Info("executor started",
		logx.Int("default_workers", cfg.DefaultWorkers),
		logx.Int("isolated_workers", cfg.IsolatedWorkers),
		logx.Int("queue", cfg.QueueSize))
}

// Stop refuses new submissions, drops queued occurrences and waits (bounded by
// ctx) for running ones to finish.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.stopCh)
	pools := s.pools
	sup := s.sup
	s.mu.Unlock()

	dropped := 0
	for _, p := range pools {
	drain:
		for {
			select {
			case qi := <-p.q:
				s.drop(qi, "executor stopping")
				dropped++
			default:
				break drain
			}
		}
	}

	err := sup.Stop(ctx)
	if err != nil && ctx.Err() != nil {
		s.log.Warn("executor stop timed out; running jobs continue in background", logx.Err(err))
		return err
	}
	s.log.Info("executor stopped", logx.Int("dropped_queued", dropped))
	return nil
}

func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Submit queues one occurrence without blocking.
func (s *Service) Submit(o Occurrence) error {
	if o.Run == nil {
		return ErrNoRun
	}
	name := strings.ToLower(strings.TrimSpace(o.Pool))
	if name == "" {
		name = PoolDefault
	}
	o.Pool = name

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return ErrStopped
	}
	p := s.pools[name]
	if p == nil {
		return fmt.Errorf("%w %q", ErrUnknownPool, o.Pool)
	}
	now := s.now()
	if !s.inst.tryAcquire(o.JobID, o.MaxInstances) {
		s.log.Warn("job skipped: maximum number of running instances reached",
			logx.JobID(o.JobID), logx.Int("max_instances", o.MaxInstances))
		s.record(HistoryItem{JobID: o.JobID, Pool: name, ScheduledAt: o.ScheduledAt, Started: now, Outcome: OutcomeMaxInstances})
		s.publish(eventbus.JobMaxInstances, o, 0, "")
		return ErrMaxInstances
	}
	select {
	case p.q <- queued{occ: o, enqueuedAt: now}:
	default:
		s.inst.release(o.JobID)
		if s.warnLimiter.Allow() {
			s.log.Warn("job dropped: queue full",
				logx.JobID(o.JobID), logx.String("pool", name), logx.Int("queue_cap", cap(p.q)))
		}
		s.record(HistoryItem{JobID: o.JobID, Pool: name, ScheduledAt: o.ScheduledAt, Started: now, Outcome: OutcomeDropped, Error: "queue full"})
		s.publish(eventbus.JobDropped, o, 0, "queue full")
		return ErrQueueFull
	}
	s.publish(eventbus.JobSubmitted, o, 0, "")
	return nil
}

// Instances returns the number of queued plus running occurrences of jobID.
func (s *Service) Instances(jobID string) int { return s.inst.count(jobID) }

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{Running: s.running}
	for _, name := range []string{PoolDefault, PoolIsolated} {
		p := s.pools[name]
		if p == nil {
			continue
		}
		snap.Pools = append(snap.Pools, PoolSnapshot{
			Name:     p.name,
			Workers:  p.workers,
			QueueLen: len(p.q),
			QueueCap: cap(p.q),
			InFlight: int(p.inFlight.Load()),
		})
	}
	s.mu.Unlock()

	s.hmu.Lock()
	snap.History = append([]HistoryItem(nil), s.history...)
	snap.Counts = make(map[Outcome]uint64, len(s.counts))
	for k, v := range s.counts {
		snap.Counts[k] = v
	}
	s.hmu.Unlock()
	return snap
}

func (s *Service) drop(qi queued, reason string) {
	o := qi.occ
	s.inst.release(o.JobID)
	s.log.Warn("queued job dropped", logx.JobID(o.JobID), logx.String("pool", o.Pool), logx.String("reason", reason))
	s.record(HistoryItem{JobID: o.JobID, Pool: o.Pool, ScheduledAt: o.ScheduledAt, Started: s.now(), Outcome: OutcomeDropped, Error: reason})
	s.publish(eventbus.JobDropped, o, 0, reason)
}

func (s *Service) record(item HistoryItem) {
	s.hmu.Lock()
	s.counts[item.Outcome]++
	s.history = append(s.history, item)
	if n := s.cfg.HistorySize; len(s.history) > n {
		s.history = s.history[len(s.history)-n:]
	}
	s.hmu.Unlock()
}

func (s *Service) publish(typ string, o Occurrence, dur time.Duration, errText string) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: s.now(), Data: eventbus.JobEvent{
		JobID:       o.JobID,
		Pool:        o.Pool,
		ScheduledAt: o.ScheduledAt,
		Duration:    dur,
		Err:         errText,
	}})
}
