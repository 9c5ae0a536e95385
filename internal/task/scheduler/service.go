package scheduler

import (
	"context"
	"strings"
	"time"

	"wfsched/internal/errs"
	"wfsched/internal/eventbus"
	rtsup "wfsched/internal/runtime/supervisor"
	"wfsched/internal/storage"
	logx "wfsched/pkg/logx"
)

type Option func(*Service)

// WithClock replaces time.Now for schedule evaluation.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func New(cfg Config, store storage.Store, exec Executor, kinds Kinds, log logx.Logger, bus eventbus.Bus, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if store == nil {
		store = storage.NewMemory()
	}
	s := &Service{
		cfg:         cfg.withDefaults(),
		log:         log.With(logx.String("comp", "scheduler")),
		bus:         bus,
		store:       store,
		exec:        exec,
		kinds:       kinds,
		now:         time.Now,
		state:       Stopped,
		wakeCh:      make(chan struct{}, 1),
		lastEnqWarn: map[string]time.Time{},
	}
	for _, o := range opts {
		o(s)
	}
	s.loc = loadLocation(s.cfg.Timezone, s.log)
	return s
}

// Apply swaps config at runtime. A timezone change takes effect on the next
// loop pass because triggers are rebuilt from their spec every time.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	oldTZ := strings.TrimSpace(s.cfg.Timezone)
	s.cfg = cfg.withDefaults()
	if newTZ := strings.TrimSpace(s.cfg.Timezone); newTZ != oldTZ {
		s.loc = loadLocation(newTZ, s.log)
		s.log.Info("scheduler timezone changed", logx.String("tz", s.loc.String()))
	}
	s.mu.Unlock()
	s.wake()
}

func (s *Service) Location() *time.Location {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loc
}

func (s *Service) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start loads persisted jobs, catches up overdue ones and begins the firing
// loop. When Start returns, every unpaused job's next_run_time is in the
// future.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Running {
		return errs.SchedulerState("scheduler is already running")
	}

	jobs, err := s.store.ListJobs(ctx)
	if err != nil {
		return err
	}
	now := s.now()
	restored := 0
	for _, j := range jobs {
		if j.Paused || j.NextRunTime != nil {
			restored++
			continue
		}
		// A job persisted without a next_run_time (e.g. a crash mid-update)
		// gets one computed from now.
		if err := s.rescheduleLocked(ctx, j, now, "start"); err != nil {
			s.log.Error("job could not be rescheduled on start", logx.JobID(j.ID), logx.Err(err))
			continue
		}
		restored++
	}

	s.state = Running
	// Catch up synchronously; the loop then only sleeps until the next run.
	s.fireDueLocked(ctx)

	// The loop must outlive the caller's request context.
	s.sup = rtsup.New(context.WithoutCancel(ctx), rtsup.WithLogger(s.log))
	s.sup.Go("scheduler.loop", s.loop)
	s.log.Info("scheduler started", logx.String("tz", s.loc.String()), logx.Int("jobs", restored))
	s.publish(eventbus.SchedulerStart, eventbus.JobEvent{})
	return nil
}

// Stop ends the firing loop. Occurrences already handed to the executor are
// not affected.
func (s *Service) Stop(ctx context.Context) error {
	start := time.Now()
	s.mu.Lock()
	if s.state != Running {
		s.mu.Unlock()
		return errs.SchedulerState("scheduler is not running")
	}
	s.state = Stopped
	sup := s.sup
	s.sup = nil
	s.nextWake = time.Time{}
	s.mu.Unlock()

	err := sup.Stop(ctx)
	s.log.Info("scheduler stopped", logx.Duration("took", time.Since(start)))
	s.publish(eventbus.SchedulerStop, eventbus.JobEvent{})
	if err != nil && ctx.Err() != nil {
		return err
	}
	return nil
}

func (s *Service) wake() {
	select {
	case s.wakeCh <- struct{}{}:
	default:
	}
}

func (s *Service) loop(ctx context.Context) error {
	for {
		next := s.tick(ctx)

		if !next.IsZero() {
			t := time.NewTimer(max(next.Sub(s.now()), 0))
			select {
			case <-ctx.Done():
				t.Stop()
				return nil
			case <-s.wakeCh:
				t.Stop()
			case <-t.C:
			}
			continue
		}

		select {
		case <-ctx.Done():
			return nil
		case <-s.wakeCh:
		}
	}
}

func (s *Service) publish(typ string, ev eventbus.JobEvent) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: s.now(), Data: ev})
}

func loadLocation(tz string, log logx.Logger) *time.Location {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		log.Warn("invalid timezone; falling back to UTC", logx.String("tz", tz), logx.Err(err))
		return time.UTC
	}
	return loc
}
