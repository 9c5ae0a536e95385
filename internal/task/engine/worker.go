package engine

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"wfsched/internal/eventbus"
	logx "wfsched/pkg/logx"
)

func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}, p *pool) {
	for {
		// A closed stopCh wins over queued work.
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case qi := <-p.q:
			select {
			case <-stopCh:
				s.drop(qi, "executor stopping")
				return
			default:
			}
			p.inFlight.Add(1)
			s.execOne(ctx, qi)
			p.inFlight.Add(-1)
		}
	}
}

func (s *Service) execOne(ctx context.Context, qi queued) {
	o := qi.occ
	defer s.inst.release(o.JobID)

	// A catch-up batch holds one instance slot and runs its fire times in order.
	for _, at := range o.Backlog {
		s.execAt(ctx, o, at)
	}
	s.execAt(ctx, o, o.ScheduledAt)
}

func (s *Service) execAt(ctx context.Context, o Occurrence, at time.Time) {
	o.ScheduledAt = at
	start := s.now()
	log := s.log.With(logx.JobID(o.JobID), logx.String("pool", o.Pool))
	if o.MisfireGrace > 0 && !at.IsZero() {
		if late := start.Sub(at); late > o.MisfireGrace {
			log.Warn("run time of job was missed",
				logx.Time("run_time", at), logx.Duration("late", late), logx.Duration("misfire_grace", o.MisfireGrace))
			s.record(HistoryItem{JobID: o.JobID, Pool: o.Pool, ScheduledAt: at, Started: start, Outcome: OutcomeMissed})
			s.publish(eventbus.JobMissed, o, 0, fmt.Sprintf("missed by %s", late))
			return
		}
	}

	// Shutdown must not reach a running job; only its own timeout may stop it.
	runCtx := context.WithoutCancel(ctx)
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
				log.Error("job panicked", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			}
		}()
		return o.Run(runCtx)
	}()
	dur := s.now().Sub(start)

	item := HistoryItem{JobID: o.JobID, Pool: o.Pool, ScheduledAt: at, Started: start, Duration: dur, Outcome: OutcomeExecuted}
	if err != nil {
		item.Outcome, item.Error = OutcomeError, err.Error()
		log.Error("job raised an error", logx.Err(err), logx.Duration("dur", dur))
		s.record(item)
		s.publish(eventbus.JobError, o, dur, item.Error)
		return
	}
	log.Info("job executed successfully", logx.Duration("dur", dur))
	s.record(item)
	s.publish(eventbus.JobExecuted, o, dur, "")
}
