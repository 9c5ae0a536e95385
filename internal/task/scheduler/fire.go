package scheduler

import (
	"context"
	"fmt"
	"time"

	"wfsched/internal/eventbus"
	"wfsched/internal/storage"
	"wfsched/internal/task/engine"
	"wfsched/internal/task/trigger"
	logx "wfsched/pkg/logx"
)

const storeRetryDelay = 5 * time.Second

// tick fires every due job once and returns the earliest upcoming
// next_run_time (zero when nothing is scheduled).
func (s *Service) tick(ctx context.Context) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Running {
		return time.Time{}
	}
	return s.fireDueLocked(ctx)
}

// fireDueLocked is tick's body. Start runs it once before returning so no
// listed job carries a next_run_time that is already past.
func (s *Service) fireDueLocked(ctx context.Context) time.Time {
	now := s.now()
	jobs, err := s.store.ListJobs(ctx)
	if err != nil {
		s.log.Error("job store unavailable; retrying", logx.Err(err), logx.Duration("retry_in", storeRetryDelay))
		return now.Add(storeRetryDelay)
	}

	var earliest time.Time
	for _, j := range jobs {
		if j.Paused || j.NextRunTime == nil {
			continue
		}
		if !j.NextRunTime.After(now) {
			var kept bool
			j, kept = s.fireLocked(ctx, j, now)
			if !kept || j.NextRunTime == nil {
				continue
			}
		}
		if earliest.IsZero() || j.NextRunTime.Before(earliest) {
			earliest = *j.NextRunTime
		}
	}
	s.nextWake = earliest
	return earliest
}

// fireLocked submits the due occurrences of j and advances its schedule.
// kept is false when the job was removed because its trigger is exhausted.
func (s *Service) fireLocked(ctx context.Context, j storage.Job, now time.Time) (storage.Job, bool) {
	log := s.log.With(logx.JobID(j.ID))
	trig, err := trigger.Parse(j.Trigger, s.loc)
	if err != nil {
		// Stored triggers were validated on add; this only happens after a
		// manual edit of the store. Park the job instead of spinning on it.
		log.Error("stored trigger is invalid; pausing job", logx.Err(err))
		j.Paused = true
		j.NextRunTime = nil
		if err := s.store.UpsertJob(ctx, j); err != nil {
			log.Error("failed to persist paused job", logx.Err(err))
		}
		return j, true
	}

	runTimes, next, ok, skipped := s.dueOccurrences(trig, *j.NextRunTime, now)
	if skipped > 0 {
		log.Warn("catch-up limit reached; older occurrences skipped",
			logx.Int("limit", s.cfg.CatchUpLimit), logx.Int("skipped", skipped))
		s.publish(eventbus.JobMissed, eventbus.JobEvent{JobID: j.ID, Pool: j.Pool, Err: fmt.Sprintf("%d occurrences skipped by catch-up limit", skipped)})
	}
	if j.Coalesce && len(runTimes) > 1 {
		log.Info("coalescing missed occurrences", logx.Int("missed", len(runTimes)-1))
		runTimes = runTimes[len(runTimes)-1:]
	}
	last := runTimes[len(runTimes)-1]
	s.submitLocked(j, last, runTimes[:len(runTimes)-1])
	j.LastRunTime = &last

	if !ok {
		if err := s.store.RemoveJob(ctx, j.ID); err != nil {
			log.Error("failed to remove finished job", logx.Err(err))
			return j, false
		}
		s.forgetSubmitWarn(j.ID)
		log.Info("removed job: trigger will not fire again", logx.String("trigger", trig.String()))
		s.publish(eventbus.JobRemoved, eventbus.JobEvent{JobID: j.ID})
		return j, false
	}
	j.NextRunTime = &next
	if err := s.store.UpsertJob(ctx, j); err != nil {
		log.Error("failed to persist next run time", logx.Err(err))
	}
	return j, true
}

// dueOccurrences lists fire times from first up to now (inclusive). Only the
// latest CatchUpLimit are kept; older ones are counted in skipped. next/ok is
// the first fire time after now.
func (s *Service) dueOccurrences(trig trigger.Trigger, first, now time.Time) (runTimes []time.Time, next time.Time, ok bool, skipped int) {
	limit := s.cfg.CatchUpLimit
	t := first
	for {
		runTimes = append(runTimes, t)
		if len(runTimes) > limit {
			runTimes = runTimes[1:]
			skipped++
		}
		last := t
		t, ok = trig.Next(last, &last)
		if !ok || t.After(now) {
			return runTimes, t, ok, skipped
		}
	}
}

// submitLocked hands one batch to the executor: backlog holds the earlier
// missed fire times, which share the instance slot of scheduledAt.
func (s *Service) submitLocked(j storage.Job, scheduledAt time.Time, backlog []time.Time) {
	o := s.occurrence(j, scheduledAt)
	o.Backlog = append([]time.Time(nil), backlog...)
	if err := s.exec.Submit(o); err != nil {
		s.reportSubmitError(j.ID, err)
	}
}

func (s *Service) occurrence(j storage.Job, scheduledAt time.Time) engine.Occurrence {
	kind, args := j.Kind, append([]string(nil), j.Args...)
	return engine.Occurrence{
		JobID:        j.ID,
		Pool:         j.Pool,
		ScheduledAt:  scheduledAt,
		MisfireGrace: j.MisfireGrace(),
		MaxInstances: j.MaxInstances,
		Run: func(ctx context.Context) error {
			return s.kinds.Run(ctx, kind, args)
		},
	}
}

// rescheduleLocked computes a fresh next_run_time from now and persists it,
// removing the job if its trigger is exhausted.
func (s *Service) rescheduleLocked(ctx context.Context, j storage.Job, now time.Time, reason string) error {
	trig, err := trigger.Parse(j.Trigger, s.loc)
	if err != nil {
		return err
	}
	next, ok := trig.Next(now, nil)
	if !ok {
		if err := s.store.RemoveJob(ctx, j.ID); err != nil {
			return err
		}
		s.forgetSubmitWarn(j.ID)
		s.log.Info("removed job: trigger will not fire again",
			logx.JobID(j.ID), logx.String("reason", reason))
		s.publish(eventbus.JobRemoved, eventbus.JobEvent{JobID: j.ID})
		return nil
	}
	j.NextRunTime = &next
	return s.store.UpsertJob(ctx, j)
}
