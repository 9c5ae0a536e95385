package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"wfsched/internal/errs"
	"wfsched/internal/eventbus"
	"wfsched/internal/storage"
	"wfsched/internal/task/trigger"
	logx "wfsched/pkg/logx"
)

// AddJob validates def, fills defaults, computes the first fire time and
// persists the job. An empty id gets a random uuid.
func (s *Service) AddJob(ctx context.Context, def JobDef) (storage.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, err := s.buildJobLocked(def)
	if err != nil {
		return storage.Job{}, err
	}
	if _, err := s.store.GetJob(ctx, j.ID); err == nil {
		return storage.Job{}, errs.AlreadyExists("job %q", j.ID)
	} else if !errors.Is(err, errs.ErrNotFound) {
		return storage.Job{}, err
	}

	trig, _ := trigger.Parse(j.Trigger, s.loc)
	now := s.now()
	next, ok := trig.Next(now, nil)
	if !ok {
		return storage.Job{}, errs.Validation("trigger %s will never fire", trig)
	}
	j.CreatedAt = now
	j.NextRunTime = &next
	if err := s.store.UpsertJob(ctx, j); err != nil {
		return storage.Job{}, err
	}

	s.log.Info("added job",
		logx.JobID(j.ID),
		logx.String("kind", j.Kind),
		logx.String("trigger", trig.String()),
		logx.Time("next_run_time", next))
	s.publish(eventbus.JobAdded, eventbus.JobEvent{JobID: j.ID, Pool: j.Pool})
	s.wake()
	return j.Clone(), nil
}

func (s *Service) buildJobLocked(def JobDef) (storage.Job, error) {
	d := s.cfg.Defaults
	j := storage.Job{
		ID:               strings.TrimSpace(def.ID),
		Name:             strings.TrimSpace(def.Name),
		Kind:             strings.TrimSpace(def.Kind),
		Args:             append([]string(nil), def.Args...),
		Trigger:          def.Trigger,
		MisfireGraceTime: def.MisfireGraceTime,
		MaxInstances:     def.MaxInstances,
		Coalesce:         d.Coalesce,
		Pool:             strings.ToLower(strings.TrimSpace(def.Pool)),
	}
	if def.Coalesce != nil {
		j.Coalesce = *def.Coalesce
	}
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	if j.Name == "" {
		j.Name = j.ID
	}
	switch {
	case j.MisfireGraceTime < 0:
		return storage.Job{}, errs.Validation("misfire_grace_time must be >= 0")
	case j.MisfireGraceTime == 0:
		j.MisfireGraceTime = d.MisfireGraceTime
	}
	switch {
	case j.MaxInstances < 0:
		return storage.Job{}, errs.Validation("max_instances must be >= 1")
	case j.MaxInstances == 0:
		j.MaxInstances = d.MaxInstances
	}
	if j.Pool == "" {
		j.Pool = d.Pool
	}
	if j.Pool != storage.PoolDefault && j.Pool != storage.PoolIsolated {
		return storage.Job{}, errs.Validation("unknown pool %q (use %s or %s)", def.Pool, storage.PoolDefault, storage.PoolIsolated)
	}
	if s.kinds != nil {
		if err := s.kinds.Validate(j.Kind, j.Args); err != nil {
			return storage.Job{}, err
		}
	}
	trig, err := trigger.Parse(j.Trigger, s.loc)
	if err != nil {
		return storage.Job{}, err
	}
	j.Trigger = trig.Spec()
	return j, nil
}

func (s *Service) RemoveJob(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.store.RemoveJob(ctx, id); err != nil {
		return err
	}
	s.forgetSubmitWarn(id)
	s.log.Info("removed job", logx.JobID(id))
	s.publish(eventbus.JobRemoved, eventbus.JobEvent{JobID: id})
	s.wake()
	return nil
}

// PauseJob keeps the job but clears its next_run_time so it is never
// dispatched. An unknown id is a SchedulerState error.
func (s *Service) PauseJob(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, err := s.lookupLocked(ctx, id)
	if err != nil {
		return err
	}
	j.Paused = true
	j.NextRunTime = nil
	if err := s.store.UpsertJob(ctx, j); err != nil {
		return err
	}
	s.log.Info("paused job", logx.JobID(id))
	s.publish(eventbus.JobPaused, eventbus.JobEvent{JobID: id})
	s.wake()
	return nil
}

// ResumeJob recomputes next_run_time from now. A one-shot job whose date has
// passed while paused is removed.
func (s *Service) ResumeJob(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, err := s.lookupLocked(ctx, id)
	if err != nil {
		return err
	}
	j.Paused = false
	if err := s.rescheduleLocked(ctx, j, s.now(), "resume"); err != nil {
		return err
	}
	s.log.Info("resumed job", logx.JobID(id))
	s.publish(eventbus.JobResumed, eventbus.JobEvent{JobID: id})
	s.wake()
	return nil
}

func (s *Service) lookupLocked(ctx context.Context, id string) (storage.Job, error) {
	j, err := s.store.GetJob(ctx, id)
	if errors.Is(err, errs.ErrNotFound) {
		return storage.Job{}, errs.SchedulerState("no job with id %q", id)
	}
	return j, err
}

// ListJobs returns all jobs sorted by id. It never mutates the store.
func (s *Service) ListJobs(ctx context.Context) ([]JobInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	jobs, err := s.store.ListJobs(ctx)
	if err != nil {
		return nil, err
	}
	evaluated := s.state == Running
	out := make([]JobInfo, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, JobInfo{Job: j, Evaluated: evaluated})
	}
	return out, nil
}

func (s *Service) GetJob(ctx context.Context, id string) (JobInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, err := s.store.GetJob(ctx, id)
	if err != nil {
		return JobInfo{}, err
	}
	return JobInfo{Job: j, Evaluated: s.state == Running}, nil
}

// RunJobNow submits one occurrence of id immediately, outside its schedule.
// max_instances still applies; the schedule is left untouched.
func (s *Service) RunJobNow(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, err := s.store.GetJob(ctx, id)
	if err != nil {
		return err
	}
	err = s.exec.Submit(s.occurrence(j, s.now()))
	if err != nil {
		return fmt.Errorf("%w: job %q: %w", errs.ErrSchedulerState, id, err)
	}
	s.log.Info("job submitted manually", logx.JobID(id))
	return nil
}
