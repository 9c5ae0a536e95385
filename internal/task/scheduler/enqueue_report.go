package scheduler

import (
	"errors"
	"time"

	"wfsched/internal/task/engine"
	logx "wfsched/pkg/logx"
)

const enqueueWarnThrottle = 5 * time.Second

func (s *Service) reportSubmitError(jobID string, err error) {
	if err == nil {
		return
	}
	// The executor already logged and published max_instances skips.
	if errors.Is(err, engine.ErrMaxInstances) {
		s.log.Debug("job occurrence skipped", logx.JobID(jobID), logx.Err(err))
		return
	}

	now := s.now()
	s.enqMu.Lock()
	last := s.lastEnqWarn[jobID]
	if !last.IsZero() && now.Sub(last) < enqueueWarnThrottle {
		s.enqMu.Unlock()
		return
	}
	s.lastEnqWarn[jobID] = now
	s.enqMu.Unlock()

	// Queue full / stopping are important but can be bursty.
	s.log.Warn("failed to submit job occurrence", logx.JobID(jobID), logx.Err(err))
}

// forgetSubmitWarn drops the throttle entry of a removed job.
func (s *Service) forgetSubmitWarn(jobID string) {
	s.enqMu.Lock()
	delete(s.lastEnqWarn, jobID)
	s.enqMu.Unlock()
}
