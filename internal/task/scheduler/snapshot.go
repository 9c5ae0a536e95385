package scheduler

import (
	"context"

	"wfsched/internal/task/engine"
)

// Snapshot reports scheduler state plus executor diagnostics when the
// executor exposes them.
func (s *Service) Snapshot(ctx context.Context) Snapshot {
	s.mu.Lock()
	snap := Snapshot{State: s.state, Timezone: s.loc.String(), NextWake: s.nextWake}
	exec := s.exec
	jobs, err := s.store.ListJobs(ctx)
	s.mu.Unlock()

	if err == nil {
		snap.Jobs = len(jobs)
		for _, j := range jobs {
			if j.Paused {
				snap.Paused++
			}
		}
	}
	if es, ok := exec.(interface{ Snapshot() engine.Snapshot }); ok {
		e := es.Snapshot()
		snap.Executor = &e
	}
	return snap
}
