package storage

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
)

// memoryStore keeps everything in maps. The file driver embeds one as its
// in-memory view and adds durability on top.
type memoryStore struct {
	mu        sync.RWMutex
	jobs      map[string]Job
	workflows map[string]json.RawMessage
	seeded    map[string]struct{}
}

func NewMemory() Store { return newMemoryStore() }

func newMemoryStore() *memoryStore {
	return &memoryStore{jobs: map[string]Job{}, workflows: map[string]json.RawMessage{}, seeded: map[string]struct{}{}}
}

func (s *memoryStore) UpsertJob(_ context.Context, j Job) error {
	if err := requireID("job", j.ID); err != nil {
		return err
	}
	s.mu.Lock()
	s.jobs[j.ID] = j.Clone()
	s.mu.Unlock()
	return nil
}

func (s *memoryStore) RemoveJob(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; !ok {
		return notFoundJob(id)
	}
	delete(s.jobs, id)
	return nil
}

func (s *memoryStore) GetJob(_ context.Context, id string) (Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return Job{}, notFoundJob(id)
	}
	return j.Clone(), nil
}

func (s *memoryStore) ListJobs(context.Context) ([]Job, error) {
	s.mu.RLock()
	out := make([]Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j.Clone())
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	return out, nil
}

func (s *memoryStore) PutWorkflow(_ context.Context, w Workflow) error {
	if err := requireID("workflow", w.ID); err != nil {
		return err
	}
	s.mu.Lock()
	s.workflows[w.ID] = append(json.RawMessage(nil), w.Data...)
	s.mu.Unlock()
	return nil
}

func (s *memoryStore) GetWorkflow(_ context.Context, id string) (Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.workflows[id]
	if !ok {
		return Workflow{}, notFoundWorkflow(id)
	}
	return Workflow{ID: id, Data: append(json.RawMessage(nil), d...)}, nil
}

func (s *memoryStore) ListWorkflows(context.Context) ([]Workflow, error) {
	s.mu.RLock()
	out := make([]Workflow, 0, len(s.workflows))
	for id, d := range s.workflows {
		out = append(out, Workflow{ID: id, Data: append(json.RawMessage(nil), d...)})
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	return out, nil
}

func (s *memoryStore) DeleteWorkflow(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.workflows[id]; !ok {
		return notFoundWorkflow(id)
	}
	delete(s.workflows, id)
	return nil
}

func (s *memoryStore) MarkSeeded(_ context.Context, id string) error {
	if err := requireID("seed", id); err != nil {
		return err
	}
	s.mu.Lock()
	s.seeded[id] = struct{}{}
	s.mu.Unlock()
	return nil
}

func (s *memoryStore) Seeded(_ context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.seeded[id]
	return ok, nil
}

func (s *memoryStore) seededIDs() []string {
	s.mu.RLock()
	out := make([]string, 0, len(s.seeded))
	for id := range s.seeded {
		out = append(out, id)
	}
	s.mu.RUnlock()
	sort.Strings(out)
	return out
}

func (s *memoryStore) Close() error { return nil }
