package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"wfsched/internal/errs"
	"wfsched/internal/storage"
	logx "wfsched/pkg/logx"
)

// Registry stores workflow definitions in the job store's workflow table, so
// scheduled jobs can still resolve their workflow after a restart.
type Registry struct {
	mu    sync.Mutex // serializes read-modify-write of a definition
	store storage.Store
	log   logx.Logger
}

func NewRegistry(store storage.Store, log logx.Logger) *Registry {
	if store == nil {
		store = storage.NewMemory()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Registry{store: store, log: log.With(logx.String("comp", "workflows"))}
}

// AddWorkflow registers a new workflow. An existing id is AlreadyExists.
func (r *Registry) AddWorkflow(ctx context.Context, w Workflow) error {
	if err := w.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := r.store.GetWorkflow(ctx, w.ID); err == nil {
		return errs.AlreadyExists("workflow %q", w.ID)
	} else if !errors.Is(err, errs.ErrNotFound) {
		return err
	}
	if err := r.put(ctx, w); err != nil {
		return err
	}
	r.log.Info("workflow added", logx.WorkflowID(w.ID), logx.Int("tasks", len(w.Tasks)))
	return nil
}

// PutWorkflow creates or replaces a workflow. Config reloads use it.
func (r *Registry) PutWorkflow(ctx context.Context, w Workflow) error {
	if err := w.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.put(ctx, w)
}

func (r *Registry) GetWorkflow(ctx context.Context, id string) (Workflow, error) {
	rec, err := r.store.GetWorkflow(ctx, id)
	if err != nil {
		return Workflow{}, err
	}
	return decode(rec)
}

func (r *Registry) ListWorkflows(ctx context.Context) ([]Workflow, error) {
	recs, err := r.store.ListWorkflows(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Workflow, 0, len(recs))
	for _, rec := range recs {
		w, err := decode(rec)
		if err != nil {
			r.log.Warn("skipping undecodable workflow", logx.WorkflowID(rec.ID), logx.Err(err))
			continue
		}
		out = append(out, w)
	}
	return out, nil
}

// AddTask appends t to the end of workflow id.
func (r *Registry) AddTask(ctx context.Context, id string, t Task) error {
	if err := t.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	w, err := r.GetWorkflow(ctx, id)
	if err != nil {
		return err
	}
	for _, existing := range w.Tasks {
		if existing.ID == t.ID {
			return errs.AlreadyExists("task %q in workflow %q", t.ID, id)
		}
	}
	w.Tasks = append(w.Tasks, t)
	if err := r.put(ctx, w); err != nil {
		return err
	}
	r.log.Info("task added to workflow", logx.WorkflowID(id), logx.TaskID(t.ID))
	return nil
}

func (r *Registry) RemoveWorkflow(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.store.DeleteWorkflow(ctx, id); err != nil {
		return err
	}
	r.log.Info("workflow removed", logx.WorkflowID(id))
	return nil
}

func (r *Registry) put(ctx context.Context, w Workflow) error {
	b, err := json.Marshal(w)
	if err != nil {
		return err
	}
	return r.store.PutWorkflow(ctx, storage.Workflow{ID: w.ID, Data: b})
}

func decode(rec storage.Workflow) (Workflow, error) {
	var w Workflow
	if err := json.Unmarshal(rec.Data, &w); err != nil {
		return Workflow{}, fmt.Errorf("decode workflow %q: %w", rec.ID, err)
	}
	w.ID = rec.ID
	return w, nil
}
