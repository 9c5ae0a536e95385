package workflow

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wfsched/internal/errs"
	"wfsched/internal/storage"
	logx "wfsched/pkg/logx"
)

func TestRegistryCRUD(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	reg := NewRegistry(nil, logx.Nop())

	wf := Workflow{ID: "etl", Tasks: []Task{{ID: "extract", Command: "extract.sh"}}}
	require.NoError(t, reg.AddWorkflow(ctx, wf))
	assert.ErrorIs(t, reg.AddWorkflow(ctx, wf), errs.ErrAlreadyExists)

	require.NoError(t, reg.AddTask(ctx, "etl", Task{ID: "load", Command: "load.sh", RetryCount: 1}))
	assert.ErrorIs(t, reg.AddTask(ctx, "etl", Task{ID: "load", Command: "x"}), errs.ErrAlreadyExists)
	assert.ErrorIs(t, reg.AddTask(ctx, "nope", Task{ID: "x", Command: "x"}), errs.ErrNotFound)

	got, err := reg.GetWorkflow(ctx, "etl")
	require.NoError(t, err)
	require.Len(t, got.Tasks, 2)
	assert.Equal(t, "extract", got.Tasks[0].ID)
	assert.Equal(t, "load", got.Tasks[1].ID)

	list, err := reg.ListWorkflows(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, reg.RemoveWorkflow(ctx, "etl"))
	assert.ErrorIs(t, reg.RemoveWorkflow(ctx, "etl"), errs.ErrNotFound)
	_, err = reg.GetWorkflow(ctx, "etl")
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestRegistryValidation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	reg := NewRegistry(nil, logx.Nop())
	bad := []Workflow{
		{},
		{ID: "w", Tasks: []Task{{ID: "", Command: "x"}}},
		{ID: "w", Tasks: []Task{{ID: "a"}}},
		{ID: "w", Tasks: []Task{{ID: "a", Command: "x", RetryCount: -1}}},
		{ID: "w", Tasks: []Task{{ID: "a", Command: "x", Timeout: -5}}},
	}
	for _, w := range bad {
		assert.ErrorIs(t, reg.AddWorkflow(ctx, w), errs.ErrValidation, "%+v", w)
	}
	dup := Workflow{ID: "w", Tasks: []Task{{ID: "a", Command: "x"}, {ID: "a", Command: "y"}}}
	assert.ErrorIs(t, reg.AddWorkflow(ctx, dup), errs.ErrAlreadyExists)
}

func TestRegistrySurvivesRestart(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cfg := storage.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "wf.json")}

	st, err := storage.Open(ctx, cfg, logx.Nop())
	require.NoError(t, err)
	require.NoError(t, NewRegistry(st, logx.Nop()).AddWorkflow(ctx, Workflow{ID: "etl", Tasks: []Task{
		{ID: "a", Command: "run.sh", Args: []string{"--day", "today"}, ExpectedExitCodes: []int{0, 2}, OutputFiles: []string{"/tmp/out"}, RetryCount: 2, RetryDelay: 5, Timeout: 60},
	}}))
	require.NoError(t, st.Close())

	st, err = storage.Open(ctx, cfg, logx.Nop())
	require.NoError(t, err)
	defer st.Close()
	got, err := NewRegistry(st, logx.Nop()).GetWorkflow(ctx, "etl")
	require.NoError(t, err)
	require.Len(t, got.Tasks, 1)
	assert.Equal(t, []int{0, 2}, got.Tasks[0].ExpectedExitCodes)
	assert.Equal(t, 60, got.Tasks[0].Timeout)
	assert.Equal(t, "run.sh --day today", got.Tasks[0].CommandLine())
}

func TestPutWorkflowReplaces(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	reg := NewRegistry(nil, logx.Nop())
	require.NoError(t, reg.PutWorkflow(ctx, Workflow{ID: "w", Tasks: []Task{{ID: "a", Command: "x"}}}))
	require.NoError(t, reg.PutWorkflow(ctx, Workflow{ID: "w", Tasks: []Task{{ID: "b", Command: "y"}}}))
	got, err := reg.GetWorkflow(ctx, "w")
	require.NoError(t, err)
	require.Len(t, got.Tasks, 1)
	assert.Equal(t, "b", got.Tasks[0].ID)
}
