package workflow

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wfsched/internal/errs"
	"wfsched/internal/fsprobe"
	logx "wfsched/pkg/logx"
)

// scripted answers each command line with a fixed exit code and records calls.
type scripted struct {
	mu    sync.Mutex
	codes map[string]int
	calls []string
}

func (s *scripted) Exec(_ context.Context, line string, _ time.Duration) ExecutionResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, line)
	return ExecutionResult{ExitCode: s.codes[line]}
}

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return nil
}

func newRunner(t *testing.T, exec Executor, opts ...RunnerOption) (*Runner, *Registry) {
	t.Helper()
	reg := NewRegistry(nil, logx.Nop())
	opts = append([]RunnerOption{
		WithExecutor(exec),
		WithReadiness(fsprobe.WaitOptions{Timeout: 50 * time.Millisecond, Interval: 5 * time.Millisecond}),
	}, opts...)
	return NewRunner(reg, logx.Nop(), opts...), reg
}

func TestExitOneIsAttemptedRetryCountPlusOneTimes(t *testing.T) {
	t.Parallel()
	var mu sync.Mutex
	attempts := 0
	counting := ExecutorFunc(func(ctx context.Context, line string, timeout time.Duration) ExecutionResult {
		mu.Lock()
		attempts++
		mu.Unlock()
		return ShellExecutor{}.Exec(ctx, line, timeout)
	})
	sl := &sleepRecorder{}
	r, _ := newRunner(t, counting, WithSleep(sl.sleep))

	task := Task{ID: "t", Command: "exit 1", ExpectedExitCodes: []int{0}, RetryCount: 2, RetryDelay: 1}
	res := r.runTask(context.Background(), "wf", task)

	assert.False(t, res.Passed)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, 1, res.ExitCode)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, []time.Duration{time.Second, time.Second}, sl.delays)
	assert.False(t, r.ExecuteTask(context.Background(), task))
}

func TestRetryCounterIsPerExecution(t *testing.T) {
	t.Parallel()
	ex := &scripted{codes: map[string]int{"flaky": 1}}
	sl := &sleepRecorder{}
	r, _ := newRunner(t, ex, WithSleep(sl.sleep))
	task := Task{ID: "t", Command: "flaky", RetryCount: 1}

	assert.False(t, r.ExecuteTask(context.Background(), task))
	assert.False(t, r.ExecuteTask(context.Background(), task))
	assert.Len(t, ex.calls, 4, "each execution gets its own retry budget")
}

func TestSucceedsAfterRetry(t *testing.T) {
	t.Parallel()
	n := 0
	ex := ExecutorFunc(func(context.Context, string, time.Duration) ExecutionResult {
		n++
		if n < 2 {
			return ExecutionResult{ExitCode: 2, Stderr: "transient"}
		}
		return ExecutionResult{ExitCode: 0}
	})
	r, _ := newRunner(t, ex, WithSleep((&sleepRecorder{}).sleep))
	res := r.runTask(context.Background(), "wf", Task{ID: "t", Command: "x", RetryCount: 3})
	assert.True(t, res.Passed)
	assert.Equal(t, 2, res.Attempts)
}

func TestExpectedExitCodesOtherThanZero(t *testing.T) {
	t.Parallel()
	ex := &scripted{codes: map[string]int{"grep -q x f": 1}}
	r, _ := newRunner(t, ex)
	assert.True(t, r.ExecuteTask(context.Background(), Task{ID: "t", Command: "grep", Args: []string{"-q", "x", "f"}, ExpectedExitCodes: []int{0, 1}}))
	assert.Equal(t, []string{"grep -q x f"}, ex.calls)
}

func TestContinueOnFailureRunsNextTask(t *testing.T) {
	t.Parallel()
	ex := &scripted{codes: map[string]int{"t1": 1, "t2": 0}}
	r, reg := newRunner(t, ex)
	ctx := context.Background()
	require.NoError(t, reg.AddWorkflow(ctx, Workflow{ID: "wf", Tasks: []Task{
		{ID: "T1", Command: "t1", ContinueOnFailure: true},
		{ID: "T2", Command: "t2"},
	}}))

	res, err := r.ExecuteWorkflow(ctx, "wf")
	assert.ErrorIs(t, err, errs.ErrExecution)
	assert.Equal(t, []string{"t1", "t2"}, ex.calls)
	assert.False(t, res.Aborted)
	assert.Equal(t, []string{"T1"}, res.Failed)
	require.Len(t, res.Tasks, 2)
	assert.True(t, res.Tasks[1].Passed)
}

func TestFailureWithoutContinueAborts(t *testing.T) {
	t.Parallel()
	ex := &scripted{codes: map[string]int{"t1": 1}}
	r, reg := newRunner(t, ex)
	ctx := context.Background()
	require.NoError(t, reg.AddWorkflow(ctx, Workflow{ID: "wf", Tasks: []Task{
		{ID: "T1", Command: "t1"},
		{ID: "T2", Command: "t2"},
	}}))

	res, err := r.ExecuteWorkflow(ctx, "wf")
	assert.ErrorIs(t, err, errs.ErrExecution)
	assert.Equal(t, []string{"t1"}, ex.calls, "T2 must never run")
	assert.True(t, res.Aborted)
	assert.Len(t, res.Tasks, 1)
	assert.False(t, res.OK())
}

func TestAllTasksPass(t *testing.T) {
	t.Parallel()
	ex := &scripted{codes: map[string]int{}}
	r, reg := newRunner(t, ex)
	ctx := context.Background()
	require.NoError(t, reg.AddWorkflow(ctx, Workflow{ID: "wf", Tasks: []Task{{ID: "a", Command: "a"}, {ID: "b", Command: "b"}}}))
	res, err := r.ExecuteWorkflow(ctx, "wf")
	require.NoError(t, err)
	assert.True(t, res.OK())
	assert.Equal(t, []string{"a", "b"}, ex.calls)
}

func TestMissingOutputFileFailsTask(t *testing.T) {
	t.Parallel()
	ex := &scripted{codes: map[string]int{}}
	sl := &sleepRecorder{}
	r, _ := newRunner(t, ex, WithSleep(sl.sleep))
	task := Task{
		ID:          "t",
		Command:     "produce",
		OutputFiles: []string{filepath.Join(t.TempDir(), "never.csv")},
		RetryCount:  2,
	}
	res := r.runTask(context.Background(), "wf", task)
	assert.False(t, res.Passed)
	assert.Equal(t, 1, res.Attempts, "readiness failure is not retried")
	assert.Contains(t, res.Error, errs.ErrFileReadiness.Error())
	assert.Empty(t, sl.delays)
}

func TestPresentOutputFilePasses(t *testing.T) {
	t.Parallel()
	out := filepath.Join(t.TempDir(), "done.csv")
	require.NoError(t, os.WriteFile(out, []byte("ok"), 0o644))
	r, _ := newRunner(t, &scripted{codes: map[string]int{}})
	assert.True(t, r.ExecuteTask(context.Background(), Task{ID: "t", Command: "produce", OutputFiles: []string{out}}))
}

func TestLockedOutputFileFailsTask(t *testing.T) {
	t.Parallel()
	out := filepath.Join(t.TempDir(), "busy.csv")
	require.NoError(t, os.WriteFile(out, []byte("ok"), 0o644))
	alwaysLocked := fsprobe.LockCheckerFunc(func(string) (bool, error) { return true, nil })
	r, _ := newRunner(t, &scripted{codes: map[string]int{}},
		WithReadiness(fsprobe.WaitOptions{Timeout: 30 * time.Millisecond, Interval: 5 * time.Millisecond, Checker: alwaysLocked}))
	assert.False(t, r.ExecuteTask(context.Background(), Task{ID: "t", Command: "produce", OutputFiles: []string{out}}))
}

func TestExecuteWorkflowUnknownID(t *testing.T) {
	t.Parallel()
	r, _ := newRunner(t, &scripted{})
	_, err := r.ExecuteWorkflow(context.Background(), "nope")
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

type observed struct {
	mu    sync.Mutex
	tasks []TaskResult
}

func (o *observed) ObserveTask(_ string, res TaskResult, _ time.Duration) {
	o.mu.Lock()
	o.tasks = append(o.tasks, res)
	o.mu.Unlock()
}

func TestObserverSeesEveryTask(t *testing.T) {
	t.Parallel()
	obs := &observed{}
	r, _ := newRunner(t, &scripted{codes: map[string]int{"bad": 4}}, WithObserver(obs))
	_, _ = r.Run(context.Background(), Workflow{ID: "wf", Tasks: []Task{
		{ID: "a", Command: "good"},
		{ID: "b", Command: "bad", ContinueOnFailure: true},
	}})
	require.Len(t, obs.tasks, 2)
	assert.True(t, obs.tasks[0].Passed)
	assert.Equal(t, 4, obs.tasks[1].ExitCode)
}
