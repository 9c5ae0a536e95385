package workflow

import (
	"context"
	"time"

	"wfsched/internal/errs"
	"wfsched/internal/fsprobe"
	logx "wfsched/pkg/logx"
)

// Observer receives one call per finished task. The metrics package
// implements it.
type Observer interface {
	ObserveTask(workflowID string, res TaskResult, dur time.Duration)
}

// Runner executes workflows task by task. Tasks of one pass run strictly in
// order; distinct passes may run concurrently on the same Runner.
type Runner struct {
	reg       *Registry
	log       logx.Logger
	exec      Executor
	readiness fsprobe.WaitOptions
	sleep     func(ctx context.Context, d time.Duration) error
	observer  Observer
}

type RunnerOption func(*Runner)

func WithExecutor(e Executor) RunnerOption { return func(r *Runner) { r.exec = e } }

// WithReadiness tunes output-file polling (timeout, interval, lock checker).
func WithReadiness(o fsprobe.WaitOptions) RunnerOption {
	return func(r *Runner) { r.readiness = o }
}

// WithSleep replaces the retry-delay sleep.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) RunnerOption {
	return func(r *Runner) { r.sleep = fn }
}

func WithObserver(o Observer) RunnerOption { return func(r *Runner) { r.observer = o } }

func NewRunner(reg *Registry, log logx.Logger, opts ...RunnerOption) *Runner {
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Runner{
		reg:   reg,
		log:   log.With(logx.String("comp", "runner")),
		exec:  ShellExecutor{},
		sleep: sleepCtx,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// ExecuteTask runs t with its retry, timeout and readiness policy and reports
// whether it passed.
func (r *Runner) ExecuteTask(ctx context.Context, t Task) bool {
	return r.runTask(ctx, "", t).Passed
}

// ExecuteWorkflow loads workflow id and runs it. The error is NotFound for an
// unknown id, and an ExecutionError when the pass aborted or any task failed.
func (r *Runner) ExecuteWorkflow(ctx context.Context, id string) (Result, error) {
	w, err := r.reg.GetWorkflow(ctx, id)
	if err != nil {
		r.log.Error("workflow not found", logx.WorkflowID(id), logx.Err(err))
		return Result{WorkflowID: id}, err
	}
	return r.Run(ctx, w)
}

// Run executes one pass over a snapshot of w.
func (r *Runner) Run(ctx context.Context, w Workflow) (Result, error) {
	w = w.Clone()
	log := r.log.With(logx.WorkflowID(w.ID))
	res := Result{WorkflowID: w.ID, Started: time.Now()}
	log.Info("workflow started", logx.Int("tasks", len(w.Tasks)))

	for _, t := range w.Tasks {
		tr := r.runTask(ctx, w.ID, t)
		res.Tasks = append(res.Tasks, tr)
		if tr.Passed {
			continue
		}
		res.Failed = append(res.Failed, t.ID)
		log.Error("task failed in workflow", logx.TaskID(t.ID))
		if !t.ContinueOnFailure {
			res.Aborted = true
			log.Info("stopping workflow due to task failure", logx.TaskID(t.ID))
			break
		}
		log.Info("continuing workflow despite task failure", logx.TaskID(t.ID))
	}
	res.Duration = time.Since(res.Started)
	log.Info("workflow execution completed",
		logx.Bool("aborted", res.Aborted), logx.Strings("failed", res.Failed), logx.Duration("dur", res.Duration))

	if res.Aborted {
		return res, errs.Execution("workflow %q aborted at task %q", w.ID, res.Failed[len(res.Failed)-1])
	}
	if len(res.Failed) > 0 {
		return res, errs.Execution("workflow %q finished with failed tasks %v", w.ID, res.Failed)
	}
	return res, nil
}

func (r *Runner) runTask(ctx context.Context, workflowID string, t Task) TaskResult {
	start := time.Now()
	res := r.attempts(ctx, workflowID, t)
	if r.observer != nil {
		r.observer.ObserveTask(workflowID, res, time.Since(start))
	}
	return res
}

func (r *Runner) attempts(ctx context.Context, workflowID string, t Task) TaskResult {
	res := TaskResult{TaskID: t.ID}
	line := t.CommandLine()
	base := r.log.With(logx.WorkflowID(workflowID), logx.TaskID(t.ID))

	for attempt := 0; attempt <= t.RetryCount; attempt++ {
		log := base.With(logx.Attempt(attempt + 1))
		res.Attempts = attempt + 1

		log.Info("executing task", logx.String("command", line))
		out := r.exec.Exec(ctx, line, t.timeout())
		res.ExitCode = out.ExitCode

		if t.expects(out.ExitCode) {
			log.Info("task completed successfully", logx.Int("exit_code", out.ExitCode))
			if err := r.waitOutputs(ctx, log, t); err != nil {
				res.Error = err.Error()
				log.Error("output files for task not ready", logx.Err(err))
				return res
			}
			res.Passed = true
			return res
		}

		log.Error("task failed with unexpected exit code",
			logx.Int("exit_code", out.ExitCode),
			logx.String("stdout", out.Stdout),
			logx.String("stderr", out.Stderr))
		res.Error = errs.Execution("exit code %d", out.ExitCode).Error()

		if attempt >= t.RetryCount {
			break
		}
		log.Info("retrying task",
			logx.Int("retry", attempt+1), logx.Int("retry_count", t.RetryCount), logx.Duration("delay", t.retryDelay()))
		if err := r.sleep(ctx, t.retryDelay()); err != nil {
			res.Error = err.Error()
			return res
		}
	}
	base.Error("task failed after retries", logx.Int("retry_count", t.RetryCount))
	return res
}

func (r *Runner) waitOutputs(ctx context.Context, log logx.Logger, t Task) error {
	for _, path := range t.OutputFiles {
		log.Info("monitoring output file", logx.String("path", path))
		if err := fsprobe.WaitReady(ctx, path, r.readiness); err != nil {
			return err
		}
		log.Info("output file is ready", logx.String("path", path))
	}
	return nil
}
