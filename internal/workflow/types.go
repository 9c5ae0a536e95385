// Package workflow defines workflows (ordered external-command tasks), keeps
// them in a store-backed registry and runs them with per-task retry, timeout,
// exit-code validation and output-file readiness gating.
package workflow

import (
	"strings"
	"time"

	"wfsched/internal/errs"
)

// Task is one external command of a workflow.
//
// RetryDelay and Timeout are whole seconds; Timeout 0 means no limit.
type Task struct {
	ID                string   `json:"id"`
	Command           string   `json:"command"`
	Args              []string `json:"args,omitempty"`
	ExpectedExitCodes []int    `json:"expected_exit_codes,omitempty"`
	OutputFiles       []string `json:"output_files,omitempty"`
	RetryCount        int      `json:"retry_count"`
	RetryDelay        int      `json:"retry_delay"`
	ContinueOnFailure bool     `json:"continue_on_failure"`
	Timeout           int      `json:"timeout,omitempty"`
}

// CommandLine joins command and args with spaces; the shell does the splitting.
func (t Task) CommandLine() string {
	return strings.Join(append([]string{t.Command}, t.Args...), " ")
}

func (t Task) expects(code int) bool {
	codes := t.ExpectedExitCodes
	if len(codes) == 0 {
		codes = []int{0}
	}
	for _, c := range codes {
		if c == code {
			return true
		}
	}
	return false
}

func (t Task) timeout() time.Duration { return time.Duration(t.Timeout) * time.Second }

func (t Task) retryDelay() time.Duration { return time.Duration(t.RetryDelay) * time.Second }

func (t Task) Validate() error {
	switch {
	case strings.TrimSpace(t.ID) == "":
		return errs.Validation("task id required")
	case strings.TrimSpace(t.Command) == "":
		return errs.Validation("task %q: command required", t.ID)
	case t.RetryCount < 0:
		return errs.Validation("task %q: retry_count must be >= 0", t.ID)
	case t.RetryDelay < 0:
		return errs.Validation("task %q: retry_delay must be >= 0", t.ID)
	case t.Timeout < 0:
		return errs.Validation("task %q: timeout must be >= 0", t.ID)
	}
	return nil
}

// Workflow is an ordered list of tasks. Order is fixed at definition time.
type Workflow struct {
	ID    string `json:"id"`
	Tasks []Task `json:"tasks"`
}

func (w Workflow) Validate() error {
	if strings.TrimSpace(w.ID) == "" {
		return errs.Validation("workflow id required")
	}
	seen := make(map[string]struct{}, len(w.Tasks))
	for _, t := range w.Tasks {
		if err := t.Validate(); err != nil {
			return err
		}
		if _, dup := seen[t.ID]; dup {
			return errs.AlreadyExists("task %q in workflow %q", t.ID, w.ID)
		}
		seen[t.ID] = struct{}{}
	}
	return nil
}

// Clone copies the task list so a running pass never sees later edits.
func (w Workflow) Clone() Workflow {
	out := Workflow{ID: w.ID, Tasks: make([]Task, len(w.Tasks))}
	for i, t := range w.Tasks {
		t.Args = append([]string(nil), t.Args...)
		t.ExpectedExitCodes = append([]int(nil), t.ExpectedExitCodes...)
		t.OutputFiles = append([]string(nil), t.OutputFiles...)
		out.Tasks[i] = t
	}
	return out
}

// ExecutionResult is what one attempt produced. It is logged, not stored.
type ExecutionResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

type TaskResult struct {
	TaskID   string `json:"task_id"`
	Passed   bool   `json:"passed"`
	Attempts int    `json:"attempts"`
	ExitCode int    `json:"exit_code"`
	Error    string `json:"error,omitempty"`
}

// Result summarizes one workflow pass. Tasks holds only attempted tasks.
type Result struct {
	WorkflowID string        `json:"workflow_id"`
	Started    time.Time     `json:"started"`
	Duration   time.Duration `json:"duration"`
	Tasks      []TaskResult  `json:"tasks"`
	Aborted    bool          `json:"aborted"`
	Failed     []string      `json:"failed,omitempty"`
}

func (r Result) OK() bool { return !r.Aborted && len(r.Failed) == 0 }
