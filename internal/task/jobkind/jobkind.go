// Package jobkind maps a job's kind and string args to the work it performs.
//
// The set of kinds is closed: jobs persist only (kind, args), so a stored job
// can always be resolved again after a restart.
package jobkind

import (
	"context"
	"sort"
	"strings"
	"time"

	"wfsched/internal/errs"
	"wfsched/internal/fsprobe"
	"wfsched/internal/task/trigger"
	"wfsched/internal/unitctl"
	"wfsched/internal/workflow"
	logx "wfsched/pkg/logx"
)

const (
	Workflow  = "workflow"     // [workflow_id]
	Shell     = "shell"        // [command, arg...]
	FileCheck = "file_check"   // [path]
	DateCheck = "date_check"   // [path, op, timestamp]
	Unit      = "systemd_unit" // [action, unit]
)

type handler struct {
	validate func(args []string) error
	run      func(ctx context.Context, args []string) error
}

// Deps are the collaborators the built-in kinds need.
type Deps struct {
	Runner    *workflow.Runner
	Readiness fsprobe.WaitOptions
	// Location interprets date_check timestamps without a zone. Nil means UTC.
	Location *time.Location
	// Units drives systemd_unit jobs. Nil makes them fail at run time.
	Units unitctl.Controller
}

type Registry struct {
	handlers map[string]handler
	deps     Deps
	log      logx.Logger
}

func NewRegistry(d Deps, log logx.Logger) *Registry {
	if log.IsZero() {
		log = logx.Nop()
	}
	if d.Location == nil {
		d.Location = time.UTC
	}
	r := &Registry{deps: d, log: log.With(logx.String("comp", "jobkind"))}
	r.handlers = map[string]handler{
		Workflow:  {validate: validateWorkflow, run: r.runWorkflow},
		Shell:     {validate: validateShell, run: r.runShell},
		FileCheck: {validate: validateFileCheck, run: r.runFileCheck},
		DateCheck: {validate: r.validateDateCheck, run: r.runDateCheck},
		Unit:      {validate: validateUnit, run: r.runUnit},
	}
	return r
}

// Kinds lists the supported kinds in sorted order.
func (r *Registry) Kinds() []string {
	out := make([]string, 0, len(r.handlers))
	for k := range r.handlers {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Validate checks that kind is known and args have the right shape.
func (r *Registry) Validate(kind string, args []string) error {
	h, ok := r.handlers[kind]
	if !ok {
		return errs.Validation("unknown job kind %q (supported: %s)", kind, strings.Join(r.Kinds(), ", "))
	}
	return h.validate(args)
}

// Run executes one occurrence of a job of the given kind.
func (r *Registry) Run(ctx context.Context, kind string, args []string) error {
	if err := r.Validate(kind, args); err != nil {
		return err
	}
	return r.handlers[kind].run(ctx, args)
}

// ---- workflow ----

func validateWorkflow(args []string) error {
	if len(args) != 1 || strings.TrimSpace(args[0]) == "" {
		return errs.Validation("workflow job takes exactly one arg: the workflow id")
	}
	return nil
}

func (r *Registry) runWorkflow(ctx context.Context, args []string) error {
	if r.deps.Runner == nil {
		return errs.Execution("workflow runner not configured")
	}
	_, err := r.deps.Runner.ExecuteWorkflow(ctx, args[0])
	return err
}

// ---- shell ----

func validateShell(args []string) error {
	if len(args) == 0 || strings.TrimSpace(args[0]) == "" {
		return errs.Validation("shell job needs a command")
	}
	return nil
}

func (r *Registry) runShell(ctx context.Context, args []string) error {
	if r.deps.Runner == nil {
		return errs.Execution("workflow runner not configured")
	}
	w := workflow.Workflow{ID: "shell", Tasks: []workflow.Task{{ID: "command", Command: args[0], Args: args[1:]}}}
	_, err := r.deps.Runner.Run(ctx, w)
	return err
}

// ---- file_check ----

func validateFileCheck(args []string) error {
	if len(args) != 1 || strings.TrimSpace(args[0]) == "" {
		return errs.Validation("file_check job takes exactly one arg: the path")
	}
	return nil
}

func (r *Registry) runFileCheck(ctx context.Context, args []string) error {
	if err := fsprobe.WaitReady(ctx, args[0], r.deps.Readiness); err != nil {
		return err
	}
	r.log.Info("file is ready", logx.String("path", args[0]))
	return nil
}

// ---- date_check ----

func (r *Registry) validateDateCheck(args []string) error {
	_, _, err := r.parseDateCheck(args)
	return err
}

func (r *Registry) parseDateCheck(args []string) (fsprobe.Op, time.Time, error) {
	if len(args) != 3 || strings.TrimSpace(args[0]) == "" {
		return "", time.Time{}, errs.Validation("date_check job takes three args: path, operator, timestamp")
	}
	op, err := fsprobe.ParseOp(args[1])
	if err != nil {
		return "", time.Time{}, err
	}
	ref, err := trigger.ParseRunDate(args[2], r.deps.Location)
	if err != nil {
		return "", time.Time{}, err
	}
	return op, ref, nil
}

func (r *Registry) runDateCheck(_ context.Context, args []string) error {
	op, ref, err := r.parseDateCheck(args)
	if err != nil {
		return err
	}
	ok, err := fsprobe.ModTimeCompare(args[0], op, ref)
	if err != nil {
		return err
	}
	if !ok {
		return errs.Execution("modification time of %s is not %s %s", args[0], op, ref.Format(time.RFC3339))
	}
	return nil
}

// ---- systemd_unit ----

func validateUnit(args []string) error {
	if len(args) != 2 {
		return errs.Validation("systemd_unit job takes two args: action, unit")
	}
	if _, err := unitctl.ParseAction(args[0]); err != nil {
		return err
	}
	_, err := unitctl.UnitName(args[1])
	return err
}

func (r *Registry) runUnit(ctx context.Context, args []string) error {
	if r.deps.Units == nil {
		return errs.Execution("systemd unit control not configured")
	}
	action, _ := unitctl.ParseAction(args[0])
	return r.deps.Units.Do(ctx, action, args[1])
}
