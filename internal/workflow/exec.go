package workflow

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"
)

// Executor runs one command line and reports what happened. It never returns
// an error: spawn failures and timeouts become exit code -1.
type Executor interface {
	Exec(ctx context.Context, line string, timeout time.Duration) ExecutionResult
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, line string, timeout time.Duration) ExecutionResult

func (f ExecutorFunc) Exec(ctx context.Context, line string, timeout time.Duration) ExecutionResult {
	return f(ctx, line, timeout)
}

// ShellExecutor runs command lines through the platform shell.
type ShellExecutor struct{}

func (ShellExecutor) Exec(ctx context.Context, line string, timeout time.Duration) ExecutionResult {
	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := shellCommand(runCtx, line)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if timeout > 0 && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return ExecutionResult{
			ExitCode: -1,
			Stdout:   stdout.String(),
			Stderr:   fmt.Sprintf("task timed out after %s", timeout),
		}
	}
	if err != nil {
		var ee *exec.ExitError
		if errors.As(err, &ee) {
			return ExecutionResult{ExitCode: ee.ExitCode(), Stdout: stdout.String(), Stderr: stderr.String()}
		}
		return ExecutionResult{ExitCode: -1, Stdout: stdout.String(), Stderr: err.Error()}
	}
	return ExecutionResult{ExitCode: 0, Stdout: stdout.String(), Stderr: stderr.String()}
}
