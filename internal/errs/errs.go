// Package errs holds the error taxonomy shared by the scheduler, the executor and the
// workflow runner. Callers match with errors.Is against the sentinels; constructors
// wrap a sentinel with context.
package errs

import (
	"errors"
	"fmt"
)

var (
	ErrValidation     = errors.New("validation error")
	ErrNotFound       = errors.New("not found")
	ErrAlreadyExists  = errors.New("already exists")
	ErrExecution      = errors.New("execution error")
	ErrTimeout        = errors.New("timeout")
	ErrFileReadiness  = errors.New("file readiness error")
	ErrSchedulerState = errors.New("scheduler state error")
)

func Validation(format string, args ...any) error {
	return wrap(ErrValidation, format, args...)
}

func NotFound(format string, args ...any) error {
	return wrap(ErrNotFound, format, args...)
}

func AlreadyExists(format string, args ...any) error {
	return wrap(ErrAlreadyExists, format, args...)
}

func Execution(format string, args ...any) error {
	return wrap(ErrExecution, format, args...)
}

func Timeout(format string, args ...any) error {
	return wrap(ErrTimeout, format, args...)
}

func FileReadiness(format string, args ...any) error {
	return wrap(ErrFileReadiness, format, args...)
}

func SchedulerState(format string, args ...any) error {
	return wrap(ErrSchedulerState, format, args...)
}

func wrap(kind error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", kind, fmt.Sprintf(format, args...))
}

// Kind returns the taxonomy sentinel err belongs to, or nil.
func Kind(err error) error {
	for _, k := range []error{
		ErrValidation, ErrNotFound, ErrAlreadyExists, ErrExecution,
		ErrTimeout, ErrFileReadiness, ErrSchedulerState,
	} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}
