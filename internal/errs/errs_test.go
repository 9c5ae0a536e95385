package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConstructorsWrapSentinel(t *testing.T) {
	t.Parallel()
	tests := []struct {
		err  error
		kind error
	}{
		{Validation("bad minute %d", 61), ErrValidation},
		{NotFound("job %q", "a"), ErrNotFound},
		{AlreadyExists("job %q", "a"), ErrAlreadyExists},
		{Execution("exit code %d", 1), ErrExecution},
		{Timeout("after %ds", 5), ErrTimeout},
		{FileReadiness("%s", "/tmp/x"), ErrFileReadiness},
		{SchedulerState("not running"), ErrSchedulerState},
	}
	for _, tt := range tests {
		assert.ErrorIs(t, tt.err, tt.kind)
		assert.Equal(t, tt.kind, Kind(fmt.Errorf("outer: %w", tt.err)))
	}
}

func TestKindUnknown(t *testing.T) {
	t.Parallel()
	assert.Nil(t, Kind(errors.New("plain")))
	assert.Nil(t, Kind(nil))
	assert.Equal(t, "validation error: bad minute 61", Validation("bad minute %d", 61).Error())
}
