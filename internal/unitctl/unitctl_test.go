package unitctl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wfsched/internal/errs"
)

func TestParseAction(t *testing.T) {
	t.Parallel()
	for in, want := range map[string]Action{
		"start":     Start,
		" STOP ":    Stop,
		"restart":   Restart,
		"is-active": IsActive,
	} {
		got, err := ParseAction(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := ParseAction("reload")
	assert.ErrorIs(t, err, errs.ErrValidation)
}

func TestUnitName(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in, want string
		ok       bool
	}{
		{"nginx", "nginx.service", true},
		{"nginx.service", "nginx.service", true},
		{"backup.timer", "backup.timer", true},
		{"app@1", "app@1.service", true},
		{"v1.2", "v1.2.service", true},
		{"", "", false},
		{"a b", "", false},
		{"../etc", "", false},
	}
	for _, tt := range tests {
		got, err := UnitName(tt.in)
		if !tt.ok {
			assert.ErrorIs(t, err, errs.ErrValidation, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}
