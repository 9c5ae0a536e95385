// Package unitctl starts, stops and checks systemd units over D-Bus.
package unitctl

import (
	"context"
	"strings"

	"wfsched/internal/errs"
)

type Action string

const (
	Start    Action = "start"
	Stop     Action = "stop"
	Restart  Action = "restart"
	IsActive Action = "is-active"
)

// Controller performs one action on one unit. Implementations return an
// errs.ErrExecution-wrapped error when the unit did not reach the wanted state.
type Controller interface {
	Do(ctx context.Context, action Action, unit string) error
}

func ParseAction(s string) (Action, error) {
	switch a := Action(strings.ToLower(strings.TrimSpace(s))); a {
	case Start, Stop, Restart, IsActive:
		return a, nil
	default:
		return "", errs.Validation("unknown unit action %q (want start, stop, restart or is-active)", s)
	}
}

// UnitName appends ".service" when name carries no unit suffix.
func UnitName(name string) (string, error) {
	n := strings.TrimSpace(name)
	if n == "" || strings.ContainsAny(n, "/ \t") {
		return "", errs.Validation("invalid unit name %q", name)
	}
	if i := strings.LastIndexByte(n, '.'); i > 0 && i < len(n)-1 {
		switch n[i+1:] {
		case "service", "timer", "target", "socket", "mount", "path":
			return n, nil
		}
	}
	return n + ".service", nil
}
