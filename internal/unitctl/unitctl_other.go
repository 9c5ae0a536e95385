//go:build !linux

package unitctl

import (
	"context"

	"wfsched/internal/errs"
	logx "wfsched/pkg/logx"
)

type Manager struct{}

func New(logx.Logger) *Manager { return &Manager{} }

func (m *Manager) Do(_ context.Context, _ Action, unit string) error {
	if _, err := UnitName(unit); err != nil {
		return err
	}
	return errs.Execution("systemd units are only supported on linux")
}

func (m *Manager) Close() error { return nil }
