//go:build linux

package unitctl

import (
	"context"
	"sync"

	"github.com/coreos/go-systemd/v22/dbus"

	"wfsched/internal/errs"
	logx "wfsched/pkg/logx"
)

// Manager holds one system bus connection, opened on first use and
// reopened after Close.
type Manager struct {
	mu   sync.Mutex
	conn *dbus.Conn
	log  logx.Logger
}

func New(log logx.Logger) *Manager {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Manager{log: log.With(logx.String("comp", "unitctl"))}
}

func (m *Manager) connect(ctx context.Context) (*dbus.Conn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn != nil && m.conn.Connected() {
		return m.conn, nil
	}
	conn, err := dbus.NewSystemConnectionContext(ctx)
	if err != nil {
		return nil, errs.Execution("connect to systemd: %v", err)
	}
	m.conn = conn
	return conn, nil
}

func (m *Manager) Do(ctx context.Context, action Action, unit string) error {
	name, err := UnitName(unit)
	if err != nil {
		return err
	}
	conn, err := m.connect(ctx)
	if err != nil {
		return err
	}

	if action == IsActive {
		props, err := conn.GetUnitPropertiesContext(ctx, name)
		if err != nil {
			return errs.Execution("query %s: %v", name, err)
		}
		if load, _ := props["LoadState"].(string); load == "not-found" {
			return errs.Execution("unit %s not found", name)
		}
		if state, _ := props["ActiveState"].(string); state != "active" {
			return errs.Execution("unit %s is %s", name, state)
		}
		return nil
	}

	var call func(context.Context, string, string, chan<- string) (int, error)
	switch action {
	case Start:
		call = conn.StartUnitContext
	case Stop:
		call = conn.StopUnitContext
	case Restart:
		call = conn.RestartUnitContext
	default:
		return errs.Validation("unknown unit action %q", action)
	}

	done := make(chan string, 1)
	if _, err := call(ctx, name, "replace", done); err != nil {
		return errs.Execution("%s %s: %v", action, name, err)
	}
	select {
	case res := <-done:
		if res != "done" {
			return errs.Execution("%s %s: job result %q", action, name, res)
		}
		m.log.Info("unit action done", logx.String("unit", name), logx.String("action", string(action)))
		return nil
	case <-ctx.Done():
		return errs.Timeout("%s %s: %v", action, name, ctx.Err())
	}
}

func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	return nil
}
