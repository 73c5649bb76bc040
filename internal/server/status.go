package server

import (
	"os"
	"time"

	"github.com/roach88/btdebug/internal/event"
)

// Status is a point-in-time view of a Manager.
type Status struct {
	State         State      `json:"state"`
	Database      string     `json:"database"`
	Driver        string     `json:"driver"`
	Instance      string     `json:"instance"`
	PID           int        `json:"pid"`
	Version       string     `json:"version"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	UptimeSeconds int64      `json:"uptime_seconds"`
	Reconnects    int        `json:"reconnects"`
	LastError     string     `json:"last_error,omitempty"`
}

// Status reports the manager's state. It implements dispatch.Backend.
func (m *Manager) Status() any {
	return m.Snapshot()
}

// Snapshot returns the typed status.
func (m *Manager) Snapshot() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := Status{
		State:      m.state,
		Database:   m.opts.DatabasePath,
		Driver:     m.opts.Driver,
		Instance:   m.opts.InstanceName,
		PID:        os.Getpid(),
		Version:    event.ToolVersion,
		Reconnects: m.reconnects,
	}
	if !m.startedAt.IsZero() {
		started := m.startedAt
		s.StartedAt = &started
		s.UptimeSeconds = int64(m.now().Sub(started) / time.Second)
	}
	if m.lastErr != nil {
		s.LastError = m.lastErr.Error()
	}
	return s
}
