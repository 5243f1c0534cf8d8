package healthcheck

import (
	"context"

	"github.com/angeloszaimis/healthgate/internal/registry"
	"github.com/angeloszaimis/healthgate/internal/status"
)

// Monitor is the read side of the health subsystem. It never writes to
// the status table.
type Monitor struct {
	registry *registry.Registry
	table    *status.Table
	checker  Checker
}

func NewMonitor(reg *registry.Registry, table *status.Table, checker Checker) *Monitor {
	return &Monitor{
		registry: reg,
		table:    table,
		checker:  checker,
	}
}

// Status returns the cached entry for name, or an error wrapping
// registry.ErrNotFound.
func (m *Monitor) Status(name string) (status.Entry, error) {
	if _, err := m.registry.Lookup(name); err != nil {
		return status.Entry{}, err
	}
	return m.table.Get(name)
}

// AllStatus returns a snapshot of every cached entry.
func (m *Monitor) AllStatus() map[string]status.Entry {
	return m.table.Snapshot()
}

// CheckNow probes name synchronously and returns the fresh result without
// touching the cache.
func (m *Monitor) CheckNow(ctx context.Context, name string) (ProbeResult, error) {
	target, err := m.registry.Lookup(name)
	if err != nil {
		return ProbeResult{}, err
	}
	return m.checker.Probe(ctx, target), nil
}

// Names returns the registered service names.
func (m *Monitor) Names() []string {
	return m.registry.Names()
}
