package status

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Outcome is the classified health of a service.
type Outcome string

const (
	Unknown Outcome = "UNKNOWN"
	Up      Outcome = "UP"
	Down    Outcome = "DOWN"
	Error   Outcome = "ERROR"
)

// IsUp reports whether the outcome counts as healthy.
func (o Outcome) IsUp() bool {
	return o == Up
}

// ErrUnknownService is returned for names that are not part of the table.
var ErrUnknownService = errors.New("unknown service")

// Entry is the cached health state of one service.
type Entry struct {
	Name        string    `json:"service"`
	Outcome     Outcome   `json:"status"`
	Detail      string    `json:"detail,omitempty"`
	LastChecked time.Time `json:"last_checked,omitzero"`
}

// Change describes the effect of a single Update call.
type Change struct {
	Previous Entry
	Current  Entry
	// Applied is false when the update was older than the stored entry.
	Applied bool
}

// OutcomeChanged reports whether the update flipped the service's outcome.
func (c Change) OutcomeChanged() bool {
	return c.Applied && c.Previous.Outcome != c.Current.Outcome
}

// Table maps service names to their last-known Entry.
type Table struct {
	mutex   sync.RWMutex
	entries map[string]*Entry
}

// NewTable creates a table holding one Unknown entry per name.
func NewTable(names []string) *Table {
	entries := make(map[string]*Entry, len(names))
	for _, name := range names {
		entries[name] = &Entry{Name: name, Outcome: Unknown}
	}
	return &Table{entries: entries}
}

// Get returns the entry for name.
func (t *Table) Get(name string) (Entry, error) {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	e, ok := t.entries[name]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %q", ErrUnknownService, name)
	}
	return *e, nil
}

// Snapshot returns a copy of every entry keyed by name.
func (t *Table) Snapshot() map[string]Entry {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	out := make(map[string]Entry, len(t.entries))
	for name, e := range t.entries {
		out[name] = *e
	}
	return out
}

// Len returns the number of entries.
func (t *Table) Len() int {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	return len(t.entries)
}

// Update atomically replaces the entry named by e.Name. Names outside the
// table are rejected, and an entry older than the stored one is ignored so
// that LastChecked never moves backwards.
func (t *Table) Update(e Entry) (Change, error) {
	next := e

	t.mutex.Lock()
	defer t.mutex.Unlock()

	current, ok := t.entries[e.Name]
	if !ok {
		return Change{}, fmt.Errorf("%w: %q", ErrUnknownService, e.Name)
	}

	if e.LastChecked.Before(current.LastChecked) {
		return Change{Previous: *current, Current: *current}, nil
	}

	prev := *current
	t.entries[e.Name] = &next

	return Change{Previous: prev, Current: next, Applied: true}, nil
}
