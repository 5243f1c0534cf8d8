package registry

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

var (
	// ErrNotFound is returned when a service name is not registered.
	ErrNotFound = errors.New("service not registered")

	// ErrDuplicate is returned when two targets share a name.
	ErrDuplicate = errors.New("duplicate service name")

	// ErrEmptyName is returned for a target without a name.
	ErrEmptyName = errors.New("service name cannot be empty")
)

// Target is a registered backend service.
type Target struct {
	Name     string
	BaseURL  string
	Prefixes []string
}

// URL parses the target's base URL. Malformed or host-less URLs are
// reported as errors so callers can classify them as configuration faults.
func (t Target) URL() (*url.URL, error) {
	u, err := url.Parse(t.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url %q: %w", t.BaseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("base url %q: unsupported scheme %q", t.BaseURL, u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("base url %q: missing host", t.BaseURL)
	}
	return u, nil
}

type route struct {
	prefix string
	name   string
}

// Registry maps service names to targets and resource prefixes to their
// owning service. It is safe for concurrent use since it is read-only.
type Registry struct {
	targets map[string]Target
	names   []string
	routes  []route
}

// New builds a registry from the given targets.
func New(targets []Target) (*Registry, error) {
	r := &Registry{
		targets: make(map[string]Target, len(targets)),
		names:   make([]string, 0, len(targets)),
	}

	owners := make(map[string]string)

	for _, t := range targets {
		if t.Name == "" {
			return nil, ErrEmptyName
		}
		if _, exists := r.targets[t.Name]; exists {
			return nil, fmt.Errorf("%w: %q", ErrDuplicate, t.Name)
		}

		prefixes := make([]string, 0, len(t.Prefixes))
		for _, p := range t.Prefixes {
			p = normalizePrefix(p)
			if p == "" {
				continue
			}
			if owner, taken := owners[p]; taken {
				return nil, fmt.Errorf("prefix %q claimed by both %q and %q", p, owner, t.Name)
			}
			owners[p] = t.Name
			prefixes = append(prefixes, p)
			r.routes = append(r.routes, route{prefix: p, name: t.Name})
		}

		t.Prefixes = prefixes
		r.targets[t.Name] = t
		r.names = append(r.names, t.Name)
	}

	sort.Strings(r.names)

	// Longest prefix first so that /backup/tasks wins over /backup.
	sort.Slice(r.routes, func(i, j int) bool {
		return len(r.routes[i].prefix) > len(r.routes[j].prefix)
	})

	return r, nil
}

// Lookup returns the target registered under name.
func (r *Registry) Lookup(name string) (Target, error) {
	t, ok := r.targets[name]
	if !ok {
		return Target{}, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return copyTarget(t), nil
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.targets[name]
	return ok
}

// Names returns the registered service names in sorted order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// Targets returns all targets sorted by name.
func (r *Registry) Targets() []Target {
	out := make([]Target, 0, len(r.names))
	for _, name := range r.names {
		out = append(out, copyTarget(r.targets[name]))
	}
	return out
}

// Len returns the number of registered targets.
func (r *Registry) Len() int {
	return len(r.targets)
}

// Resolve finds the target owning the given request path using
// longest-prefix matching on path segment boundaries.
func (r *Registry) Resolve(path string) (Target, bool) {
	for _, rt := range r.routes {
		if path == rt.prefix || strings.HasPrefix(path, rt.prefix+"/") {
			return copyTarget(r.targets[rt.name]), true
		}
	}
	return Target{}, false
}

func normalizePrefix(p string) string {
	p = strings.TrimSpace(p)
	p = strings.TrimRight(p, "/")
	if p == "" {
		return ""
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}

func copyTarget(t Target) Target {
	prefixes := make([]string, len(t.Prefixes))
	copy(prefixes, t.Prefixes)
	t.Prefixes = prefixes
	return t
}
