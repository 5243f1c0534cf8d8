package circuitbreaker

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Registry hands out one breaker per service name, creating them lazily.
type Registry struct {
	mutex     sync.RWMutex
	breakers  map[string]*CircuitBreaker
	threshold int
	timeout   time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

type Option func(*Registry)

// WithLogger logs every state transition.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

func NewRegistry(threshold int, timeout time.Duration, opts ...Option) *Registry {
	r := &Registry{
		breakers:  make(map[string]*CircuitBreaker),
		threshold: threshold,
		timeout:   timeout,
		now:       time.Now,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

func (r *Registry) Get(service string) *CircuitBreaker {
	r.mutex.RLock()
	cb, exists := r.breakers[service]
	r.mutex.RUnlock()

	if exists {
		return cb
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	// Double-check: another goroutine may have created it
	if cb, exists = r.breakers[service]; exists {
		return cb
	}

	cb = NewCircuitBreaker(r.threshold, r.timeout)
	cb.now = r.now
	if r.logger != nil {
		logger := r.logger
		cb.onChange = func(from, to State) {
			level := slog.LevelWarn
			if to == StateClosed {
				level = slog.LevelInfo
			}
			logger.Log(context.Background(), level, "Circuit breaker state changed",
				slog.String("service", service),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		}
	}
	r.breakers[service] = cb
	return cb
}

func (r *Registry) Reset() {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.breakers = make(map[string]*CircuitBreaker)
}

func (r *Registry) Stats() map[string]State {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	stats := make(map[string]State, len(r.breakers))
	for service, cb := range r.breakers {
		stats[service] = cb.State()
	}
	return stats
}
