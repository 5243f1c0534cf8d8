package healthcheck

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/angeloszaimis/healthgate/internal/metrics"
)

const DefaultInterval = 10 * time.Second

var (
	ErrAlreadyStarted = errors.New("scheduler already started")
	ErrSweepRunning   = errors.New("a sweep is already running")
	ErrSweepPanicked  = errors.New("sweep panicked")
)

// Sweeper runs one sweep.
type Sweeper interface {
	RunSweep(ctx context.Context) SweepReport
}

// Scheduler runs a sweep, waits a fixed interval, and repeats until it is
// stopped. At most one sweep runs at a time; a sweep requested while
// another is in flight is skipped.
type Scheduler struct {
	sweeper   Sweeper
	interval  time.Duration
	logger    *slog.Logger
	collector *metrics.Collector

	running atomic.Bool

	mutex  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewScheduler(logger *slog.Logger, sweeper Sweeper, interval time.Duration, collector *metrics.Collector) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}

	return &Scheduler{
		sweeper:   sweeper,
		interval:  interval,
		logger:    logger,
		collector: collector,
	}
}

// Start launches the background loop. The first sweep runs immediately.
// The loop ends when ctx is done or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.done != nil {
		return ErrAlreadyStarted
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.loop(ctx, s.done)

	s.logger.Info("Health check scheduler started", slog.Duration("interval", s.interval))
	return nil
}

// Stop cancels the loop and waits for the in-flight sweep, if any, to
// return. It is safe to call more than once and before Start.
func (s *Scheduler) Stop() {
	s.mutex.Lock()
	cancel, done := s.cancel, s.done
	s.mutex.Unlock()

	if cancel == nil {
		return
	}

	cancel()
	<-done
}

// Done is closed once the loop has exited. It returns nil before Start.
func (s *Scheduler) Done() <-chan struct{} {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.done
}

// RunNow performs a sweep on the caller's goroutine unless one is already
// running, in which case it returns ErrSweepRunning. A sweep that panics
// returns an error wrapping ErrSweepPanicked.
func (s *Scheduler) RunNow(ctx context.Context) (SweepReport, error) {
	return s.runOnce(ctx)
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	s.runOnce(ctx)

	timer := time.NewTimer(s.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Health check scheduler stopped")
			return

		case <-timer.C:
			s.runOnce(ctx)
			timer.Reset(s.interval)
		}
	}
}

// runOnce runs a single guarded sweep. A panic escaping the sweeper is
// logged and turned into an error so the loop keeps going.
func (s *Scheduler) runOnce(ctx context.Context) (report SweepReport, err error) {
	if !s.running.CompareAndSwap(false, true) {
		s.logger.Warn("Skipping sweep, previous sweep still running")
		s.collector.Emit(metrics.MetricEvent{Type: metrics.EventSweepSkipped})
		return SweepReport{}, ErrSweepRunning
	}
	defer s.running.Store(false)

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Sweep panicked", slog.Any("panic", r))
			report, err = SweepReport{}, fmt.Errorf("%w: %v", ErrSweepPanicked, r)
		}
	}()

	return s.sweeper.RunSweep(ctx), nil
}
