package events

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
)

// ErrQueueFull is returned by Dispatcher.Publish when the event was dropped.
var ErrQueueFull = errors.New("event queue full")

// Dispatcher queues events in a buffered channel and hands them to the
// wrapped sink on a single goroutine, so publishers never wait on sink I/O.
type Dispatcher struct {
	sink    Sink
	queue   chan Event
	logger  *slog.Logger
	dropped atomic.Int64

	startOnce sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

func NewDispatcher(logger *slog.Logger, sink Sink, buffer int) *Dispatcher {
	if buffer < 1 {
		buffer = 1
	}

	return &Dispatcher{
		sink:   sink,
		queue:  make(chan Event, buffer),
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Start launches the delivery goroutine. It stops when ctx is done or
// Close is called, delivering whatever is still queued first.
func (d *Dispatcher) Start(ctx context.Context) {
	d.startOnce.Do(func() {
		ctx, d.cancel = context.WithCancel(ctx)
		go d.run(ctx)
	})
}

// Close stops delivery and waits for the queue to be flushed. It is a
// no-op before Start.
func (d *Dispatcher) Close() {
	if d.cancel == nil {
		return
	}
	d.cancel()
	<-d.done
}

// Publish queues the event without blocking.
func (d *Dispatcher) Publish(_ context.Context, event Event) error {
	select {
	case d.queue <- event:
		return nil
	default:
		d.dropped.Add(1)
		return ErrQueueFull
	}
}

// Dropped returns how many events were discarded because the queue was full.
func (d *Dispatcher) Dropped() int64 {
	return d.dropped.Load()
}

func (d *Dispatcher) run(ctx context.Context) {
	defer close(d.done)

	for {
		select {
		case event := <-d.queue:
			d.deliver(event)
		case <-ctx.Done():
			d.drain()
			return
		}
	}
}

func (d *Dispatcher) drain() {
	for {
		select {
		case event := <-d.queue:
			d.deliver(event)
		default:
			return
		}
	}
}

func (d *Dispatcher) deliver(event Event) {
	// Sinks bound their own I/O; delivery must outlive the caller's context.
	if err := d.sink.Publish(context.Background(), event); err != nil {
		d.logger.Warn("Failed to deliver event",
			slog.String("kind", string(event.Kind)),
			slog.String("service", event.Service),
			slog.Any("err", err))
	}
}
