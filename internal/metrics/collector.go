package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type EventType string

const (
	EventProbeCompleted   EventType = "probe_completed"
	EventHealthChanged    EventType = "health_changed"
	EventSweepCompleted   EventType = "sweep_completed"
	EventSweepSkipped     EventType = "sweep_skipped"
	EventForwardCompleted EventType = "forward_completed"
)

type MetricEvent struct {
	Type       EventType
	Timestamp  time.Time
	Service    string
	Outcome    string
	Duration   time.Duration
	StatusCode int
}

// Collector consumes metric events from a buffered channel on a single
// goroutine and feeds both the in-memory summary and Prometheus.
type Collector struct {
	eventCh  chan MetricEvent
	metrics  *Metrics
	prom     *promMetrics
	registry *prometheus.Registry
	logger   *slog.Logger
}

func NewCollector(bufferSize int, logger *slog.Logger) *Collector {
	reg := prometheus.NewRegistry()

	return &Collector{
		eventCh:  make(chan MetricEvent, bufferSize),
		metrics:  NewMetrics(),
		prom:     newPromMetrics(reg),
		registry: reg,
		logger:   logger,
	}
}

func (c *Collector) EventChannel() chan<- MetricEvent {
	return c.eventCh
}

// Emit queues an event without blocking. Events are dropped when the
// buffer is full. A nil collector ignores all events.
func (c *Collector) Emit(event MetricEvent) {
	if c == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case c.eventCh <- event:
	default:
	}
}

func (c *Collector) Start(ctx context.Context) {
	go c.run(ctx)
}

func (c *Collector) run(ctx context.Context) {
	c.logger.Info("Metrics collector started")
	defer c.logger.Info("Metrics collector stopped")

	for {
		select {
		case event := <-c.eventCh:
			c.processEvent(event)
		case <-ctx.Done():
			// Drain remaining events before shutdown
			c.drain()
			return
		}
	}
}

func (c *Collector) processEvent(event MetricEvent) {
	c.prom.observe(event)

	switch event.Type {
	case EventProbeCompleted:
		c.metrics.RecordProbe(event.Service, event.Outcome, event.Duration)

	case EventHealthChanged:
		c.metrics.UpdateHealthStatus(event.Service, event.Outcome)

	case EventSweepCompleted:
		c.metrics.RecordSweep(event.Duration)

	case EventSweepSkipped:
		c.metrics.RecordSkippedSweep()

	case EventForwardCompleted:
		c.metrics.RecordForward(event.Service, event.Duration, event.StatusCode)

	default:
		c.logger.Debug("Ignoring unknown metric event", slog.String("type", string(event.Type)))
	}
}

func (c *Collector) drain() {
	for {
		select {
		case event := <-c.eventCh:
			c.processEvent(event)
		default:
			return
		}
	}
}

func (c *Collector) Snapshot() Snapshot {
	return c.metrics.Snapshot()
}

// Registry exposes the Prometheus registry backing this collector.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}
