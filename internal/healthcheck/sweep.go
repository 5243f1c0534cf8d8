package healthcheck

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/angeloszaimis/healthgate/internal/events"
	"github.com/angeloszaimis/healthgate/internal/metrics"
	"github.com/angeloszaimis/healthgate/internal/registry"
	"github.com/angeloszaimis/healthgate/internal/status"
)

// SweepReport summarises one sweep.
type SweepReport struct {
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Results   []ProbeResult `json:"results"`
	Committed int           `json:"committed"`
	// Abandoned is set when the sweep's context ended before the commit;
	// nothing is written to the table in that case.
	Abandoned bool `json:"abandoned,omitempty"`
}

// Coordinator probes every registered target concurrently and commits the
// results to the status table. It is the table's only writer.
type Coordinator struct {
	registry       *registry.Registry
	checker        Checker
	table          *status.Table
	sink           events.Sink
	collector      *metrics.Collector
	logger         *slog.Logger
	maxConcurrency int
}

type CoordinatorOption func(*Coordinator)

// WithMaxConcurrency caps the number of in-flight probes. Zero means one
// goroutine per target.
func WithMaxConcurrency(n int) CoordinatorOption {
	return func(c *Coordinator) {
		if n > 0 {
			c.maxConcurrency = n
		}
	}
}

// WithEventSink sets where status change events are published.
func WithEventSink(sink events.Sink) CoordinatorOption {
	return func(c *Coordinator) {
		c.sink = sink
	}
}

func WithCollector(collector *metrics.Collector) CoordinatorOption {
	return func(c *Coordinator) {
		c.collector = collector
	}
}

func NewCoordinator(
	logger *slog.Logger,
	reg *registry.Registry,
	checker Checker,
	table *status.Table,
	opts ...CoordinatorOption,
) *Coordinator {
	c := &Coordinator{
		registry: reg,
		checker:  checker,
		table:    table,
		sink:     events.Discard{},
		logger:   logger,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// RunSweep probes all targets, waits for every probe to finish or time
// out, then updates each table entry. A failing target never prevents the
// others from being probed or committed.
func (c *Coordinator) RunSweep(ctx context.Context) SweepReport {
	start := time.Now()
	targets := c.registry.Targets()
	results := make([]ProbeResult, len(targets))

	var g errgroup.Group
	if c.maxConcurrency > 0 {
		g.SetLimit(c.maxConcurrency)
	}

	for i, target := range targets {
		i, target := i, target
		g.Go(func() error {
			results[i] = c.safeProbe(ctx, target)
			return nil
		})
	}
	_ = g.Wait()

	report := SweepReport{
		StartedAt: start,
		Results:   results,
	}

	if ctx.Err() != nil {
		report.Abandoned = true
		report.Duration = time.Since(start)
		c.logger.Info("Sweep abandoned", slog.Int("targets", len(targets)))
		return report
	}

	// Every entry is committed before any event goes out, so a slow sink
	// cannot hold back the rest of the table.
	var changes []status.Change
	for _, result := range results {
		change, ok := c.commit(result)
		if !ok {
			continue
		}
		report.Committed++
		if change.OutcomeChanged() {
			changes = append(changes, change)
		}
	}

	for _, change := range changes {
		c.publishChange(ctx, change)
	}

	report.Duration = time.Since(start)

	c.collector.Emit(metrics.MetricEvent{
		Type:     metrics.EventSweepCompleted,
		Duration: report.Duration,
	})

	c.logger.Debug("Sweep completed",
		slog.Int("targets", len(targets)),
		slog.Int("committed", report.Committed),
		slog.Duration("duration", report.Duration))

	return report
}

func (c *Coordinator) safeProbe(ctx context.Context, target registry.Target) (result ProbeResult) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Probe panicked",
				slog.String("service", target.Name),
				slog.Any("panic", r))
			result = ProbeResult{
				Name:       target.Name,
				Outcome:    status.Error,
				Category:   CategoryPanic,
				Detail:     fmt.Sprintf("unexpected fault: %v", r),
				ObservedAt: time.Now(),
			}
		}
	}()

	result = c.checker.Probe(ctx, target)

	// The table is keyed by registry name regardless of what the checker
	// reported.
	result.Name = target.Name
	if result.ObservedAt.IsZero() {
		result.ObservedAt = time.Now()
	}
	if result.Outcome == "" {
		result.Outcome = status.Error
		result.Category = CategoryPanic
		result.Detail = "checker returned no outcome"
	}

	return result
}

func (c *Coordinator) commit(result ProbeResult) (status.Change, bool) {
	c.collector.Emit(metrics.MetricEvent{
		Type:     metrics.EventProbeCompleted,
		Service:  result.Name,
		Outcome:  string(result.Outcome),
		Duration: result.Latency,
	})

	change, err := c.table.Update(result.Entry())
	if err != nil {
		c.logger.Error("Failed to commit probe result",
			slog.String("service", result.Name),
			slog.Any("err", err))
		return status.Change{}, false
	}

	if !change.Applied {
		c.logger.Debug("Discarded stale probe result", slog.String("service", result.Name))
		return status.Change{}, false
	}

	if change.OutcomeChanged() {
		c.collector.Emit(metrics.MetricEvent{
			Type:    metrics.EventHealthChanged,
			Service: result.Name,
			Outcome: string(change.Current.Outcome),
		})
	}

	return change, true
}

func (c *Coordinator) publishChange(ctx context.Context, change status.Change) {
	err := c.sink.Publish(context.WithoutCancel(ctx), events.Event{
		Kind:      events.KindStatusChanged,
		Service:   change.Current.Name,
		Outcome:   string(change.Current.Outcome),
		Previous:  string(change.Previous.Outcome),
		Detail:    change.Current.Detail,
		Timestamp: change.Current.LastChecked,
	})
	if err != nil {
		c.logger.Warn("Failed to publish status change",
			slog.String("service", change.Current.Name),
			slog.Any("err", err))
	}
}
