package events

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

type Kind string

const (
	KindProbe         Kind = "probe"
	KindStatusChanged Kind = "status_changed"
	KindForwardFailed Kind = "forward_failed"
)

// Event is a single record emitted by the prober, the sweep or the
// gateway forwarder.
type Event struct {
	Kind       Kind      `json:"kind"`
	Service    string    `json:"service"`
	Outcome    string    `json:"status,omitempty"`
	Previous   string    `json:"previous,omitempty"`
	Category   string    `json:"category,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	Method     string    `json:"method,omitempty"`
	Path       string    `json:"path,omitempty"`
	StatusCode int       `json:"status_code,omitempty"`
	RequestID  string    `json:"request_id,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Sink consumes events. Implementations must be safe for concurrent use.
type Sink interface {
	Publish(ctx context.Context, event Event) error
}

// Multi publishes to every sink and joins their errors.
type Multi []Sink

func (m Multi) Publish(ctx context.Context, event Event) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard drops every event.
type Discard struct{}

func (Discard) Publish(context.Context, Event) error { return nil }

// LogSink writes events as structured log records.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Publish(ctx context.Context, event Event) error {
	attrs := []slog.Attr{
		slog.String("service", event.Service),
		slog.Time("timestamp", event.Timestamp),
	}
	if event.Outcome != "" {
		attrs = append(attrs, slog.String("status", event.Outcome))
	}
	if event.Previous != "" {
		attrs = append(attrs, slog.String("previous", event.Previous))
	}
	if event.Category != "" {
		attrs = append(attrs, slog.String("category", event.Category))
	}
	if event.Detail != "" {
		attrs = append(attrs, slog.String("detail", event.Detail))
	}
	if event.Method != "" {
		attrs = append(attrs,
			slog.String("method", event.Method),
			slog.String("path", event.Path),
			slog.Int("status_code", event.StatusCode))
	}
	if event.RequestID != "" {
		attrs = append(attrs, slog.String("request_id", event.RequestID))
	}

	s.logger.LogAttrs(ctx, levelFor(event), messageFor(event), attrs...)
	return nil
}

func levelFor(event Event) slog.Level {
	switch event.Kind {
	case KindForwardFailed:
		return slog.LevelWarn
	case KindStatusChanged:
		if event.Outcome == "UP" {
			return slog.LevelInfo
		}
		return slog.LevelWarn
	}

	switch event.Outcome {
	case "UP":
		return slog.LevelDebug
	case "DOWN":
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}

func messageFor(event Event) string {
	switch event.Kind {
	case KindStatusChanged:
		if event.Outcome == "UP" {
			return "Service is back up"
		}
		return "Service is down"
	case KindForwardFailed:
		return "Forwarding failed"
	default:
		return "Probe completed"
	}
}
