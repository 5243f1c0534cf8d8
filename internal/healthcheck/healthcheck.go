package healthcheck

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/angeloszaimis/healthgate/internal/events"
	"github.com/angeloszaimis/healthgate/internal/registry"
	"github.com/angeloszaimis/healthgate/internal/status"
)

const (
	DefaultTimeout    = 3 * time.Second
	DefaultHealthPath = "/health"

	maxBodyBytes = 64 << 10
)

// Category explains why a probe ended the way it did.
type Category string

const (
	CategoryNone       Category = "none"
	CategoryTimeout    Category = "timeout"
	CategoryConnection Category = "connection"
	CategoryDNS        Category = "dns"
	CategoryStatus     Category = "status"
	CategoryDecode     Category = "decode"
	CategoryCanceled   Category = "canceled"
	CategoryConfig     Category = "config"
	CategoryPanic      Category = "panic"
)

// ProbeResult is the outcome of one probe against one target.
type ProbeResult struct {
	Name       string         `json:"service"`
	Outcome    status.Outcome `json:"status"`
	Category   Category       `json:"category"`
	Detail     string         `json:"detail,omitempty"`
	StatusCode int            `json:"status_code,omitempty"`
	Latency    time.Duration  `json:"latency"`
	ObservedAt time.Time      `json:"observed_at"`
}

// Entry converts the result into a status table entry.
func (r ProbeResult) Entry() status.Entry {
	return status.Entry{
		Name:        r.Name,
		Outcome:     r.Outcome,
		Detail:      r.Detail,
		LastChecked: r.ObservedAt,
	}
}

// Checker probes a single target. Implementations must never panic
// through to the caller and must always return a result.
type Checker interface {
	Probe(ctx context.Context, target registry.Target) ProbeResult
}

// Prober checks a target by issuing GET {base_url}/health with a bounded
// timeout.
type Prober struct {
	client  *http.Client
	timeout time.Duration
	path    string
	sink    events.Sink
	logger  *slog.Logger
	now     func() time.Time
}

type ProberOption func(*Prober)

// WithHTTPClient replaces the HTTP client. The prober's own timeout still
// applies per request.
func WithHTTPClient(client *http.Client) ProberOption {
	return func(p *Prober) {
		p.client = client
	}
}

func WithHealthPath(path string) ProberOption {
	return func(p *Prober) {
		if path != "" {
			p.path = path
		}
	}
}

// WithSink sets where probe outcome events are published.
func WithSink(sink events.Sink) ProberOption {
	return func(p *Prober) {
		p.sink = sink
	}
}

func WithClock(now func() time.Time) ProberOption {
	return func(p *Prober) {
		p.now = now
	}
}

// NewProber creates a prober. A non-positive timeout selects DefaultTimeout.
// Outcomes are logged through logger unless WithSink overrides it.
func NewProber(logger *slog.Logger, timeout time.Duration, opts ...ProberOption) *Prober {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	p := &Prober{
		client:  &http.Client{},
		timeout: timeout,
		path:    DefaultHealthPath,
		sink:    events.NewLogSink(logger),
		logger:  logger,
		now:     time.Now,
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Probe performs a single health check. Every failure mode, including a
// panic inside the exchange, is folded into the returned result.
func (p *Prober) Probe(ctx context.Context, target registry.Target) (result ProbeResult) {
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			result = ProbeResult{
				Name:     target.Name,
				Outcome:  status.Error,
				Category: CategoryPanic,
				Detail:   fmt.Sprintf("unexpected fault: %v", r),
			}
		}

		result.Latency = time.Since(start)
		result.ObservedAt = p.now()
		p.publish(ctx, result)
	}()

	return p.probe(ctx, target)
}

func (p *Prober) probe(ctx context.Context, target registry.Target) ProbeResult {
	base, err := target.URL()
	if err != nil {
		return ProbeResult{
			Name:     target.Name,
			Outcome:  status.Error,
			Category: CategoryConfig,
			Detail:   err.Error(),
		}
	}

	healthURL := base.JoinPath(p.path)

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, healthURL.String(), nil)
	if err != nil {
		return ProbeResult{
			Name:     target.Name,
			Outcome:  status.Error,
			Category: CategoryConfig,
			Detail:   err.Error(),
		}
	}

	res, err := p.client.Do(req)
	if err != nil {
		category := classifyTransport(err)
		detail := err.Error()
		if category == CategoryTimeout {
			detail = fmt.Sprintf("no response within %s", p.timeout)
		}
		return ProbeResult{
			Name:     target.Name,
			Outcome:  status.Down,
			Category: category,
			Detail:   detail,
		}
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return ProbeResult{
			Name:       target.Name,
			Outcome:    status.Down,
			Category:   CategoryStatus,
			Detail:     fmt.Sprintf("unexpected status %d", res.StatusCode),
			StatusCode: res.StatusCode,
		}
	}

	if _, err := io.Copy(io.Discard, io.LimitReader(res.Body, maxBodyBytes)); err != nil {
		category := CategoryDecode
		if classifyTransport(err) == CategoryTimeout {
			category = CategoryTimeout
		}
		return ProbeResult{
			Name:       target.Name,
			Outcome:    status.Down,
			Category:   category,
			Detail:     fmt.Sprintf("reading health response: %v", err),
			StatusCode: res.StatusCode,
		}
	}

	return ProbeResult{
		Name:       target.Name,
		Outcome:    status.Up,
		Category:   CategoryNone,
		StatusCode: res.StatusCode,
	}
}

func (p *Prober) publish(ctx context.Context, result ProbeResult) {
	if p.sink == nil {
		return
	}

	err := p.sink.Publish(context.WithoutCancel(ctx), events.Event{
		Kind:       events.KindProbe,
		Service:    result.Name,
		Outcome:    string(result.Outcome),
		Category:   string(result.Category),
		Detail:     result.Detail,
		StatusCode: result.StatusCode,
		Timestamp:  result.ObservedAt,
	})
	if err != nil {
		p.logger.Warn("Failed to publish probe event",
			slog.String("service", result.Name),
			slog.Any("err", err))
	}
}

func classifyTransport(err error) Category {
	if errors.Is(err, context.DeadlineExceeded) {
		return CategoryTimeout
	}
	if errors.Is(err, context.Canceled) {
		return CategoryCanceled
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return CategoryTimeout
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return CategoryDNS
	}

	// Refused, reset and unreachable all land here.
	return CategoryConnection
}
