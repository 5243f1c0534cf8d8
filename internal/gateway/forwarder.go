package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angeloszaimis/healthgate/internal/circuitbreaker"
	"github.com/angeloszaimis/healthgate/internal/events"
	"github.com/angeloszaimis/healthgate/internal/metrics"
	"github.com/angeloszaimis/healthgate/internal/registry"
)

const (
	DefaultTimeout = 10 * time.Second

	// maxResponseBytes bounds how much of an upstream body is buffered.
	maxResponseBytes = 10 << 20

	HeaderRequestID       = "X-Request-ID"
	HeaderForwardedFor    = "X-Forwarded-For"
	HeaderUpstreamService = "X-Upstream-Service"
)

// Hop-by-hop headers are meaningful only for a single connection and are
// never copied across the gateway.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Response is a buffered 2xx upstream answer.
type Response struct {
	Service    string
	StatusCode int
	Header     http.Header
	Body       []byte
	Duration   time.Duration
}

type Forwarder struct {
	registry  *registry.Registry
	client    *http.Client
	upstreams map[string]*Upstream
	breakers  *circuitbreaker.Registry
	sink      events.Sink
	collector *metrics.Collector
	logger    *slog.Logger
	newID     func() string
}

type Option func(*Forwarder)

func WithHTTPClient(client *http.Client) Option {
	return func(f *Forwarder) {
		f.client = client
	}
}

// WithCircuitBreaker enables short-circuiting of services whose recent
// calls keep failing. Breakers count transport failures and 5xx answers.
func WithCircuitBreaker(breakers *circuitbreaker.Registry) Option {
	return func(f *Forwarder) {
		f.breakers = breakers
	}
}

func WithSink(sink events.Sink) Option {
	return func(f *Forwarder) {
		f.sink = sink
	}
}

func WithCollector(collector *metrics.Collector) Option {
	return func(f *Forwarder) {
		f.collector = collector
	}
}

// WithRequestIDGenerator replaces the uuid generator for X-Request-ID.
func WithRequestIDGenerator(fn func() string) Option {
	return func(f *Forwarder) {
		f.newID = fn
	}
}

// NewForwarder builds a forwarder over every target in reg. Targets whose
// base URL does not parse are rejected here rather than on first use.
func NewForwarder(logger *slog.Logger, reg *registry.Registry, timeout time.Duration, opts ...Option) (*Forwarder, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	f := &Forwarder{
		registry:  reg,
		client:    &http.Client{Timeout: timeout},
		upstreams: make(map[string]*Upstream, reg.Len()),
		logger:    logger,
		newID:     uuid.NewString,
	}

	for _, target := range reg.Targets() {
		u, err := target.URL()
		if err != nil {
			return nil, fmt.Errorf("service %s: %w", target.Name, err)
		}
		f.upstreams[target.Name] = newUpstream(target.Name, u)
	}

	for _, opt := range opts {
		opt(f)
	}

	if f.sink == nil {
		f.sink = events.NewLogSink(logger)
	}

	return f, nil
}

// Forward sends req to the service owning its path and returns the
// buffered 2xx answer. Every failure is an *Error.
func (f *Forwarder) Forward(ctx context.Context, req *http.Request) (*Response, error) {
	target, ok := f.registry.Resolve(req.URL.Path)
	if !ok {
		return nil, newNoRouteError(req.URL.Path)
	}

	upstream := f.upstreams[target.Name]
	f.ensureRequestID(req)

	outReq, err := f.buildRequest(ctx, upstream.url, req)
	if err != nil {
		gwErr := &Error{
			Service:    target.Name,
			StatusCode: http.StatusBadRequest,
			Message:    "request could not be forwarded",
			Cause:      err,
		}
		f.fail(ctx, req, gwErr, 0)
		return nil, gwErr
	}

	var breaker *circuitbreaker.CircuitBreaker
	if f.breakers != nil {
		breaker = f.breakers.Get(target.Name)
		if !breaker.Allow() {
			gwErr := newCircuitOpenError(target.Name)
			f.fail(ctx, req, gwErr, 0)
			return nil, gwErr
		}
	}

	upstream.acquire()
	defer upstream.release()

	start := time.Now()
	resp, err := f.client.Do(outReq)
	if err != nil {
		duration := time.Since(start)
		if ctx.Err() != nil {
			return nil, f.clientClosed(ctx, req, target.Name, breaker, err, duration)
		}

		upstream.recordFailure()
		if breaker != nil {
			breaker.RecordFailure()
		}

		gwErr := newUnavailableError(target.Name, unavailableStatus(err), err)
		f.fail(ctx, req, gwErr, duration)
		return nil, gwErr
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	duration := time.Since(start)
	upstream.recordResponse(duration)

	if err == nil && len(body) > maxResponseBytes {
		err = fmt.Errorf("response body exceeds %d bytes", maxResponseBytes)
	}
	if err != nil && ctx.Err() != nil {
		return nil, f.clientClosed(ctx, req, target.Name, breaker, err, duration)
	}
	if err != nil {
		upstream.recordFailure()
		if breaker != nil {
			breaker.RecordFailure()
		}
		gwErr := newUnavailableError(target.Name, unavailableStatus(err), err)
		f.fail(ctx, req, gwErr, duration)
		return nil, gwErr
	}

	if breaker != nil {
		if resp.StatusCode >= http.StatusInternalServerError {
			breaker.RecordFailure()
		} else {
			breaker.RecordSuccess()
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		upstream.recordFailure()
		gwErr := newRejectedError(target.Name, resp.StatusCode)
		f.fail(ctx, req, gwErr, duration)
		return nil, gwErr
	}

	f.collector.Emit(metrics.MetricEvent{
		Type:       metrics.EventForwardCompleted,
		Service:    target.Name,
		Duration:   duration,
		StatusCode: resp.StatusCode,
	})

	header := resp.Header.Clone()
	removeHopHeaders(header)
	header.Del("Content-Length")

	return &Response{
		Service:    target.Name,
		StatusCode: resp.StatusCode,
		Header:     header,
		Body:       body,
		Duration:   duration,
	}, nil
}

// Upstreams returns per-service counters, sorted by service name.
func (f *Forwarder) Upstreams() []UpstreamStats {
	var breakerStates map[string]circuitbreaker.State
	if f.breakers != nil {
		breakerStates = f.breakers.Stats()
	}

	stats := make([]UpstreamStats, 0, len(f.upstreams))
	for name, upstream := range f.upstreams {
		s := upstream.stats()
		if f.breakers != nil {
			state, ok := breakerStates[name]
			if !ok {
				state = circuitbreaker.StateClosed
			}
			s.Breaker = state.String()
		}
		stats = append(stats, s)
	}

	sort.Slice(stats, func(i, j int) bool {
		return stats[i].Service < stats[j].Service
	})

	return stats
}

func (f *Forwarder) buildRequest(ctx context.Context, base *url.URL, in *http.Request) (*http.Request, error) {
	dest := *base
	dest.Path = singleJoiningSlash(base.Path, in.URL.Path)
	dest.RawPath = ""
	dest.RawQuery = in.URL.RawQuery

	var body io.Reader
	if in.Body != nil && in.Body != http.NoBody {
		body = in.Body
	}

	out, err := http.NewRequestWithContext(ctx, in.Method, dest.String(), body)
	if err != nil {
		return nil, err
	}

	out.Header = in.Header.Clone()
	removeHopHeaders(out.Header)
	out.ContentLength = in.ContentLength

	if clientIP, _, err := net.SplitHostPort(in.RemoteAddr); err == nil {
		if prior := out.Header.Values(HeaderForwardedFor); len(prior) > 0 {
			clientIP = strings.Join(prior, ", ") + ", " + clientIP
		}
		out.Header.Set(HeaderForwardedFor, clientIP)
	}

	return out, nil
}

// ensureRequestID tags the inbound request so callers can echo the same
// id back to the client.
func (f *Forwarder) ensureRequestID(req *http.Request) {
	if req.Header == nil {
		req.Header = make(http.Header)
	}
	if req.Header.Get(HeaderRequestID) == "" {
		req.Header.Set(HeaderRequestID, f.newID())
	}
}

// clientClosed handles a call abandoned by the caller. Neither the
// upstream counters nor the breaker learn anything from it.
func (f *Forwarder) clientClosed(
	ctx context.Context,
	req *http.Request,
	service string,
	breaker *circuitbreaker.CircuitBreaker,
	cause error,
	duration time.Duration,
) *Error {
	if breaker != nil {
		breaker.Release()
	}

	gwErr := newClientClosedError(service, cause)
	f.fail(ctx, req, gwErr, duration)
	return gwErr
}

func (f *Forwarder) fail(ctx context.Context, req *http.Request, gwErr *Error, duration time.Duration) {
	f.collector.Emit(metrics.MetricEvent{
		Type:       metrics.EventForwardCompleted,
		Service:    gwErr.Service,
		Duration:   duration,
		StatusCode: gwErr.StatusCode,
	})

	detail := gwErr.Message
	if gwErr.Cause != nil && !errors.Is(gwErr, ErrUpstreamRejected) {
		detail = gwErr.Cause.Error()
	}

	err := f.sink.Publish(context.WithoutCancel(ctx), events.Event{
		Kind:       events.KindForwardFailed,
		Service:    gwErr.Service,
		Detail:     detail,
		Method:     req.Method,
		Path:       req.URL.Path,
		StatusCode: gwErr.StatusCode,
		Timestamp:  time.Now(),
		RequestID:  req.Header.Get(HeaderRequestID),
	})
	if err != nil {
		f.logger.Warn("Failed to publish forward failure",
			slog.String("service", gwErr.Service),
			slog.Any("err", err))
	}
}

// unavailableStatus picks 504 for upstream timeouts and 502 for every
// other transport failure.
func unavailableStatus(err error) int {
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return http.StatusGatewayTimeout
	}
	return http.StatusBadGateway
}

func removeHopHeaders(h http.Header) {
	for _, name := range h.Values("Connection") {
		for _, field := range strings.Split(name, ",") {
			h.Del(strings.TrimSpace(field))
		}
	}
	for _, name := range hopHeaders {
		h.Del(name)
	}
}

func singleJoiningSlash(a, b string) string {
	aslash := strings.HasSuffix(a, "/")
	bslash := strings.HasPrefix(b, "/")
	switch {
	case aslash && bslash:
		return a + b[1:]
	case !aslash && !bslash:
		return a + "/" + b
	}
	return a + b
}
