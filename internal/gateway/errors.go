package gateway

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNoRoute indicates that no service owns the request path.
	ErrNoRoute = errors.New("no service owns this path")

	// ErrUpstreamRejected indicates the upstream answered with a non-2xx
	// status.
	ErrUpstreamRejected = errors.New("upstream rejected the request")

	// ErrUpstreamUnavailable indicates the upstream could not be reached or
	// did not answer in time.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrClientClosed indicates the caller cancelled or timed out before
	// the upstream answered. It says nothing about the upstream's health.
	ErrClientClosed = errors.New("client closed request")

	// ErrCircuitOpen indicates the call was refused locally because the
	// service's breaker is open.
	ErrCircuitOpen = errors.New("circuit breaker open")
)

// Error is what Forward returns for every failure. StatusCode is the code
// the gateway should answer with.
type Error struct {
	Service    string
	StatusCode int
	Message    string
	Cause      error
}

func (e *Error) Error() string {
	if e.Service == "" {
		return fmt.Sprintf("gateway: %s (%d)", e.Message, e.StatusCode)
	}
	return fmt.Sprintf("gateway: %s: %s (%d)", e.Service, e.Message, e.StatusCode)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func newNoRouteError(path string) *Error {
	return &Error{
		StatusCode: http.StatusNotFound,
		Message:    fmt.Sprintf("no service handles %s", path),
		Cause:      ErrNoRoute,
	}
}

// newRejectedError keeps the upstream status but replaces the body with a
// fixed message.
func newRejectedError(service string, statusCode int) *Error {
	msg := http.StatusText(statusCode)
	if msg == "" {
		msg = "unexpected status"
	}
	return &Error{
		Service:    service,
		StatusCode: statusCode,
		Message:    fmt.Sprintf("%s service responded: %s", service, msg),
		Cause:      ErrUpstreamRejected,
	}
}

func newUnavailableError(service string, statusCode int, cause error) *Error {
	return &Error{
		Service:    service,
		StatusCode: statusCode,
		Message:    fmt.Sprintf("%s service is unavailable", service),
		Cause:      fmt.Errorf("%w: %w", ErrUpstreamUnavailable, cause),
	}
}

// StatusClientClosedRequest is the non-standard code used when the caller
// went away before the upstream answered.
const StatusClientClosedRequest = 499

func newClientClosedError(service string, cause error) *Error {
	return &Error{
		Service:    service,
		StatusCode: StatusClientClosedRequest,
		Message:    "request cancelled by client",
		Cause:      fmt.Errorf("%w: %w", ErrClientClosed, cause),
	}
}

func newCircuitOpenError(service string) *Error {
	return &Error{
		Service:    service,
		StatusCode: http.StatusServiceUnavailable,
		Message:    fmt.Sprintf("%s service is temporarily disabled after repeated failures", service),
		Cause:      fmt.Errorf("%w: %w", ErrUpstreamUnavailable, ErrCircuitOpen),
	}
}

// StatusCode extracts the HTTP status for err, defaulting to 502.
func StatusCode(err error) int {
	var gwErr *Error
	if errors.As(err, &gwErr) {
		return gwErr.StatusCode
	}
	return http.StatusBadGateway
}
