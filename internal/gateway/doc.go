// Package gateway forwards resource requests to the service that owns the
// path prefix and translates upstream failures into gateway errors.
//
// A 2xx upstream answer is relayed verbatim. Any other upstream status
// becomes an *Error carrying that status and a fixed message, so backend
// error bodies never reach the caller. An unreachable upstream becomes a
// 5xx *Error wrapping ErrUpstreamUnavailable.
//
// The forwarder does not consult cached health. Each call goes to the
// network unless the optional per-service circuit breaker is open.
package gateway
