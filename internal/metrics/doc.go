// Package metrics collects probe, sweep and forwarding statistics.
//
// Producers emit MetricEvents without blocking; a single collector
// goroutine folds them into an in-memory summary served as JSON and into
// Prometheus collectors served on /metrics.
package metrics
