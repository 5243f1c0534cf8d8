// Package healthcheck polls backend services and maintains their cached
// health status.
//
// A Prober checks one target. The Coordinator fans a probe out to every
// registered target, waits for all of them, and commits the results to a
// status.Table. The Scheduler drives the Coordinator on a fixed interval
// in the background, and the Monitor exposes read access plus an
// uncached on-demand check.
package healthcheck
