// Package events carries health and gateway events to their consumers.
//
// A Sink receives every event. LogSink writes structured log records,
// RedisSink appends to a Redis stream acting as an event store, and Hub
// fans status changes out to live subscribers such as websocket clients.
// Multi combines several sinks into one.
package events
