// Package config handles loading and parsing of configuration from YAML files,
// a .env file and environment variables. It defines the monitored services,
// the probe cadence, gateway forwarding options and the event sinks.
package config
