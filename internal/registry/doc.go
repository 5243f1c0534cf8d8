// Package registry holds the static set of backend services the gateway
// knows about. It is built once at startup from configuration and never
// mutated afterwards.
package registry
