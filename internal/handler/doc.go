// Package handler implements the HTTP surface of the gateway: service
// health queries, the status change stream, and the catch-all handler that
// forwards resource requests to their owning service.
package handler
