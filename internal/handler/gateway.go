package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/angeloszaimis/healthgate/internal/gateway"
)

type Forwarder interface {
	Forward(ctx context.Context, req *http.Request) (*gateway.Response, error)
}

// GatewayHandler relays resource requests through the forwarder and turns
// its errors into JSON error responses.
type GatewayHandler struct {
	logger    *slog.Logger
	forwarder Forwarder
}

func NewGatewayHandler(logger *slog.Logger, forwarder Forwarder) *GatewayHandler {
	return &GatewayHandler{
		logger:    logger,
		forwarder: forwarder,
	}
}

func (g *GatewayHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp, err := g.forwarder.Forward(r.Context(), r)

	if id := r.Header.Get(gateway.HeaderRequestID); id != "" {
		w.Header().Set(gateway.HeaderRequestID, id)
	}

	if err != nil {
		g.writeForwardError(w, r, err)
		return
	}

	for key, values := range resp.Header {
		for _, v := range values {
			w.Header().Add(key, v)
		}
	}
	w.Header().Set(gateway.HeaderUpstreamService, resp.Service)
	w.WriteHeader(resp.StatusCode)

	if _, err := w.Write(resp.Body); err != nil {
		g.logger.Debug("Failed to write response body",
			slog.String("service", resp.Service),
			slog.Any("err", err))
	}
}

func (g *GatewayHandler) writeForwardError(w http.ResponseWriter, r *http.Request, err error) {
	var gwErr *gateway.Error
	if !errors.As(err, &gwErr) {
		g.logger.Error("Unexpected forwarding error",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Any("err", err))
		writeError(w, http.StatusBadGateway, "upstream request failed")
		return
	}

	if gwErr.Service != "" {
		w.Header().Set(gateway.HeaderUpstreamService, gwErr.Service)
	}

	if errors.Is(err, gateway.ErrNoRoute) {
		writeError(w, gwErr.StatusCode, "Not found")
		return
	}

	writeError(w, gwErr.StatusCode, gwErr.Message)
}
