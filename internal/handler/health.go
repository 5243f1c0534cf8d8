package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/angeloszaimis/healthgate/internal/healthcheck"
	"github.com/angeloszaimis/healthgate/internal/registry"
	"github.com/angeloszaimis/healthgate/internal/status"
)

// StatusReader is the read side of the health subsystem.
type StatusReader interface {
	Status(name string) (status.Entry, error)
	AllStatus() map[string]status.Entry
	CheckNow(ctx context.Context, name string) (healthcheck.ProbeResult, error)
}

// SweepTrigger runs an immediate sweep.
type SweepTrigger interface {
	RunNow(ctx context.Context) (healthcheck.SweepReport, error)
}

type HealthHandler struct {
	logger  *slog.Logger
	reader  StatusReader
	trigger SweepTrigger
}

type serviceStatus struct {
	Status      status.Outcome `json:"status"`
	Detail      string         `json:"detail,omitempty"`
	LastChecked time.Time      `json:"last_checked,omitzero"`
}

type refreshResponse struct {
	Duration  string                   `json:"duration"`
	Committed int                      `json:"committed"`
	Services  map[string]serviceStatus `json:"services"`
}

// NewHealthHandler wires the query endpoints. trigger may be nil, in which
// case the refresh endpoint answers 503.
func NewHealthHandler(logger *slog.Logger, reader StatusReader, trigger SweepTrigger) *HealthHandler {
	return &HealthHandler{
		logger:  logger,
		reader:  reader,
		trigger: trigger,
	}
}

// Liveness answers for the gateway itself.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "OK"})
}

// Service returns the cached entry for one service, or a fresh probe when
// ?fresh=true is given.
func (h *HealthHandler) Service(w http.ResponseWriter, r *http.Request) {
	if fresh, _ := strconv.ParseBool(r.URL.Query().Get("fresh")); fresh {
		h.Check(w, r)
		return
	}

	name := mux.Vars(r)["service"]

	entry, err := h.reader.Status(name)
	if err != nil {
		h.writeLookupError(w, name, err)
		return
	}

	writeJSON(w, http.StatusOK, entry)
}

// Check probes one service synchronously. The result is not cached.
func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["service"]

	result, err := h.reader.CheckNow(r.Context(), name)
	if err != nil {
		h.writeLookupError(w, name, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// All returns every cached entry keyed by service name.
func (h *HealthHandler) All(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toServiceStatuses(h.reader.AllStatus()))
}

// Refresh runs a sweep now and returns the resulting table.
func (h *HealthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	if h.trigger == nil {
		writeError(w, http.StatusServiceUnavailable, "on-demand sweeps are disabled")
		return
	}

	report, err := h.trigger.RunNow(r.Context())
	if errors.Is(err, healthcheck.ErrSweepRunning) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		h.logger.Error("On-demand sweep failed", slog.Any("err", err))
		writeError(w, http.StatusInternalServerError, "sweep failed")
		return
	}
	if report.Abandoned {
		writeError(w, http.StatusServiceUnavailable, "sweep abandoned before commit")
		return
	}

	writeJSON(w, http.StatusOK, refreshResponse{
		Duration:  report.Duration.String(),
		Committed: report.Committed,
		Services:  toServiceStatuses(h.reader.AllStatus()),
	})
}

func (h *HealthHandler) writeLookupError(w http.ResponseWriter, name string, err error) {
	if errors.Is(err, registry.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Service not found")
		return
	}

	h.logger.Error("Health lookup failed", slog.String("service", name), slog.Any("err", err))
	writeError(w, http.StatusInternalServerError, "health lookup failed")
}

func toServiceStatuses(entries map[string]status.Entry) map[string]serviceStatus {
	out := make(map[string]serviceStatus, len(entries))
	for name, e := range entries {
		out[name] = serviceStatus{
			Status:      e.Outcome,
			Detail:      e.Detail,
			LastChecked: e.LastChecked,
		}
	}
	return out
}
