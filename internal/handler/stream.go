package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/angeloszaimis/healthgate/internal/events"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// StreamHandler pushes one websocket message per service status change.
type StreamHandler struct {
	logger   *slog.Logger
	hub      *events.Hub
	upgrader websocket.Upgrader
}

type statusMessage struct {
	Service     string    `json:"service"`
	Status      string    `json:"status"`
	Previous    string    `json:"previous,omitempty"`
	Detail      string    `json:"detail,omitempty"`
	LastChecked time.Time `json:"last_checked"`
}

func NewStreamHandler(logger *slog.Logger, hub *events.Hub) *StreamHandler {
	return &StreamHandler{
		logger: logger,
		hub:    hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Websocket upgrade failed", slog.Any("err", err))
		return
	}
	defer conn.Close()

	sub := h.hub.Subscribe()
	defer sub.Close()

	h.logger.Debug("Status stream opened", slog.String("from", extractClientIP(r)))

	// Reads only serve to notice client disconnects and pongs.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(toStatusMessage(ev)); err != nil {
				h.logger.Debug("Status stream write failed", slog.Any("err", err))
				return
			}

		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}

		case <-closed:
			return

		case <-r.Context().Done():
			_ = conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
				time.Now().Add(time.Second),
			)
			return
		}
	}
}

func toStatusMessage(ev events.Event) statusMessage {
	return statusMessage{
		Service:     ev.Service,
		Status:      ev.Outcome,
		Previous:    ev.Previous,
		Detail:      ev.Detail,
		LastChecked: ev.Timestamp,
	}
}
