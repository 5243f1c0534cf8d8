package handler_test

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/healthgate/internal/events"
	"github.com/angeloszaimis/healthgate/internal/handler"
)

var _ = Describe("StreamHandler", func() {
	var (
		hub    *events.Hub
		server *httptest.Server
		conn   *websocket.Conn
	)

	BeforeEach(func() {
		hub = events.NewHub(8, events.KindStatusChanged)
		server = httptest.NewServer(handler.NewStreamHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), hub))

		var err error
		conn, _, err = websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
		Expect(err).NotTo(HaveOccurred())
		Eventually(hub.Subscribers).Should(Equal(1))
	})

	AfterEach(func() {
		conn.Close()
		server.Close()
	})

	It("should push status changes to the client", func() {
		at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		Expect(hub.Publish(context.Background(), events.Event{
			Kind:      events.KindStatusChanged,
			Service:   "task",
			Outcome:   "DOWN",
			Previous:  "UP",
			Detail:    "connection refused",
			Timestamp: at,
		})).To(Succeed())

		var msg map[string]any
		Expect(conn.SetReadDeadline(time.Now().Add(2 * time.Second))).To(Succeed())
		Expect(conn.ReadJSON(&msg)).To(Succeed())

		Expect(msg).To(Equal(map[string]any{
			"service":      "task",
			"status":       "DOWN",
			"previous":     "UP",
			"detail":       "connection refused",
			"last_checked": "2026-03-01T12:00:00Z",
		}))
	})

	It("should not forward other event kinds", func() {
		Expect(hub.Publish(context.Background(), events.Event{Kind: events.KindProbe, Service: "task"})).To(Succeed())

		Expect(conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))).To(Succeed())
		_, _, err := conn.ReadMessage()
		Expect(err).To(HaveOccurred())
	})

	It("should unsubscribe when the client goes away", func() {
		conn.Close()
		Eventually(hub.Subscribers).Should(BeZero())
	})
})
