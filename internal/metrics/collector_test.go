package metrics_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/healthgate/internal/metrics"
)

var _ = Describe("Collector", func() {
	var (
		collector *metrics.Collector
		log       *slog.Logger
		ctx       context.Context
		cancel    context.CancelFunc
	)

	BeforeEach(func() {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
		ctx, cancel = context.WithCancel(context.Background())
		collector = metrics.NewCollector(100, log)
	})

	AfterEach(func() {
		cancel()
	})

	Describe("Emit", func() {
		It("should be safe on a nil collector", func() {
			var c *metrics.Collector
			Expect(func() { c.Emit(metrics.MetricEvent{Type: metrics.EventSweepSkipped}) }).NotTo(Panic())
		})

		It("should drop events when the buffer is full", func() {
			small := metrics.NewCollector(1, log)
			small.Emit(metrics.MetricEvent{Type: metrics.EventSweepSkipped})
			Expect(func() { small.Emit(metrics.MetricEvent{Type: metrics.EventSweepSkipped}) }).NotTo(Panic())
		})
	})

	Describe("Start and event processing", func() {
		BeforeEach(func() {
			collector.Start(ctx)
		})

		It("should process EventProbeCompleted", func() {
			collector.Emit(metrics.MetricEvent{
				Type:     metrics.EventProbeCompleted,
				Service:  "svc_a",
				Outcome:  "UP",
				Duration: 5 * time.Millisecond,
			})

			Eventually(func() int64 {
				return collector.Snapshot().Services["svc_a"].Probes["UP"]
			}).Should(Equal(int64(1)))
		})

		It("should process EventHealthChanged", func() {
			collector.Emit(metrics.MetricEvent{Type: metrics.EventHealthChanged, Service: "svc_a", Outcome: "DOWN"})

			Eventually(func() string {
				return collector.Snapshot().Services["svc_a"].Status
			}).Should(Equal("DOWN"))
		})

		It("should process EventForwardCompleted", func() {
			collector.EventChannel() <- metrics.MetricEvent{
				Type:       metrics.EventForwardCompleted,
				Service:    "task",
				Duration:   100 * time.Millisecond,
				StatusCode: 200,
			}

			Eventually(func() time.Duration {
				return collector.Snapshot().Services["task"].AvgResponse
			}).Should(Equal(100 * time.Millisecond))
		})

		It("should process sweep events", func() {
			collector.Emit(metrics.MetricEvent{Type: metrics.EventSweepCompleted, Duration: time.Second})
			collector.Emit(metrics.MetricEvent{Type: metrics.EventSweepSkipped})

			Eventually(func() int64 { return collector.Snapshot().SkippedSweeps }).Should(Equal(int64(1)))
			Expect(collector.Snapshot().Sweeps).To(Equal(int64(1)))
		})

		It("should ignore unknown event types", func() {
			collector.Emit(metrics.MetricEvent{Type: "bogus", Service: "x"})
			collector.Emit(metrics.MetricEvent{Type: metrics.EventSweepSkipped})

			Eventually(func() int64 { return collector.Snapshot().SkippedSweeps }).Should(Equal(int64(1)))
			Expect(collector.Snapshot().Services).NotTo(HaveKey("x"))
		})
	})

	Describe("Shutdown", func() {
		It("should drain queued events on cancel", func() {
			for i := 0; i < 10; i++ {
				collector.Emit(metrics.MetricEvent{Type: metrics.EventSweepSkipped})
			}
			collector.Start(ctx)
			cancel()

			Eventually(func() int64 { return collector.Snapshot().SkippedSweeps }).Should(Equal(int64(10)))
		})
	})

	Describe("Handlers", func() {
		BeforeEach(func() {
			collector.Start(ctx)
			collector.Emit(metrics.MetricEvent{Type: metrics.EventProbeCompleted, Service: "svc_a", Outcome: "UP", Duration: time.Millisecond})
			collector.Emit(metrics.MetricEvent{Type: metrics.EventHealthChanged, Service: "svc_a", Outcome: "UP"})
			Eventually(func() string { return collector.Snapshot().Services["svc_a"].Status }).Should(Equal("UP"))
		})

		It("should serve the JSON summary", func() {
			w := httptest.NewRecorder()
			collector.Handler()(w, httptest.NewRequest(http.MethodGet, "/metrics/summary", nil))

			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(w.Header().Get("Content-Type")).To(Equal("application/json"))

			var snap metrics.Snapshot
			Expect(json.Unmarshal(w.Body.Bytes(), &snap)).To(Succeed())
			Expect(snap.Services["svc_a"].Status).To(Equal("UP"))
		})

		It("should serve Prometheus metrics", func() {
			w := httptest.NewRecorder()
			collector.PrometheusHandler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(w.Body.String()).To(ContainSubstring(`healthgate_probe_total{outcome="UP",service="svc_a"} 1`))
			Expect(w.Body.String()).To(ContainSubstring(`healthgate_service_up{service="svc_a"} 1`))
		})
	})
})
