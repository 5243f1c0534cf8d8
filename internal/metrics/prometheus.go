package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type promMetrics struct {
	probeTotal     *prometheus.CounterVec
	probeDuration  *prometheus.HistogramVec
	serviceUp      *prometheus.GaugeVec
	sweepDuration  prometheus.Histogram
	sweepsSkipped  prometheus.Counter
	forwardTotal   *prometheus.CounterVec
	forwardLatency *prometheus.HistogramVec
}

func newPromMetrics(reg prometheus.Registerer) *promMetrics {
	factory := promauto.With(reg)

	return &promMetrics{
		probeTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "healthgate_probe_total",
				Help: "Total number of health probes by outcome",
			},
			[]string{"service", "outcome"},
		),
		probeDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "healthgate_probe_duration_seconds",
				Help:    "Health probe latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"service"},
		),
		serviceUp: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "healthgate_service_up",
				Help: "Whether the last sweep saw the service as UP (1) or not (0)",
			},
			[]string{"service"},
		),
		sweepDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "healthgate_sweep_duration_seconds",
				Help:    "Duration of a full health sweep",
				Buckets: prometheus.DefBuckets,
			},
		),
		sweepsSkipped: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "healthgate_sweeps_skipped_total",
				Help: "Sweeps skipped because the previous one was still running",
			},
		),
		forwardTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "healthgate_forward_total",
				Help: "Gateway requests forwarded by service and response code",
			},
			[]string{"service", "code"},
		),
		forwardLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "healthgate_forward_duration_seconds",
				Help:    "Gateway forward latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"service"},
		),
	}
}

func (p *promMetrics) observe(event MetricEvent) {
	switch event.Type {
	case EventProbeCompleted:
		p.probeTotal.WithLabelValues(event.Service, event.Outcome).Inc()
		p.probeDuration.WithLabelValues(event.Service).Observe(event.Duration.Seconds())

	case EventHealthChanged:
		up := 0.0
		if event.Outcome == "UP" {
			up = 1
		}
		p.serviceUp.WithLabelValues(event.Service).Set(up)

	case EventSweepCompleted:
		p.sweepDuration.Observe(event.Duration.Seconds())

	case EventSweepSkipped:
		p.sweepsSkipped.Inc()

	case EventForwardCompleted:
		p.forwardTotal.WithLabelValues(event.Service, strconv.Itoa(event.StatusCode)).Inc()
		p.forwardLatency.WithLabelValues(event.Service).Observe(event.Duration.Seconds())
	}
}
