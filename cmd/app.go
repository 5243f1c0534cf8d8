package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/angeloszaimis/healthgate/config"
	"github.com/angeloszaimis/healthgate/internal/circuitbreaker"
	"github.com/angeloszaimis/healthgate/internal/events"
	"github.com/angeloszaimis/healthgate/internal/gateway"
	"github.com/angeloszaimis/healthgate/internal/healthcheck"
	"github.com/angeloszaimis/healthgate/internal/metrics"
	"github.com/angeloszaimis/healthgate/internal/registry"
	"github.com/angeloszaimis/healthgate/internal/status"
)

const (
	metricsBufferSize = 1000
	eventBufferSize   = 1024
	streamBufferSize  = 64
	redisPingTimeout  = 3 * time.Second
)

// app holds every long-lived component. It is built once per process.
type app struct {
	log         *slog.Logger
	registry    *registry.Registry
	table       *status.Table
	coordinator *healthcheck.Coordinator
	scheduler   *healthcheck.Scheduler
	monitor     *healthcheck.Monitor
	collector   *metrics.Collector
	hub         *events.Hub
	forwarder   *gateway.Forwarder
	dispatcher  *events.Dispatcher
	redisSink   *events.RedisSink
}

func newApp(ctx context.Context, cfg *config.Config, log *slog.Logger) (*app, error) {
	reg, err := buildRegistry(cfg.Services)
	if err != nil {
		return nil, err
	}

	a := &app{
		log:       log,
		registry:  reg,
		table:     status.NewTable(reg.Names()),
		collector: metrics.NewCollector(metricsBufferSize, log),
		hub:       events.NewHub(streamBufferSize, events.KindStatusChanged),
	}
	a.collector.Start(ctx)

	sinks := events.Multi{events.NewLogSink(log), a.hub}

	if cfg.Events.Redis.Enabled {
		a.redisSink, err = connectRedis(ctx, cfg.Events.Redis)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, a.redisSink)
		log.Info("Publishing events to Redis",
			slog.String("addr", cfg.Events.Redis.Addr),
			slog.String("stream", cfg.Events.Redis.Stream))
	}

	// Probes, commits and forwards only enqueue; delivery runs on its own
	// goroutine.
	a.dispatcher = events.NewDispatcher(log, sinks, eventBufferSize)
	a.dispatcher.Start(ctx)
	sink := a.dispatcher

	prober := healthcheck.NewProber(log, cfg.HealthCheck.TimeoutDuration(),
		healthcheck.WithHealthPath(cfg.HealthCheck.Path),
		healthcheck.WithSink(sink))

	a.coordinator = healthcheck.NewCoordinator(log, reg, prober, a.table,
		healthcheck.WithMaxConcurrency(cfg.HealthCheck.MaxConcurrency),
		healthcheck.WithEventSink(sink),
		healthcheck.WithCollector(a.collector))

	a.scheduler = healthcheck.NewScheduler(log, a.coordinator, cfg.HealthCheck.IntervalDuration(), a.collector)
	a.monitor = healthcheck.NewMonitor(reg, a.table, prober)

	opts := []gateway.Option{
		gateway.WithSink(sink),
		gateway.WithCollector(a.collector),
	}
	if cb := cfg.Gateway.CircuitBreaker; cb.Enabled {
		opts = append(opts, gateway.WithCircuitBreaker(
			circuitbreaker.NewRegistry(cb.Threshold, cb.ResetTimeoutDuration(), circuitbreaker.WithLogger(log))))
	}

	a.forwarder, err = gateway.NewForwarder(log, reg, cfg.Gateway.TimeoutDuration(), opts...)
	if err != nil {
		a.close()
		return nil, err
	}

	return a, nil
}

func (a *app) close() {
	if a.dispatcher != nil {
		a.dispatcher.Close()
	}
	if a.redisSink != nil {
		if err := a.redisSink.Close(); err != nil {
			a.log.Warn("Failed to close Redis client", slog.Any("err", err))
		}
	}
}

func buildRegistry(services []config.ServiceConfig) (*registry.Registry, error) {
	targets := make([]registry.Target, 0, len(services))
	for _, svc := range services {
		targets = append(targets, registry.Target{
			Name:     svc.Name,
			BaseURL:  svc.URL,
			Prefixes: svc.Prefixes,
		})
	}

	reg, err := registry.New(targets)
	if err != nil {
		return nil, fmt.Errorf("build service registry: %w", err)
	}
	return reg, nil
}

func connectRedis(ctx context.Context, cfg config.RedisConfig) (*events.RedisSink, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", cfg.Addr, err)
	}

	return events.NewRedisSink(client, cfg.Stream, cfg.MaxLen), nil
}
