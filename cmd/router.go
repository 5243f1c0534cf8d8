package main

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/angeloszaimis/healthgate/internal/handler"
)

func setupRouter(a *app) *mux.Router {
	r := mux.NewRouter()
	r.Use(handler.RequestLogger(a.log))

	health := handler.NewHealthHandler(a.log, a.monitor, a.scheduler)

	r.HandleFunc("/health", health.Liveness).Methods(http.MethodGet)
	r.HandleFunc("/health/{service}", health.Service).Methods(http.MethodGet)
	r.HandleFunc("/health/{service}/check", health.Check).Methods(http.MethodGet)
	r.HandleFunc("/services/health", health.All).Methods(http.MethodGet)
	r.HandleFunc("/services/health/refresh", health.Refresh).Methods(http.MethodPost)
	r.Handle("/ws/health", handler.NewStreamHandler(a.log, a.hub)).Methods(http.MethodGet)

	r.Handle("/metrics", a.collector.PrometheusHandler()).Methods(http.MethodGet)
	r.HandleFunc("/metrics/summary", a.collector.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/gateway/upstreams", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(a.forwarder.Upstreams())
	}).Methods(http.MethodGet)

	r.PathPrefix("/").Handler(handler.NewGatewayHandler(a.log, a.forwarder))

	return r
}
