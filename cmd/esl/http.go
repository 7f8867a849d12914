// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package main

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"
)

// Per-client request budget for the metrics endpoints.
const (
	metricsRequestLimit = 60
	metricsWindow       = time.Minute
)

// metricsHandler returns the HTTP handler for the metrics server:
//
//	GET /metrics  Prometheus exposition of reg
//	GET /healthz  liveness probe
//
// Scrapes are traced using tp; health probes are not.
func metricsHandler(reg *prometheus.Registry, tp trace.TracerProvider) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(httprate.LimitByIP(metricsRequestLimit, metricsWindow))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte("ok\n"))
	})
	r.Method(http.MethodGet, "/metrics", otelhttp.NewHandler(
		promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
		"metrics",
		otelhttp.WithTracerProvider(tp),
	))
	return r
}
