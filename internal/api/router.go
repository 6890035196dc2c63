// Driftwatch - Streaming Anomaly Detection Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/driftwatch

package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/driftwatch/internal/config"
	"github.com/tomtom215/driftwatch/internal/metrics"
)

// NewRouter builds the full route tree with middleware.
func NewRouter(cfg *config.Config, h *Handlers) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	if len(cfg.API.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.API.CORSOrigins,
			AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
			MaxAge:         300,
		}))
	}

	// Operational endpoints stay outside the rate limiter so scrapes and
	// probes are never throttled.
	r.Get("/health", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		if cfg.API.RateLimitRequests > 0 {
			window := cfg.API.RateLimitWindow
			if window <= 0 {
				window = time.Minute
			}
			r.Use(httprate.LimitByIP(cfg.API.RateLimitRequests, window))
		}
		r.Use(prometheusMetrics)

		r.Post("/detect", h.Detect)
		r.Get("/backends", h.ListBackends)

		r.Route("/detectors", func(r chi.Router) {
			r.Get("/", h.ListDetectors)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetDetector)
				r.Delete("/", h.DeleteDetector)
				r.Post("/reset", h.ResetDetector)
				r.Post("/save", h.SaveDetector)
			})
		})
	})

	return r
}

// prometheusMetrics records request counts and latency per route pattern.
func prometheusMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		// The route pattern is only resolved after the handler ran.
		pattern := chi.RouteContext(r.Context()).RoutePattern()
		if pattern == "" {
			pattern = "unmatched"
		}
		metrics.APIRequestsTotal.WithLabelValues(r.Method, pattern, strconv.Itoa(ww.Status())).Inc()
		metrics.APIRequestDuration.WithLabelValues(r.Method, pattern).Observe(time.Since(start).Seconds())
	})
}
