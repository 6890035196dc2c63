// Driftwatch - Streaming Anomaly Detection Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/driftwatch

// Package metrics provides Prometheus instrumentation for Driftwatch.
//
// Collectors are registered once via promauto at package load and exposed
// through the /metrics endpoint. Instrumented areas:
//   - Record ingestion and scoring throughput per detector
//   - Model retrain lifecycle (count, failures, duration)
//   - Sliding-window occupancy
//   - API request counts and latency
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ingestion / scoring metrics

	RecordsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "driftwatch_records_ingested_total",
			Help: "Total number of records appended to detector buffers",
		},
		[]string{"detector"},
	)

	RecordsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "driftwatch_records_rejected_total",
			Help: "Total number of records rejected during encoding",
		},
		[]string{"detector", "reason"},
	)

	AnomaliesDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "driftwatch_anomalies_total",
			Help: "Total number of records flagged as anomalous",
		},
		[]string{"detector", "backend"},
	)

	ScoringDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "driftwatch_scoring_duration_seconds",
			Help:    "Time spent scoring a batch against the active model",
			Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"backend"},
	)

	BufferSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "driftwatch_buffer_records",
			Help: "Current number of records held in the sliding window",
		},
		[]string{"detector"},
	)

	// Model lifecycle metrics

	RetrainsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "driftwatch_retrains_total",
			Help: "Total number of background retrains, by outcome",
		},
		[]string{"detector", "outcome"}, // "success", "failed", "discarded"
	)

	RetrainDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "driftwatch_retrain_duration_seconds",
			Help:    "Wall-clock duration of backend fit calls",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend"},
	)

	ModelVersion = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "driftwatch_model_version",
			Help: "Active model version per detector",
		},
		[]string{"detector"},
	)

	ActiveDetectors = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "driftwatch_active_detectors",
			Help: "Current number of registered detectors",
		},
	)

	// Alerting metrics

	AlertsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "driftwatch_alerts_sent_total",
			Help: "Total number of anomaly alerts dispatched, by outcome",
		},
		[]string{"notifier", "outcome"}, // "ok", "error", "dropped"
	)

	// API metrics

	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "driftwatch_api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "driftwatch_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint"},
	)
)

// ObserveScoring records one scoring pass for the given backend.
func ObserveScoring(backend string, start time.Time) {
	ScoringDuration.WithLabelValues(backend).Observe(time.Since(start).Seconds())
}

// ObserveRetrain records one backend fit for the given backend.
func ObserveRetrain(backend string, start time.Time) {
	RetrainDuration.WithLabelValues(backend).Observe(time.Since(start).Seconds())
}

// ForgetDetector removes per-detector series after a detector is deleted so
// stale labels do not linger in /metrics output.
func ForgetDetector(id string) {
	RecordsIngested.DeleteLabelValues(id)
	BufferSize.DeleteLabelValues(id)
	ModelVersion.DeleteLabelValues(id)
	RecordsRejected.DeletePartialMatch(prometheus.Labels{"detector": id})
	AnomaliesDetected.DeletePartialMatch(prometheus.Labels{"detector": id})
	RetrainsTotal.DeletePartialMatch(prometheus.Labels{"detector": id})
}
