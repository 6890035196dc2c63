// Driftwatch - Streaming Anomaly Detection Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/driftwatch

// Package notify delivers anomaly alerts to external sinks. Delivery is
// asynchronous: detection enqueues alerts and a supervised dispatcher
// drains them, so a slow or failing webhook never blocks scoring.
package notify

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/driftwatch/internal/logging"
	"github.com/tomtom215/driftwatch/internal/metrics"
)

// Severity grades an alert by how far the score clears the threshold.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// severityFor buckets by the ratio of score to threshold, which works for
// every normalization mode regardless of the score's scale.
func severityFor(normalized, threshold float64) Severity {
	if threshold <= 0 {
		return SeverityCritical
	}
	switch ratio := normalized / threshold; {
	case ratio >= 3:
		return SeverityCritical
	case ratio >= 2:
		return SeverityHigh
	case ratio >= 1.5:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// Alert describes one anomalous record.
type Alert struct {
	ID              string    `json:"id"`
	DetectorID      string    `json:"detector_id"`
	Backend         string    `json:"backend"`
	Severity        Severity  `json:"severity"`
	RawScore        float64   `json:"raw_score"`
	NormalizedScore float64   `json:"normalized_score"`
	Threshold       float64   `json:"threshold"`
	ModelVersion    uint64    `json:"model_version"`
	Timestamp       time.Time `json:"timestamp"`
}

// NewAlert stamps an alert with a unique ID, a severity, and the current
// time.
func NewAlert(detectorID, backend string, raw, normalized, threshold float64, modelVersion uint64) *Alert {
	return &Alert{
		ID:              uuid.NewString(),
		DetectorID:      detectorID,
		Backend:         backend,
		Severity:        severityFor(normalized, threshold),
		RawScore:        raw,
		NormalizedScore: normalized,
		Threshold:       threshold,
		ModelVersion:    modelVersion,
		Timestamp:       time.Now().UTC(),
	}
}

// Notifier delivers a single alert to one sink.
type Notifier interface {
	Name() string
	Send(ctx context.Context, alert *Alert) error
}

// defaultQueueSize bounds the dispatcher backlog; alerts beyond it are
// dropped rather than back-pressuring ingestion.
const defaultQueueSize = 256

// Dispatcher fans enqueued alerts out to its notifiers from a single
// background loop.
type Dispatcher struct {
	notifiers []Notifier
	queue     chan *Alert
}

// NewDispatcher creates a dispatcher over the given notifiers.
func NewDispatcher(notifiers ...Notifier) *Dispatcher {
	return &Dispatcher{
		notifiers: notifiers,
		queue:     make(chan *Alert, defaultQueueSize),
	}
}

// Enqueue queues an alert for delivery. Never blocks; when the queue is
// full the alert is dropped and counted.
func (d *Dispatcher) Enqueue(alert *Alert) {
	select {
	case d.queue <- alert:
	default:
		metrics.AlertsSent.WithLabelValues("dispatcher", "dropped").Inc()
		logging.Warn().
			Str("detector", alert.DetectorID).
			Str("alert_id", alert.ID).
			Msg("alert queue full, dropping alert")
	}
}

// Serve implements suture.Service: it drains the queue until the context
// is canceled.
func (d *Dispatcher) Serve(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case alert := <-d.queue:
			d.deliver(ctx, alert)
		}
	}
}

// String implements fmt.Stringer for supervisor logging.
func (d *Dispatcher) String() string {
	return "alert-dispatcher"
}

func (d *Dispatcher) deliver(ctx context.Context, alert *Alert) {
	for _, n := range d.notifiers {
		if err := n.Send(ctx, alert); err != nil {
			metrics.AlertsSent.WithLabelValues(n.Name(), "error").Inc()
			logging.Warn().Err(err).
				Str("notifier", n.Name()).
				Str("detector", alert.DetectorID).
				Str("alert_id", alert.ID).
				Msg("alert delivery failed")
			continue
		}
		metrics.AlertsSent.WithLabelValues(n.Name(), "ok").Inc()
	}
}
