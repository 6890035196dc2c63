// Driftwatch - Streaming Anomaly Detection Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/driftwatch

package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/tomtom215/driftwatch/internal/logging"
)

// ErrRateLimited marks an alert skipped by the outbound rate limiter.
var ErrRateLimited = errors.New("webhook rate limit exceeded")

// WebhookConfig configures the generic webhook notifier.
type WebhookConfig struct {
	URL     string
	Headers map[string]string

	// RatePerSecond bounds outbound posts; alerts over the budget are
	// dropped, not queued. 0 disables limiting.
	RatePerSecond float64

	// Timeout bounds a single POST. Default 10s.
	Timeout time.Duration
}

// WebhookPayload is the JSON body POSTed to the endpoint.
type WebhookPayload struct {
	Alert     *Alert    `json:"alert"`
	EventType string    `json:"event_type"` // anomaly_alert
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"` // driftwatch
}

// WebhookNotifier POSTs alerts as JSON to a configured endpoint.
//
// A circuit breaker wraps delivery so a dead endpoint fails fast instead
// of holding a connection per alert; recovery is probed automatically.
type WebhookNotifier struct {
	url     string
	headers map[string]string
	client  *http.Client
	limiter *rate.Limiter
	cb      *gobreaker.CircuitBreaker[struct{}]
}

// NewWebhookNotifier creates a webhook notifier from config.
func NewWebhookNotifier(cfg WebhookConfig) *WebhookNotifier {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	headers := make(map[string]string, len(cfg.Headers))
	for k, v := range cfg.Headers {
		headers[k] = v
	}

	var limiter *rate.Limiter
	if cfg.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), int(cfg.RatePerSecond)+1)
	}

	cb := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "anomaly-webhook",
		MaxRequests: 2,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("webhook circuit breaker state change")
		},
	})

	return &WebhookNotifier{
		url:     cfg.URL,
		headers: headers,
		client:  &http.Client{Timeout: timeout},
		limiter: limiter,
		cb:      cb,
	}
}

// Name returns the notifier name.
func (n *WebhookNotifier) Name() string {
	return "webhook"
}

// Send delivers one alert through the rate limiter and circuit breaker.
func (n *WebhookNotifier) Send(ctx context.Context, alert *Alert) error {
	if n.limiter != nil && !n.limiter.Allow() {
		return ErrRateLimited
	}

	_, err := n.cb.Execute(func() (struct{}, error) {
		return struct{}{}, n.post(ctx, alert)
	})
	return err
}

func (n *WebhookNotifier) post(ctx context.Context, alert *Alert) error {
	payload := WebhookPayload{
		Alert:     alert,
		EventType: "anomaly_alert",
		Timestamp: time.Now().UTC(),
		Source:    "driftwatch",
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range n.headers {
		req.Header.Set(k, v)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
