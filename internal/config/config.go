// Driftwatch - Streaming Anomaly Detection Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/driftwatch

// Package config loads and validates Driftwatch configuration.
//
// Configuration is loaded via Koanf v2 with layered sources, highest
// priority last:
//
//  1. Built-in defaults (structs provider)
//  2. Optional YAML config file (config.yaml, or CONFIG_PATH)
//  3. Environment variables prefixed DRIFTWATCH_
//     (DRIFTWATCH_SERVER_PORT -> server.port)
//
// Invalid values are rejected at startup, never silently clamped.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the root configuration for the Driftwatch server.
type Config struct {
	Server    ServerConfig    `koanf:"server" validate:"required"`
	Logging   LoggingConfig   `koanf:"logging"`
	Detection DetectionConfig `koanf:"detection" validate:"required"`
	Storage   StorageConfig   `koanf:"storage"`
	Notify    NotifyConfig    `koanf:"notify"`
	API       APIConfig       `koanf:"api"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port" validate:"gte=1,lte=65535"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// LoggingConfig configures the zerolog output.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"omitempty,oneof=trace debug info warn warning error fatal disabled"`
	Format string `koanf:"format" validate:"omitempty,oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// DetectionConfig holds server-wide defaults for newly created detectors.
// Per-request parameters override these; both go through the same validation.
type DetectionConfig struct {
	// DefaultBackend is used when a detect request names no backend.
	DefaultBackend string `koanf:"default_backend"`

	// MinSamples is the cold-start sample count before the first fit.
	MinSamples int `koanf:"min_samples" validate:"gt=0"`

	// RetrainInterval is the number of ingested samples between retrains.
	RetrainInterval int `koanf:"retrain_interval" validate:"gt=0"`

	// WindowSize bounds the sliding-window buffer per detector.
	WindowSize int `koanf:"window_size" validate:"gt=0"`

	// Contamination is the assumed anomalous fraction of training data.
	Contamination float64 `koanf:"contamination" validate:"gt=0,lte=0.5"`

	// Threshold is the default operational threshold in the normalized scale.
	Threshold float64 `koanf:"threshold"`

	// Normalization selects the score scale: standardization, zscore, raw.
	Normalization string `koanf:"normalization" validate:"oneof=standardization zscore raw"`

	// MaxDetectors caps the registry size. 0 means unlimited.
	MaxDetectors int `koanf:"max_detectors" validate:"gte=0"`
}

// StorageConfig configures BadgerDB snapshot persistence.
type StorageConfig struct {
	// Enabled turns detector snapshot persistence on.
	Enabled bool `koanf:"enabled"`

	// Path is the BadgerDB directory.
	Path string `koanf:"path"`

	// GCInterval is how often the badger value-log GC runs.
	GCInterval time.Duration `koanf:"gc_interval"`
}

// NotifyConfig configures the anomaly webhook notifier.
type NotifyConfig struct {
	Enabled bool `koanf:"enabled"`

	// WebhookURL receives anomaly alert payloads as JSON POSTs.
	WebhookURL string `koanf:"webhook_url" validate:"omitempty,url"`

	// Headers adds custom headers to webhook requests (e.g. auth).
	Headers map[string]string `koanf:"headers"`

	// RatePerSecond bounds outbound alert posts.
	RatePerSecond float64 `koanf:"rate_per_second" validate:"gte=0"`

	// Timeout bounds a single webhook POST.
	Timeout time.Duration `koanf:"timeout"`
}

// APIConfig configures API-level middleware.
type APIConfig struct {
	// RateLimitRequests is the per-IP request budget per window.
	RateLimitRequests int `koanf:"rate_limit_requests" validate:"gte=0"`

	// RateLimitWindow is the rate-limit accounting window.
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`

	// CORSOrigins lists allowed origins. Empty disables CORS.
	CORSOrigins []string `koanf:"cors_origins"`

	// MaxBatchSize caps the number of records in one detect request.
	MaxBatchSize int `koanf:"max_batch_size" validate:"gt=0"`
}

// defaultConfig returns a Config with all default values applied.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8760,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Detection: DetectionConfig{
			DefaultBackend:  "iforest",
			MinSamples:      50,
			RetrainInterval: 100,
			WindowSize:      1000,
			Contamination:   0.1,
			Threshold:       0.5,
			Normalization:   "standardization",
			MaxDetectors:    0,
		},
		Storage: StorageConfig{
			Enabled:    false,
			Path:       "/data/driftwatch",
			GCInterval: 5 * time.Minute,
		},
		Notify: NotifyConfig{
			Enabled:       false,
			RatePerSecond: 2,
			Timeout:       10 * time.Second,
		},
		API: APIConfig{
			RateLimitRequests: 300,
			RateLimitWindow:   time.Minute,
			MaxBatchSize:      10000,
		},
	}
}

// validate runs struct-tag validation plus cross-field checks.
func (c *Config) validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if c.Detection.MinSamples > c.Detection.WindowSize {
		return fmt.Errorf("detection.min_samples (%d) must not exceed detection.window_size (%d)",
			c.Detection.MinSamples, c.Detection.WindowSize)
	}
	if c.Notify.Enabled && c.Notify.WebhookURL == "" {
		return fmt.Errorf("notify.enabled requires notify.webhook_url")
	}
	if c.Storage.Enabled && c.Storage.Path == "" {
		return fmt.Errorf("storage.enabled requires storage.path")
	}
	return nil
}
