// Driftwatch - Streaming Anomaly Detection Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/driftwatch

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsAreValid(t *testing.T) {
	cfg := defaultConfig()
	require.NoError(t, cfg.validate())

	assert.Equal(t, 50, cfg.Detection.MinSamples)
	assert.Equal(t, 100, cfg.Detection.RetrainInterval)
	assert.Equal(t, 1000, cfg.Detection.WindowSize)
	assert.InDelta(t, 0.1, cfg.Detection.Contamination, 1e-9)
	assert.Equal(t, "standardization", cfg.Detection.Normalization)
	assert.Equal(t, "iforest", cfg.Detection.DefaultBackend)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero window size", func(c *Config) { c.Detection.WindowSize = 0 }},
		{"negative retrain interval", func(c *Config) { c.Detection.RetrainInterval = -1 }},
		{"contamination zero", func(c *Config) { c.Detection.Contamination = 0 }},
		{"contamination above half", func(c *Config) { c.Detection.Contamination = 0.6 }},
		{"unknown normalization", func(c *Config) { c.Detection.Normalization = "minmax" }},
		{"min samples above window", func(c *Config) {
			c.Detection.MinSamples = 5000
			c.Detection.WindowSize = 100
		}},
		{"notify enabled without url", func(c *Config) { c.Notify.Enabled = true }},
		{"port out of range", func(c *Config) { c.Server.Port = 70000 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.validate())
		})
	}
}

func TestEnvTransform(t *testing.T) {
	assert.Equal(t, "server.port", envTransform("DRIFTWATCH_SERVER_PORT"))
	assert.Equal(t, "detection.min_samples", envTransform("DRIFTWATCH_DETECTION_MIN_SAMPLES"))
	assert.Equal(t, "notify.webhook_url", envTransform("DRIFTWATCH_NOTIFY_WEBHOOK_URL"))
}

func TestLoadLayering(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
server:
  port: 9100
detection:
  min_samples: 25
  window_size: 500
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	t.Setenv(ConfigPathEnvVar, path)
	t.Setenv("DRIFTWATCH_DETECTION_MIN_SAMPLES", "30")

	cfg, err := Load()
	require.NoError(t, err)

	// File overrides defaults, env overrides file.
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, 30, cfg.Detection.MinSamples)
	assert.Equal(t, 500, cfg.Detection.WindowSize)
	assert.Equal(t, 100, cfg.Detection.RetrainInterval)
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("detection:\n  window_size: -5\n"), 0o600))
	t.Setenv(ConfigPathEnvVar, path)

	_, err := Load()
	assert.Error(t, err)
}
