// Driftwatch - Streaming Anomaly Detection Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/driftwatch

// Package main is the entry point for the Driftwatch server.
//
// Driftwatch scores streams of JSON records for anomalies. Each named
// detector keeps a sliding window of recent records, fits an unsupervised
// model once enough samples arrive, and retrains in the background as the
// stream drifts; scoring always runs against a fully trained model.
//
// # Application Architecture
//
// The server initializes components in the following order:
//
//  1. Configuration: Koanf v2 layered loading (defaults, YAML, env)
//  2. Storage (optional): BadgerDB snapshot store, restore saved detectors
//  3. Alerting (optional): webhook notifier behind an async dispatcher
//  4. HTTP server: Chi-routed REST API plus /health and /metrics
//  5. Supervision: suture tree running GC, dispatcher, and HTTP server
//
// # Configuration
//
// Configuration is loaded via Koanf v2 with layered sources (highest
// priority wins):
//   - Environment variables prefixed DRIFTWATCH_ (DRIFTWATCH_SERVER_PORT)
//   - Config file (config.yaml, or CONFIG_PATH)
//   - Built-in defaults
//
// # Signal Handling
//
// The server shuts down gracefully on SIGINT and SIGTERM: the HTTP server
// drains in-flight requests, background fits finish or are discarded, and
// the snapshot store is closed last.
//
// # Example Usage
//
// In-memory operation with defaults:
//
//	./driftwatch
//
// With snapshot persistence and a webhook:
//
//	export DRIFTWATCH_STORAGE_ENABLED=true
//	export DRIFTWATCH_STORAGE_PATH=/data/driftwatch
//	export DRIFTWATCH_NOTIFY_ENABLED=true
//	export DRIFTWATCH_NOTIFY_WEBHOOK_URL=https://hooks.example.com/anomalies
//	./driftwatch
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/tomtom215/driftwatch/internal/api"
	"github.com/tomtom215/driftwatch/internal/backend"
	"github.com/tomtom215/driftwatch/internal/config"
	"github.com/tomtom215/driftwatch/internal/logging"
	"github.com/tomtom215/driftwatch/internal/notify"
	"github.com/tomtom215/driftwatch/internal/registry"
	"github.com/tomtom215/driftwatch/internal/store"
	"github.com/tomtom215/driftwatch/internal/supervisor"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("default_backend", cfg.Detection.DefaultBackend).
		Int("window_size", cfg.Detection.WindowSize).
		Msg("Starting Driftwatch")

	reg := registry.New(backend.NewRegistry(), cfg.Detection.MaxDetectors)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})

	// Snapshot persistence: open the store and bring saved detectors back
	// before the API starts taking traffic.
	var snapStore *store.Store
	if cfg.Storage.Enabled {
		snapStore, err = store.Open(cfg.Storage.Path)
		if err != nil {
			logging.Fatal().Err(err).Str("path", cfg.Storage.Path).Msg("Failed to open snapshot store")
		}
		defer func() {
			if err := snapStore.Close(); err != nil {
				logging.Error().Err(err).Msg("Error closing snapshot store")
			}
		}()

		restoreDetectors(ctx, snapStore, reg)
		tree.AddStorageService(store.NewGCService(snapStore, cfg.Storage.GCInterval))
		logging.Info().Str("path", cfg.Storage.Path).Msg("Snapshot persistence enabled")
	}

	// Alerting: anomalies found by /detect go through the dispatcher to
	// the configured webhook.
	var dispatcher *notify.Dispatcher
	if cfg.Notify.Enabled {
		webhook := notify.NewWebhookNotifier(notify.WebhookConfig{
			URL:           cfg.Notify.WebhookURL,
			Headers:       cfg.Notify.Headers,
			RatePerSecond: cfg.Notify.RatePerSecond,
			Timeout:       cfg.Notify.Timeout,
		})
		dispatcher = notify.NewDispatcher(webhook)
		tree.AddAlertingService(dispatcher)
		logging.Info().Str("webhook_url", cfg.Notify.WebhookURL).Msg("Anomaly alerting enabled")
	}

	handlers := api.NewHandlers(cfg, reg, snapStore, dispatcher)
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      api.NewRouter(cfg, handlers),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	tree.AddAPIService(supervisor.NewHTTPServerService(server, cfg.Server.ShutdownTimeout))
	logging.Info().Str("addr", server.Addr).Msg("HTTP server service added")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	errCh := tree.ServeBackground(ctx)
	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
	}

	// Drain in-flight background fits before the store closes.
	reg.Close()
	logging.Info().Msg("Driftwatch stopped gracefully")
}

// restoreDetectors reinstalls every persisted detector. A snapshot that
// fails to restore is logged and skipped; it stays in the store untouched.
func restoreDetectors(ctx context.Context, snapStore *store.Store, reg *registry.Registry) {
	snapshots, err := snapStore.LoadAll(ctx)
	if err != nil {
		logging.Error().Err(err).Msg("Failed to load detector snapshots")
		return
	}

	restored := 0
	for _, snap := range snapshots {
		if _, err := reg.Restore(snap); err != nil {
			logging.Warn().Err(err).Str("detector", snap.ID).Msg("Failed to restore detector snapshot")
			continue
		}
		restored++
	}
	if restored > 0 {
		logging.Info().Int("count", restored).Msg("Restored detectors from snapshots")
	}
}
