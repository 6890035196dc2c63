// Driftwatch - Streaming Anomaly Detection Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/driftwatch

// Package registry manages the set of named detectors. All operations are
// safe for concurrent use; operations on distinct detector IDs never block
// each other beyond the map lookup.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/tomtom215/driftwatch/internal/backend"
	"github.com/tomtom215/driftwatch/internal/detector"
	"github.com/tomtom215/driftwatch/internal/logging"
	"github.com/tomtom215/driftwatch/internal/metrics"
)

var (
	// ErrNotFound marks an unknown detector ID.
	ErrNotFound = errors.New("detector not found")

	// ErrAlreadyExists marks a create for an ID already in use.
	ErrAlreadyExists = errors.New("detector already exists")

	// ErrTooManyDetectors marks a create that would exceed the configured cap.
	ErrTooManyDetectors = errors.New("detector limit reached")
)

// Registry is the concurrent detector table.
type Registry struct {
	backends *backend.Registry

	// maxDetectors caps the table size; 0 means unlimited.
	maxDetectors int

	mu        sync.RWMutex
	detectors map[string]*detector.Detector
}

// New creates an empty registry backed by the given backend set.
func New(backends *backend.Registry, maxDetectors int) *Registry {
	return &Registry{
		backends:     backends,
		maxDetectors: maxDetectors,
		detectors:    make(map[string]*detector.Detector),
	}
}

// Backends returns the underlying backend registry.
func (r *Registry) Backends() *backend.Registry {
	return r.backends
}

// Create validates the configuration, resolves its backend, and installs a
// new detector under cfg.ID.
func (r *Registry) Create(cfg detector.Config) (*detector.Detector, error) {
	adapter, err := r.backends.Get(cfg.Backend)
	if err != nil {
		return nil, err
	}

	d, err := detector.New(cfg, adapter)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.detectors[cfg.ID]; ok {
		return nil, fmt.Errorf("%w: %q", ErrAlreadyExists, cfg.ID)
	}
	if r.maxDetectors > 0 && len(r.detectors) >= r.maxDetectors {
		return nil, fmt.Errorf("%w: %d", ErrTooManyDetectors, r.maxDetectors)
	}
	r.detectors[cfg.ID] = d
	metrics.ActiveDetectors.Set(float64(len(r.detectors)))

	logging.Info().
		Str("detector", cfg.ID).
		Str("backend", cfg.Backend).
		Int("window_size", cfg.WindowSize).
		Msg("detector created")
	return d, nil
}

// Restore installs a detector rebuilt from a persisted snapshot. Used at
// startup; an ID collision is treated like any other create conflict.
func (r *Registry) Restore(snap *detector.Snapshot) (*detector.Detector, error) {
	adapter, err := r.backends.Get(snap.Backend)
	if err != nil {
		return nil, err
	}

	d, err := detector.Restore(snap, adapter)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.detectors[snap.ID]; ok {
		return nil, fmt.Errorf("%w: %q", ErrAlreadyExists, snap.ID)
	}
	r.detectors[snap.ID] = d
	metrics.ActiveDetectors.Set(float64(len(r.detectors)))

	logging.Info().
		Str("detector", snap.ID).
		Str("backend", snap.Backend).
		Uint64("model_version", snap.ModelVersion).
		Msg("detector restored from snapshot")
	return d, nil
}

// Get returns the detector registered under id.
func (r *Registry) Get(id string) (*detector.Detector, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.detectors[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return d, nil
}

// List returns the stats of every detector, sorted by ID.
func (r *Registry) List() []detector.Stats {
	r.mu.RLock()
	detectors := make([]*detector.Detector, 0, len(r.detectors))
	for _, d := range r.detectors {
		detectors = append(detectors, d)
	}
	r.mu.RUnlock()

	// Stats takes each detector's own lock, so collect outside ours.
	out := make([]detector.Stats, 0, len(detectors))
	for _, d := range detectors {
		out = append(out, d.Stats())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of registered detectors.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.detectors)
}

// Reset returns the named detector to its collecting state.
func (r *Registry) Reset(id string) error {
	d, err := r.Get(id)
	if err != nil {
		return err
	}
	return d.Reset()
}

// Delete removes the named detector, waits for any in-flight retrain to
// drain, and drops its metric series.
func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	d, ok := r.detectors[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	delete(r.detectors, id)
	metrics.ActiveDetectors.Set(float64(len(r.detectors)))
	r.mu.Unlock()

	d.Close()
	metrics.ForgetDetector(id)
	logging.Info().Str("detector", id).Msg("detector deleted")
	return nil
}

// Close drains every detector's background work. Called on shutdown.
func (r *Registry) Close() {
	r.mu.Lock()
	detectors := make([]*detector.Detector, 0, len(r.detectors))
	for _, d := range r.detectors {
		detectors = append(detectors, d)
	}
	r.detectors = make(map[string]*detector.Detector)
	r.mu.Unlock()

	for _, d := range detectors {
		d.Close()
	}
}
