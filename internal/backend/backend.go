// Driftwatch - Streaming Anomaly Detection Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/driftwatch

// Package backend defines the capability interface shared by every
// anomaly-scoring algorithm, plus a named registry of the built-in
// implementations.
//
// All backends follow one sign convention: higher raw score means more
// anomalous. Adapters wrapping algorithms with the opposite native sign
// must flip it at this boundary. The engine never special-cases a backend
// beyond name dispatch.
package backend

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	// ErrInsufficientData marks a fit attempt with fewer samples than the
	// backend's advertised minimum.
	ErrInsufficientData = errors.New("insufficient training data")

	// ErrUnknownBackend marks a request for an unregistered backend name.
	ErrUnknownBackend = errors.New("unknown backend")

	// ErrInvalidContamination marks a contamination outside (0, 0.5].
	ErrInvalidContamination = errors.New("contamination must be in (0, 0.5]")

	// ErrModelMismatch marks a model handed to the wrong backend, or with
	// a vector width differing from the scoring input.
	ErrModelMismatch = errors.New("model does not match backend or input")

	// ErrDegenerateData marks training data a backend cannot fit
	// (e.g. all rows identical where spread is required).
	ErrDegenerateData = errors.New("degenerate training data")
)

// Model holds the opaque, immutable parameters a fit produced. Models are
// replaced wholesale on retrain, never mutated in place.
type Model interface {
	// Backend returns the name of the adapter that produced the model.
	Backend() string

	// MarshalBinary serializes the model parameters for persistence.
	MarshalBinary() ([]byte, error)
}

// Adapter is the uniform capability interface over scoring algorithms.
type Adapter interface {
	// Name returns the registry name of the backend.
	Name() string

	// MinimumSamples returns the smallest training set Fit accepts.
	MinimumSamples() int

	// Fit trains a model on the vectors and derives the raw-score
	// threshold implied by contamination. Returns ErrInsufficientData when
	// len(vectors) < MinimumSamples().
	Fit(vectors [][]float64, contamination float64) (Model, float64, error)

	// Score returns one raw score per vector, higher = more anomalous.
	Score(vectors [][]float64, model Model) ([]float64, error)

	// LoadModel deserializes a model previously produced by this backend.
	LoadModel(data []byte) (Model, error)
}

// Registry is a concurrency-safe catalog of adapters by name.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry returns a registry with every built-in backend installed.
func NewRegistry() *Registry {
	r := &Registry{adapters: make(map[string]Adapter)}
	r.Register(NewIsolationForest())
	r.Register(NewHistogram())
	r.Register(NewKNN())
	r.Register(NewMAD())
	r.Register(NewOneClassBoundary())
	return r
}

// Register installs an adapter, replacing any previous one of the same name.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Name()] = a
}

// Get returns the named adapter or ErrUnknownBackend.
func (r *Registry) Get(name string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, name)
	}
	return a, nil
}

// Names returns the registered backend names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// checkFitInput validates the shared Fit preconditions.
func checkFitInput(vectors [][]float64, contamination float64, minimum int) error {
	if contamination <= 0 || contamination > 0.5 {
		return fmt.Errorf("%w: %g", ErrInvalidContamination, contamination)
	}
	if len(vectors) < minimum {
		return fmt.Errorf("%w: have %d, need %d", ErrInsufficientData, len(vectors), minimum)
	}
	width := len(vectors[0])
	if width == 0 {
		return fmt.Errorf("%w: zero-width vectors", ErrDegenerateData)
	}
	for _, v := range vectors {
		if len(v) != width {
			return fmt.Errorf("%w: ragged vector widths", ErrDegenerateData)
		}
	}
	return nil
}

// thresholdFromScores derives the raw threshold implied by contamination:
// the (1 - contamination) quantile of the training score distribution.
func thresholdFromScores(scores []float64, contamination float64) float64 {
	return quantile(scores, 1-contamination)
}

// quantile returns the q-th quantile (0..1) of the values.
func quantile(values []float64, q float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	if q <= 0 {
		return sorted[0]
	}
	if q >= 1 {
		return sorted[len(sorted)-1]
	}
	idx := q * float64(len(sorted)-1)
	lo := int(idx)
	if lo+1 >= len(sorted) {
		return sorted[len(sorted)-1]
	}
	frac := idx - float64(lo)
	return sorted[lo]*(1-frac) + sorted[lo+1]*frac
}

// median returns the median of the values.
func median(values []float64) float64 {
	return quantile(values, 0.5)
}
