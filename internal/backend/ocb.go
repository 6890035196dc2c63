// Driftwatch - Streaming Anomaly Detection Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/driftwatch

package backend

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"math"
)

// BackendOneClassBoundary is the registry name of the one-class-boundary
// backend.
const BackendOneClassBoundary = "ocb"

// OneClassBoundary learns a hypersphere around the training data in a
// per-feature standardized space. Raw score is the distance from the
// centroid; the contamination quantile of training distances becomes the
// boundary radius / raw threshold.
type OneClassBoundary struct{}

// NewOneClassBoundary creates the backend.
func NewOneClassBoundary() *OneClassBoundary {
	return &OneClassBoundary{}
}

// ocbModel holds the centroid and per-feature scales.
type ocbModel struct {
	Centroid []float64
	Scales   []float64 // per-feature std; 0 for constant features
}

// Backend implements Model.
func (m *ocbModel) Backend() string { return BackendOneClassBoundary }

// ocbWire strips the method set so gob encodes the struct fields instead
// of calling MarshalBinary back.
type ocbWire ocbModel

// MarshalBinary implements Model.
func (m *ocbModel) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode((*ocbWire)(m)); err != nil {
		return nil, fmt.Errorf("encode ocb model: %w", err)
	}
	return buf.Bytes(), nil
}

// Name implements Adapter.
func (o *OneClassBoundary) Name() string { return BackendOneClassBoundary }

// MinimumSamples implements Adapter.
func (o *OneClassBoundary) MinimumSamples() int { return 5 }

// Fit implements Adapter.
func (o *OneClassBoundary) Fit(vectors [][]float64, contamination float64) (Model, float64, error) {
	if err := checkFitInput(vectors, contamination, o.MinimumSamples()); err != nil {
		return nil, 0, err
	}

	width := len(vectors[0])
	n := float64(len(vectors))

	model := &ocbModel{
		Centroid: make([]float64, width),
		Scales:   make([]float64, width),
	}

	for col := 0; col < width; col++ {
		var sum float64
		for _, vec := range vectors {
			sum += vec[col]
		}
		mean := sum / n

		var sumSq float64
		for _, vec := range vectors {
			d := vec[col] - mean
			sumSq += d * d
		}
		model.Centroid[col] = mean
		model.Scales[col] = math.Sqrt(sumSq / n)
	}

	scores, err := o.Score(vectors, model)
	if err != nil {
		return nil, 0, err
	}
	return model, thresholdFromScores(scores, contamination), nil
}

// Score implements Adapter.
func (o *OneClassBoundary) Score(vectors [][]float64, model Model) ([]float64, error) {
	m, ok := model.(*ocbModel)
	if !ok {
		return nil, fmt.Errorf("%w: %s given %s model", ErrModelMismatch, o.Name(), model.Backend())
	}

	const eps = 1e-9

	scores := make([]float64, len(vectors))
	for i, vec := range vectors {
		if len(vec) != len(m.Centroid) {
			return nil, fmt.Errorf("%w: vector width %d, model width %d", ErrModelMismatch, len(vec), len(m.Centroid))
		}
		var sum float64
		for col, v := range vec {
			d := (v - m.Centroid[col]) / (m.Scales[col] + eps)
			if m.Scales[col] == 0 {
				// Constant feature: any movement is a unit deviation.
				if math.Abs(v-m.Centroid[col]) > eps {
					d = 1
				} else {
					d = 0
				}
			}
			sum += d * d
		}
		scores[i] = math.Sqrt(sum)
	}
	return scores, nil
}

// LoadModel implements Adapter.
func (o *OneClassBoundary) LoadModel(data []byte) (Model, error) {
	var w ocbWire
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&w); err != nil {
		return nil, fmt.Errorf("decode ocb model: %w", err)
	}
	return (*ocbModel)(&w), nil
}
