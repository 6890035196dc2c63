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

// BackendHistogram is the registry name of the histogram backend.
const BackendHistogram = "hbos"

// Histogram implements histogram-based outlier scoring: each feature gets a
// fixed-bin histogram from the training data, and a sample's score is the
// summed negative log density across features. Parameter-free and fast;
// assumes feature independence.
type Histogram struct {
	bins int
}

// NewHistogram creates the backend with the standard bin count.
func NewHistogram() *Histogram {
	return &Histogram{bins: 10}
}

// histogramModel holds per-feature bin edges and densities.
type histogramModel struct {
	Mins      []float64
	Maxs      []float64
	Densities [][]float64 // per feature, per bin, relative frequency
	Bins      int
}

// Backend implements Model.
func (m *histogramModel) Backend() string { return BackendHistogram }

// histogramWire strips the method set so gob encodes the struct fields
// instead of calling MarshalBinary back.
type histogramWire histogramModel

// MarshalBinary implements Model.
func (m *histogramModel) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode((*histogramWire)(m)); err != nil {
		return nil, fmt.Errorf("encode hbos model: %w", err)
	}
	return buf.Bytes(), nil
}

// Name implements Adapter.
func (h *Histogram) Name() string { return BackendHistogram }

// MinimumSamples implements Adapter.
func (h *Histogram) MinimumSamples() int { return 10 }

// Fit implements Adapter.
func (h *Histogram) Fit(vectors [][]float64, contamination float64) (Model, float64, error) {
	if err := checkFitInput(vectors, contamination, h.MinimumSamples()); err != nil {
		return nil, 0, err
	}

	width := len(vectors[0])
	n := float64(len(vectors))

	model := &histogramModel{
		Mins:      make([]float64, width),
		Maxs:      make([]float64, width),
		Densities: make([][]float64, width),
		Bins:      h.bins,
	}

	for col := 0; col < width; col++ {
		minV, maxV := vectors[0][col], vectors[0][col]
		for _, vec := range vectors[1:] {
			if vec[col] < minV {
				minV = vec[col]
			}
			if vec[col] > maxV {
				maxV = vec[col]
			}
		}
		model.Mins[col] = minV
		model.Maxs[col] = maxV

		density := make([]float64, h.bins)
		for _, vec := range vectors {
			density[binIndex(vec[col], minV, maxV, h.bins)]++
		}
		for b := range density {
			density[b] /= n
		}
		model.Densities[col] = density
	}

	scores, err := h.Score(vectors, model)
	if err != nil {
		return nil, 0, err
	}
	return model, thresholdFromScores(scores, contamination), nil
}

// Score implements Adapter.
func (h *Histogram) Score(vectors [][]float64, model Model) ([]float64, error) {
	m, ok := model.(*histogramModel)
	if !ok {
		return nil, fmt.Errorf("%w: %s given %s model", ErrModelMismatch, h.Name(), model.Backend())
	}

	// Floor keeps log finite for empty bins and values outside the
	// training range.
	const floor = 1e-6

	scores := make([]float64, len(vectors))
	for i, vec := range vectors {
		if len(vec) != len(m.Densities) {
			return nil, fmt.Errorf("%w: vector width %d, model width %d", ErrModelMismatch, len(vec), len(m.Densities))
		}
		var score float64
		for col, v := range vec {
			density := floor
			if v >= m.Mins[col] && v <= m.Maxs[col] {
				d := m.Densities[col][binIndex(v, m.Mins[col], m.Maxs[col], m.Bins)]
				if d > floor {
					density = d
				}
			}
			score += -math.Log(density)
		}
		scores[i] = score / float64(len(vec))
	}
	return scores, nil
}

// LoadModel implements Adapter.
func (h *Histogram) LoadModel(data []byte) (Model, error) {
	var w histogramWire
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&w); err != nil {
		return nil, fmt.Errorf("decode hbos model: %w", err)
	}
	return (*histogramModel)(&w), nil
}

// binIndex maps a value into [0, bins). A constant feature collapses to
// bin 0.
func binIndex(v, minV, maxV float64, bins int) int {
	if maxV <= minV {
		return 0
	}
	idx := int(float64(bins) * (v - minV) / (maxV - minV))
	if idx < 0 {
		idx = 0
	}
	if idx >= bins {
		idx = bins - 1
	}
	return idx
}
