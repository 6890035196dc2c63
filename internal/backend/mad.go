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

// BackendMAD is the registry name of the median-absolute-deviation backend.
const BackendMAD = "mad"

// madConsistency scales MAD to estimate the standard deviation under
// normality.
const madConsistency = 1.4826

// MAD scores a sample by its largest per-feature robust z-score
// |x - median| / (1.4826 * MAD). Parameter-free, cheap, and insensitive to
// the outliers already present in the training window.
type MAD struct{}

// NewMAD creates the backend.
func NewMAD() *MAD {
	return &MAD{}
}

// madModel holds per-feature medians and scaled deviations.
type madModel struct {
	Medians []float64
	Scales  []float64 // 1.4826 * MAD per feature; 0 for constant features
}

// Backend implements Model.
func (m *madModel) Backend() string { return BackendMAD }

// madWire strips the method set so gob encodes the struct fields instead
// of calling MarshalBinary back.
type madWire madModel

// MarshalBinary implements Model.
func (m *madModel) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode((*madWire)(m)); err != nil {
		return nil, fmt.Errorf("encode mad model: %w", err)
	}
	return buf.Bytes(), nil
}

// Name implements Adapter.
func (a *MAD) Name() string { return BackendMAD }

// MinimumSamples implements Adapter.
func (a *MAD) MinimumSamples() int { return 5 }

// Fit implements Adapter.
func (a *MAD) Fit(vectors [][]float64, contamination float64) (Model, float64, error) {
	if err := checkFitInput(vectors, contamination, a.MinimumSamples()); err != nil {
		return nil, 0, err
	}

	width := len(vectors[0])
	model := &madModel{
		Medians: make([]float64, width),
		Scales:  make([]float64, width),
	}

	column := make([]float64, len(vectors))
	deviations := make([]float64, len(vectors))
	for col := 0; col < width; col++ {
		for i, vec := range vectors {
			column[i] = vec[col]
		}
		med := median(column)
		for i, v := range column {
			deviations[i] = math.Abs(v - med)
		}
		model.Medians[col] = med
		model.Scales[col] = madConsistency * median(deviations)
	}

	scores, err := a.Score(vectors, model)
	if err != nil {
		return nil, 0, err
	}
	return model, thresholdFromScores(scores, contamination), nil
}

// Score implements Adapter.
func (a *MAD) Score(vectors [][]float64, model Model) ([]float64, error) {
	m, ok := model.(*madModel)
	if !ok {
		return nil, fmt.Errorf("%w: %s given %s model", ErrModelMismatch, a.Name(), model.Backend())
	}

	const eps = 1e-9

	scores := make([]float64, len(vectors))
	for i, vec := range vectors {
		if len(vec) != len(m.Medians) {
			return nil, fmt.Errorf("%w: vector width %d, model width %d", ErrModelMismatch, len(vec), len(m.Medians))
		}
		var worst float64
		for col, v := range vec {
			z := math.Abs(v-m.Medians[col]) / (m.Scales[col] + eps)
			// Constant features only contribute when they actually moved.
			if m.Scales[col] == 0 && math.Abs(v-m.Medians[col]) < eps {
				z = 0
			}
			if z > worst {
				worst = z
			}
		}
		scores[i] = worst
	}
	return scores, nil
}

// LoadModel implements Adapter.
func (a *MAD) LoadModel(data []byte) (Model, error) {
	var w madWire
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&w); err != nil {
		return nil, fmt.Errorf("decode mad model: %w", err)
	}
	return (*madModel)(&w), nil
}
