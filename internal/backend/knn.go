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
	"sort"
)

// BackendKNN is the registry name of the k-nearest-neighbors backend.
const BackendKNN = "knn"

// KNN scores a sample by its mean distance to the k nearest training
// points: isolated points sit far from their neighbors. Density-based in
// the local-outlier family; stores a bounded reference sample of the
// training data.
type KNN struct {
	k       int
	maxRefs int
}

// NewKNN creates the backend with standard parameters.
func NewKNN() *KNN {
	return &KNN{k: 5, maxRefs: 1024}
}

// knnModel holds the reference sample.
type knnModel struct {
	Refs [][]float64
	K    int
}

// Backend implements Model.
func (m *knnModel) Backend() string { return BackendKNN }

// knnWire strips the method set so gob encodes the struct fields instead
// of calling MarshalBinary back.
type knnWire knnModel

// MarshalBinary implements Model.
func (m *knnModel) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode((*knnWire)(m)); err != nil {
		return nil, fmt.Errorf("encode knn model: %w", err)
	}
	return buf.Bytes(), nil
}

// Name implements Adapter.
func (k *KNN) Name() string { return BackendKNN }

// MinimumSamples implements Adapter.
func (k *KNN) MinimumSamples() int { return k.k + 1 }

// Fit implements Adapter.
func (k *KNN) Fit(vectors [][]float64, contamination float64) (Model, float64, error) {
	if err := checkFitInput(vectors, contamination, k.MinimumSamples()); err != nil {
		return nil, 0, err
	}

	// Keep an evenly strided reference sample to bound scoring cost on
	// large windows.
	refs := vectors
	if len(vectors) > k.maxRefs {
		refs = make([][]float64, k.maxRefs)
		stride := float64(len(vectors)) / float64(k.maxRefs)
		for i := range refs {
			refs[i] = vectors[int(float64(i)*stride)]
		}
	}

	copied := make([][]float64, len(refs))
	for i, ref := range refs {
		row := make([]float64, len(ref))
		copy(row, ref)
		copied[i] = row
	}

	model := &knnModel{Refs: copied, K: k.k}
	scores, err := k.Score(vectors, model)
	if err != nil {
		return nil, 0, err
	}
	return model, thresholdFromScores(scores, contamination), nil
}

// Score implements Adapter.
func (k *KNN) Score(vectors [][]float64, model Model) ([]float64, error) {
	m, ok := model.(*knnModel)
	if !ok {
		return nil, fmt.Errorf("%w: %s given %s model", ErrModelMismatch, k.Name(), model.Backend())
	}
	width := len(m.Refs[0])

	scores := make([]float64, len(vectors))
	dists := make([]float64, len(m.Refs))
	for i, vec := range vectors {
		if len(vec) != width {
			return nil, fmt.Errorf("%w: vector width %d, model width %d", ErrModelMismatch, len(vec), width)
		}
		for j, ref := range m.Refs {
			dists[j] = euclidean(vec, ref)
		}
		sort.Float64s(dists)

		// Skip the zero self-distance when the sample is a reference point.
		neighbors := dists
		if neighbors[0] == 0 && len(neighbors) > m.K {
			neighbors = neighbors[1:]
		}
		kk := m.K
		if kk > len(neighbors) {
			kk = len(neighbors)
		}
		sum := 0.0
		for _, d := range neighbors[:kk] {
			sum += d
		}
		scores[i] = sum / float64(kk)
	}
	return scores, nil
}

// LoadModel implements Adapter.
func (k *KNN) LoadModel(data []byte) (Model, error) {
	var w knnWire
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&w); err != nil {
		return nil, fmt.Errorf("decode knn model: %w", err)
	}
	return (*knnModel)(&w), nil
}

// euclidean returns the L2 distance between equal-length vectors.
func euclidean(a, b []float64) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}
