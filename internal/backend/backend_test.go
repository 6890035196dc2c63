// Driftwatch - Streaming Anomaly Detection Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/driftwatch

package backend

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clusteredVectors returns n two-dimensional points jittered around (5, 5).
func clusteredVectors(n int, seed int64) [][]float64 {
	rng := rand.New(rand.NewSource(seed))
	out := make([][]float64, n)
	for i := range out {
		out[i] = []float64{5 + rng.NormFloat64()*0.5, 5 + rng.NormFloat64()*0.5}
	}
	return out
}

func allAdapters() []Adapter {
	return []Adapter{
		NewIsolationForest(WithSeed(42)),
		NewHistogram(),
		NewKNN(),
		NewMAD(),
		NewOneClassBoundary(),
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()

	names := r.Names()
	assert.Equal(t, []string{"hbos", "iforest", "knn", "mad", "ocb"}, names)

	a, err := r.Get("iforest")
	require.NoError(t, err)
	assert.Equal(t, "iforest", a.Name())

	_, err = r.Get("autoencoder9000")
	assert.ErrorIs(t, err, ErrUnknownBackend)
}

func TestFitRejectsInvalidInput(t *testing.T) {
	vectors := clusteredVectors(100, 1)

	for _, a := range allAdapters() {
		t.Run(a.Name(), func(t *testing.T) {
			_, _, err := a.Fit(vectors[:a.MinimumSamples()-1], 0.1)
			assert.ErrorIs(t, err, ErrInsufficientData)

			_, _, err = a.Fit(vectors, 0)
			assert.ErrorIs(t, err, ErrInvalidContamination)

			_, _, err = a.Fit(vectors, 0.7)
			assert.ErrorIs(t, err, ErrInvalidContamination)
		})
	}
}

func TestOutlierScoresAboveInliers(t *testing.T) {
	vectors := clusteredVectors(200, 2)

	for _, a := range allAdapters() {
		t.Run(a.Name(), func(t *testing.T) {
			model, _, err := a.Fit(vectors, 0.1)
			require.NoError(t, err)

			scores, err := a.Score([][]float64{{5, 5}, {100, 100}}, model)
			require.NoError(t, err)
			assert.Greater(t, scores[1], scores[0],
				"a far outlier must score higher than a central point")
		})
	}
}

func TestContaminationCalibratesThreshold(t *testing.T) {
	// Roughly uniform training data; contamination 0.1 should flag ~10 of
	// the 100 training vectors when scored against the same model.
	rng := rand.New(rand.NewSource(3))
	vectors := make([][]float64, 100)
	for i := range vectors {
		vectors[i] = []float64{rng.Float64() * 10, rng.Float64() * 10}
	}

	for _, a := range allAdapters() {
		t.Run(a.Name(), func(t *testing.T) {
			model, rawThreshold, err := a.Fit(vectors, 0.1)
			require.NoError(t, err)

			scores, err := a.Score(vectors, model)
			require.NoError(t, err)

			flagged := 0
			for _, s := range scores {
				if s >= rawThreshold {
					flagged++
				}
			}
			assert.InDelta(t, 10, flagged, 7, "contamination 0.1 on 100 samples")
		})
	}
}

func TestModelRoundTrip(t *testing.T) {
	vectors := clusteredVectors(100, 4)
	probes := [][]float64{{5, 5}, {4.2, 6.1}, {50, -3}}

	for _, a := range allAdapters() {
		t.Run(a.Name(), func(t *testing.T) {
			model, _, err := a.Fit(vectors, 0.1)
			require.NoError(t, err)

			want, err := a.Score(probes, model)
			require.NoError(t, err)

			data, err := model.MarshalBinary()
			require.NoError(t, err)
			require.NotEmpty(t, data)

			restored, err := a.LoadModel(data)
			require.NoError(t, err)
			assert.Equal(t, a.Name(), restored.Backend())

			got, err := a.Score(probes, restored)
			require.NoError(t, err)
			assert.Equal(t, want, got, "a reloaded model must score identically")
		})
	}
}

// Gob honors encoding.BinaryMarshaler, so a model whose MarshalBinary
// gob-encodes the receiver itself would recurse without bound. Marshaling
// through the interface must terminate and the bytes must stay loadable.
func TestMarshalBinaryThroughInterfaceTerminates(t *testing.T) {
	vectors := clusteredVectors(100, 4)

	for _, a := range allAdapters() {
		t.Run(a.Name(), func(t *testing.T) {
			model, _, err := a.Fit(vectors, 0.1)
			require.NoError(t, err)

			var marshaler interface {
				MarshalBinary() ([]byte, error)
			} = model
			data, err := marshaler.MarshalBinary()
			require.NoError(t, err)
			require.NotEmpty(t, data)

			restored, err := a.LoadModel(data)
			require.NoError(t, err)
			assert.Equal(t, a.Name(), restored.Backend())
		})
	}
}

func TestScoreRejectsForeignModel(t *testing.T) {
	vectors := clusteredVectors(50, 5)

	mad := NewMAD()
	madModel, _, err := mad.Fit(vectors, 0.1)
	require.NoError(t, err)

	knn := NewKNN()
	_, err = knn.Score(vectors, madModel)
	assert.ErrorIs(t, err, ErrModelMismatch)
}

func TestScoreRejectsWidthMismatch(t *testing.T) {
	vectors := clusteredVectors(50, 6)

	for _, a := range allAdapters() {
		t.Run(a.Name(), func(t *testing.T) {
			model, _, err := a.Fit(vectors, 0.1)
			require.NoError(t, err)

			_, err = a.Score([][]float64{{1, 2, 3}}, model)
			assert.ErrorIs(t, err, ErrModelMismatch)
		})
	}
}

func TestIsolationForestSeededFitIsDeterministic(t *testing.T) {
	vectors := clusteredVectors(100, 7)
	probes := [][]float64{{5, 5}, {9, 1}}

	m1, t1, err := NewIsolationForest(WithSeed(99)).Fit(vectors, 0.1)
	require.NoError(t, err)
	m2, t2, err := NewIsolationForest(WithSeed(99)).Fit(vectors, 0.1)
	require.NoError(t, err)

	assert.Equal(t, t1, t2)

	f := NewIsolationForest()
	s1, err := f.Score(probes, m1)
	require.NoError(t, err)
	s2, err := f.Score(probes, m2)
	require.NoError(t, err)
	assert.Equal(t, s1, s2)
}

func TestQuantile(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5}
	assert.Equal(t, 1.0, quantile(values, 0))
	assert.Equal(t, 5.0, quantile(values, 1))
	assert.Equal(t, 3.0, quantile(values, 0.5))
	assert.InDelta(t, 4.6, quantile(values, 0.9), 1e-9)
	assert.Equal(t, 0.0, quantile(nil, 0.5))
}
