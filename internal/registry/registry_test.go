// Driftwatch - Streaming Anomaly Detection Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/driftwatch

package registry

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomtom215/driftwatch/internal/backend"
	"github.com/tomtom215/driftwatch/internal/detector"
	"github.com/tomtom215/driftwatch/internal/encoding"
	"github.com/tomtom215/driftwatch/internal/normalize"
)

func testConfig(id string) detector.Config {
	return detector.Config{
		ID:              id,
		Backend:         "mad",
		MinSamples:      5,
		RetrainInterval: 10,
		WindowSize:      50,
		Contamination:   0.1,
		Normalization:   normalize.ModeStandardization,
	}
}

func TestCreateGetDelete(t *testing.T) {
	r := New(backend.NewRegistry(), 0)

	d, err := r.Create(testConfig("cpu"))
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, 1, r.Len())

	got, err := r.Get("cpu")
	require.NoError(t, err)
	assert.Same(t, d, got)

	_, err = r.Get("memory")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, r.Delete("cpu"))
	assert.Equal(t, 0, r.Len())
	_, err = r.Get("cpu")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, r.Delete("cpu"), ErrNotFound)
}

func TestCreateRejectsDuplicateID(t *testing.T) {
	r := New(backend.NewRegistry(), 0)

	_, err := r.Create(testConfig("cpu"))
	require.NoError(t, err)

	_, err = r.Create(testConfig("cpu"))
	assert.ErrorIs(t, err, ErrAlreadyExists)
	assert.Equal(t, 1, r.Len())
}

func TestCreateRejectsUnknownBackend(t *testing.T) {
	r := New(backend.NewRegistry(), 0)

	cfg := testConfig("cpu")
	cfg.Backend = "quantumforest"
	_, err := r.Create(cfg)
	assert.ErrorIs(t, err, backend.ErrUnknownBackend)
	assert.Equal(t, 0, r.Len())
}

func TestCreateRejectsInvalidConfig(t *testing.T) {
	r := New(backend.NewRegistry(), 0)

	cfg := testConfig("cpu")
	cfg.WindowSize = -1
	_, err := r.Create(cfg)
	assert.Error(t, err)
	assert.Equal(t, 0, r.Len())
}

func TestCreateEnforcesDetectorCap(t *testing.T) {
	r := New(backend.NewRegistry(), 2)

	_, err := r.Create(testConfig("a"))
	require.NoError(t, err)
	_, err = r.Create(testConfig("b"))
	require.NoError(t, err)

	_, err = r.Create(testConfig("c"))
	assert.ErrorIs(t, err, ErrTooManyDetectors)

	// Deleting frees a slot.
	require.NoError(t, r.Delete("a"))
	_, err = r.Create(testConfig("c"))
	assert.NoError(t, err)
}

func TestListSortedByID(t *testing.T) {
	r := New(backend.NewRegistry(), 0)

	for _, id := range []string{"zeta", "alpha", "mid"} {
		_, err := r.Create(testConfig(id))
		require.NoError(t, err)
	}

	stats := r.List()
	require.Len(t, stats, 3)
	assert.Equal(t, "alpha", stats[0].ID)
	assert.Equal(t, "mid", stats[1].ID)
	assert.Equal(t, "zeta", stats[2].ID)
	assert.Equal(t, detector.StatusCollecting, stats[0].Status)
}

func TestResetThroughRegistry(t *testing.T) {
	r := New(backend.NewRegistry(), 0)

	d, err := r.Create(testConfig("cpu"))
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		_, _, err := d.Ingest(context.Background(),
			[]encoding.Record{{"v": float64(i)}}, nil)
		require.NoError(t, err)
	}
	require.Equal(t, detector.StatusReady, d.Status())

	require.NoError(t, r.Reset("cpu"))
	assert.Equal(t, detector.StatusCollecting, d.Status())

	assert.ErrorIs(t, r.Reset("nope"), ErrNotFound)
}

func TestIndependentDetectorsDoNotInterfere(t *testing.T) {
	r := New(backend.NewRegistry(), 0)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		id := fmt.Sprintf("d%d", i)
		_, err := r.Create(testConfig(id))
		require.NoError(t, err)

		wg.Add(1)
		go func(id string, base float64) {
			defer wg.Done()
			d, err := r.Get(id)
			assert.NoError(t, err)
			for j := 0; j < 30; j++ {
				_, _, err := d.Ingest(context.Background(),
					[]encoding.Record{{"v": base + float64(j)}}, nil)
				assert.NoError(t, err)
			}
		}(id, float64(i*1000))
	}
	wg.Wait()
	for i := 0; i < 4; i++ {
		d, err := r.Get(fmt.Sprintf("d%d", i))
		require.NoError(t, err)
		d.WaitRetrain()
	}

	for _, s := range r.List() {
		assert.Equal(t, 30, s.SamplesCollected, s.ID)
		assert.Equal(t, detector.StatusReady, s.Status, s.ID)
	}
}

func TestRestoreInstallsReadyDetector(t *testing.T) {
	backends := backend.NewRegistry()
	r := New(backends, 0)

	src, err := r.Create(testConfig("cpu"))
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		_, _, err := src.Ingest(context.Background(),
			[]encoding.Record{{"v": float64(i)}}, nil)
		require.NoError(t, err)
	}
	snap, err := src.Snapshot()
	require.NoError(t, err)

	other := New(backends, 0)
	restored, err := other.Restore(snap)
	require.NoError(t, err)
	assert.Equal(t, detector.StatusReady, restored.Status())

	// The snapshot's ID is taken like any other.
	_, err = other.Restore(snap)
	assert.ErrorIs(t, err, ErrAlreadyExists)
}
