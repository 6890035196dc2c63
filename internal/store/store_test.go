// Driftwatch - Streaming Anomaly Detection Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/driftwatch

package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomtom215/driftwatch/internal/backend"
	"github.com/tomtom215/driftwatch/internal/detector"
	"github.com/tomtom215/driftwatch/internal/encoding"
	"github.com/tomtom215/driftwatch/internal/normalize"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// fittedSnapshot builds a real snapshot by running a detector to readiness.
func fittedSnapshot(t *testing.T, id string) *detector.Snapshot {
	t.Helper()

	adapter, err := backend.NewRegistry().Get("mad")
	require.NoError(t, err)

	d, err := detector.New(detector.Config{
		ID:              id,
		Backend:         "mad",
		MinSamples:      5,
		RetrainInterval: 100,
		WindowSize:      50,
		Contamination:   0.1,
		Normalization:   normalize.ModeStandardization,
	}, adapter)
	require.NoError(t, err)

	for i := 0; i < 8; i++ {
		_, _, err := d.Ingest(context.Background(),
			[]encoding.Record{{"v": float64(10 + i)}}, nil)
		require.NoError(t, err)
	}

	snap, err := d.Snapshot()
	require.NoError(t, err)
	return snap
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	snap := fittedSnapshot(t, "cpu")
	require.NoError(t, s.Save(ctx, snap))

	got, err := s.Load(ctx, "cpu")
	require.NoError(t, err)
	assert.Equal(t, snap.ID, got.ID)
	assert.Equal(t, snap.Backend, got.Backend)
	assert.Equal(t, snap.ModelVersion, got.ModelVersion)
	assert.Equal(t, snap.ModelData, got.ModelData)
	assert.Equal(t, snap.RawThreshold, got.RawThreshold)
	assert.Equal(t, snap.NormState, got.NormState)

	// The loaded snapshot restores into a working detector.
	adapter, err := backend.NewRegistry().Get(got.Backend)
	require.NoError(t, err)
	restored, err := detector.Restore(got, adapter)
	require.NoError(t, err)
	assert.Equal(t, detector.StatusReady, restored.Status())
}

func TestLoadMissingSnapshot(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Load(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrSnapshotNotFound)
}

func TestSaveOverwritesPrevious(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	snap := fittedSnapshot(t, "cpu")
	require.NoError(t, s.Save(ctx, snap))

	snap.ModelVersion = 9
	require.NoError(t, s.Save(ctx, snap))

	got, err := s.Load(ctx, "cpu")
	require.NoError(t, err)
	assert.Equal(t, uint64(9), got.ModelVersion)

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestDeleteSnapshot(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, fittedSnapshot(t, "cpu")))
	require.NoError(t, s.Delete(ctx, "cpu"))

	_, err := s.Load(ctx, "cpu")
	assert.ErrorIs(t, err, ErrSnapshotNotFound)

	// Deleting again is a no-op.
	assert.NoError(t, s.Delete(ctx, "cpu"))
}

func TestLoadAll(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, fittedSnapshot(t, "cpu")))
	require.NoError(t, s.Save(ctx, fittedSnapshot(t, "memory")))

	snaps, err := s.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, snaps, 2)

	ids := []string{snaps[0].ID, snaps[1].ID}
	assert.ElementsMatch(t, []string{"cpu", "memory"}, ids)
}

func TestCanceledContextRejected(t *testing.T) {
	s := newTestStore(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, s.Save(ctx, fittedSnapshot(t, "cpu")), context.Canceled)
	_, err := s.Load(ctx, "cpu")
	assert.ErrorIs(t, err, context.Canceled)
	_, err = s.LoadAll(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDurableStoreSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, fittedSnapshot(t, "cpu")))
	require.NoError(t, s.Close())

	s2, err := Open(dir)
	require.NoError(t, err)
	defer s2.Close()

	got, err := s2.Load(ctx, "cpu")
	require.NoError(t, err)
	assert.Equal(t, "cpu", got.ID)
}
