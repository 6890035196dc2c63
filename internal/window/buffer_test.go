// Driftwatch - Streaming Anomaly Detection Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/driftwatch

package window

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func row(vals ...float64) []float64 { return vals }

func TestNewBufferRejectsBadCapacity(t *testing.T) {
	_, err := NewBuffer(0)
	assert.ErrorIs(t, err, ErrInvalidCapacity)
	_, err = NewBuffer(-3)
	assert.ErrorIs(t, err, ErrInvalidCapacity)
}

func TestAppendEvictsOldest(t *testing.T) {
	b, err := NewBuffer(5)
	require.NoError(t, err)

	for v := 1.0; v <= 6.0; v++ {
		b.Append(row(v))
		assert.LessOrEqual(t, b.Len(), 5, "length bound must hold after every append")
	}

	got := b.All()
	require.Len(t, got, 5)
	assert.Equal(t, [][]float64{{2}, {3}, {4}, {5}, {6}}, got)
	assert.Equal(t, uint64(6), b.Total())
}

func TestAppendBatchWrapsAround(t *testing.T) {
	b, err := NewBuffer(3)
	require.NoError(t, err)

	b.AppendBatch([][]float64{{1}, {2}, {3}, {4}, {5}, {6}, {7}})
	assert.Equal(t, [][]float64{{5}, {6}, {7}}, b.All())
}

func TestTail(t *testing.T) {
	b, err := NewBuffer(10)
	require.NoError(t, err)
	b.AppendBatch([][]float64{{1}, {2}, {3}, {4}})

	assert.Equal(t, [][]float64{{3}, {4}}, b.Tail(2))
	assert.Equal(t, [][]float64{{1}, {2}, {3}, {4}}, b.Tail(99))
	assert.Nil(t, b.Tail(0))
}

func TestSnapshotIsACopy(t *testing.T) {
	b, err := NewBuffer(4)
	require.NoError(t, err)
	b.Append(row(1, 2))

	snap := b.All()
	snap[0][0] = 99
	b.Append(row(3, 4))

	assert.Equal(t, [][]float64{{1, 2}, {3, 4}}, b.All(), "mutating a snapshot must not affect the buffer")
}

func TestClear(t *testing.T) {
	b, err := NewBuffer(4)
	require.NoError(t, err)
	b.AppendBatch([][]float64{{1}, {2}})

	b.Clear()
	assert.Equal(t, 0, b.Len())
	assert.Empty(t, b.All())

	b.Append(row(7))
	assert.Equal(t, [][]float64{{7}}, b.All())
}

func TestConcurrentAppendAndSnapshot(t *testing.T) {
	b, err := NewBuffer(64)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				b.Append(row(float64(i), float64(i)))
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			snap := b.All()
			assert.LessOrEqual(t, len(snap), 64)
			for _, r := range snap {
				assert.Len(t, r, 2, "no torn rows")
			}
		}
	}()
	wg.Wait()

	assert.Equal(t, 64, b.Len())
	assert.Equal(t, uint64(2000), b.Total())
}
