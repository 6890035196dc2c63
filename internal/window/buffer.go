// Driftwatch - Streaming Anomaly Detection Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/driftwatch

// Package window provides the bounded sliding-window buffer that backs each
// detector, plus the rolling/lag feature engine that augments raw vectors.
//
// The buffer is a fixed-capacity ring: appends are O(1), the oldest rows are
// dropped once capacity is reached, and reads return consistent
// point-in-time copies so a background fit never observes a torn snapshot.
package window

import (
	"errors"
	"fmt"
	"sync"
)

// ErrInvalidCapacity marks a non-positive window size.
var ErrInvalidCapacity = errors.New("window capacity must be positive")

// Buffer is a bounded, ordered store of encoded vectors. Safe for
// concurrent use: appends take a write lock, snapshots a read lock.
type Buffer struct {
	mu       sync.RWMutex
	capacity int
	rows     [][]float64
	head     int // index of the oldest row
	count    int
	total    uint64 // appends since creation, monotonic
}

// NewBuffer creates a buffer holding at most capacity rows.
func NewBuffer(capacity int) (*Buffer, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidCapacity, capacity)
	}
	return &Buffer{
		capacity: capacity,
		rows:     make([][]float64, capacity),
	}, nil
}

// Append adds one row at the tail, evicting the oldest row when full.
// The buffer takes ownership of the slice.
func (b *Buffer) Append(row []float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.append(row)
}

// AppendBatch adds rows in order.
func (b *Buffer) AppendBatch(rows [][]float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, row := range rows {
		b.append(row)
	}
}

// append must be called with the write lock held.
func (b *Buffer) append(row []float64) {
	tail := (b.head + b.count) % b.capacity
	if b.count == b.capacity {
		// Full: overwrite the oldest row and advance the head.
		b.rows[b.head] = row
		b.head = (b.head + 1) % b.capacity
	} else {
		b.rows[tail] = row
		b.count++
	}
	b.total++
}

// Len returns the current number of rows, always <= capacity.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.count
}

// Capacity returns the configured window size.
func (b *Buffer) Capacity() int {
	return b.capacity
}

// Total returns the number of rows ever appended.
func (b *Buffer) Total() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.total
}

// All returns a point-in-time copy of every row, oldest first.
func (b *Buffer) All() [][]float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.copyTail(b.count)
}

// Tail returns a point-in-time copy of the most recent n rows, oldest
// first. n larger than the buffer returns everything.
func (b *Buffer) Tail(n int) [][]float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if n > b.count {
		n = b.count
	}
	if n <= 0 {
		return nil
	}
	return b.copyTail(n)
}

// copyTail must be called with at least a read lock held.
func (b *Buffer) copyTail(n int) [][]float64 {
	out := make([][]float64, n)
	start := b.count - n
	for i := 0; i < n; i++ {
		src := b.rows[(b.head+start+i)%b.capacity]
		row := make([]float64, len(src))
		copy(row, src)
		out[i] = row
	}
	return out
}

// Clear drops every row. Capacity is unchanged.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.rows {
		b.rows[i] = nil
	}
	b.head = 0
	b.count = 0
}
