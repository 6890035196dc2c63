// Driftwatch - Streaming Anomaly Detection Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/driftwatch

// Package store persists detector snapshots in BadgerDB so fitted models
// survive a restart instead of re-entering the cold-start collection phase.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/tomtom215/driftwatch/internal/detector"
	"github.com/tomtom215/driftwatch/internal/logging"
)

// ErrSnapshotNotFound marks a missing detector snapshot.
var ErrSnapshotNotFound = errors.New("snapshot not found")

// snapshotKeyPrefix namespaces detector snapshots in BadgerDB.
const snapshotKeyPrefix = "snapshot:"

// Store is a BadgerDB-backed snapshot store.
type Store struct {
	db *badger.DB
}

// Open opens (or creates) a BadgerDB store at path.
func Open(path string) (*Store, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil // Suppress BadgerDB internal logs
	// Snapshots are small; keep value log files well under the 1GB default.
	opts.ValueLogFileSize = 64 << 20
	opts.SyncWrites = true

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger db for snapshots: %w", err)
	}
	return &Store{db: db}, nil
}

// OpenInMemory opens a non-durable store. Used in tests.
func OpenInMemory() (*Store, error) {
	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open in-memory badger db: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func snapshotKey(id string) []byte {
	return []byte(snapshotKeyPrefix + id)
}

// Save writes one detector snapshot, replacing any previous snapshot for
// the same detector ID.
func (s *Store) Save(ctx context.Context, snap *detector.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(snapshotKey(snap.ID), data)
	})
	if err != nil {
		return fmt.Errorf("save snapshot %q: %w", snap.ID, err)
	}

	logging.Debug().
		Str("detector", snap.ID).
		Uint64("model_version", snap.ModelVersion).
		Int("bytes", len(data)).
		Msg("snapshot saved")
	return nil
}

// Load retrieves the snapshot for one detector ID.
func (s *Store) Load(ctx context.Context, id string) (*detector.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var snap detector.Snapshot
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(snapshotKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: %q", ErrSnapshotNotFound, id)
		}
		if err != nil {
			return fmt.Errorf("get snapshot: %w", err)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &snap)
		})
	})
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

// Delete removes a detector's snapshot. Deleting a snapshot that does not
// exist is not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete(snapshotKey(id)); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("delete snapshot %q: %w", id, err)
		}
		return nil
	})
}

// LoadAll returns every persisted snapshot. A snapshot that fails to decode
// is skipped with a warning so one corrupt entry cannot block startup.
func (s *Store) LoadAll(ctx context.Context) ([]*detector.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var snapshots []*detector.Snapshot
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(snapshotKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			id := strings.TrimPrefix(string(item.Key()), snapshotKeyPrefix)

			var snap detector.Snapshot
			err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &snap)
			})
			if err != nil {
				logging.Warn().Err(err).Str("detector", id).Msg("skipping undecodable snapshot")
				continue
			}
			snapshots = append(snapshots, &snap)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan snapshots: %w", err)
	}
	return snapshots, nil
}

// Count returns the number of persisted snapshots.
func (s *Store) Count(ctx context.Context) (int, error) {
	count := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(snapshotKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

// runGC runs one badger value-log GC pass. Badger asks callers to repeat
// until ErrNoRewrite.
func (s *Store) runGC() {
	for {
		if err := s.db.RunValueLogGC(0.5); err != nil {
			return
		}
	}
}

// GCService runs periodic BadgerDB value-log garbage collection as a
// supervised service.
type GCService struct {
	store    *Store
	interval time.Duration
}

// NewGCService wraps a store's GC loop for the supervision tree.
func NewGCService(store *Store, interval time.Duration) *GCService {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &GCService{store: store, interval: interval}
}

// Serve implements suture.Service. It blocks until the context is canceled.
func (g *GCService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			g.store.runGC()
		}
	}
}

// String implements fmt.Stringer for supervisor logging.
func (g *GCService) String() string {
	return "badger-gc"
}
