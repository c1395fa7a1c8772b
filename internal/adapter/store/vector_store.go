package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"imgsearch/internal/domain"
	"imgsearch/internal/port"
)

// VectorStore is the in-memory record list backed by a Snapshotter.
// Appends stay in memory until Checkpoint writes the whole list at once.
type VectorStore struct {
	snap   port.Snapshotter
	codec  Codec
	logger *slog.Logger

	mu        sync.RWMutex
	dimension int
	records   []domain.VectorRecord
	done      map[string]struct{}
	resumed   int
	pending   int
}

// Options configures a VectorStore.
type Options struct {
	// Dimension fixes the vector length. Zero takes it from the first record.
	Dimension int
	Logger    *slog.Logger
}

// Open creates a store and loads the existing snapshot, if any.
//
// A missing snapshot yields an empty store. A snapshot that cannot be decoded,
// or whose vectors disagree on dimension, is logged as corrupt and the store
// starts empty. Other read errors are returned.
func Open(ctx context.Context, snap port.Snapshotter, codec Codec, opts Options) (*VectorStore, error) {
	if codec == nil {
		codec = JSONCodec{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &VectorStore{
		snap:      snap,
		codec:     codec,
		logger:    logger,
		dimension: opts.Dimension,
		done:      make(map[string]struct{}),
	}
	if err := s.load(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *VectorStore) load(ctx context.Context) error {
	data, err := s.snap.Read(ctx)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read snapshot %s: %w", s.snap.Location(), err)
	}
	if len(data) == 0 {
		return nil
	}

	records, err := s.codec.Decode(data)
	if err == nil {
		err = s.validate(records)
	}
	if err != nil {
		s.logger.Warn("existing snapshot unreadable, starting fresh",
			"location", s.snap.Location(),
			"error", fmt.Errorf("%w: %w", domain.ErrStoreCorrupt, err),
		)
		return nil
	}

	for _, r := range records {
		if _, dup := s.done[r.ID]; dup {
			s.logger.Warn("dropping duplicate record from snapshot", "id", r.ID)
			continue
		}
		s.done[r.ID] = struct{}{}
		s.records = append(s.records, r)
	}
	if s.dimension == 0 && len(s.records) > 0 {
		s.dimension = len(s.records[0].Embedding)
	}
	s.resumed = len(s.records)

	if s.resumed > 0 {
		s.logger.Info("resuming from snapshot", "location", s.snap.Location(), "entries", s.resumed)
	}
	return nil
}

func (s *VectorStore) validate(records []domain.VectorRecord) error {
	dim := s.dimension
	for _, r := range records {
		if r.ID == "" {
			return errors.New("record with empty id")
		}
		if dim == 0 {
			dim = len(r.Embedding)
		}
		if len(r.Embedding) != dim || dim == 0 {
			return &domain.DimensionError{Expected: dim, Actual: len(r.Embedding)}
		}
	}
	return nil
}

// Append adds a record in memory. Duplicate ids and dimension mismatches are rejected.
func (s *VectorStore) Append(rec domain.VectorRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.done[rec.ID]; ok {
		return fmt.Errorf("%w: %s", domain.ErrDuplicateID, rec.ID)
	}
	if len(rec.Embedding) == 0 {
		return fmt.Errorf("record %s has empty embedding", rec.ID)
	}
	if s.dimension == 0 {
		s.dimension = len(rec.Embedding)
	}
	if len(rec.Embedding) != s.dimension {
		return &domain.DimensionError{Expected: s.dimension, Actual: len(rec.Embedding)}
	}

	s.records = append(s.records, rec)
	s.done[rec.ID] = struct{}{}
	s.pending++
	return nil
}

// Has reports whether id is already stored.
func (s *VectorStore) Has(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.done[id]
	return ok
}

// Len returns the number of records.
func (s *VectorStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Resumed returns how many records were loaded from the snapshot.
func (s *VectorStore) Resumed() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.resumed
}

// Pending returns how many records were appended since the last checkpoint.
func (s *VectorStore) Pending() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pending
}

// Dimension returns the store dimension, or 0 if not yet known.
func (s *VectorStore) Dimension() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dimension
}

// Location describes where snapshots are written.
func (s *VectorStore) Location() string {
	return s.snap.Location()
}

// Records returns a copy of the record list in insertion order. Records are
// never mutated after Append, so the copy is a stable snapshot for readers.
func (s *VectorStore) Records() []domain.VectorRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.VectorRecord, len(s.records))
	copy(out, s.records)
	return out
}

// Checkpoint serializes every record and replaces the snapshot in one write.
func (s *VectorStore) Checkpoint(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.codec.Encode(s.records)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	if err := s.snap.Write(ctx, data); err != nil {
		return fmt.Errorf("failed to write snapshot %s: %w", s.snap.Location(), err)
	}
	s.pending = 0

	s.logger.Info("wrote snapshot", "location", s.snap.Location(), "entries", len(s.records), "bytes", len(data))
	return nil
}

// Reload replaces the in-memory state with the current snapshot.
func (s *VectorStore) Reload(ctx context.Context) error {
	fresh, err := Open(ctx, s.snap, s.codec, Options{Logger: s.logger})
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = fresh.records
	s.done = fresh.done
	s.dimension = fresh.dimension
	s.resumed = fresh.resumed
	s.pending = 0
	return nil
}
