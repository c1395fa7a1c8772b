package store

import (
	"context"
	"fmt"
	"os"

	"go.etcd.io/bbolt"

	"imgsearch/internal/port"
)

var (
	bucketSnapshots = []byte("snapshots")
	bucketMeta      = []byte("meta")
	keyVectors      = []byte("vectors")
)

// BoltSnapshotter keeps the snapshot as a single value in a bbolt database.
// Each Write replaces the value inside one transaction.
type BoltSnapshotter struct {
	db   *bbolt.DB
	path string
}

var _ port.Snapshotter = (*BoltSnapshotter)(nil)

func OpenBolt(path string) (*BoltSnapshotter, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{bucketSnapshots, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltSnapshotter{db: db, path: path}, nil
}

func (s *BoltSnapshotter) Location() string {
	return s.path
}

func (s *BoltSnapshotter) Read(_ context.Context) ([]byte, error) {
	var data []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketSnapshots).Get(keyVectors)
		if v == nil {
			return fmt.Errorf("bolt snapshot: %w", os.ErrNotExist)
		}
		// Values are only valid inside the transaction.
		data = append([]byte(nil), v...)
		return nil
	})
	return data, err
}

func (s *BoltSnapshotter) Write(_ context.Context, data []byte) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSnapshots).Put(keyVectors, data)
	})
}

// Clear drops the stored snapshot, keeping schema metadata.
func (s *BoltSnapshotter) Clear() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSnapshots).Delete(keyVectors)
	})
}

func (s *BoltSnapshotter) Close() error {
	return s.db.Close()
}
