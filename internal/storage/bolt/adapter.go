package bolt

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/kurihiro0119/github-practice-stats/internal/domain"
	"github.com/kurihiro0119/github-practice-stats/internal/storage"
)

// boltStorage implements the Storage interface on an embedded bbolt file.
// Each collection is a bucket whose keys sort in insertion order.
type boltStorage struct {
	db     *bolt.DB
	bucket []byte
}

// NewBoltStorage opens (or creates) the database at path bound to collection
func NewBoltStorage(path, collection string) (storage.Storage, error) {
	if collection == "" {
		collection = storage.DefaultCollection
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt database: %w", err)
	}

	s := &boltStorage{db: db, bucket: []byte(collection)}
	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Migrate creates the collection bucket
func (s *boltStorage) Migrate(ctx context.Context) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(s.bucket); err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
		return nil
	})
}

// InsertSnapshot stores a snapshot document
func (s *boltStorage) InsertSnapshot(ctx context.Context, doc *domain.SnapshotDocument) error {
	row, err := storage.NewSnapshotRow(string(s.bucket), doc)
	if err != nil {
		return err
	}
	value, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(s.bucket)
		if bucket == nil {
			return bolt.ErrBucketNotFound
		}
		key := documentKey(row)
		if bucket.Get(key) != nil {
			return fmt.Errorf("snapshot %s already exists", row.ID)
		}
		return bucket.Put(key, value)
	})
}

// ListSnapshots returns the collection's documents in insertion order
func (s *boltStorage) ListSnapshots(ctx context.Context) ([]*domain.SnapshotDocument, error) {
	var docs []*domain.SnapshotDocument
	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(s.bucket)
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(_, value []byte) error {
			var row storage.SnapshotRow
			if err := json.Unmarshal(value, &row); err != nil {
				return fmt.Errorf("failed to decode snapshot row: %w", err)
			}
			doc, err := row.Document()
			if err != nil {
				return err
			}
			docs = append(docs, doc)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	return docs, nil
}

// Reset deletes and recreates the collection bucket
func (s *boltStorage) Reset(ctx context.Context) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(s.bucket); err != nil && err != bolt.ErrBucketNotFound {
			return fmt.Errorf("failed to delete bucket: %w", err)
		}
		_, err := tx.CreateBucket(s.bucket)
		return err
	})
}

// Close closes the database file
func (s *boltStorage) Close() error {
	return s.db.Close()
}

// documentKey orders documents by creation time, then id
func documentKey(row *storage.SnapshotRow) []byte {
	return []byte(fmt.Sprintf("%020d/%s", row.CreatedAt.UnixNano(), row.ID))
}
