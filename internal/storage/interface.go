package storage

import (
	"context"

	"github.com/kurihiro0119/github-practice-stats/internal/domain"
)

const (
	// DefaultCollection holds the snapshots of production runs
	DefaultCollection = "consumers"
	// TestCollection holds the snapshots of trial runs
	TestCollection = "tst_consumers"
)

// Storage is the abstract interface for the persistence layer. Every adapter
// is bound to one collection of snapshot documents.
type Storage interface {
	// InsertSnapshot stores a completed task snapshot as a new document
	InsertSnapshot(ctx context.Context, doc *domain.SnapshotDocument) error

	// ListSnapshots returns every document of the collection, oldest first
	ListSnapshots(ctx context.Context) ([]*domain.SnapshotDocument, error)

	// Reset removes every document of the collection
	Reset(ctx context.Context) error

	// Migration
	Migrate(ctx context.Context) error

	// Connection management
	Close() error
}
