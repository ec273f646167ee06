package storage

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/kurihiro0119/github-practice-stats/internal/domain"
)

// SnapshotRow is the relational form of a snapshot document
type SnapshotRow struct {
	ID         string    `db:"id"`
	Collection string    `db:"collection"`
	TaskID     string    `db:"task_id"`
	WorkerID   int       `db:"worker_id"`
	Data       string    `db:"data"`
	CreatedAt  time.Time `db:"created_at"`
}

// NewSnapshotRow encodes doc for the given collection
func NewSnapshotRow(collection string, doc *domain.SnapshotDocument) (*SnapshotRow, error) {
	if doc == nil || doc.Snapshot == nil {
		return nil, fmt.Errorf("snapshot document is empty")
	}
	if doc.ID == "" {
		return nil, fmt.Errorf("snapshot document has no id")
	}
	data, err := json.Marshal(doc.Snapshot)
	if err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return &SnapshotRow{
		ID:         doc.ID,
		Collection: collection,
		TaskID:     doc.TaskID,
		WorkerID:   doc.WorkerID,
		Data:       string(data),
		CreatedAt:  doc.CreatedAt.UTC(),
	}, nil
}

// Document decodes the row back into a snapshot document
func (r *SnapshotRow) Document() (*domain.SnapshotDocument, error) {
	snap := domain.NewSnapshot()
	if err := json.Unmarshal([]byte(r.Data), snap); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot %s: %w", r.ID, err)
	}
	if snap.Repositories == nil {
		snap.Repositories = make(map[string]*domain.RepositoryRecord)
	}
	return &domain.SnapshotDocument{
		ID:        r.ID,
		TaskID:    r.TaskID,
		WorkerID:  r.WorkerID,
		Snapshot:  snap,
		CreatedAt: r.CreatedAt.UTC(),
	}, nil
}
