package domain

import (
	"sort"
	"time"
)

// DatasetSnapshot is the collected dataset of one or more fetch episodes
type DatasetSnapshot struct {
	DateRanges     []DateRange                  `json:"dateRanges"`
	TotalRepoCount int                          `json:"totalRepoCount"`
	Repositories   map[string]*RepositoryRecord `json:"repositories"`
}

// NewSnapshot creates an empty snapshot
func NewSnapshot() *DatasetSnapshot {
	return &DatasetSnapshot{
		DateRanges:   []DateRange{},
		Repositories: make(map[string]*RepositoryRecord),
	}
}

// IsEmpty reports whether the snapshot holds no episodes, counts or records
func (s *DatasetSnapshot) IsEmpty() bool {
	return s == nil || (len(s.DateRanges) == 0 && s.TotalRepoCount == 0 && len(s.Repositories) == 0)
}

// Clone returns a deep copy of the snapshot
func (s *DatasetSnapshot) Clone() *DatasetSnapshot {
	if s == nil {
		return NewSnapshot()
	}
	out := &DatasetSnapshot{
		TotalRepoCount: s.TotalRepoCount,
		Repositories:   make(map[string]*RepositoryRecord, len(s.Repositories)),
	}
	if s.DateRanges != nil {
		out.DateRanges = append(make([]DateRange, 0, len(s.DateRanges)), s.DateRanges...)
	}
	for key, rec := range s.Repositories {
		out.Repositories[key] = rec.Clone()
	}
	return out
}

// Has reports whether a record for key exists
func (s *DatasetSnapshot) Has(key string) bool {
	_, ok := s.Repositories[key]
	return ok
}

// Bounds returns the oldest and most recent day across all top-level ranges
func (s *DatasetSnapshot) Bounds() (oldest, latest time.Time) {
	for _, dr := range s.DateRanges {
		for _, t := range []time.Time{dr.Start, dr.End} {
			if t.IsZero() {
				continue
			}
			if oldest.IsZero() || t.Before(oldest) {
				oldest = t
			}
			if t.After(latest) {
				latest = t
			}
		}
	}
	return oldest, latest
}

// Keys returns the repository keys in sorted order
func (s *DatasetSnapshot) Keys() []string {
	keys := make([]string, 0, len(s.Repositories))
	for key := range s.Repositories {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// SnapshotDocument is a snapshot as stored in a collection
type SnapshotDocument struct {
	ID        string
	TaskID    string
	WorkerID  int
	Snapshot  *DatasetSnapshot
	CreatedAt time.Time
}
