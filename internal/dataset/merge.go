// Package dataset combines dataset snapshots produced by independent fetch episodes.
package dataset

import (
	"github.com/kurihiro0119/github-practice-stats/internal/domain"
)

// Merge combines incoming into existing and returns a new snapshot. Neither
// input is modified and the result shares no memory with them.
//
// The merge is all-or-nothing at the top level: if any incoming episode
// overlaps an existing one, a copy of existing is returned with accepted set
// to false. Per-repository updates are checked again independently, so a
// repository whose own episodes overlap keeps its existing record.
func Merge(existing, incoming *domain.DatasetSnapshot) (merged *domain.DatasetSnapshot, accepted bool) {
	if existing.IsEmpty() {
		return incoming.Clone(), true
	}
	if incoming == nil {
		return existing.Clone(), true
	}
	if !domain.DisjointAll(existing.DateRanges, incoming.DateRanges) {
		return existing.Clone(), false
	}

	merged = existing.Clone()
	merged.TotalRepoCount += incoming.TotalRepoCount
	merged.DateRanges = append(merged.DateRanges, incoming.DateRanges...)

	for key, in := range incoming.Repositories {
		if in == nil {
			continue
		}
		current, ok := merged.Repositories[key]
		if !ok {
			merged.Repositories[key] = in.Clone()
			continue
		}
		mergeRecord(current, in)
	}

	return merged, true
}

// mergeRecord folds in into current, which must be owned by the caller
func mergeRecord(current, in *domain.RepositoryRecord) {
	if !domain.DisjointAll(current.DateRanges, in.DateRanges) {
		return
	}

	newer := in.LatestDay().After(current.LatestDay())

	current.DateRanges = append(current.DateRanges, in.DateRanges...)
	current.CommitsInRange += in.CommitsInRange
	if in.IsTDD {
		current.MarkTDD()
	}
	if in.IsDevOps {
		current.MarkDevOps()
	}

	if newer {
		current.TotalCommits = in.TotalCommits
		if current.Languages == nil {
			current.Languages = make(map[string]int64, len(in.Languages))
		}
		for name, size := range in.Languages {
			current.Languages[name] = size
		}
	}
}

// Rejection records a snapshot that Fold could not merge
type Rejection struct {
	Index      int
	DateRanges []domain.DateRange
}

// Fold merges snapshots in order, starting from an empty snapshot, and reports
// the ones rejected because their episodes overlap an already merged episode.
func Fold(snapshots ...*domain.DatasetSnapshot) (*domain.DatasetSnapshot, []Rejection) {
	result := domain.NewSnapshot()
	var rejected []Rejection

	for i, snap := range snapshots {
		next, ok := Merge(result, snap)
		if !ok {
			rejected = append(rejected, Rejection{
				Index:      i,
				DateRanges: append([]domain.DateRange(nil), snap.DateRanges...),
			})
			continue
		}
		result = next
	}

	return result, rejected
}
