package domain

import "time"

// RepositoryRecord holds the collected facts for one owner/name repository
type RepositoryRecord struct {
	DateRanges     []DateRange      `json:"dateRanges"`
	CommitsInRange int              `json:"commitsInRange"`
	TotalCommits   int              `json:"totalCommits"`
	IsTDD          bool             `json:"isTDD"`
	IsDevOps       bool             `json:"isDevOps"`
	Languages      map[string]int64 `json:"languages"`
}

// Clone returns a deep copy of the record
func (r *RepositoryRecord) Clone() *RepositoryRecord {
	if r == nil {
		return nil
	}
	out := *r
	if r.DateRanges != nil {
		out.DateRanges = append(make([]DateRange, 0, len(r.DateRanges)), r.DateRanges...)
	}
	if r.Languages != nil {
		out.Languages = make(map[string]int64, len(r.Languages))
		for name, size := range r.Languages {
			out.Languages[name] = size
		}
	}
	return &out
}

// LatestDay returns the most recent day in any of the record's date ranges
func (r *RepositoryRecord) LatestDay() time.Time {
	return latestDay(r.DateRanges)
}

// MarkTDD sets the TDD flag. The flag is never cleared.
func (r *RepositoryRecord) MarkTDD() {
	r.IsTDD = true
}

// MarkDevOps sets the DevOps flag. The flag is never cleared.
func (r *RepositoryRecord) MarkDevOps() {
	r.IsDevOps = true
}

func latestDay(ranges []DateRange) time.Time {
	var latest time.Time
	for _, dr := range ranges {
		for _, t := range []time.Time{dr.Start, dr.End} {
			if t.After(latest) {
				latest = t
			}
		}
	}
	return latest
}
