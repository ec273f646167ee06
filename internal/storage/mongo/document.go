package mongo

import (
	"fmt"
	"time"

	"github.com/kurihiro0119/github-practice-stats/internal/domain"
)

// snapshotDocument is the stored form of a snapshot. Repository and language
// names become array entries because they may contain dots.
type snapshotDocument struct {
	ID             string               `bson:"_id"`
	TaskID         string               `bson:"task_id"`
	WorkerID       int                  `bson:"worker_id"`
	DateRanges     [][]string           `bson:"date_ranges"`
	TotalRepoCount int                  `bson:"total_repo_count"`
	Repositories   []repositoryDocument `bson:"repositories"`
	CreatedAt      time.Time            `bson:"created_at"`
}

type repositoryDocument struct {
	Name           string             `bson:"name"`
	DateRanges     [][]string         `bson:"date_ranges"`
	CommitsInRange int                `bson:"commits_in_range"`
	TotalCommits   int                `bson:"total_commits"`
	IsTDD          bool               `bson:"is_tdd"`
	IsDevOps       bool               `bson:"is_devops"`
	Languages      []languageDocument `bson:"languages"`
}

type languageDocument struct {
	Name string `bson:"name"`
	Size int64  `bson:"size"`
}

func toDocument(doc *domain.SnapshotDocument) (*snapshotDocument, error) {
	if doc == nil || doc.Snapshot == nil {
		return nil, fmt.Errorf("snapshot document is empty")
	}
	if doc.ID == "" {
		return nil, fmt.Errorf("snapshot document has no id")
	}

	snap := doc.Snapshot
	out := &snapshotDocument{
		ID:             doc.ID,
		TaskID:         doc.TaskID,
		WorkerID:       doc.WorkerID,
		DateRanges:     encodeRanges(snap.DateRanges),
		TotalRepoCount: snap.TotalRepoCount,
		Repositories:   make([]repositoryDocument, 0, len(snap.Repositories)),
		CreatedAt:      doc.CreatedAt.UTC(),
	}
	for _, key := range snap.Keys() {
		rec := snap.Repositories[key]
		repo := repositoryDocument{
			Name:           key,
			DateRanges:     encodeRanges(rec.DateRanges),
			CommitsInRange: rec.CommitsInRange,
			TotalCommits:   rec.TotalCommits,
			IsTDD:          rec.IsTDD,
			IsDevOps:       rec.IsDevOps,
			Languages:      make([]languageDocument, 0, len(rec.Languages)),
		}
		for name, size := range rec.Languages {
			repo.Languages = append(repo.Languages, languageDocument{Name: name, Size: size})
		}
		out.Repositories = append(out.Repositories, repo)
	}
	return out, nil
}

func (d *snapshotDocument) toDomain() (*domain.SnapshotDocument, error) {
	ranges, err := decodeRanges(d.DateRanges)
	if err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", d.ID, err)
	}

	snap := domain.NewSnapshot()
	snap.DateRanges = ranges
	snap.TotalRepoCount = d.TotalRepoCount
	for _, repo := range d.Repositories {
		repoRanges, err := decodeRanges(repo.DateRanges)
		if err != nil {
			return nil, fmt.Errorf("snapshot %s repository %s: %w", d.ID, repo.Name, err)
		}
		rec := &domain.RepositoryRecord{
			DateRanges:     repoRanges,
			CommitsInRange: repo.CommitsInRange,
			TotalCommits:   repo.TotalCommits,
			IsTDD:          repo.IsTDD,
			IsDevOps:       repo.IsDevOps,
			Languages:      make(map[string]int64, len(repo.Languages)),
		}
		for _, lang := range repo.Languages {
			rec.Languages[lang.Name] = lang.Size
		}
		snap.Repositories[repo.Name] = rec
	}

	return &domain.SnapshotDocument{
		ID:        d.ID,
		TaskID:    d.TaskID,
		WorkerID:  d.WorkerID,
		Snapshot:  snap,
		CreatedAt: d.CreatedAt.UTC(),
	}, nil
}

func encodeRanges(ranges []domain.DateRange) [][]string {
	out := make([][]string, 0, len(ranges))
	for _, r := range ranges {
		pair := []string{domain.FormatDay(r.Start), ""}
		if !r.End.IsZero() {
			pair[1] = domain.FormatDay(r.End)
		}
		out = append(out, pair)
	}
	return out
}

func decodeRanges(pairs [][]string) ([]domain.DateRange, error) {
	out := make([]domain.DateRange, 0, len(pairs))
	for _, pair := range pairs {
		if len(pair) == 0 || len(pair) > 2 {
			return nil, fmt.Errorf("invalid date range %v", pair)
		}
		start, err := domain.ParseDay(pair[0])
		if err != nil {
			return nil, err
		}
		r := domain.DateRange{Start: start}
		if len(pair) == 2 && pair[1] != "" {
			if r.End, err = domain.ParseDay(pair[1]); err != nil {
				return nil, err
			}
		}
		out = append(out, r)
	}
	return out, nil
}
