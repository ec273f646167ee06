package aggregator

import (
	"context"
	"sort"

	"github.com/kurihiro0119/github-practice-stats/internal/dataset"
	"github.com/kurihiro0119/github-practice-stats/internal/domain"
	apperrors "github.com/kurihiro0119/github-practice-stats/internal/errors"
	"github.com/kurihiro0119/github-practice-stats/internal/storage"
)

// Aggregator defines the interface for reading statistics from the merged dataset
type Aggregator interface {
	// Dataset folds every stored snapshot into the canonical dataset
	Dataset(ctx context.Context) (*FoldResult, error)

	// Summary describes the canonical dataset
	Summary(ctx context.Context) (*domain.Summary, error)

	// TopUpdatedRepos ranks repositories by commits inside their collection window
	TopUpdatedRepos(ctx context.Context, limit int) ([]domain.RepoStat, error)

	// TopLanguages ranks languages over the repositories selected by filter
	TopLanguages(ctx context.Context, filter domain.LanguageFilter, limit int) ([]domain.LanguageStat, error)

	// Repository returns the merged record of one owner/name repository
	Repository(ctx context.Context, key string) (*domain.RepositoryRecord, error)
}

// RejectedDocument is a stored snapshot whose ranges overlap the dataset
type RejectedDocument struct {
	ID         string             `json:"id"`
	DateRanges []domain.DateRange `json:"dateRanges"`
}

// FoldResult is the outcome of folding the stored snapshots
type FoldResult struct {
	Snapshot  *domain.DatasetSnapshot `json:"snapshot"`
	Documents int                     `json:"documents"`
	Rejected  []RejectedDocument      `json:"rejected"`
}

// aggregator implements the Aggregator interface
type aggregator struct {
	storage storage.Storage
}

// NewAggregator creates a new aggregator
func NewAggregator(storage storage.Storage) Aggregator {
	return &aggregator{
		storage: storage,
	}
}

// Dataset folds the stored documents, oldest first
func (a *aggregator) Dataset(ctx context.Context) (*FoldResult, error) {
	docs, err := a.storage.ListSnapshots(ctx)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to load snapshots", err)
	}
	return FoldDocuments(docs), nil
}

// Summary describes the canonical dataset
func (a *aggregator) Summary(ctx context.Context) (*domain.Summary, error) {
	result, err := a.Dataset(ctx)
	if err != nil {
		return nil, err
	}
	return Summarize(result.Snapshot), nil
}

// TopUpdatedRepos ranks repositories by commits inside their collection window
func (a *aggregator) TopUpdatedRepos(ctx context.Context, limit int) ([]domain.RepoStat, error) {
	result, err := a.Dataset(ctx)
	if err != nil {
		return nil, err
	}
	return TopUpdated(result.Snapshot, limit), nil
}

// TopLanguages ranks languages over the repositories selected by filter
func (a *aggregator) TopLanguages(ctx context.Context, filter domain.LanguageFilter, limit int) ([]domain.LanguageStat, error) {
	if !ValidFilter(filter) {
		return nil, apperrors.NewBadRequestError("unknown language filter: " + string(filter))
	}
	result, err := a.Dataset(ctx)
	if err != nil {
		return nil, err
	}
	return TopLanguages(result.Snapshot, filter, limit), nil
}

// Repository returns the merged record of one repository
func (a *aggregator) Repository(ctx context.Context, key string) (*domain.RepositoryRecord, error) {
	result, err := a.Dataset(ctx)
	if err != nil {
		return nil, err
	}
	rec, ok := result.Snapshot.Repositories[key]
	if !ok {
		return nil, apperrors.NewNotFoundError("repository " + key)
	}
	return rec.Clone(), nil
}

// FoldDocuments merges docs in order and reports the ones whose ranges overlap
func FoldDocuments(docs []*domain.SnapshotDocument) *FoldResult {
	snapshots := make([]*domain.DatasetSnapshot, len(docs))
	for i, doc := range docs {
		snapshots[i] = doc.Snapshot
	}

	merged, rejections := dataset.Fold(snapshots...)
	result := &FoldResult{Snapshot: merged, Documents: len(docs)}
	for _, rej := range rejections {
		result.Rejected = append(result.Rejected, RejectedDocument{
			ID:         docs[rej.Index].ID,
			DateRanges: rej.DateRanges,
		})
	}
	return result
}

// ValidFilter reports whether filter names a known language filter
func ValidFilter(filter domain.LanguageFilter) bool {
	switch filter {
	case domain.LanguageFilterAll, domain.LanguageFilterTDD, domain.LanguageFilterTDDDevOps:
		return true
	}
	return false
}

// Summarize describes snap
func Summarize(snap *domain.DatasetSnapshot) *domain.Summary {
	summary := &domain.Summary{}
	if snap == nil {
		return summary
	}
	summary.MinDate, summary.MaxDate = snap.Bounds()
	summary.SampleCount = len(snap.Repositories)
	summary.PopulationCount = snap.TotalRepoCount
	summary.Episodes = len(snap.DateRanges)
	for _, rec := range snap.Repositories {
		if rec.IsTDD {
			summary.TDDCount++
			if rec.IsDevOps {
				summary.TDDDevOpsCount++
			}
		}
	}
	return summary
}

// TopUpdated ranks repositories by (commitsInRange, totalCommits) descending.
// A non-positive limit returns every repository.
func TopUpdated(snap *domain.DatasetSnapshot, limit int) []domain.RepoStat {
	if snap == nil {
		return []domain.RepoStat{}
	}
	stats := make([]domain.RepoStat, 0, len(snap.Repositories))
	for key, rec := range snap.Repositories {
		stats = append(stats, domain.RepoStat{
			Repo:           key,
			CommitsInRange: rec.CommitsInRange,
			TotalCommits:   rec.TotalCommits,
		})
	}
	sort.Slice(stats, func(i, j int) bool {
		a, b := stats[i], stats[j]
		if a.CommitsInRange != b.CommitsInRange {
			return a.CommitsInRange > b.CommitsInRange
		}
		if a.TotalCommits != b.TotalCommits {
			return a.TotalCommits > b.TotalCommits
		}
		return a.Repo < b.Repo
	})
	return truncate(stats, limit)
}

// TopLanguages ranks languages by (repository count, total bytes) descending
// over the repositories selected by filter
func TopLanguages(snap *domain.DatasetSnapshot, filter domain.LanguageFilter, limit int) []domain.LanguageStat {
	if snap == nil {
		return []domain.LanguageStat{}
	}
	byName := make(map[string]*domain.LanguageStat)
	for _, rec := range snap.Repositories {
		if !selected(rec, filter) {
			continue
		}
		for name, size := range rec.Languages {
			stat, ok := byName[name]
			if !ok {
				stat = &domain.LanguageStat{Language: name}
				byName[name] = stat
			}
			stat.RepoCount++
			stat.TotalBytes += size
		}
	}

	stats := make([]domain.LanguageStat, 0, len(byName))
	for _, stat := range byName {
		stats = append(stats, *stat)
	}
	sort.Slice(stats, func(i, j int) bool {
		a, b := stats[i], stats[j]
		if a.RepoCount != b.RepoCount {
			return a.RepoCount > b.RepoCount
		}
		if a.TotalBytes != b.TotalBytes {
			return a.TotalBytes > b.TotalBytes
		}
		return a.Language < b.Language
	})
	return truncate(stats, limit)
}

func selected(rec *domain.RepositoryRecord, filter domain.LanguageFilter) bool {
	switch filter {
	case domain.LanguageFilterTDD:
		return rec.IsTDD
	case domain.LanguageFilterTDDDevOps:
		return rec.IsTDD && rec.IsDevOps
	default:
		return true
	}
}

func truncate[T any](items []T, limit int) []T {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}
