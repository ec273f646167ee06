package dataset

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurihiro0119/github-practice-stats/internal/domain"
)

func dr(t *testing.T, start, end string) domain.DateRange {
	t.Helper()
	s, err := domain.ParseDay(start)
	require.NoError(t, err)
	e, err := domain.ParseDay(end)
	require.NoError(t, err)
	return domain.NewDateRange(s, e)
}

func snapshot(count int, ranges []domain.DateRange, repos map[string]*domain.RepositoryRecord) *domain.DatasetSnapshot {
	if repos == nil {
		repos = map[string]*domain.RepositoryRecord{}
	}
	return &domain.DatasetSnapshot{
		DateRanges:     ranges,
		TotalRepoCount: count,
		Repositories:   repos,
	}
}

func record(ranges []domain.DateRange, commitsInRange, totalCommits int, tdd, devops bool, langs map[string]int64) *domain.RepositoryRecord {
	return &domain.RepositoryRecord{
		DateRanges:     ranges,
		CommitsInRange: commitsInRange,
		TotalCommits:   totalCommits,
		IsTDD:          tdd,
		IsDevOps:       devops,
		Languages:      langs,
	}
}

func encode(t *testing.T, s *domain.DatasetSnapshot) string {
	t.Helper()
	data, err := json.Marshal(s)
	require.NoError(t, err)
	return string(data)
}

func TestMerge_EmptyExistingReturnsIncoming(t *testing.T) {
	in := snapshot(7, []domain.DateRange{dr(t, "2023-05-10", "2023-05-05")}, map[string]*domain.RepositoryRecord{
		"alice/repo1": record([]domain.DateRange{dr(t, "2023-05-10", "2023-05-05")}, 3, 40, true, false, map[string]int64{"Go": 1200}),
	})

	merged, ok := Merge(domain.NewSnapshot(), in)
	require.True(t, ok)
	assert.Equal(t, encode(t, in), encode(t, merged))

	merged.Repositories["alice/repo1"].CommitsInRange = 99
	assert.Equal(t, 3, in.Repositories["alice/repo1"].CommitsInRange, "result must not alias the input")
}

func TestMerge_DisjointSnapshots(t *testing.T) {
	repo1 := record([]domain.DateRange{dr(t, "2023-05-10", "2023-05-05")}, 3, 40, true, false, map[string]int64{"Go": 1200})
	repo2 := record([]domain.DateRange{dr(t, "2023-05-04", "2023-05-01")}, 5, 90, false, false, map[string]int64{"Rust": 800})

	existing := snapshot(120, []domain.DateRange{dr(t, "2023-05-10", "2023-05-05")}, map[string]*domain.RepositoryRecord{"alice/repo1": repo1})
	incoming := snapshot(80, []domain.DateRange{dr(t, "2023-05-04", "2023-05-01")}, map[string]*domain.RepositoryRecord{"bob/repo2": repo2})

	merged, ok := Merge(existing, incoming)
	require.True(t, ok)

	assert.Equal(t, 200, merged.TotalRepoCount)
	assert.Len(t, merged.DateRanges, 2)
	assert.Equal(t, repo1, merged.Repositories["alice/repo1"])
	assert.Equal(t, repo2, merged.Repositories["bob/repo2"])

	assert.Len(t, existing.DateRanges, 1, "existing must not be modified")
	assert.Equal(t, 120, existing.TotalRepoCount)
}

func TestMerge_AppendsIncomingRanges(t *testing.T) {
	existing := snapshot(1, []domain.DateRange{dr(t, "2023-05-10", "2023-05-05")}, nil)
	incoming := snapshot(1, []domain.DateRange{dr(t, "2023-05-04", "2023-05-01")}, nil)

	merged, ok := Merge(existing, incoming)
	require.True(t, ok)

	assert.Equal(t, []domain.DateRange{
		dr(t, "2023-05-10", "2023-05-05"),
		dr(t, "2023-05-04", "2023-05-01"),
	}, merged.DateRanges)
}

func TestMerge_OverlapRejected(t *testing.T) {
	existing := snapshot(50, []domain.DateRange{dr(t, "2023-05-10", "2023-05-05")}, map[string]*domain.RepositoryRecord{
		"alice/repo1": record([]domain.DateRange{dr(t, "2023-05-10", "2023-05-05")}, 3, 40, false, false, map[string]int64{"Go": 10}),
	})
	before := encode(t, existing)

	incoming := snapshot(30, []domain.DateRange{
		dr(t, "2023-04-30", "2023-04-20"),
		dr(t, "2023-05-07", "2023-05-06"),
	}, map[string]*domain.RepositoryRecord{
		"carol/repo3": record(nil, 1, 1, true, true, nil),
	})

	merged, ok := Merge(existing, incoming)
	assert.False(t, ok)
	assert.Equal(t, before, encode(t, merged))
	assert.Equal(t, before, encode(t, existing))
}

func TestMerge_SameSnapshotTwiceIsRejected(t *testing.T) {
	s := snapshot(10, []domain.DateRange{dr(t, "2023-05-10", "2023-05-05")}, map[string]*domain.RepositoryRecord{
		"alice/repo1": record([]domain.DateRange{dr(t, "2023-05-10", "2023-05-05")}, 3, 40, false, false, nil),
	})

	once, ok := Merge(domain.NewSnapshot(), s)
	require.True(t, ok)

	twice, ok := Merge(once, s)
	assert.False(t, ok)
	assert.Equal(t, encode(t, once), encode(t, twice))
}

func TestMerge_KnownRepositoryAccumulates(t *testing.T) {
	existing := snapshot(10, []domain.DateRange{dr(t, "2023-05-10", "2023-05-08")}, map[string]*domain.RepositoryRecord{
		"alice/repo1": record([]domain.DateRange{dr(t, "2023-05-10", "2023-05-08")}, 3, 40, true, false, map[string]int64{"Go": 1000, "Shell": 20}),
	})
	incoming := snapshot(4, []domain.DateRange{dr(t, "2023-05-07", "2023-05-05")}, map[string]*domain.RepositoryRecord{
		"alice/repo1": record([]domain.DateRange{dr(t, "2023-05-07", "2023-05-05")}, 2, 38, false, true, map[string]int64{"Go": 900}),
	})

	merged, ok := Merge(existing, incoming)
	require.True(t, ok)

	got := merged.Repositories["alice/repo1"]
	assert.Equal(t, 5, got.CommitsInRange)
	assert.Len(t, got.DateRanges, 2)
	assert.True(t, got.IsTDD, "flags are sticky")
	assert.True(t, got.IsDevOps)

	// older episode does not replace point-in-time facts
	assert.Equal(t, 40, got.TotalCommits)
	assert.Equal(t, int64(1000), got.Languages["Go"])
}

func TestMerge_NewerEpisodeReplacesPointInTimeFacts(t *testing.T) {
	existing := snapshot(10, []domain.DateRange{dr(t, "2023-05-07", "2023-05-05")}, map[string]*domain.RepositoryRecord{
		"alice/repo1": record([]domain.DateRange{dr(t, "2023-05-07", "2023-05-05")}, 2, 38, false, false, map[string]int64{"Go": 900, "Shell": 20}),
	})
	incoming := snapshot(4, []domain.DateRange{dr(t, "2023-05-10", "2023-05-08")}, map[string]*domain.RepositoryRecord{
		"alice/repo1": record([]domain.DateRange{dr(t, "2023-05-10", "2023-05-08")}, 3, 41, false, false, map[string]int64{"Go": 1000}),
	})

	merged, ok := Merge(existing, incoming)
	require.True(t, ok)

	got := merged.Repositories["alice/repo1"]
	assert.Equal(t, 41, got.TotalCommits)
	assert.Equal(t, map[string]int64{"Go": 1000, "Shell": 20}, got.Languages)
	assert.Equal(t, 5, got.CommitsInRange)
}

func TestMerge_PerRepositoryOverlapSkipped(t *testing.T) {
	existing := snapshot(10, []domain.DateRange{dr(t, "2023-05-10", "2023-05-08")}, map[string]*domain.RepositoryRecord{
		"alice/repo1": record([]domain.DateRange{dr(t, "2023-05-10", "2023-05-01")}, 3, 40, false, false, nil),
	})
	incoming := snapshot(4, []domain.DateRange{dr(t, "2023-05-07", "2023-05-05")}, map[string]*domain.RepositoryRecord{
		"alice/repo1": record([]domain.DateRange{dr(t, "2023-05-07", "2023-05-05")}, 2, 45, true, true, nil),
		"bob/repo2":   record([]domain.DateRange{dr(t, "2023-05-07", "2023-05-05")}, 1, 1, false, false, nil),
	})

	merged, ok := Merge(existing, incoming)
	require.True(t, ok)

	assert.Equal(t, existing.Repositories["alice/repo1"], merged.Repositories["alice/repo1"])
	assert.Contains(t, merged.Repositories, "bob/repo2")
	assert.Equal(t, 14, merged.TotalRepoCount)
}

func TestMerge_EmptyRepositoryRangesAreDisjoint(t *testing.T) {
	existing := snapshot(1, []domain.DateRange{dr(t, "2023-05-10", "2023-05-08")}, map[string]*domain.RepositoryRecord{
		"alice/repo1": record(nil, 3, 40, false, false, nil),
	})
	incoming := snapshot(1, []domain.DateRange{dr(t, "2023-05-07", "2023-05-05")}, map[string]*domain.RepositoryRecord{
		"alice/repo1": record(nil, 2, 45, true, false, nil),
	})

	merged, ok := Merge(existing, incoming)
	require.True(t, ok)
	assert.Equal(t, 5, merged.Repositories["alice/repo1"].CommitsInRange)
	assert.True(t, merged.Repositories["alice/repo1"].IsTDD)
}

func TestFold(t *testing.T) {
	a := snapshot(10, []domain.DateRange{dr(t, "2023-05-10", "2023-05-05")}, nil)
	b := snapshot(20, []domain.DateRange{dr(t, "2023-05-04", "2023-05-01")}, nil)
	dup := snapshot(30, []domain.DateRange{dr(t, "2023-05-06", "2023-05-02")}, nil)

	merged, rejected := Fold(a, b, dup)

	assert.Equal(t, 30, merged.TotalRepoCount)
	require.Len(t, rejected, 1)
	assert.Equal(t, 2, rejected[0].Index)
}

func TestFold_Empty(t *testing.T) {
	merged, rejected := Fold()
	assert.True(t, merged.IsEmpty())
	assert.Empty(t, rejected)
}
