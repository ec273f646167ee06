package worker

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurihiro0119/github-practice-stats/internal/checkpoint"
	"github.com/kurihiro0119/github-practice-stats/internal/collector"
	"github.com/kurihiro0119/github-practice-stats/internal/domain"
	apperrors "github.com/kurihiro0119/github-practice-stats/internal/errors"
)

var okResp = &collector.Response{StatusCode: http.StatusOK}

type fakeSource struct {
	search    func(q collector.SearchQuery) (*collector.SearchPage, *collector.Response, error)
	commits   func(q collector.CommitQuery) (*collector.CommitPage, *collector.Response, error)
	workflows func(repo string) ([]string, *collector.Response, error)

	searches     []collector.SearchQuery
	commitRepos  []string
	workflowRepo []string
}

func (f *fakeSource) SearchRepositories(_ context.Context, q collector.SearchQuery) (*collector.SearchPage, *collector.Response, error) {
	f.searches = append(f.searches, q)
	return f.search(q)
}

func (f *fakeSource) CommitMessages(_ context.Context, q collector.CommitQuery) (*collector.CommitPage, *collector.Response, error) {
	f.commitRepos = append(f.commitRepos, q.Repo)
	if f.commits == nil {
		return &collector.CommitPage{}, okResp, nil
	}
	return f.commits(q)
}

func (f *fakeSource) WorkflowFiles(_ context.Context, repo string) ([]string, *collector.Response, error) {
	f.workflowRepo = append(f.workflowRepo, repo)
	if f.workflows == nil {
		return nil, okResp, nil
	}
	return f.workflows(repo)
}

type write struct {
	marker checkpoint.Marker
	date   time.Time
	snap   *domain.DatasetSnapshot
}

type fakeCheckpointer struct {
	writes []write
}

func (f *fakeCheckpointer) Write(_ int, marker checkpoint.Marker, date time.Time, snap *domain.DatasetSnapshot) (string, error) {
	f.writes = append(f.writes, write{marker: marker, date: date, snap: snap.Clone()})
	return checkpoint.FileName("0", marker, date), nil
}

func (f *fakeCheckpointer) markers() []checkpoint.Marker {
	out := make([]checkpoint.Marker, 0, len(f.writes))
	for _, w := range f.writes {
		out = append(out, w.marker)
	}
	return out
}

type fakeSink struct {
	docs []*domain.SnapshotDocument
	err  error
}

func (f *fakeSink) InsertSnapshot(_ context.Context, doc *domain.SnapshotDocument) error {
	if f.err != nil {
		return f.err
	}
	f.docs = append(f.docs, doc)
	return nil
}

func day(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := domain.ParseDay(s)
	require.NoError(t, err)
	return d
}

func newTask(t *testing.T, start string, days int) domain.CollectionTask {
	return domain.CollectionTask{
		ID:            "task-1",
		WorkerID:      0,
		StartDate:     day(t, start),
		Days:          days,
		CreatedBefore: day(t, "2022-05-30"),
		PageSize:      50,
	}
}

type harness struct {
	source      *fakeSource
	checkpoints *fakeCheckpointer
	sink        *fakeSink
	sleeps      []time.Duration
	transitions [][2]State
	logs        *test.Hook
	worker      *Worker
}

func newHarness(source *fakeSource) *harness {
	h := &harness{
		source:      source,
		checkpoints: &fakeCheckpointer{},
		sink:        &fakeSink{},
	}
	logger, hook := test.NewNullLogger()
	h.logs = hook
	fetcher := collector.NewFetcher(collector.FetcherConfig{MaxAttempts: 3, Logger: logger})
	h.worker = New(source, fetcher, h.checkpoints, h.sink, DefaultConfig(), logger,
		WithSleep(func(d time.Duration) { h.sleeps = append(h.sleeps, d) }),
		WithTransitionHook(func(from, to State) { h.transitions = append(h.transitions, [2]State{from, to}) }),
	)
	return h
}

func twoDaySource(t *testing.T) *fakeSource {
	may10 := day(t, "2023-05-10")
	may9 := day(t, "2023-05-09")

	return &fakeSource{
		search: func(q collector.SearchQuery) (*collector.SearchPage, *collector.Response, error) {
			switch {
			case q.Day.Equal(may10) && q.Cursor == "":
				return &collector.SearchPage{
					RepositoryCount: 5,
					Repositories: []collector.RepositorySummary{
						{NameWithOwner: "alice/app", Languages: []collector.Language{{Name: "Go", Size: 1200}}, Topics: []string{"tdd"}, LastCommittedAt: may10.Add(13 * time.Hour), TotalCommits: 40},
						{NameWithOwner: "bob/lib", Languages: []collector.Language{{Name: "Go", Size: 5}}, LastCommittedAt: may9.Add(time.Hour), TotalCommits: 7},
					},
					PageInfo: collector.PageInfo{HasNextPage: true, EndCursor: "c1"},
				}, okResp, nil
			case q.Day.Equal(may10) && q.Cursor == "c1":
				return &collector.SearchPage{
					RepositoryCount: 5,
					Repositories: []collector.RepositorySummary{
						{NameWithOwner: "carol/docs", LastCommittedAt: may10, TotalCommits: 3},
					},
				}, okResp, nil
			case q.Day.Equal(may9):
				return &collector.SearchPage{
					RepositoryCount: 3,
					Repositories: []collector.RepositorySummary{
						{NameWithOwner: "alice/app", Languages: []collector.Language{{Name: "Go", Size: 9999}}, LastCommittedAt: may9, TotalCommits: 41},
						{NameWithOwner: "bob/lib", Languages: []collector.Language{{Name: "Text", Size: 10}, {Name: "Go", Size: 5}}, LastCommittedAt: may9.Add(time.Hour), TotalCommits: 7},
					},
				}, okResp, nil
			}
			t.Fatalf("unexpected search %+v", q)
			return nil, nil, nil
		},
		commits: func(q collector.CommitQuery) (*collector.CommitPage, *collector.Response, error) {
			if q.Repo == "alice/app" {
				return &collector.CommitPage{Messages: []string{"add ci pipeline"}}, okResp, nil
			}
			return &collector.CommitPage{}, okResp, nil
		},
		workflows: func(repo string) ([]string, *collector.Response, error) {
			if repo == "alice/app" {
				return []string{"deploy.yml"}, okResp, nil
			}
			return nil, okResp, nil
		},
	}
}

func TestRun_CollectsDaysMostRecentFirst(t *testing.T) {
	source := twoDaySource(t)
	h := newHarness(source)

	snap, err := h.worker.Run(context.Background(), newTask(t, "2023-05-10", 2))
	require.NoError(t, err)

	require.Len(t, source.searches, 3)
	assert.Equal(t, day(t, "2023-05-10"), source.searches[0].Day)
	assert.Equal(t, "c1", source.searches[1].Cursor)
	assert.Equal(t, day(t, "2023-05-09"), source.searches[2].Day)
	assert.Equal(t, 50, source.searches[0].PageSize)

	window := domain.NewDateRange(day(t, "2023-05-10"), day(t, "2023-05-09"))
	assert.Equal(t, []domain.DateRange{window}, snap.DateRanges)
	assert.Equal(t, 8, snap.TotalRepoCount)
	require.Len(t, snap.Repositories, 3)

	app := snap.Repositories["alice/app"]
	assert.Equal(t, []domain.DateRange{window}, app.DateRanges)
	assert.Equal(t, 1, app.CommitsInRange)
	assert.Equal(t, 40, app.TotalCommits, "first-seen record is kept")
	assert.Equal(t, map[string]int64{"Go": 1200}, app.Languages)
	assert.True(t, app.IsTDD)
	assert.True(t, app.IsDevOps)

	lib := snap.Repositories["bob/lib"]
	assert.Equal(t, map[string]int64{"Go": 5}, lib.Languages)
	assert.False(t, lib.IsTDD)
	assert.False(t, lib.IsDevOps)

	docs := snap.Repositories["carol/docs"]
	assert.Empty(t, docs.Languages)
	assert.False(t, docs.IsTDD)
	assert.False(t, docs.IsDevOps)
	assert.Contains(t, source.commitRepos, "carol/docs")
	assert.Equal(t, 0, docs.CommitsInRange)
}

func TestRun_UnclassifiedRepositoryCountsCommits(t *testing.T) {
	may10 := day(t, "2023-05-10")
	source := &fakeSource{
		search: func(q collector.SearchQuery) (*collector.SearchPage, *collector.Response, error) {
			return &collector.SearchPage{
				RepositoryCount: 1,
				Repositories: []collector.RepositorySummary{
					{NameWithOwner: "carol/docs", Topics: []string{"tdd"}, LastCommittedAt: may10, TotalCommits: 12},
				},
			}, okResp, nil
		},
		commits: func(q collector.CommitQuery) (*collector.CommitPage, *collector.Response, error) {
			return &collector.CommitPage{Messages: []string{"fix typo", "add unit test", "ci: deploy"}}, okResp, nil
		},
		workflows: func(repo string) ([]string, *collector.Response, error) {
			return []string{"deploy.yml"}, okResp, nil
		},
	}
	h := newHarness(source)

	snap, err := h.worker.Run(context.Background(), newTask(t, "2023-05-10", 1))
	require.NoError(t, err)

	docs := snap.Repositories["carol/docs"]
	require.NotNil(t, docs)
	assert.Equal(t, []string{"carol/docs"}, source.commitRepos)
	assert.Equal(t, 3, docs.CommitsInRange)
	assert.Equal(t, 12, docs.TotalCommits)
	assert.False(t, docs.IsTDD, "repositories without languages are not classified")
	assert.False(t, docs.IsDevOps)
	assert.Empty(t, docs.Languages)
}

func TestRun_DayCompletedLogsQuota(t *testing.T) {
	may10 := day(t, "2023-05-10")
	reset := time.Date(2023, 5, 10, 15, 0, 0, 0, time.UTC)
	quotaResp := &collector.Response{StatusCode: http.StatusOK, Remaining: 4321, Reset: reset}
	source := &fakeSource{
		search: func(q collector.SearchQuery) (*collector.SearchPage, *collector.Response, error) {
			return &collector.SearchPage{
				RepositoryCount: 1,
				Repositories: []collector.RepositorySummary{
					{NameWithOwner: "alice/app", Languages: []collector.Language{{Name: "Go", Size: 10}}, LastCommittedAt: may10},
				},
			}, quotaResp, nil
		},
	}
	h := newHarness(source)

	_, err := h.worker.Run(context.Background(), newTask(t, "2023-05-10", 1))
	require.NoError(t, err)

	var dayEntry, doneEntry *logrus.Entry
	for _, e := range h.logs.AllEntries() {
		switch {
		case e.Message == "day completed":
			dayEntry = e
		case e.Message == "state changed" && e.Data["state"] == StateDone:
			doneEntry = e
		}
	}
	require.NotNil(t, dayEntry)
	assert.Equal(t, 4321, dayEntry.Data["quota_remaining"])
	assert.Equal(t, "2023-05-10T15:00:00Z", dayEntry.Data["quota_reset"])
	require.NotNil(t, doneEntry, "terminal states are logged at info")
	assert.Equal(t, logrus.InfoLevel, doneEntry.Level)
}

func TestRun_CommitWindowIsTaskWindow(t *testing.T) {
	source := twoDaySource(t)
	var queries []collector.CommitQuery
	commits := source.commits
	source.commits = func(q collector.CommitQuery) (*collector.CommitPage, *collector.Response, error) {
		queries = append(queries, q)
		return commits(q)
	}
	h := newHarness(source)

	_, err := h.worker.Run(context.Background(), newTask(t, "2023-05-10", 2))
	require.NoError(t, err)

	require.NotEmpty(t, queries)
	assert.Equal(t, time.Date(2023, 5, 9, 0, 0, 0, 0, time.UTC), queries[0].Since)
	assert.Equal(t, time.Date(2023, 5, 10, 23, 59, 59, 0, time.UTC), queries[0].Until)
}

func TestRun_CheckpointsAndCompletes(t *testing.T) {
	h := newHarness(twoDaySource(t))

	snap, err := h.worker.Run(context.Background(), newTask(t, "2023-05-10", 2))
	require.NoError(t, err)

	assert.Equal(t, []checkpoint.Marker{checkpoint.MarkerNone, checkpoint.MarkerNone, checkpoint.MarkerComplete}, h.checkpoints.markers())

	first := h.checkpoints.writes[0].snap
	assert.Equal(t, day(t, "2023-05-10"), first.DateRanges[0].End, "per-day checkpoint closes at the finished day")
	assert.Len(t, first.Repositories, 2)

	require.Len(t, h.sink.docs, 1)
	doc := h.sink.docs[0]
	assert.NotEmpty(t, doc.ID)
	assert.Equal(t, "task-1", doc.TaskID)
	assert.Equal(t, snap, doc.Snapshot)

	assert.Equal(t, [][2]State{
		{StateIdle, StateFetchingDay},
		{StateFetchingDay, StateClassifyingDay},
		{StateClassifyingDay, StateCheckpointing},
		{StateCheckpointing, StateFetchingDay},
		{StateFetchingDay, StateClassifyingDay},
		{StateClassifyingDay, StateCheckpointing},
		{StateCheckpointing, StateDone},
	}, h.transitions)
	for _, tr := range h.transitions {
		assert.True(t, CanTransition(tr[0], tr[1]), "%s -> %s", tr[0], tr[1])
	}
}

func TestRun_RateLimitPausesAndResumesSameCursor(t *testing.T) {
	source := twoDaySource(t)
	search := source.search
	limited := false
	source.search = func(q collector.SearchQuery) (*collector.SearchPage, *collector.Response, error) {
		if q.Cursor == "c1" && !limited {
			limited = true
			return nil, &collector.Response{StatusCode: http.StatusForbidden, RateLimited: true}, nil
		}
		return search(q)
	}
	h := newHarness(source)

	snap, err := h.worker.Run(context.Background(), newTask(t, "2023-05-10", 2))
	require.NoError(t, err)

	assert.Equal(t, []time.Duration{DefaultRateLimitPause}, h.sleeps)
	require.Len(t, source.searches, 4)
	assert.Equal(t, "c1", source.searches[1].Cursor)
	assert.Equal(t, "c1", source.searches[2].Cursor)

	paused := h.checkpoints.writes[0]
	assert.Equal(t, checkpoint.MarkerRateLimit, paused.marker)
	assert.Equal(t, day(t, "2023-05-10"), paused.date)
	assert.Equal(t, day(t, "2023-05-10"), paused.snap.DateRanges[0].End)

	assert.Contains(t, h.transitions, [2]State{StateFetchingDay, StateRateLimitPaused})
	assert.Contains(t, h.transitions, [2]State{StateRateLimitPaused, StateFetchingDay})
	assert.Len(t, snap.Repositories, 3)
}

func TestRun_RateLimitDuringClassification(t *testing.T) {
	source := twoDaySource(t)
	workflows := source.workflows
	limited := false
	source.workflows = func(repo string) ([]string, *collector.Response, error) {
		if !limited {
			limited = true
			return nil, &collector.Response{StatusCode: http.StatusForbidden, RateLimited: true}, nil
		}
		return workflows(repo)
	}
	h := newHarness(source)

	snap, err := h.worker.Run(context.Background(), newTask(t, "2023-05-10", 2))
	require.NoError(t, err)

	assert.Len(t, h.sleeps, 1)
	assert.Contains(t, h.transitions, [2]State{StateClassifyingDay, StateRateLimitPaused})
	assert.Contains(t, h.transitions, [2]State{StateRateLimitPaused, StateClassifyingDay})
	assert.True(t, snap.Repositories["alice/app"].IsDevOps)
}

func TestRun_FatalFailureWritesErrorCheckpoint(t *testing.T) {
	source := twoDaySource(t)
	calls := 0
	source.commits = func(q collector.CommitQuery) (*collector.CommitPage, *collector.Response, error) {
		calls++
		return nil, &collector.Response{StatusCode: http.StatusBadGateway}, nil
	}
	h := newHarness(source)

	snap, err := h.worker.Run(context.Background(), newTask(t, "2023-05-10", 2))
	require.Error(t, err)
	assert.True(t, apperrors.IsFetchFailed(err))
	assert.Equal(t, 3, calls, "a fetch gets three attempts")

	require.Len(t, h.checkpoints.writes, 1)
	failed := h.checkpoints.writes[0]
	assert.Equal(t, checkpoint.MarkerError, failed.marker)
	assert.Equal(t, day(t, "2023-05-10"), failed.date)
	assert.Empty(t, snap.Repositories, "no partial record is stored")
	assert.Empty(t, h.sink.docs)
	last := h.transitions[len(h.transitions)-1][1]
	assert.Equal(t, StateFatalError, last)
	assert.True(t, last.Terminal())
}

func TestRun_TransientFailureIsRetried(t *testing.T) {
	source := twoDaySource(t)
	search := source.search
	failures := 0
	source.search = func(q collector.SearchQuery) (*collector.SearchPage, *collector.Response, error) {
		if failures < 2 {
			failures++
			return nil, nil, errors.New("connection reset")
		}
		return search(q)
	}
	h := newHarness(source)

	_, err := h.worker.Run(context.Background(), newTask(t, "2023-05-10", 2))
	require.NoError(t, err)
	assert.Empty(t, h.sleeps)
	assert.NotContains(t, h.checkpoints.markers(), checkpoint.MarkerError)
}

func TestRun_SinkFailure(t *testing.T) {
	h := newHarness(twoDaySource(t))
	h.sink.err = errors.New("store down")

	snap, err := h.worker.Run(context.Background(), newTask(t, "2023-05-10", 2))
	require.Error(t, err)
	assert.Len(t, snap.Repositories, 3)
	assert.Contains(t, h.checkpoints.markers(), checkpoint.MarkerComplete)
}

func TestRun_InvalidTask(t *testing.T) {
	h := newHarness(&fakeSource{})

	task := newTask(t, "2023-05-10", 0)
	_, err := h.worker.Run(context.Background(), task)
	code, ok := apperrors.CodeOf(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.ErrCodeInvalidTask, code)

	task = newTask(t, "2023-05-10", 1)
	task.PageSize = 0
	_, err = h.worker.Run(context.Background(), task)
	assert.Error(t, err)
	assert.Empty(t, h.checkpoints.writes)
}
