// Package worker runs one collection task: it walks the task's days from the
// most recent to the oldest, collects and classifies the repositories pushed on
// each day, and checkpoints the snapshot as it goes.
package worker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/kurihiro0119/github-practice-stats/internal/checkpoint"
	"github.com/kurihiro0119/github-practice-stats/internal/classifier"
	"github.com/kurihiro0119/github-practice-stats/internal/collector"
	"github.com/kurihiro0119/github-practice-stats/internal/domain"
	apperrors "github.com/kurihiro0119/github-practice-stats/internal/errors"
)

const (
	// DefaultMaxRecordsPerDay bounds the search results read for one day
	DefaultMaxRecordsPerDay = 1000
	// DefaultMaxCommitPages bounds the commit pages read for one repository
	DefaultMaxCommitPages = 100
	// DefaultRateLimitPause is how long a worker sleeps once the quota is exhausted
	DefaultRateLimitPause = 630 * time.Second
)

// DefaultExcludedLanguages are dropped from every language breakdown
var DefaultExcludedLanguages = []string{"Text"}

// Checkpointer persists the in-progress snapshot of a worker
type Checkpointer interface {
	Write(workerID int, marker checkpoint.Marker, date time.Time, snap *domain.DatasetSnapshot) (string, error)
}

// ResultSink receives the snapshot of a completed task
type ResultSink interface {
	InsertSnapshot(ctx context.Context, doc *domain.SnapshotDocument) error
}

// Config tunes a worker
type Config struct {
	MaxRecordsPerDay  int
	MaxCommitPages    int
	RateLimitPause    time.Duration
	ExcludedLanguages []string
}

// DefaultConfig returns the standard worker configuration
func DefaultConfig() Config {
	return Config{
		MaxRecordsPerDay:  DefaultMaxRecordsPerDay,
		MaxCommitPages:    DefaultMaxCommitPages,
		RateLimitPause:    DefaultRateLimitPause,
		ExcludedLanguages: DefaultExcludedLanguages,
	}
}

// Option customizes a worker
type Option func(*Worker)

// WithSleep replaces the function used for the quota pause
func WithSleep(sleep func(time.Duration)) Option {
	return func(w *Worker) { w.sleep = sleep }
}

// WithClock replaces the clock used for progress reporting and document timestamps
func WithClock(now func() time.Time) Option {
	return func(w *Worker) { w.now = now }
}

// WithTransitionHook registers a callback invoked on every state change
func WithTransitionHook(hook func(from, to State)) Option {
	return func(w *Worker) { w.onTransition = hook }
}

// Worker executes collection tasks against a data source
type Worker struct {
	source       collector.Source
	fetcher      *collector.Fetcher
	checkpoints  Checkpointer
	sink         ResultSink
	cfg          Config
	logger       logrus.FieldLogger
	sleep        func(time.Duration)
	now          func() time.Time
	onTransition func(from, to State)
}

// New creates a new worker. sink may be nil when completed snapshots are not stored.
func New(source collector.Source, fetcher *collector.Fetcher, checkpoints Checkpointer, sink ResultSink, cfg Config, logger logrus.FieldLogger, opts ...Option) *Worker {
	if cfg.MaxRecordsPerDay <= 0 {
		cfg.MaxRecordsPerDay = DefaultMaxRecordsPerDay
	}
	if cfg.MaxCommitPages <= 0 {
		cfg.MaxCommitPages = DefaultMaxCommitPages
	}
	if cfg.RateLimitPause < 0 {
		cfg.RateLimitPause = 0
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	w := &Worker{
		source:      source,
		fetcher:     fetcher,
		checkpoints: checkpoints,
		sink:        sink,
		cfg:         cfg,
		logger:      logger.WithField("component", "worker"),
		sleep:       time.Sleep,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// run is the state of a single task execution
type run struct {
	w         *Worker
	task      domain.CollectionTask
	snap      *domain.DatasetSnapshot
	state     State
	day       time.Time
	startedAt time.Time
	processed int
	logger    logrus.FieldLogger
}

// Run executes task and returns the collected snapshot. On a fatal fetch
// failure it writes an ERROR checkpoint and returns the snapshot collected so
// far together with the error.
func (w *Worker) Run(ctx context.Context, task domain.CollectionTask) (*domain.DatasetSnapshot, error) {
	if err := ValidateTask(task); err != nil {
		return nil, err
	}

	r := &run{
		w:         w,
		task:      task,
		snap:      domain.NewSnapshot(),
		state:     StateIdle,
		startedAt: w.now(),
		logger: w.logger.WithFields(logrus.Fields{
			"worker": task.WorkerID,
			"task":   task.ID,
		}),
	}
	r.snap.DateRanges = []domain.DateRange{{Start: domain.Day(task.StartDate)}}

	r.logger.WithFields(logrus.Fields{
		"start": domain.FormatDay(task.StartDate),
		"end":   domain.FormatDay(task.EndDate()),
		"days":  task.Days,
	}).Info("task started")

	for i := 0; i < task.Days; i++ {
		r.day = task.DayAt(i)
		if err := r.collectDay(ctx); err != nil {
			return r.fail(err)
		}
		if err := r.checkpointDay(i); err != nil {
			return r.fail(err)
		}
	}

	return r.complete(ctx)
}

// ValidateTask checks that a task can be executed
func ValidateTask(task domain.CollectionTask) error {
	switch {
	case task.StartDate.IsZero():
		return apperrors.NewInvalidTaskError("start date is required")
	case task.Days <= 0:
		return apperrors.NewInvalidTaskError("days must be positive")
	case task.PageSize <= 0:
		return apperrors.NewInvalidTaskError("page size must be positive")
	case task.CreatedBefore.IsZero():
		return apperrors.NewInvalidTaskError("created-before date is required")
	}
	return nil
}

func (r *run) transition(to State) {
	from := r.state
	if !CanTransition(from, to) {
		r.logger.WithFields(logrus.Fields{"from": from, "to": to}).Error("unexpected state transition")
	}
	r.state = to
	entry := r.logger.WithField("state", to)
	if to.Terminal() {
		entry.Info("state changed")
	} else {
		entry.Debug("state changed")
	}
	if r.w.onTransition != nil {
		r.w.onTransition(from, to)
	}
}

// closeEpisode sets the end of the snapshot's current episode
func (r *run) closeEpisode(day time.Time) {
	r.snap.DateRanges[0].End = domain.Day(day)
}

func (r *run) collectDay(ctx context.Context) error {
	r.transition(StateFetchingDay)
	logger := r.logger.WithField("day", domain.FormatDay(r.day))

	maxPages := collector.PageCap(r.w.cfg.MaxRecordsPerDay, r.task.PageSize)
	pages, err := collector.FetchAllPages(ctx, r.w.fetcher, maxPages, r.pause,
		func(ctx context.Context, cursor string) (*collector.SearchPage, *collector.Response, error) {
			return r.w.source.SearchRepositories(ctx, collector.SearchQuery{
				Day:           r.day,
				CreatedBefore: r.task.CreatedBefore,
				PageSize:      r.task.PageSize,
				Cursor:        cursor,
			})
		})
	if err != nil {
		return fmt.Errorf("failed to search repositories: %w", err)
	}
	logger.WithField("pages", len(pages)).Debug("day fetched")

	r.transition(StateClassifyingDay)
	for _, page := range pages {
		for _, repo := range page.Repositories {
			if err := r.collectRepository(ctx, repo); err != nil {
				return fmt.Errorf("failed to collect %s: %w", repo.NameWithOwner, err)
			}
		}
	}
	if len(pages) > 0 {
		r.snap.TotalRepoCount += pages[0].RepositoryCount
	}
	return nil
}

// collectRepository records a search result unless it was already seen in this
// task or its last commit falls on another day. The record is only stored once
// every piece of its evidence has been fetched.
func (r *run) collectRepository(ctx context.Context, repo collector.RepositorySummary) error {
	key := repo.NameWithOwner
	if key == "" || r.snap.Has(key) {
		return nil
	}
	if !domain.Day(repo.LastCommittedAt).Equal(r.day) {
		return nil
	}

	rec := &domain.RepositoryRecord{
		DateRanges:   []domain.DateRange{r.task.Window()},
		TotalCommits: repo.TotalCommits,
		Languages:    r.languages(repo.Languages),
	}

	ev, err := r.evidence(ctx, repo)
	if err != nil {
		return err
	}
	rec.CommitsInRange = len(ev.CommitMessages)

	// Repositories without language data are never classified
	if len(repo.Languages) > 0 {
		classifier.Apply(rec, ev)
	}

	r.snap.Repositories[key] = rec
	r.processed++
	r.logger.WithFields(logrus.Fields{
		"repo":     key,
		"isTDD":    rec.IsTDD,
		"isDevOps": rec.IsDevOps,
	}).Debug("repository recorded")
	return nil
}

func (r *run) languages(langs []collector.Language) map[string]int64 {
	out := make(map[string]int64, len(langs))
	for _, lang := range langs {
		if r.excluded(lang.Name) {
			continue
		}
		out[lang.Name] = lang.Size
	}
	return out
}

func (r *run) excluded(name string) bool {
	for _, ex := range r.w.cfg.ExcludedLanguages {
		if strings.EqualFold(ex, name) {
			return true
		}
	}
	return false
}

func (r *run) evidence(ctx context.Context, repo collector.RepositorySummary) (classifier.Evidence, error) {
	since := domain.Day(r.task.EndDate())
	until := domain.Day(r.task.StartDate).Add(24*time.Hour - time.Second)

	commitPages, err := collector.FetchAllPages(ctx, r.w.fetcher, r.w.cfg.MaxCommitPages, r.pause,
		func(ctx context.Context, cursor string) (*collector.CommitPage, *collector.Response, error) {
			return r.w.source.CommitMessages(ctx, collector.CommitQuery{
				Repo:   repo.NameWithOwner,
				Since:  since,
				Until:  until,
				Cursor: cursor,
			})
		})
	if err != nil {
		return classifier.Evidence{}, fmt.Errorf("failed to list commits: %w", err)
	}

	workflows, err := collector.Retrieve(ctx, r.w.fetcher, r.pause,
		func(ctx context.Context) ([]string, *collector.Response, error) {
			return r.w.source.WorkflowFiles(ctx, repo.NameWithOwner)
		})
	if err != nil {
		return classifier.Evidence{}, fmt.Errorf("failed to list workflows: %w", err)
	}

	var messages []string
	for _, page := range commitPages {
		messages = append(messages, page.Messages...)
	}
	return classifier.Evidence{
		Topics:         repo.Topics,
		WorkflowFiles:  workflows,
		CommitMessages: messages,
	}, nil
}

// pause is the quota handler. It checkpoints, sleeps the fixed pause without
// watching ctx, and returns to the state it interrupted.
func (r *run) pause(_ context.Context) {
	resume := r.state
	r.transition(StateRateLimitPaused)
	r.closeEpisode(r.day)

	logger := r.logger.WithField("day", domain.FormatDay(r.day))
	if path, err := r.w.checkpoints.Write(r.task.WorkerID, checkpoint.MarkerRateLimit, r.day, r.snap); err != nil {
		logger.WithError(err).Error("failed to write rate limit checkpoint")
	} else {
		logger.WithField("file", path).Info("rate limit checkpoint written")
	}

	logger.WithField("pause", r.w.cfg.RateLimitPause).Warn("quota exhausted, pausing")
	r.w.sleep(r.w.cfg.RateLimitPause)
	r.transition(resume)
}

func (r *run) checkpointDay(index int) error {
	r.transition(StateCheckpointing)
	r.closeEpisode(r.day)

	if _, err := r.w.checkpoints.Write(r.task.WorkerID, checkpoint.MarkerNone, time.Time{}, r.snap); err != nil {
		return apperrors.NewInternalError("failed to write checkpoint", err)
	}

	done := index + 1
	elapsed := r.w.now().Sub(r.startedAt)
	remaining := r.task.Days - done
	eta := time.Duration(0)
	if done > 0 {
		eta = elapsed / time.Duration(done) * time.Duration(remaining)
	}
	quota, reset := r.w.fetcher.Limiter().CheckLimit()
	r.logger.WithFields(logrus.Fields{
		"day":             domain.FormatDay(r.day),
		"progress":        fmt.Sprintf("%d/%d", done, r.task.Days),
		"repos":           r.processed,
		"elapsed":         elapsed.Round(time.Second).String(),
		"eta":             eta.Round(time.Second).String(),
		"remaining":       remaining,
		"quota_remaining": quota,
		"quota_reset":     reset.UTC().Format(time.RFC3339),
	}).Info("day completed")
	return nil
}

func (r *run) complete(ctx context.Context) (*domain.DatasetSnapshot, error) {
	r.transition(StateDone)
	r.closeEpisode(r.task.EndDate())

	path, err := r.w.checkpoints.Write(r.task.WorkerID, checkpoint.MarkerComplete, time.Time{}, r.snap)
	if err != nil {
		return r.snap.Clone(), apperrors.NewInternalError("failed to write completion checkpoint", err)
	}
	r.logger.WithFields(logrus.Fields{
		"file":  path,
		"repos": len(r.snap.Repositories),
		"total": r.snap.TotalRepoCount,
	}).Info("task completed")

	if r.w.sink != nil {
		doc := &domain.SnapshotDocument{
			ID:        uuid.New().String(),
			TaskID:    r.task.ID,
			WorkerID:  r.task.WorkerID,
			Snapshot:  r.snap.Clone(),
			CreatedAt: r.w.now().UTC(),
		}
		if err := r.w.sink.InsertSnapshot(ctx, doc); err != nil {
			return r.snap.Clone(), fmt.Errorf("failed to store snapshot: %w", err)
		}
	}
	return r.snap.Clone(), nil
}

func (r *run) fail(err error) (*domain.DatasetSnapshot, error) {
	r.transition(StateFatalError)
	r.closeEpisode(r.day)

	logger := r.logger.WithField("day", domain.FormatDay(r.day)).WithError(err)
	if path, werr := r.w.checkpoints.Write(r.task.WorkerID, checkpoint.MarkerError, r.day, r.snap); werr != nil {
		logger.WithField("checkpoint_error", werr.Error()).Error("failed to write error checkpoint")
	} else {
		logger = logger.WithField("file", path)
	}
	logger.Error("task stopped")

	return r.snap.Clone(), fmt.Errorf("worker %d stopped on %s: %w", r.task.WorkerID, domain.FormatDay(r.day), err)
}
