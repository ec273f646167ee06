// Package partition splits a collection window into one task per worker.
package partition

import (
	"time"

	"github.com/google/uuid"

	"github.com/kurihiro0119/github-practice-stats/internal/credentials"
	"github.com/kurihiro0119/github-practice-stats/internal/domain"
	apperrors "github.com/kurihiro0119/github-practice-stats/internal/errors"
)

// DefaultPageSize is the number of search results requested per page
const DefaultPageSize = 50

// DefaultCreatedBefore is the creation cutoff applied to searched repositories
var DefaultCreatedBefore = time.Date(2022, 5, 30, 0, 0, 0, 0, time.UTC)

// Options fills in the task fields that do not depend on the split
type Options struct {
	CreatedBefore time.Time
	PageSize      int
	Now           func() time.Time
	NewID         func() string
}

// Sizes returns how many days each worker walks. The first totalDays mod
// workers workers get one extra day.
func Sizes(totalDays, workers int) []int {
	if workers <= 0 || totalDays <= 0 {
		return nil
	}
	base, extra := totalDays/workers, totalDays%workers
	sizes := make([]int, workers)
	for i := range sizes {
		sizes[i] = base
		if i < extra {
			sizes[i]++
		}
	}
	return sizes
}

// Partition splits the totalDays days ending at start (most recent first) into
// workers contiguous, non-overlapping tasks. Worker i starts where worker i-1
// stopped. Task boundaries depend only on the inputs.
func Partition(start time.Time, totalDays, workers int, opts Options) ([]domain.CollectionTask, error) {
	switch {
	case start.IsZero():
		return nil, apperrors.NewInvalidTaskError("start date is required")
	case totalDays <= 0:
		return nil, apperrors.NewInvalidTaskError("number of days must be positive")
	case workers <= 0:
		return nil, apperrors.NewInvalidTaskError("number of workers must be positive")
	case workers > totalDays:
		return nil, apperrors.NewInvalidTaskError("more workers than days to collect")
	}

	if opts.CreatedBefore.IsZero() {
		opts.CreatedBefore = DefaultCreatedBefore
	}
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = func() string { return uuid.New().String() }
	}

	createdAt := opts.Now().UTC()
	tasks := make([]domain.CollectionTask, 0, workers)
	offset := 0
	for i, size := range Sizes(totalDays, workers) {
		tasks = append(tasks, domain.CollectionTask{
			ID:            opts.NewID(),
			WorkerID:      i,
			StartDate:     domain.Day(start).AddDate(0, 0, -offset),
			Days:          size,
			CreatedBefore: domain.Day(opts.CreatedBefore),
			Credentials:   credentials.Handle(i),
			PageSize:      opts.PageSize,
			CreatedAt:     createdAt,
		})
		offset += size
	}
	return tasks, nil
}
