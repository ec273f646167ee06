package domain

import (
	"time"
)

// CollectionTask is one worker's assignment. It is immutable once created.
type CollectionTask struct {
	ID            string    `json:"id"`
	WorkerID      int       `json:"workerId"`
	StartDate     time.Time `json:"startDate"`
	Days          int       `json:"days"`
	CreatedBefore time.Time `json:"createdBefore"`
	Credentials   string    `json:"credentials"`
	PageSize      int       `json:"pageSize"`
	CreatedAt     time.Time `json:"createdAt"`
}

// EndDate returns the oldest day the task walks
func (t CollectionTask) EndDate() time.Time {
	if t.Days <= 0 {
		return Day(t.StartDate)
	}
	return Day(t.StartDate).AddDate(0, 0, -(t.Days - 1))
}

// DayAt returns the i-th day of the task, most recent first
func (t CollectionTask) DayAt(i int) time.Time {
	return Day(t.StartDate).AddDate(0, 0, -i)
}

// Window returns the task's full date range
func (t CollectionTask) Window() DateRange {
	return NewDateRange(t.StartDate, t.EndDate())
}
