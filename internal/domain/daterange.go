package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// DateLayout is the calendar date format used on the wire and in file names
const DateLayout = "2006-01-02"

// Day truncates t to its UTC calendar day
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDay parses a YYYY-MM-DD string into a UTC calendar day
func ParseDay(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return t, nil
}

// FormatDay formats a calendar day as YYYY-MM-DD
func FormatDay(t time.Time) string {
	return t.Format(DateLayout)
}

// DateRange is one fetch episode. Start is the most recent day and End the oldest,
// both inclusive. A zero End marks an episode that has not been closed yet.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// NewDateRange creates a closed date range
func NewDateRange(start, end time.Time) DateRange {
	return DateRange{Start: Day(start), End: Day(end)}
}

// IsClosed reports whether both ends of the range are set
func (r DateRange) IsClosed() bool {
	return !r.Start.IsZero() && !r.End.IsZero()
}

// bounds returns the chronological lower and upper day of the range
func (r DateRange) bounds() (lo, hi time.Time) {
	if r.End.After(r.Start) {
		return r.Start, r.End
	}
	return r.End, r.Start
}

// Contains reports whether day t falls inside the range
func (r DateRange) Contains(t time.Time) bool {
	lo, hi := r.bounds()
	return !t.Before(lo) && !t.After(hi)
}

// Latest returns the most recent day recorded in the range
func (r DateRange) Latest() time.Time {
	_, hi := r.bounds()
	return hi
}

// Disjoint reports whether a and b share no calendar day. Neither range's start
// may fall within the other's interval. An unclosed range is never disjoint.
func Disjoint(a, b DateRange) bool {
	if !a.IsClosed() || !b.IsClosed() {
		return false
	}
	return !a.Contains(b.Latest()) && !b.Contains(a.Latest())
}

// DisjointAll reports whether every range in incoming is disjoint from every
// range in existing. Empty lists are disjoint.
func DisjointAll(existing, incoming []DateRange) bool {
	for _, in := range incoming {
		for _, ex := range existing {
			if !Disjoint(ex, in) {
				return false
			}
		}
	}
	return true
}

// MarshalJSON encodes the range as ["start","end"]
func (r DateRange) MarshalJSON() ([]byte, error) {
	pair := [2]*string{}
	if !r.Start.IsZero() {
		s := FormatDay(r.Start)
		pair[0] = &s
	}
	if !r.End.IsZero() {
		e := FormatDay(r.End)
		pair[1] = &e
	}
	return json.Marshal(pair)
}

// UnmarshalJSON decodes a ["start","end"] pair; a null end leaves End zero
func (r *DateRange) UnmarshalJSON(data []byte) error {
	var pair []*string
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return fmt.Errorf("date range must have 2 elements, got %d", len(pair))
	}

	var out DateRange
	if pair[0] != nil {
		t, err := ParseDay(*pair[0])
		if err != nil {
			return err
		}
		out.Start = t
	}
	if pair[1] != nil {
		t, err := ParseDay(*pair[1])
		if err != nil {
			return err
		}
		out.End = t
	}
	*r = out
	return nil
}

// String formats the range as [start, end]
func (r DateRange) String() string {
	end := "open"
	if !r.End.IsZero() {
		end = FormatDay(r.End)
	}
	return fmt.Sprintf("[%s, %s]", FormatDay(r.Start), end)
}
