package rateledger

import (
	"sort"
	"time"
)

const (
	StatusActive   = "active"
	StatusExpired  = "expired"
	StatusUpcoming = "upcoming"
)

// DateOf truncates t to its calendar day, expressed as midnight UTC.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Yesterday returns the calendar day before day.
func Yesterday(day time.Time) time.Time {
	return DateOf(day).AddDate(0, 0, -1)
}

// Window is the inclusive [Start, End] interval of one ledger row. A nil End is open-ended.
type Window struct {
	Start time.Time
	End   *time.Time
}

// Ranged is implemented by ledger rows.
type Ranged interface {
	Window() Window
}

func NewWindow(start time.Time, end *time.Time) Window {
	w := Window{Start: DateOf(start)}
	if end != nil {
		e := DateOf(*end)
		w.End = &e
	}
	return w
}

func (w Window) Open() bool { return w.End == nil }

// Contains reports whether day lies in [Start, End-or-infinity].
func (w Window) Contains(day time.Time) bool {
	day = DateOf(day)
	if DateOf(w.Start).After(day) {
		return false
	}
	return w.End == nil || !DateOf(*w.End).Before(day)
}

// Expired reports whether the whole window lies strictly before day.
func (w Window) Expired(day time.Time) bool {
	return w.End != nil && DateOf(*w.End).Before(DateOf(day))
}

// Upcoming reports whether the window starts strictly after day.
func (w Window) Upcoming(day time.Time) bool {
	return DateOf(w.Start).After(DateOf(day))
}

// Valid reports whether End, when set, is not before Start.
func (w Window) Valid() bool {
	return w.End == nil || !DateOf(*w.End).Before(DateOf(w.Start))
}

// Status derives active, expired or upcoming for the window relative to today.
func (w Window) Status(today time.Time) string {
	switch {
	case w.Upcoming(today):
		return StatusUpcoming
	case w.Expired(today):
		return StatusExpired
	default:
		return StatusActive
	}
}

// Overlaps reports whether two windows share at least one day.
func (w Window) Overlaps(o Window) bool {
	if w.End != nil && DateOf(*w.End).Before(DateOf(o.Start)) {
		return false
	}
	if o.End != nil && DateOf(*o.End).Before(DateOf(w.Start)) {
		return false
	}
	return true
}

// SelectEffective returns the row whose window contains today. When data anomalies
// leave more than one candidate, the row with the latest start wins.
func SelectEffective[T Ranged](rows []T, today time.Time) (T, bool) {
	var (
		best  T
		found bool
	)
	for _, row := range rows {
		w := row.Window()
		if !w.Contains(today) {
			continue
		}
		if !found || w.Start.After(best.Window().Start) {
			best = row
			found = true
		}
	}
	return best, found
}

// HasUpcoming reports whether any row starts after today.
func HasUpcoming[T Ranged](rows []T, today time.Time) bool {
	for _, row := range rows {
		if row.Window().Upcoming(today) {
			return true
		}
	}
	return false
}

// Stale reports whether a ledger has neither a row effective today nor a scheduled one:
// it is empty or every row has expired.
func Stale[T Ranged](rows []T, today time.Time) bool {
	if _, ok := SelectEffective(rows, today); ok {
		return false
	}
	return !HasUpcoming(rows, today)
}

// ValidateTimeline checks the ledger invariant: every window is well formed, no two
// windows share a day and at most one window is open-ended.
func ValidateTimeline(windows []Window) error {
	sorted := make([]Window, len(windows))
	copy(sorted, windows)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Start.Before(sorted[j].Start)
	})

	open := 0
	for i, w := range sorted {
		if !w.Valid() {
			return ErrInvalidInterval
		}
		if w.Open() {
			open++
		}
		if i > 0 && sorted[i-1].Overlaps(w) {
			return ErrOverlap
		}
	}
	if open > 1 {
		return ErrMultipleOpen
	}
	return nil
}

// Windows collects the windows of rows.
func Windows[T Ranged](rows []T) []Window {
	out := make([]Window, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.Window())
	}
	return out
}
