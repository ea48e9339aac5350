package core

import (
	"errors"
	"fmt"
	"time"
)

// WindowKind names how a statistics window was built.
type WindowKind string

const (
	WindowYear  WindowKind = "year"
	WindowMonth WindowKind = "month"
	WindowRange WindowKind = "range"
)

// ErrInvalidRange is returned for custom windows whose start is after their end.
var ErrInvalidRange = errors.New("invalid range")

// MaxTime stands in for a missing upper bound in open-ended ranges.
var MaxTime = time.Date(9999, time.December, 31, 23, 59, 59, 999999999, time.UTC)

// Window is an inclusive time interval [From, To].
type Window struct {
	Kind WindowKind
	From time.Time
	To   time.Time
}

// NewDate returns midnight of the given day in loc (time.Local when nil).
func NewDate(year int, month time.Month, day int, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	return time.Date(year, month, day, 0, 0, 0, 0, loc)
}

// YearWindow covers Jan 1 00:00 through the last instant of Dec 31 of year in
// loc. loc must be the location bill dates are persisted in, otherwise bills
// near midnight land in the wrong day.
func YearWindow(year int, loc *time.Location) Window {
	from := NewDate(year, time.January, 1, loc)
	return Window{Kind: WindowYear, From: from, To: lastInstantBefore(from.AddDate(1, 0, 0))}
}

// MonthWindow covers the first through the last instant of the month in loc.
func MonthWindow(year int, month time.Month, loc *time.Location) Window {
	from := NewDate(year, month, 1, loc)
	return Window{Kind: WindowMonth, From: from, To: lastInstantBefore(from.AddDate(0, 1, 0))}
}

// CustomWindow builds an inclusive [from, to] window. Reversed bounds are
// reported, never swapped.
func CustomWindow(from, to time.Time) (Window, error) {
	if from.After(to) {
		return Window{}, fmt.Errorf("%w: from %s is after to %s", ErrInvalidRange,
			from.Format(time.RFC3339), to.Format(time.RFC3339))
	}
	return Window{Kind: WindowRange, From: from, To: to}, nil
}

// Contains reports whether t lies within the window, boundaries included.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.From) && !t.After(w.To)
}

// Key identifies the window by its instants, for caching.
func (w Window) Key() string {
	return fmt.Sprintf("%s:%s:%s", w.Kind, w.From.UTC().Format(time.RFC3339Nano), w.To.UTC().Format(time.RFC3339Nano))
}

func (w Window) String() string {
	switch w.Kind {
	case WindowYear:
		return w.From.Format("2006")
	case WindowMonth:
		return w.From.Format("2006-01")
	default:
		return w.From.Format("2006-01-02") + ".." + w.To.Format("2006-01-02")
	}
}

func lastInstantBefore(t time.Time) time.Time {
	return t.Add(-time.Nanosecond)
}
