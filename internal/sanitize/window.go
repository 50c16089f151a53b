package sanitize

import (
	"time"

	"civicbot/internal/types"
)

// WindowKind is a temporal phrase detected in the citizen's question.
type WindowKind string

const (
	WindowNone        WindowKind = ""
	WindowToday       WindowKind = "today"
	WindowTomorrow    WindowKind = "tomorrow"
	WindowThisWeek    WindowKind = "this_week"
	WindowThisWeekend WindowKind = "this_weekend"
)

// Window is an inclusive range of calendar days.
type Window struct {
	Start time.Time
	End   time.Time
}

// ComputeWindow turns a phrase into concrete days relative to today.
// "this week" runs from today through the coming Sunday; "this weekend" is the
// upcoming Friday through Sunday, or the rest of the current weekend when today
// is already Saturday or Sunday.
func ComputeWindow(kind WindowKind, today time.Time) (Window, bool) {
	d := types.Day(today)
	switch kind {
	case WindowToday:
		return Window{Start: d, End: d}, true
	case WindowTomorrow:
		t := d.AddDate(0, 0, 1)
		return Window{Start: t, End: t}, true
	case WindowThisWeek:
		return Window{Start: d, End: d.AddDate(0, 0, daysUntilSunday(d))}, true
	case WindowThisWeekend:
		start := d
		switch d.Weekday() {
		case time.Saturday, time.Sunday:
		default:
			start = d.AddDate(0, 0, int(time.Friday-d.Weekday()))
		}
		return Window{Start: start, End: d.AddDate(0, 0, daysUntilSunday(d))}, true
	default:
		return Window{}, false
	}
}

func daysUntilSunday(d time.Time) int {
	return (7 - int(d.Weekday())) % 7
}

// Intersects reports whether [start,end] overlaps the window.
func (w Window) Intersects(start, end time.Time) bool {
	return !(end.Before(w.Start) || start.After(w.End))
}

// String renders the window as "YYYY-MM-DD..YYYY-MM-DD".
func (w Window) String() string {
	return types.FormatDay(w.Start) + ".." + types.FormatDay(w.End)
}
