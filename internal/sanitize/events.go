// Package sanitize turns raw entities extracted from model output into what the
// citizen is allowed to see: events filtered to the right year and window,
// merged into date ranges, deduplicated against the conversation's ledger and
// capped; places gated behind the geocoding resolver.
//
// The event pipeline is a sequence of pure functions over slices, run in a fixed
// order by SanitizeEvents:
//
//	FilterYear -> FilterWindow -> SortEvents -> GroupContiguous -> FilterNovel -> Cap
//
// Grouping relies on the sort; novelty relies on the grouping (a ranged event
// owns one ledger key per day).
package sanitize

import (
	"slices"
	"strings"
	"time"

	"civicbot/internal/logging"
	"civicbot/internal/types"
	"civicbot/internal/usage"
)

// DefaultMaxDisplay is the number of event cards shown per turn.
const DefaultMaxDisplay = 10

// maxRangeDays bounds day-key enumeration for a single event.
const maxRangeDays = 366

// SeenSet is the view of the seen-event ledger the sanitizer needs.
// The sanitizer assumes exclusive access for the duration of one call.
type SeenSet interface {
	Has(key string) bool
	Add(key string)
}

// EventConfig parameterizes SanitizeEvents.
type EventConfig struct {
	CurrentYear int       // 0 disables the year filter
	Seen        SeenSet   // nil disables novelty filtering
	MaxDisplay  int       // <= 0 means DefaultMaxDisplay
	Window      *Window   // requested temporal window, if the question named one
	Today       time.Time // required by Window and DropPast
	DropPast    bool      // drop events that ended before Today even without a Window
	Recorder    usage.Recorder
}

// EventResult is the output of SanitizeEvents.
type EventResult struct {
	Events        []types.EventEntity
	HasMore       bool
	NewlySeenKeys []string
}

// SanitizeEvents runs the full event pipeline. cfg.Seen is mutated.
// The window filter runs before grouping and novelty so the ledger never
// records an event that was filtered out of the answer.
func SanitizeEvents(raw []types.EventEntity, cfg EventConfig) EventResult {
	log := logging.Get(logging.CategorySanitize)
	rec := usage.OrNop(cfg.Recorder)

	events := FilterYear(raw, cfg.CurrentYear)
	dropped(rec, usage.ReasonWrongYear, len(raw)-len(events))

	if cfg.Window != nil || cfg.DropPast {
		before := len(events)
		events = FilterWindow(events, cfg.Window, cfg.Today)
		dropped(rec, usage.ReasonOutOfWindow, before-len(events))
	}

	events = SortEvents(events)
	events = GroupContiguous(events)

	var newKeys []string
	if cfg.Seen != nil {
		before := len(events)
		events, newKeys = FilterNovel(events, cfg.Seen)
		dropped(rec, usage.ReasonAlreadySeen, before-len(events))
	}

	limit := cfg.MaxDisplay
	if limit <= 0 {
		limit = DefaultMaxDisplay
	}
	before := len(events)
	events, hasMore := Cap(events, limit)
	dropped(rec, usage.ReasonOverCap, before-len(events))

	log.Debug("events: raw=%d kept=%d hasMore=%t newKeys=%d", len(raw), len(events), hasMore, len(newKeys))
	return EventResult{Events: events, HasMore: hasMore, NewlySeenKeys: newKeys}
}

func dropped(rec usage.Recorder, reason string, n int) {
	for i := 0; i < n; i++ {
		rec.Dropped(usage.FamilyEvent, reason)
	}
}

// FilterYear keeps events whose date falls in year. Unparseable dates are always dropped.
// An endDate that does not parse, or precedes the start, is cleared.
func FilterYear(events []types.EventEntity, year int) []types.EventEntity {
	log := logging.Get(logging.CategorySanitize)
	out := make([]types.EventEntity, 0, len(events))
	for _, ev := range events {
		start, ok := ev.Start()
		if !ok {
			log.Debug("dropping event %q: unparseable date %q", ev.Title, ev.Date)
			continue
		}
		if year != 0 && start.Year() != year {
			log.Debug("dropping event %q: date %s outside %d", ev.Title, ev.Date, year)
			continue
		}
		ev.Date = types.FormatDay(start)
		if ev.EndDate != "" {
			end, ok := types.ParseDay(ev.EndDate)
			if !ok || end.Before(start) {
				ev.EndDate = ""
			} else {
				ev.EndDate = types.FormatDay(end)
			}
		}
		out = append(out, ev)
	}
	return out
}

// FilterWindow drops events that ended before today and, when w is non-nil,
// events whose [date,endDate] does not intersect w. A zero today disables the past check.
func FilterWindow(events []types.EventEntity, w *Window, today time.Time) []types.EventEntity {
	log := logging.Get(logging.CategorySanitize)
	var day time.Time
	if !today.IsZero() {
		day = types.Day(today)
	}

	out := make([]types.EventEntity, 0, len(events))
	for _, ev := range events {
		start, ok := ev.Start()
		if !ok {
			continue
		}
		end, _ := ev.End()
		if !day.IsZero() && end.Before(day) {
			log.Debug("dropping past event %q (%s)", ev.Title, ev.Date)
			continue
		}
		if w != nil && !w.Intersects(start, end) {
			log.Debug("dropping event %q: outside window %s", ev.Title, w)
			continue
		}
		out = append(out, ev)
	}
	return out
}

// SortEvents orders by case-insensitive title, then by date.
func SortEvents(events []types.EventEntity) []types.EventEntity {
	out := slices.Clone(events)
	slices.SortStableFunc(out, func(a, b types.EventEntity) int {
		if c := strings.Compare(a.NormalizedTitle(), b.NormalizedTitle()); c != 0 {
			return c
		}
		return strings.Compare(a.Date, b.Date)
	})
	return out
}

// GroupContiguous merges runs of same-title single-day events on consecutive
// days into one ranged event. Input must be sorted with SortEvents.
// An event that already has its own distinct endDate is passed through: it
// never starts a run and is never absorbed into one. Repeated rows for the
// same day are folded into the run.
func GroupContiguous(sorted []types.EventEntity) []types.EventEntity {
	out := make([]types.EventEntity, 0, len(sorted))
	for i := 0; i < len(sorted); {
		ev := sorted[i]
		if ev.IsRanged() {
			out = append(out, ev)
			i++
			continue
		}

		last, ok := ev.Start()
		if !ok {
			out = append(out, ev)
			i++
			continue
		}

		title := ev.NormalizedTitle()
		j := i + 1
		for ; j < len(sorted); j++ {
			next := sorted[j]
			if next.NormalizedTitle() != title || next.IsRanged() {
				break
			}
			d, ok := next.Start()
			if !ok {
				break
			}
			if d.Equal(last) {
				continue
			}
			if !d.Equal(last.AddDate(0, 0, 1)) {
				break
			}
			last = d
		}

		if end := types.FormatDay(last); end != ev.Date {
			ev.EndDate = end
		} else {
			ev.EndDate = ""
		}
		out = append(out, ev)
		i = j
	}
	return out
}

// DayKeys returns the ledger keys of every day ev spans, "<lowercased title>+<YYYY-MM-DD>".
func DayKeys(ev types.EventEntity) []string {
	start, ok := ev.Start()
	if !ok {
		return nil
	}
	end, _ := ev.End()
	title := ev.NormalizedTitle()

	var keys []string
	for d, n := start, 0; !d.After(end) && n < maxRangeDays; d, n = d.AddDate(0, 0, 1), n+1 {
		keys = append(keys, title+"+"+types.FormatDay(d))
	}
	return keys
}

// FilterNovel keeps events with at least one day not yet in seen, and records
// all of a kept event's day keys. The second return value lists keys that were
// not in seen before this call.
func FilterNovel(events []types.EventEntity, seen SeenSet) ([]types.EventEntity, []string) {
	out := make([]types.EventEntity, 0, len(events))
	var newKeys []string
	for _, ev := range events {
		keys := DayKeys(ev)
		var fresh []string
		for _, k := range keys {
			if !seen.Has(k) {
				fresh = append(fresh, k)
			}
		}
		if len(fresh) == 0 {
			continue
		}
		for _, k := range keys {
			seen.Add(k)
		}
		newKeys = append(newKeys, fresh...)
		out = append(out, ev)
	}
	return out, newKeys
}

// Cap returns at most limit events and whether any were cut.
func Cap(events []types.EventEntity, limit int) ([]types.EventEntity, bool) {
	if limit < 0 || len(events) <= limit {
		return events, false
	}
	return events[:limit:limit], true
}
