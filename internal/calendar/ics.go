// Package calendar exports event cards as an iCalendar feed so a citizen can
// add them to their own calendar.
package calendar

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/google/uuid"

	"civicbot/internal/logging"
	"civicbot/internal/types"
)

// ContentType is the MIME type of Encode's output.
const ContentType = "text/calendar; charset=utf-8"

const productID = "-//civicbot//municipal events//EN"

// ErrNoEvents is returned when there is nothing to export.
var ErrNoEvents = errors.New("no events to export")

// uidNamespace makes UIDs stable: the same title and start day always map to
// the same VEVENT, so re-importing updates instead of duplicating.
var uidNamespace = uuid.NewSHA1(uuid.NameSpaceDNS, []byte("civicbot.events"))

// Options controls the calendar feed.
type Options struct {
	Name     string         // X-WR-CALNAME
	Location *time.Location // zone for events with a start time; nil = UTC
	Now      time.Time      // DTSTAMP; zero = time.Now()
}

// Encode writes events as a VCALENDAR. Events whose date does not parse are skipped.
func Encode(w io.Writer, events []types.EventEntity, opts Options) error {
	log := logging.Get(logging.CategoryCalendar)
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Now.IsZero() {
		opts.Now = time.Now()
	}

	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, productID)
	if opts.Name != "" {
		cal.Props.SetText("X-WR-CALNAME", opts.Name)
	}

	for _, ev := range events {
		vevent, ok := toVEvent(ev, opts)
		if !ok {
			log.Debug("skipping event %q with unparseable date %q", ev.Title, ev.Date)
			continue
		}
		cal.Children = append(cal.Children, vevent.Component)
	}
	if len(cal.Children) == 0 {
		return ErrNoEvents
	}

	if err := ical.NewEncoder(w).Encode(cal); err != nil {
		return fmt.Errorf("failed to encode calendar: %w", err)
	}
	return nil
}

func toVEvent(ev types.EventEntity, opts Options) (*ical.Event, bool) {
	start, ok := ev.Start()
	if !ok {
		return nil, false
	}
	end, _ := ev.End()

	vevent := ical.NewEvent()
	vevent.Props.SetText(ical.PropUID, UID(ev))
	vevent.Props.SetDateTime(ical.PropDateTimeStamp, opts.Now.UTC())
	vevent.Props.SetText(ical.PropSummary, strings.TrimSpace(ev.Title))

	if clock, ok := parseClock(ev.Time); ok && !ev.IsRanged() {
		at := time.Date(start.Year(), start.Month(), start.Day(), clock.Hour(), clock.Minute(), 0, 0, opts.Location)
		// UTC avoids a TZID that would need a matching VTIMEZONE.
		vevent.Props.SetDateTime(ical.PropDateTimeStart, at.UTC())
	} else {
		// All-day: DTEND is exclusive.
		vevent.Props.SetDate(ical.PropDateTimeStart, start)
		vevent.Props.SetDate(ical.PropDateTimeEnd, end.AddDate(0, 0, 1))
	}

	if loc := strings.TrimSpace(ev.Location); loc != "" {
		vevent.Props.SetText(ical.PropLocation, loc)
	}
	if desc := description(ev); desc != "" {
		vevent.Props.SetText(ical.PropDescription, desc)
	}
	if u, err := url.Parse(strings.TrimSpace(ev.SourceURL)); err == nil && u.Scheme != "" && u.Host != "" {
		vevent.Props.SetURI(ical.PropURL, u)
	}
	return vevent, true
}

// UID returns the stable VEVENT UID of ev.
func UID(ev types.EventEntity) string {
	return uuid.NewSHA1(uidNamespace, []byte(ev.NormalizedTitle()+"+"+ev.Date)).String() + "@civicbot"
}

func description(ev types.EventEntity) string {
	var parts []string
	if t := strings.TrimSpace(ev.Time); t != "" {
		parts = append(parts, t)
	}
	if s := strings.TrimSpace(ev.SourceTitle); s != "" {
		parts = append(parts, s)
	}
	return strings.Join(parts, "\n")
}

// parseClock accepts "20:00", "9:30" and "20.00".
func parseClock(s string) (time.Time, bool) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ".", ":")
	for _, layout := range []string{"15:04", "3:04"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
