// Package types provides shared type definitions used across civicbot packages.
// This package exists to break import cycles between articulation, sanitize, and session.
// Types in this package should be foundational data structures with no complex dependencies.
package types

import (
	"strings"
	"time"
)

// DateLayout is the calendar-day format used by event cards and ledger keys.
const DateLayout = "2006-01-02"

// =============================================================================
// ENTITIES
// =============================================================================

// EventEntity is an event card emitted by the model.
// Title and Date are mandatory; everything else is optional display data.
type EventEntity struct {
	Title       string `json:"title"`
	Date        string `json:"date"`
	EndDate     string `json:"endDate,omitempty"`
	Time        string `json:"time,omitempty"`
	Location    string `json:"location,omitempty"`
	SourceURL   string `json:"sourceUrl,omitempty"`
	SourceTitle string `json:"sourceTitle,omitempty"`
}

// Start parses Date. The bool is false when Date is not a YYYY-MM-DD day.
func (e EventEntity) Start() (time.Time, bool) {
	return ParseDay(e.Date)
}

// End parses EndDate, falling back to Date when EndDate is empty or unparseable.
func (e EventEntity) End() (time.Time, bool) {
	if e.EndDate != "" {
		if t, ok := ParseDay(e.EndDate); ok {
			return t, true
		}
	}
	return ParseDay(e.Date)
}

// IsRanged reports whether the event carries an explicit end distinct from its start.
func (e EventEntity) IsRanged() bool {
	return e.EndDate != "" && e.EndDate != e.Date
}

// NormalizedTitle is the case-folded title used for grouping and ledger keys.
func (e EventEntity) NormalizedTitle() string {
	return strings.ToLower(strings.TrimSpace(e.Title))
}

// PlaceEntity is a place card emitted by the model.
// At least one of PlaceID or SearchQuery must be present.
type PlaceEntity struct {
	Name        string `json:"name"`
	PlaceID     string `json:"placeId,omitempty"`
	SearchQuery string `json:"searchQuery,omitempty"`
}

// DocumentLink points the user at an uploaded procedure document.
type DocumentLink struct {
	Name    string `json:"name"`
	FileRef string `json:"fileRef"`
}

// KnownDocument is an uploaded document the model may reference by procedure name.
type KnownDocument struct {
	ProcedureName string `json:"procedureName" yaml:"procedure_name"`
	FileRef       string `json:"fileRef" yaml:"file_ref"`
}

// TelematicLink is a button into the city's online procedure portal.
type TelematicLink struct {
	URL  string `json:"url"`
	Text string `json:"text"`
}

// =============================================================================
// DISPLAY MESSAGE
// =============================================================================

// DisplayMessage is the sanitized result of one assistant turn, ready for rendering.
type DisplayMessage struct {
	Text          string         `json:"text"`
	Events        []EventEntity  `json:"events"`
	HasMoreEvents bool           `json:"hasMoreEvents"`
	Places        []PlaceEntity  `json:"places"`
	MapQuery      string         `json:"mapQuery,omitempty"`
	DocumentLink  *DocumentLink  `json:"documentLink,omitempty"`
	TelematicLink *TelematicLink `json:"telematicLink,omitempty"`
}

// HasStructuredContent reports whether anything besides prose survived sanitization.
func (m DisplayMessage) HasStructuredContent() bool {
	return len(m.Events) > 0 || len(m.Places) > 0 || m.MapQuery != "" ||
		m.DocumentLink != nil || m.TelematicLink != nil
}

// =============================================================================
// CALENDAR HELPERS
// =============================================================================

// ParseDay parses a YYYY-MM-DD string as a UTC calendar day.
func ParseDay(s string) (time.Time, bool) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Day truncates t to its calendar day in t's own location and returns it as UTC midnight.
// Calendar arithmetic is done in UTC so that DST shifts never move a day boundary.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// FormatDay renders a calendar day as YYYY-MM-DD.
func FormatDay(t time.Time) string {
	return t.Format(DateLayout)
}
