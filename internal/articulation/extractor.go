package articulation

import (
	"fmt"
	"strings"
	"sync"

	"civicbot/internal/logging"
	"civicbot/internal/types"
	"civicbot/internal/usage"
)

// =============================================================================
// MARKER EXTRACTOR - model text -> prose + structured entities
// =============================================================================
// Every marker family is extracted independently. A malformed payload skips
// only its own occurrence; its span is still removed from the prose.

// Extraction is the output of one Extract call.
type Extraction struct {
	// DisplayText is the model prose with every marker span removed.
	DisplayText string

	Events        []types.EventEntity
	Places        []types.PlaceEntity
	MapQuery      string
	DocumentLink  *types.DocumentLink
	TelematicLink *types.TelematicLink

	// Warnings describe skipped occurrences (for logs and debugging, never for the user).
	Warnings []string

	RawResponse string
}

// ProcessorStats tracks extraction statistics for monitoring.
type ProcessorStats struct {
	TotalProcessed    int
	EventsExtracted   int
	PlacesExtracted   int
	MalformedPayloads int
	MissingFields     int
	UnknownDocuments  int
}

// Extractor pulls marker payloads out of model output.
// It is safe for concurrent use.
type Extractor struct {
	recorder usage.Recorder

	mu    sync.Mutex
	stats ProcessorStats
}

// NewExtractor creates an Extractor reporting to recorder (nil = discard).
func NewExtractor(recorder usage.Recorder) *Extractor {
	return &Extractor{recorder: usage.OrNop(recorder)}
}

// Extract scans raw for all marker families. docs is the list of uploaded
// documents a document-link marker may name.
func (e *Extractor) Extract(raw string, docs []types.KnownDocument) *Extraction {
	log := logging.Get(logging.CategoryArticulation)
	result := &Extraction{RawResponse: raw}
	var local ProcessorStats
	local.TotalProcessed = 1

	text := raw

	// Document link first: it only counts when it ends the original message.
	if loc := documentLinkPattern.FindStringSubmatchIndex(text); loc != nil {
		name := strings.TrimSpace(text[loc[2]:loc[3]])
		text = text[:loc[0]] + text[loc[1]:]
		if doc, ok := lookupDocument(docs, name); ok {
			result.DocumentLink = &types.DocumentLink{Name: doc.ProcedureName, FileRef: doc.FileRef}
			e.recorder.Extracted(usage.FamilyDocument)
		} else {
			local.UnknownDocuments++
			e.recorder.Dropped(usage.FamilyDocument, usage.ReasonUnverifiable)
			log.Warn("document link names unknown procedure %q, dropping", name)
			result.Warnings = append(result.Warnings, fmt.Sprintf("unknown document %q", name))
		}
	}

	events := ScanPayloads(text, eventScanner, validateEvent)
	for _, occ := range events {
		if e.accept(usage.FamilyEvent, occ.Outcome, occ.Err, occ.Span, &local, result) {
			result.Events = append(result.Events, occ.Value)
			local.EventsExtracted++
		}
	}
	text = removeSpans(text, spansOf(events))

	places := ScanPayloads(text, placeScanner, validatePlace)
	for _, occ := range places {
		if e.accept(usage.FamilyPlace, occ.Outcome, occ.Err, occ.Span, &local, result) {
			result.Places = append(result.Places, occ.Value)
			local.PlacesExtracted++
		}
	}
	text = removeSpans(text, spansOf(places))

	links := ScanPayloads(text, telematicScanner, validateTelematic)
	for _, occ := range links {
		if !e.accept(usage.FamilyTelematic, occ.Outcome, occ.Err, occ.Span, &local, result) {
			continue
		}
		if result.TelematicLink == nil {
			link := occ.Value
			result.TelematicLink = &link
		}
	}
	text = removeSpans(text, spansOf(links))

	if first, ok := mapScanner.First(text); ok {
		if q := strings.TrimSpace(first.Payload); q != "" {
			result.MapQuery = q
			e.recorder.Extracted(usage.FamilyMap)
		}
		text = removeSpans(text, mapScanner.Scan(text))
	}

	result.DisplayText = tidyDisplayText(text)

	e.mu.Lock()
	e.stats.TotalProcessed += local.TotalProcessed
	e.stats.EventsExtracted += local.EventsExtracted
	e.stats.PlacesExtracted += local.PlacesExtracted
	e.stats.MalformedPayloads += local.MalformedPayloads
	e.stats.MissingFields += local.MissingFields
	e.stats.UnknownDocuments += local.UnknownDocuments
	e.mu.Unlock()

	log.Debug("extracted events=%d places=%d map=%t doc=%t link=%t warnings=%d",
		len(result.Events), len(result.Places), result.MapQuery != "",
		result.DocumentLink != nil, result.TelematicLink != nil, len(result.Warnings))

	return result
}

// accept records the outcome of one occurrence and reports whether its value should be kept.
func (e *Extractor) accept(family string, outcome Outcome, err error, sp Span, local *ProcessorStats, result *Extraction) bool {
	switch outcome {
	case OutcomeOK:
		e.recorder.Extracted(family)
		return true
	case OutcomeMalformed:
		local.MalformedPayloads++
		e.recorder.Dropped(family, usage.ReasonMalformed)
	case OutcomeMissingFields:
		local.MissingFields++
		e.recorder.Dropped(family, usage.ReasonMissingFields)
	}
	logging.Get(logging.CategoryArticulation).Warn("skipping %s payload at %d (%s): %v: %s",
		family, sp.Start, outcome, err, snippet(sp.Payload))
	result.Warnings = append(result.Warnings, fmt.Sprintf("%s payload at offset %d: %s", family, sp.Start, outcome))
	return false
}

// GetStats returns current extraction statistics.
func (e *Extractor) GetStats() ProcessorStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

// =============================================================================
// VALIDATION
// =============================================================================

func validateEvent(ev *types.EventEntity) error {
	ev.Title = strings.TrimSpace(ev.Title)
	ev.Date = strings.TrimSpace(ev.Date)
	ev.EndDate = strings.TrimSpace(ev.EndDate)
	ev.Time = strings.TrimSpace(ev.Time)
	ev.Location = strings.TrimSpace(ev.Location)
	ev.SourceURL = strings.TrimSpace(ev.SourceURL)
	ev.SourceTitle = strings.TrimSpace(ev.SourceTitle)
	if ev.Title == "" || ev.Date == "" {
		return fmt.Errorf("%w: title and date", errMissingFields)
	}
	return nil
}

func validatePlace(p *types.PlaceEntity) error {
	p.Name = strings.TrimSpace(p.Name)
	p.PlaceID = strings.TrimSpace(p.PlaceID)
	p.SearchQuery = strings.TrimSpace(p.SearchQuery)
	if p.PlaceID == "" && p.SearchQuery == "" {
		return fmt.Errorf("%w: placeId or searchQuery", errMissingFields)
	}
	if p.Name == "" {
		p.Name = p.SearchQuery
	}
	return nil
}

func validateTelematic(l *types.TelematicLink) error {
	l.URL = strings.TrimSpace(l.URL)
	l.Text = strings.TrimSpace(l.Text)
	if l.URL == "" || l.Text == "" {
		return fmt.Errorf("%w: url and text", errMissingFields)
	}
	return nil
}

func lookupDocument(docs []types.KnownDocument, name string) (types.KnownDocument, bool) {
	for _, d := range docs {
		if d.ProcedureName == name {
			return d, true
		}
	}
	return types.KnownDocument{}, false
}

func spansOf[T any](occs []Occurrence[T]) []Span {
	spans := make([]Span, len(occs))
	for i, o := range occs {
		spans[i] = o.Span
	}
	return spans
}

func snippet(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 120 {
		return s[:120] + "..."
	}
	return s
}
