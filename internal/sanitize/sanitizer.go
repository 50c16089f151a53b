package sanitize

import (
	"context"
	"sync"
	"time"

	"civicbot/internal/articulation"
	"civicbot/internal/types"
	"civicbot/internal/usage"
)

// Options configures a Sanitizer.
type Options struct {
	Clock          func() time.Time // nil = time.Now
	Location       *time.Location   // city time zone for "today"; nil = UTC
	Year           int              // fixed year for the year filter; 0 = the clock's year
	MaxDisplay     int
	DropPast       bool
	Locality       string
	Resolver       PlaceResolver
	ResolveTimeout time.Duration
	Recorder       usage.Recorder
}

// Sanitizer applies the event and place pipelines to one extraction.
// It holds no per-conversation state; the ledger is passed in per call.
type Sanitizer struct {
	opts Options

	mu       sync.RWMutex
	locality string
}

// Result is the sanitized message plus the ledger keys it added.
type Result struct {
	Message       types.DisplayMessage
	NewlySeenKeys []string
	Window        *Window
}

// New creates a Sanitizer.
func New(opts Options) *Sanitizer {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	opts.Recorder = usage.OrNop(opts.Recorder)
	return &Sanitizer{opts: opts, locality: opts.Locality}
}

// SetLocality replaces the locality place searches are scoped to.
func (s *Sanitizer) SetLocality(locality string) {
	s.mu.Lock()
	s.locality = locality
	s.mu.Unlock()
}

// Locality returns the current place-search locality.
func (s *Sanitizer) Locality() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.locality
}

// Today returns the current calendar day in the configured location.
func (s *Sanitizer) Today() time.Time {
	return types.Day(s.opts.Clock().In(s.opts.Location))
}

// Sanitize turns an extraction into a DisplayMessage. seen is mutated with the
// keys of every event shown; kind is the temporal phrase detected in the question.
func (s *Sanitizer) Sanitize(ctx context.Context, ex *articulation.Extraction, seen SeenSet, kind WindowKind) Result {
	today := s.Today()
	year := s.opts.Year
	if year == 0 {
		year = today.Year()
	}

	var window *Window
	if w, ok := ComputeWindow(kind, today); ok {
		window = &w
	}

	events := SanitizeEvents(ex.Events, EventConfig{
		CurrentYear: year,
		Seen:        seen,
		MaxDisplay:  s.opts.MaxDisplay,
		Window:      window,
		Today:       today,
		DropPast:    s.opts.DropPast,
		Recorder:    s.opts.Recorder,
	})

	places := SanitizePlaces(ctx, ex.Places, PlaceConfig{
		Locality: s.Locality(),
		Resolver: s.opts.Resolver,
		Timeout:  s.opts.ResolveTimeout,
		Recorder: s.opts.Recorder,
	})

	msg := types.DisplayMessage{
		Text:          ex.DisplayText,
		Events:        events.Events,
		HasMoreEvents: events.HasMore,
		Places:        places,
		MapQuery:      ex.MapQuery,
		DocumentLink:  ex.DocumentLink,
		TelematicLink: ex.TelematicLink,
	}
	if msg.Events == nil {
		msg.Events = []types.EventEntity{}
	}
	if msg.Places == nil {
		msg.Places = []types.PlaceEntity{}
	}

	return Result{Message: msg, NewlySeenKeys: events.NewlySeenKeys, Window: window}
}
