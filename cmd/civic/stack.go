package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"civicbot/internal/articulation"
	"civicbot/internal/config"
	"civicbot/internal/logging"
	"civicbot/internal/perception"
	"civicbot/internal/places"
	"civicbot/internal/sanitize"
	"civicbot/internal/session"
	"civicbot/internal/store"
	"civicbot/internal/usage"
)

// stackOptions says which collaborators a command needs.
type stackOptions struct {
	llm     bool                  // build the Gemini client and controller
	store   bool                  // open the ledger store even without a places key
	metrics prometheus.Registerer // nil = no metrics
}

// stack is everything a command may use, built from the config.
type stack struct {
	recorder   usage.Recorder
	extractor  *articulation.Extractor
	sanitizer  *sanitize.Sanitizer
	store      store.Store
	controller *session.Controller
}

func buildStack(ctx context.Context, c *config.Config, opts stackOptions) (*stack, error) {
	log := logging.Get(logging.CategoryBoot)
	if err := c.ValidateOffline(); err != nil {
		return nil, err
	}
	s := &stack{recorder: usage.Nop{}}

	if opts.metrics != nil {
		rec, err := usage.NewPrometheusRecorder(opts.metrics)
		if err != nil {
			return nil, err
		}
		s.recorder = rec
	}
	s.extractor = articulation.NewExtractor(s.recorder)

	if opts.store || c.Places.APIKey != "" {
		st, err := store.Open(ctx, store.Options{
			Driver:   c.Store.Driver,
			Path:     c.Store.Path,
			DSN:      c.Store.DSN,
			PlaceTTL: c.GetPlaceCacheTTL(),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open store: %w", err)
		}
		s.store = st
	}

	var resolver sanitize.PlaceResolver
	if c.Places.APIKey != "" {
		g, err := places.NewGoogleResolver(places.GoogleOptions{APIKey: c.Places.APIKey, Language: c.City.Language})
		if err != nil {
			s.Close()
			return nil, err
		}
		resolver = places.NewCachingResolver(g, s.store)
	} else {
		log.Warn("no places API key: place cards without a placeId will be dropped")
	}

	loc, _ := c.Location()
	s.sanitizer = sanitize.New(sanitize.Options{
		Location:       loc,
		Year:           c.Events.Year,
		MaxDisplay:     c.Events.MaxDisplay,
		DropPast:       c.Events.DropPast,
		Locality:       c.City.Locality,
		Resolver:       resolver,
		ResolveTimeout: c.GetPlacesTimeout(),
		Recorder:       s.recorder,
	})

	if opts.llm {
		if err := c.Validate(); err != nil {
			s.Close()
			return nil, err
		}
		llm, err := perception.NewGeminiClient(ctx, perception.GeminiConfig{
			APIKey:             c.LLM.APIKey,
			Model:              c.LLM.Model,
			Temperature:        c.LLM.Temperature,
			EnableGoogleSearch: c.LLM.EnableGoogleSearch,
		})
		if err != nil {
			s.Close()
			return nil, err
		}
		log.Info("answering with %s", llm.Model())
		var ledgers store.LedgerStore
		if s.store != nil {
			ledgers = s.store
		}
		s.controller = session.NewController(llm, s.extractor, s.sanitizer, ledgers, session.Config{
			CityName:    c.City.Name,
			Locality:    c.City.Locality,
			Language:    c.City.Language,
			MaxEvents:   c.Events.MaxDisplay,
			Documents:   c.Documents,
			TurnTimeout: c.GetLLMTimeout(),
		})
	}
	return s, nil
}

// Close releases the store, if one was opened.
func (s *stack) Close() {
	if s.store == nil {
		return
	}
	if err := s.store.Close(); err != nil {
		logging.Get(logging.CategoryStore).Warn("failed to close store: %v", err)
	}
}
