// Package places verifies place names against Google Places so that only real,
// locatable places reach the citizen.
package places

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"googlemaps.github.io/maps"

	"civicbot/internal/logging"
	"civicbot/internal/sanitize"
	"civicbot/internal/store"
)

var (
	_ sanitize.PlaceResolver = (*GoogleResolver)(nil)
	_ sanitize.PlaceResolver = (*CachingResolver)(nil)
)

// GoogleResolver resolves places with the Places "Find Place" endpoint.
type GoogleResolver struct {
	client   *maps.Client
	language string
}

// GoogleOptions configures NewGoogleResolver.
type GoogleOptions struct {
	APIKey   string
	Language string // e.g. "es"
	BaseURL  string // tests only
}

// NewGoogleResolver creates a resolver backed by the Places API.
func NewGoogleResolver(opts GoogleOptions) (*GoogleResolver, error) {
	if opts.APIKey == "" {
		return nil, errors.New("places API key is required")
	}
	mopts := []maps.ClientOption{maps.WithAPIKey(opts.APIKey)}
	if opts.BaseURL != "" {
		mopts = append(mopts, maps.WithBaseURL(opts.BaseURL))
	}
	c, err := maps.NewClient(mopts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return &GoogleResolver{client: c, language: opts.Language}, nil
}

// ResolvePlace returns the place id of the best candidate for hint (or name
// when hint is empty). No candidates means "not found": an empty id, nil error.
func (g *GoogleResolver) ResolvePlace(ctx context.Context, name, hint string) (string, error) {
	query := strings.TrimSpace(hint)
	if query == "" {
		query = strings.TrimSpace(name)
	}
	if query == "" {
		return "", nil
	}

	req := &maps.FindPlaceFromTextRequest{
		Input:     query,
		InputType: maps.FindPlaceFromTextInputTypeTextQuery,
		Fields:    []maps.PlaceSearchFieldMask{maps.PlaceSearchFieldMaskPlaceID},
		Language:  g.language,
	}
	resp, err := g.client.FindPlaceFromText(ctx, req)
	if err != nil {
		if strings.Contains(err.Error(), "ZERO_RESULTS") {
			return "", nil
		}
		return "", fmt.Errorf("find place %q: %w", query, err)
	}
	if len(resp.Candidates) == 0 {
		return "", nil
	}
	return resp.Candidates[0].PlaceID, nil
}

// CachingResolver consults a PlaceCache before the wrapped resolver and stores
// positive answers. Misses are never cached, so a place that starts existing
// is picked up on the next question.
type CachingResolver struct {
	next  sanitize.PlaceResolver
	cache store.PlaceCache
}

// NewCachingResolver wraps next with cache. A nil cache returns next unchanged.
func NewCachingResolver(next sanitize.PlaceResolver, cache store.PlaceCache) sanitize.PlaceResolver {
	if cache == nil {
		return next
	}
	return &CachingResolver{next: next, cache: cache}
}

func (c *CachingResolver) ResolvePlace(ctx context.Context, name, hint string) (string, error) {
	log := logging.Get(logging.CategoryPlaces)
	key := hint
	if strings.TrimSpace(key) == "" {
		key = name
	}

	id, err := c.cache.GetPlaceID(ctx, key)
	switch {
	case err == nil && id != "":
		return id, nil
	case err != nil && !errors.Is(err, store.ErrNotFound):
		log.Warn("place cache read failed for %q: %v", key, err)
	}

	id, err = c.next.ResolvePlace(ctx, name, hint)
	if err != nil || id == "" {
		return id, err
	}
	if err := c.cache.PutPlaceID(ctx, key, id); err != nil {
		log.Warn("place cache write failed for %q: %v", key, err)
	}
	return id, nil
}
