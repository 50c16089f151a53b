package sanitize

import (
	"context"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"civicbot/internal/logging"
	"civicbot/internal/types"
	"civicbot/internal/usage"
)

// DefaultResolveTimeout bounds a single resolver call.
const DefaultResolveTimeout = 5 * time.Second

// defaultResolveConcurrency caps in-flight resolver calls per message.
const defaultResolveConcurrency = 4

// PlaceResolver turns a place name into a verified place identifier.
// An empty id with a nil error means "not found".
type PlaceResolver interface {
	ResolvePlace(ctx context.Context, name, hint string) (string, error)
}

// PlaceResolverFunc adapts a function to PlaceResolver.
type PlaceResolverFunc func(ctx context.Context, name, hint string) (string, error)

func (f PlaceResolverFunc) ResolvePlace(ctx context.Context, name, hint string) (string, error) {
	return f(ctx, name, hint)
}

// PlaceConfig parameterizes SanitizePlaces.
type PlaceConfig struct {
	Locality    string        // city the chat is restricted to; empty = unrestricted
	Resolver    PlaceResolver // nil drops every place without an id
	Timeout     time.Duration // per call; <= 0 means DefaultResolveTimeout
	Concurrency int           // <= 0 means 4
	Recorder    usage.Recorder
}

// SanitizePlaces scopes search queries to the locality and drops any place
// that has no id and cannot be resolved. Output order follows input order.
// Resolver failures never surface: they drop the entity.
func SanitizePlaces(ctx context.Context, raw []types.PlaceEntity, cfg PlaceConfig) []types.PlaceEntity {
	if len(raw) == 0 {
		return nil
	}
	log := logging.Get(logging.CategoryPlaces)
	rec := usage.OrNop(cfg.Recorder)

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultResolveTimeout
	}
	limit := cfg.Concurrency
	if limit <= 0 {
		limit = defaultResolveConcurrency
	}

	scoped := make([]types.PlaceEntity, len(raw))
	for i, p := range raw {
		scoped[i] = ScopeToLocality(p, cfg.Locality)
	}

	resolved := make([]string, len(scoped))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, p := range scoped {
		if p.PlaceID != "" {
			resolved[i] = p.PlaceID
			continue
		}
		if cfg.Resolver == nil {
			continue
		}
		g.Go(func() error {
			start := time.Now()
			id, err := resolveWithTimeout(gctx, cfg.Resolver, p.Name, p.SearchQuery, timeout)
			switch {
			case err != nil:
				rec.ResolverCall("error", time.Since(start))
				log.Warn("resolver failed for %q: %v", p.Name, err)
			case id == "":
				rec.ResolverCall("not_found", time.Since(start))
			default:
				rec.ResolverCall("found", time.Since(start))
				resolved[i] = id
			}
			return nil
		})
	}
	_ = g.Wait()

	out := make([]types.PlaceEntity, 0, len(scoped))
	seen := make(map[string]bool, len(scoped))
	for i, p := range scoped {
		id := resolved[i]
		if id == "" {
			log.Info("dropping unverifiable place %q (query %q)", p.Name, p.SearchQuery)
			rec.Dropped(usage.FamilyPlace, usage.ReasonUnverifiable)
			continue
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		p.PlaceID = id
		out = append(out, p)
	}
	return out
}

// ScopeToLocality rewrites the search query to "<name>, <locality>" unless it
// already mentions the locality (case-insensitive).
func ScopeToLocality(p types.PlaceEntity, locality string) types.PlaceEntity {
	locality = strings.TrimSpace(locality)
	if locality == "" {
		return p
	}
	if strings.Contains(strings.ToLower(p.SearchQuery), strings.ToLower(locality)) {
		return p
	}
	p.SearchQuery = p.Name + ", " + locality
	return p
}

// resolveWithTimeout returns when the resolver answers or the timeout fires,
// whichever comes first, even if the resolver ignores its context.
func resolveWithTimeout(ctx context.Context, r PlaceResolver, name, hint string, timeout time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type answer struct {
		id  string
		err error
	}
	ch := make(chan answer, 1)
	go func() {
		id, err := r.ResolvePlace(ctx, name, hint)
		ch <- answer{id: strings.TrimSpace(id), err: err}
	}()

	select {
	case a := <-ch:
		return a.id, a.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
