// Package store persists conversation ledgers and resolved place ids.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound is returned by PlaceCache lookups that miss or have expired.
var ErrNotFound = errors.New("store: not found")

// DefaultPlaceTTL is how long a resolved place id is trusted.
const DefaultPlaceTTL = 30 * 24 * time.Hour

// LedgerStore persists the seen-event keys of each conversation.
type LedgerStore interface {
	LoadSeenKeys(ctx context.Context, conversationID string) ([]string, error)
	AppendSeenKeys(ctx context.Context, conversationID string, keys []string) error
	ClearSeenKeys(ctx context.Context, conversationID string) error
	Close() error
}

// PlaceCache remembers successful place lookups by search query.
type PlaceCache interface {
	GetPlaceID(ctx context.Context, query string) (string, error)
	PutPlaceID(ctx context.Context, query, placeID string) error
}

// Options selects and configures a backend for Open.
type Options struct {
	Driver   string // "sqlite" (default) or "postgres"
	Path     string // sqlite database file
	DSN      string // postgres connection string
	PlaceTTL time.Duration
}

// Store is what Open returns: a ledger that is also a place cache.
type Store interface {
	LedgerStore
	PlaceCache
}

// Open creates the backend named by opts.Driver.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch strings.ToLower(opts.Driver) {
	case "", "sqlite":
		s, err := NewLocalStore(opts.Path)
		if err != nil {
			return nil, err
		}
		s.SetPlaceTTL(opts.PlaceTTL)
		return s, nil
	case "postgres", "postgresql":
		s, err := NewPostgresStore(ctx, opts.DSN)
		if err != nil {
			return nil, err
		}
		s.SetPlaceTTL(opts.PlaceTTL)
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", opts.Driver)
	}
}

// normalizeQuery is the cache key for a place search query.
func normalizeQuery(q string) string {
	return strings.Join(strings.Fields(strings.ToLower(q)), " ")
}

func dedupeKeys(keys []string) []string {
	seen := make(map[string]bool, len(keys))
	out := keys[:0:0]
	for _, k := range keys {
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	return out
}
