package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var _ Store = (*PostgresStore)(nil)

// PostgresStore is the shared-server backend, for deployments running more
// than one replica of the HTTP server.
type PostgresStore struct {
	pool     *pgxpool.Pool
	placeTTL time.Duration
}

// NewPostgresStore connects to dsn and ensures the schema exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, errors.New("postgres store requires a DSN")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("creating postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	s := &PostgresStore{pool: pool, placeTTL: DefaultPlaceTTL}
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// EnsureSchema creates the tables if they do not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS seen_events (
    conversation_id TEXT NOT NULL,
    event_key       TEXT NOT NULL,
    created_at      TIMESTAMPTZ DEFAULT now(),
    PRIMARY KEY (conversation_id, event_key)
);

CREATE TABLE IF NOT EXISTS place_cache (
    query       TEXT PRIMARY KEY,
    place_id    TEXT NOT NULL,
    resolved_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("ensuring schema: %w", err)
	}
	return nil
}

// SetPlaceTTL changes how long cached place ids stay valid. <= 0 restores the default.
func (s *PostgresStore) SetPlaceTTL(ttl time.Duration) {
	if ttl <= 0 {
		ttl = DefaultPlaceTTL
	}
	s.placeTTL = ttl
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) LoadSeenKeys(ctx context.Context, conversationID string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT event_key FROM seen_events WHERE conversation_id = $1 ORDER BY event_key`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("loading seen keys: %w", err)
	}
	keys, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scanning seen keys: %w", err)
	}
	return keys, nil
}

func (s *PostgresStore) AppendSeenKeys(ctx context.Context, conversationID string, keys []string) error {
	keys = dedupeKeys(keys)
	if len(keys) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO seen_events (conversation_id, event_key)
SELECT $1, k FROM unnest($2::text[]) AS k
ON CONFLICT DO NOTHING`, conversationID, keys)
	if err != nil {
		return fmt.Errorf("appending seen keys: %w", err)
	}
	return nil
}

func (s *PostgresStore) ClearSeenKeys(ctx context.Context, conversationID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM seen_events WHERE conversation_id = $1`, conversationID); err != nil {
		return fmt.Errorf("clearing seen keys: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPlaceID(ctx context.Context, query string) (string, error) {
	var id string
	err := s.pool.QueryRow(ctx,
		`SELECT place_id FROM place_cache WHERE query = $1 AND resolved_at > $2`,
		normalizeQuery(query), time.Now().Add(-s.placeTTL)).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("reading place cache: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) PutPlaceID(ctx context.Context, query, placeID string) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO place_cache (query, place_id, resolved_at) VALUES ($1, $2, now())
ON CONFLICT (query) DO UPDATE SET place_id = EXCLUDED.place_id, resolved_at = EXCLUDED.resolved_at`,
		normalizeQuery(query), placeID)
	if err != nil {
		return fmt.Errorf("writing place cache: %w", err)
	}
	return nil
}
