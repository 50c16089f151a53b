package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"civicbot/internal/logging"

	_ "modernc.org/sqlite"
)

var _ Store = (*LocalStore)(nil)

// LocalStore keeps ledgers and the place cache in a single SQLite file.
type LocalStore struct {
	db       *sql.DB
	dbPath   string
	placeTTL time.Duration
	now      func() time.Time
}

// NewLocalStore initializes the SQLite database at the given path.
// ":memory:" gives a throwaway database.
func NewLocalStore(path string) (*LocalStore, error) {
	log := logging.Get(logging.CategoryStore)
	log.Info("Initializing LocalStore at path: %s", path)

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: keeps ":memory:" a single database and serializes writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		log.Debug("Failed to set sqlite busy_timeout: %v", err)
	}
	if path != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
			log.Debug("Failed to set sqlite journal_mode=WAL: %v", err)
		}
	}

	store := &LocalStore{db: db, dbPath: path, placeTTL: DefaultPlaceTTL, now: time.Now}
	if err := store.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// initialize creates the required tables.
func (s *LocalStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS seen_events (
		conversation_id TEXT NOT NULL,
		event_key TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (conversation_id, event_key)
	);

	CREATE TABLE IF NOT EXISTS place_cache (
		query TEXT PRIMARY KEY,
		place_id TEXT NOT NULL,
		resolved_at INTEGER NOT NULL
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// SetPlaceTTL changes how long cached place ids stay valid. <= 0 restores the default.
func (s *LocalStore) SetPlaceTTL(ttl time.Duration) {
	if ttl <= 0 {
		ttl = DefaultPlaceTTL
	}
	s.placeTTL = ttl
}

// Path returns the database path.
func (s *LocalStore) Path() string { return s.dbPath }

// Close closes the database.
func (s *LocalStore) Close() error { return s.db.Close() }

// =============================================================================
// LEDGER
// =============================================================================

func (s *LocalStore) LoadSeenKeys(ctx context.Context, conversationID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT event_key FROM seen_events WHERE conversation_id = ? ORDER BY event_key`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load seen keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("failed to scan seen key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (s *LocalStore) AppendSeenKeys(ctx context.Context, conversationID string, keys []string) error {
	keys = dedupeKeys(keys)
	if len(keys) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO seen_events (conversation_id, event_key) VALUES (?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, k := range keys {
		if _, err := stmt.ExecContext(ctx, conversationID, k); err != nil {
			return fmt.Errorf("failed to append seen key %q: %w", k, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit seen keys: %w", err)
	}
	return nil
}

func (s *LocalStore) ClearSeenKeys(ctx context.Context, conversationID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM seen_events WHERE conversation_id = ?`, conversationID); err != nil {
		return fmt.Errorf("failed to clear seen keys: %w", err)
	}
	return nil
}

// =============================================================================
// PLACE CACHE
// =============================================================================

func (s *LocalStore) GetPlaceID(ctx context.Context, query string) (string, error) {
	var (
		id         string
		resolvedAt int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT place_id, resolved_at FROM place_cache WHERE query = ?`, normalizeQuery(query)).Scan(&id, &resolvedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to read place cache: %w", err)
	}
	if s.now().Sub(time.Unix(resolvedAt, 0)) > s.placeTTL {
		return "", ErrNotFound
	}
	return id, nil
}

func (s *LocalStore) PutPlaceID(ctx context.Context, query, placeID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO place_cache (query, place_id, resolved_at) VALUES (?, ?, ?)
		ON CONFLICT(query) DO UPDATE SET place_id = excluded.place_id, resolved_at = excluded.resolved_at`,
		normalizeQuery(query), placeID, s.now().Unix())
	if err != nil {
		return fmt.Errorf("failed to write place cache: %w", err)
	}
	return nil
}
