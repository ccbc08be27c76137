package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jonboulle/clockwork"

	"github.com/ecomonitor/ecomonitor/internal/envdata"
)

// PostgresStore keeps cache entries in a table so the cache survives
// restarts. Same contract as the memory store: expired entries are
// invisible to Get and reclaimed by Sweep.
type PostgresStore struct {
	db    *sql.DB
	clock clockwork.Clock
}

var _ envdata.CacheStore = (*PostgresStore)(nil)

// OpenPostgres connects, pings and ensures the cache table exists.
func OpenPostgres(ctx context.Context, dsn string, clock clockwork.Clock) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	store := NewPostgresStore(db, clock)
	if err := store.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// NewPostgresStore wraps an existing connection. Used directly in tests.
func NewPostgresStore(db *sql.DB, clock clockwork.Clock) *PostgresStore {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &PostgresStore{db: db, clock: clock}
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	const create = `CREATE TABLE IF NOT EXISTS cache_entries (
                key TEXT PRIMARY KEY,
                record JSONB NOT NULL,
                inserted_at TIMESTAMPTZ NOT NULL,
                ttl_ms BIGINT NOT NULL
        )`
	if _, err := s.db.ExecContext(ctx, create); err != nil {
		return fmt.Errorf("create cache_entries: %w", err)
	}
	return nil
}

// Get loads the entry for key. Entries past their hard TTL report as
// missing; the row is left for Sweep to reclaim.
func (s *PostgresStore) Get(ctx context.Context, key string) (envdata.CacheEntry, bool, error) {
	const query = `SELECT record, inserted_at, ttl_ms FROM cache_entries WHERE key = $1`

	var (
		raw        []byte
		insertedAt time.Time
		ttlMS      int64
	)
	err := s.db.QueryRowContext(ctx, query, key).Scan(&raw, &insertedAt, &ttlMS)
	if errors.Is(err, sql.ErrNoRows) {
		return envdata.CacheEntry{}, false, nil
	}
	if err != nil {
		return envdata.CacheEntry{}, false, fmt.Errorf("cache get: %w", err)
	}

	entry := envdata.CacheEntry{
		Key:        key,
		InsertedAt: insertedAt,
		TTL:        time.Duration(ttlMS) * time.Millisecond,
	}
	if entry.Expired(s.clock.Now()) {
		return envdata.CacheEntry{}, false, nil
	}

	var rec envdata.NormalizedRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return envdata.CacheEntry{}, false, fmt.Errorf("cache decode: %w", err)
	}
	entry.Record = &rec
	return entry, true, nil
}

// Put upserts the entry wholesale; concurrent writers follow
// last-writer-wins.
func (s *PostgresStore) Put(ctx context.Context, entry envdata.CacheEntry) error {
	raw, err := json.Marshal(entry.Record)
	if err != nil {
		return fmt.Errorf("cache encode: %w", err)
	}

	const upsert = `INSERT INTO cache_entries (key, record, inserted_at, ttl_ms)
                VALUES ($1, $2, $3, $4)
                ON CONFLICT (key) DO UPDATE
                SET record = EXCLUDED.record,
                    inserted_at = EXCLUDED.inserted_at,
                    ttl_ms = EXCLUDED.ttl_ms`

	_, err = s.db.ExecContext(ctx, upsert,
		entry.Key, raw, entry.InsertedAt, entry.TTL.Milliseconds())
	if err != nil {
		return fmt.Errorf("cache put: %w", err)
	}
	return nil
}

// Sweep deletes expired rows and reports how many went away.
func (s *PostgresStore) Sweep(ctx context.Context) (int, error) {
	const del = `DELETE FROM cache_entries
                WHERE inserted_at + make_interval(secs => ttl_ms / 1000.0) <= $1`

	res, err := s.db.ExecContext(ctx, del, s.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("cache sweep: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return int(affected), nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
