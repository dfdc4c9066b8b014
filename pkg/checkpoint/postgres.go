package checkpoint

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/courtside-data/cbbdx/pkg/db/postgres"
)

const checkpointsDDL = `
CREATE TABLE IF NOT EXISTS %s (
	endpoint              TEXT        NOT NULL,
	fingerprint           TEXT        NOT NULL,
	last_completed_season INTEGER,
	last_ingested_date    TEXT,
	cursor                TEXT,
	last_success_at       TIMESTAMPTZ,
	updated_at            TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (endpoint, fingerprint)
)`

// Unsupplied fields arrive as NULL and COALESCE keeps the stored value.
const upsertSQL = `
INSERT INTO %[1]s AS c (endpoint, fingerprint, last_completed_season, last_ingested_date, cursor, last_success_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, now())
ON CONFLICT (endpoint, fingerprint) DO UPDATE SET
	last_completed_season = COALESCE(EXCLUDED.last_completed_season, c.last_completed_season),
	last_ingested_date    = COALESCE(EXCLUDED.last_ingested_date, c.last_ingested_date),
	cursor                = COALESCE(EXCLUDED.cursor, c.cursor),
	last_success_at       = COALESCE(EXCLUDED.last_success_at, c.last_success_at),
	updated_at            = now()`

const selectSQL = `
SELECT last_completed_season, last_ingested_date, cursor, last_success_at
FROM %s WHERE endpoint = $1 AND fingerprint = $2`

// PostgresStore persists checkpoints in a single table keyed by (endpoint, fingerprint).
type PostgresStore struct {
	db    postgres.Executor
	table string
	close func()
}

// NewPostgresStore wraps db. Call EnsureSchema once before first use.
func NewPostgresStore(db postgres.Executor, table string, closeFn func()) *PostgresStore {
	if table == "" {
		table = "ingest_checkpoints"
	}
	return &PostgresStore{db: db, table: pgx.Identifier{table}.Sanitize(), close: closeFn}
}

// EnsureSchema creates the checkpoint table when missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, fmt.Sprintf(checkpointsDDL, s.table)); err != nil {
		return fmt.Errorf("create %s: %w", s.table, err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, key Key) (Record, bool, error) {
	var (
		season    *int32
		date      *string
		cursor    *string
		successAt *time.Time
	)
	err := s.db.QueryRow(ctx, fmt.Sprintf(selectSQL, s.table), key.Endpoint, key.Fingerprint).
		Scan(&season, &date, &cursor, &successAt)
	if postgres.IsNoRows(err) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("%w: select %s: %v", ErrUnavailable, key, err)
	}

	rec := Record{Endpoint: key.Endpoint, Fingerprint: key.Fingerprint}
	if season != nil {
		rec.LastCompletedSeason = int(*season)
	}
	if date != nil {
		rec.LastIngestedDate = *date
	}
	if cursor != nil {
		rec.Cursor = *cursor
	}
	if successAt != nil {
		rec.LastSuccessAt = successAt.UTC()
	}
	return rec, true, nil
}

func (s *PostgresStore) Put(ctx context.Context, key Key, u Update) error {
	if u.Empty() {
		return nil
	}
	var season *int32
	if u.LastCompletedSeason != nil {
		v := int32(*u.LastCompletedSeason)
		season = &v
	}
	_, err := s.db.Exec(ctx, fmt.Sprintf(upsertSQL, s.table),
		key.Endpoint, key.Fingerprint, season, u.LastIngestedDate, u.Cursor, u.LastSuccessAt)
	if err != nil {
		return fmt.Errorf("upsert %s: %w", key, err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	if s.close != nil {
		s.close()
	}
	return nil
}
