package checkpoint

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRow struct {
	vals []any
	err  error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	for i, d := range dest {
		switch p := d.(type) {
		case **int32:
			*p, _ = r.vals[i].(*int32)
		case **string:
			*p, _ = r.vals[i].(*string)
		case **time.Time:
			*p, _ = r.vals[i].(*time.Time)
		}
	}
	return nil
}

type fakeExec struct {
	sql  []string
	args [][]any
	row  fakeRow
}

func (f *fakeExec) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.sql = append(f.sql, sql)
	f.args = append(f.args, args)
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (f *fakeExec) QueryRow(_ context.Context, sql string, _ ...any) pgx.Row {
	f.sql = append(f.sql, sql)
	return f.row
}

func TestPostgresStorePutPassesNullsForUnsuppliedFields(t *testing.T) {
	db := &fakeExec{}
	s := NewPostgresStore(db, "", nil)
	require.NoError(t, s.EnsureSchema(context.Background()))
	require.NoError(t, s.Put(context.Background(), Key{Endpoint: "games", Fingerprint: "fp"}, Update{}.Season(2024)))

	require.Len(t, db.args, 2)
	assert.Contains(t, db.sql[0], `CREATE TABLE IF NOT EXISTS "ingest_checkpoints"`)
	assert.Contains(t, db.sql[1], "ON CONFLICT (endpoint, fingerprint) DO UPDATE")
	args := db.args[1]
	assert.Equal(t, "games", args[0])
	assert.Equal(t, int32(2024), *(args[2].(*int32)))
	assert.Nil(t, args[3])
	assert.Nil(t, args[4])
	assert.Nil(t, args[5])
}

func TestPostgresStoreGet(t *testing.T) {
	season := int32(2023)
	date := "2024-01-10"
	at := time.Date(2024, 1, 10, 5, 0, 0, 0, time.UTC)
	db := &fakeExec{row: fakeRow{vals: []any{&season, &date, (*string)(nil), &at}}}
	s := NewPostgresStore(db, "checkpoints", nil)

	rec, ok, err := s.Get(context.Background(), Key{Endpoint: "games", Fingerprint: "fp"})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2023, rec.LastCompletedSeason)
	assert.Equal(t, date, rec.LastIngestedDate)
	assert.Empty(t, rec.Cursor)
	assert.Equal(t, at, rec.LastSuccessAt)

	db.row = fakeRow{err: pgx.ErrNoRows}
	_, ok, err = s.Get(context.Background(), Key{Endpoint: "games", Fingerprint: "none"})
	require.NoError(t, err)
	assert.False(t, ok)

	db.row = fakeRow{err: errors.New("conn reset")}
	_, _, err = s.Get(context.Background(), Key{Endpoint: "games", Fingerprint: "fp"})
	assert.ErrorIs(t, err, ErrUnavailable)
}
