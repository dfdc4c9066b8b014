package catalog

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/courtside-data/cbbdx/pkg/normalize"
)

// fakeConn emulates the system tables of a ClickHouse server for registered tables.
type fakeConn struct {
	tables  map[string]TableRow
	columns map[string][]ColumnRow
	execs   []string
	selects int
	failOn  string
}

func newFakeConn() *fakeConn {
	return &fakeConn{tables: map[string]TableRow{}, columns: map[string][]ColumnRow{}}
}

func (f *fakeConn) Exec(_ context.Context, query string, _ ...interface{}) error {
	if f.failOn != "" && strings.Contains(query, f.failOn) {
		return errors.New("boom")
	}
	f.execs = append(f.execs, query)
	if !strings.Contains(query, "TABLE") {
		return nil
	}
	// parse back what ddl() produced
	name := query[strings.Index(query, "`.`")+3:]
	name = name[:strings.Index(name, "`")]
	db := query[strings.Index(query, "`")+1 : strings.Index(query, "`.`")]
	body := query[strings.Index(query, "(")+1 : strings.Index(query, ") ENGINE")]
	var cols []ColumnRow
	for _, c := range strings.Split(body, ", `") {
		c = strings.TrimPrefix(c, "`")
		n, typ, _ := strings.Cut(c, "` ")
		cols = append(cols, ColumnRow{Name: n, Type: typ})
	}
	comment := query[strings.LastIndex(query, "COMMENT '")+9 : len(query)-1]
	f.tables[db+"."+name] = TableRow{EngineFull: "S3(...)", Comment: comment}
	f.columns[db+"."+name] = cols
	return nil
}

func (f *fakeConn) Select(_ context.Context, dest interface{}, _ string, args ...interface{}) error {
	f.selects++
	key := args[0].(string) + "." + args[1].(string)
	switch d := dest.(type) {
	case *[]TableRow:
		if row, ok := f.tables[key]; ok {
			*d = append(*d, row)
		}
	case *[]ColumnRow:
		*d = append(*d, f.columns[key]...)
	}
	return nil
}

func sampleDef(cols ...normalize.Column) TableDef {
	t := normalize.Empty("fct_games", cols, []string{"gameId"})
	return FromTable("cbbd", t, "s3://lake/silver/fct_games/", []string{"season", "date"})
}

func TestClickHouseEnsureIsIdempotent(t *testing.T) {
	ctx := context.Background()
	conn := newFakeConn()
	r := NewClickHouseRegistrar(conn, ClickHouseOptions{})

	require.NoError(t, r.EnsureDatabase(ctx, "cbbd"))
	def := sampleDef(
		normalize.Column{Name: "gameId", Type: normalize.Int},
		normalize.Column{Name: "startDate", Type: normalize.Timestamp},
	)

	changed, err := r.Ensure(ctx, def)
	require.NoError(t, err)
	assert.True(t, changed)
	require.Len(t, conn.execs, 2)
	assert.Contains(t, conn.execs[1], "CREATE TABLE `cbbd`.`fct_games`")
	assert.Contains(t, conn.execs[1], "'s3://lake/silver/fct_games/**/*.parquet'")

	for i := 0; i < 5; i++ {
		changed, err = r.Ensure(ctx, def)
		require.NoError(t, err)
		assert.False(t, changed)
	}
	assert.Len(t, conn.execs, 2, "identical re-registration must not issue DDL")

	def.Columns = append(def.Columns, ColumnDef{Name: "homePoints", Type: ColumnType(normalize.Int)})
	changed, err = r.Ensure(ctx, def)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Contains(t, conn.execs[2], "CREATE OR REPLACE TABLE")
}

func TestClickHouseEnsureError(t *testing.T) {
	conn := newFakeConn()
	conn.failOn = "CREATE TABLE"
	r := NewClickHouseRegistrar(conn, ClickHouseOptions{AccessKey: "ak", SecretKey: "sk"})
	_, err := r.Ensure(context.Background(), sampleDef(normalize.Column{Name: "gameId", Type: normalize.Int}))
	assert.ErrorContains(t, err, "cbbd.fct_games")
}

func TestMemoryRegistrarCountsMutations(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryRegistrar()
	def := sampleDef(normalize.Column{Name: "gameId", Type: normalize.Int})
	for i := 0; i < 3; i++ {
		_, err := m.Ensure(ctx, def)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, m.Mutations())

	def.Location = "s3://lake/silver/fct_games"
	changed, err := m.Ensure(ctx, def)
	require.NoError(t, err)
	assert.False(t, changed, "trailing slash is not a change")

	def.PartitionKeys = []string{"season", "asof"}
	changed, err = m.Ensure(ctx, def)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, 2, m.Mutations())
}

func TestCachedSkipsInner(t *testing.T) {
	ctx := context.Background()
	conn := newFakeConn()
	c := NewCached(NewClickHouseRegistrar(conn, ClickHouseOptions{}))
	def := sampleDef(normalize.Column{Name: "gameId", Type: normalize.Int})
	for i := 0; i < 4; i++ {
		_, err := c.Ensure(ctx, def)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, conn.selects)
	assert.Len(t, conn.execs, 1)
}

// TestEnsureNeverNarrows tests that a definition with fewer or narrower columns than the
// registered one causes no mutation, and a new column replaces with the union.
func TestEnsureNeverNarrows(t *testing.T) {
	ctx := context.Background()
	conn := newFakeConn()
	ch := NewClickHouseRegistrar(conn, ClickHouseOptions{})
	mem := NewMemoryRegistrar()
	cached := NewCached(NewMemoryRegistrar())

	full := sampleDef(
		normalize.Column{Name: "gameId", Type: normalize.Int},
		normalize.Column{Name: "homePoints", Type: normalize.Float},
	)
	narrow := sampleDef(
		normalize.Column{Name: "gameId", Type: normalize.Int},
		normalize.Column{Name: "homePoints", Type: normalize.Int},
	)
	subset := sampleDef(normalize.Column{Name: "gameId", Type: normalize.Int})
	wider := sampleDef(
		normalize.Column{Name: "gameId", Type: normalize.Int},
		normalize.Column{Name: "venue", Type: normalize.String},
	)

	for _, r := range []Registrar{ch, mem, cached} {
		changed, err := r.Ensure(ctx, full)
		require.NoError(t, err)
		assert.True(t, changed)
		for _, def := range []TableDef{subset, narrow, full, subset} {
			changed, err = r.Ensure(ctx, def)
			require.NoError(t, err)
			assert.False(t, changed)
		}
		changed, err = r.Ensure(ctx, wider)
		require.NoError(t, err)
		assert.True(t, changed)
	}

	require.Len(t, conn.execs, 2)
	assert.Contains(t, conn.execs[1], "CREATE OR REPLACE TABLE")
	assert.Contains(t, conn.execs[1], "`homePoints` Nullable(Float64)")
	assert.Contains(t, conn.execs[1], "`venue` Nullable(String)")

	assert.Equal(t, 2, mem.Mutations())
	def, ok := mem.Table("cbbd", "fct_games")
	require.True(t, ok)
	assert.Equal(t, []ColumnDef{
		{"gameId", "Nullable(Int64)"},
		{"homePoints", "Nullable(Float64)"},
		{"venue", "Nullable(String)"},
	}, def.Columns)
}

func TestMergeWidensConflicts(t *testing.T) {
	a := TableDef{Columns: []ColumnDef{{"x", ColumnType(normalize.Int)}, {"y", ColumnType(normalize.Bool)}}}
	b := TableDef{Columns: []ColumnDef{{"x", ColumnType(normalize.Float)}, {"y", ColumnType(normalize.Int)}}}
	m := a.Merge(b)
	assert.Equal(t, []ColumnDef{{"x", "Nullable(Float64)"}, {"y", "Nullable(String)"}}, m.Columns)
	assert.True(t, m.Covers(a))
	assert.True(t, m.Covers(b))
	assert.False(t, a.Covers(b))
}

func TestColumnTypes(t *testing.T) {
	assert.Equal(t, "Nullable(Int64)", ColumnType(normalize.Int))
	assert.Equal(t, "Nullable(Float64)", ColumnType(normalize.Float))
	assert.Equal(t, "Nullable(Bool)", ColumnType(normalize.Bool))
	assert.Equal(t, "Nullable(String)", ColumnType(normalize.String))
	assert.True(t, TableDef{Columns: []ColumnDef{{"a", "Nullable(DateTime64(6, 'UTC'))"}}}.Covers(
		TableDef{Columns: []ColumnDef{{"A", "nullable(datetime64(6,'utc'))"}}}))
}

func TestFromTableDropsPartitionColumns(t *testing.T) {
	def := sampleDef(
		normalize.Column{Name: "gameId", Type: normalize.Int},
		normalize.Column{Name: "season", Type: normalize.Int},
	)
	require.Len(t, def.Columns, 1)
	assert.Equal(t, "gameId", def.Columns[0].Name)
	assert.Equal(t, []string{"season", "date"}, def.PartitionKeys)
}

func TestCachedEnsuresDatabaseOnce(t *testing.T) {
	ctx := context.Background()
	conn := newFakeConn()
	c := NewCached(NewClickHouseRegistrar(conn, ClickHouseOptions{}))
	for i := 0; i < 3; i++ {
		require.NoError(t, c.EnsureDatabase(ctx, "cbbd"))
	}
	assert.Len(t, conn.execs, 1)
}
