package catalog

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Conn is the subset of the ClickHouse client the registrar needs.
type Conn interface {
	Exec(ctx context.Context, query string, args ...interface{}) error
	Select(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

// ColumnRow is one row of system.columns.
type ColumnRow struct {
	Name string `ch:"name"`
	Type string `ch:"type"`
}

// TableRow is one row of system.tables.
type TableRow struct {
	EngineFull string `ch:"engine_full"`
	Comment    string `ch:"comment"`
}

// ClickHouseRegistrar registers lake tables as S3-engine tables.
type ClickHouseRegistrar struct {
	conn      Conn
	logger    *zap.Logger
	accessKey string
	secretKey string
}

// ClickHouseOptions carries the credentials ClickHouse uses to read the lake.
type ClickHouseOptions struct {
	AccessKey string
	SecretKey string
	Logger    *zap.Logger
}

func NewClickHouseRegistrar(conn Conn, opts ClickHouseOptions) *ClickHouseRegistrar {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ClickHouseRegistrar{conn: conn, logger: logger, accessKey: opts.AccessKey, secretKey: opts.SecretKey}
}

func (r *ClickHouseRegistrar) EnsureDatabase(ctx context.Context, name string) error {
	return r.conn.Exec(ctx, fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", quoteIdent(name)))
}

// Ensure reads the current definition from system tables and issues DDL only when it
// does not cover def. A replaced table keeps the columns it already had.
func (r *ClickHouseRegistrar) Ensure(ctx context.Context, def TableDef) (bool, error) {
	current, found, err := r.describe(ctx, def)
	if err != nil {
		return false, err
	}
	if found && current.Covers(def) {
		r.logger.Debug("catalog unchanged", zap.String("table", def.String()))
		return false, nil
	}

	verb := "CREATE TABLE"
	if found {
		verb = "CREATE OR REPLACE TABLE"
		def = current.Merge(def)
	}
	if err := r.conn.Exec(ctx, r.ddl(verb, def)); err != nil {
		return false, fmt.Errorf("register %s: %w", def, err)
	}
	r.logger.Info("catalog registered",
		zap.String("table", def.String()),
		zap.Bool("replaced", found),
		zap.Int("columns", len(def.Columns)),
	)
	return true, nil
}

func (r *ClickHouseRegistrar) describe(ctx context.Context, def TableDef) (TableDef, bool, error) {
	var tables []TableRow
	if err := r.conn.Select(ctx, &tables,
		"SELECT engine_full, comment FROM system.tables WHERE database = ? AND name = ?",
		def.Database, def.Name); err != nil {
		return TableDef{}, false, fmt.Errorf("describe %s: %w", def, err)
	}
	if len(tables) == 0 {
		return TableDef{}, false, nil
	}
	var cols []ColumnRow
	if err := r.conn.Select(ctx, &cols,
		"SELECT name, type FROM system.columns WHERE database = ? AND table = ? ORDER BY position",
		def.Database, def.Name); err != nil {
		return TableDef{}, false, fmt.Errorf("describe columns %s: %w", def, err)
	}

	current := TableDef{Database: def.Database, Name: def.Name}
	for _, c := range cols {
		current.Columns = append(current.Columns, ColumnDef{Name: c.Name, Type: c.Type})
	}
	current.Location, current.PartitionKeys = parseComment(tables[0].Comment)
	return current, true, nil
}

func (r *ClickHouseRegistrar) ddl(verb string, def TableDef) string {
	cols := make([]string, len(def.Columns))
	for i, c := range def.Columns {
		cols[i] = fmt.Sprintf("%s %s", quoteIdent(c.Name), c.Type)
	}
	source := strings.TrimRight(def.Location, "/") + "/**/*.parquet"
	var engine string
	if r.accessKey != "" {
		engine = fmt.Sprintf("S3(%s, %s, %s, 'Parquet')", quoteString(source), quoteString(r.accessKey), quoteString(r.secretKey))
	} else {
		engine = fmt.Sprintf("S3(%s, 'Parquet')", quoteString(source))
	}
	return fmt.Sprintf("%s %s.%s (%s) ENGINE = %s SETTINGS use_hive_partitioning = 1 COMMENT %s",
		verb, quoteIdent(def.Database), quoteIdent(def.Name), strings.Join(cols, ", "), engine,
		quoteString(formatComment(def.Location, def.PartitionKeys)))
}

// The comment carries what system tables cannot report back verbatim: the location
// (engine_full masks credentials) and the partition key names.
func formatComment(location string, keys []string) string {
	return fmt.Sprintf("location=%s;partition_keys=%s", strings.TrimRight(location, "/"), strings.Join(keys, ","))
}

func parseComment(comment string) (string, []string) {
	var location string
	var keys []string
	for _, part := range strings.Split(comment, ";") {
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		switch k {
		case "location":
			location = v
		case "partition_keys":
			if v != "" {
				keys = strings.Split(v, ",")
			}
		}
	}
	return location, keys
}

func quoteIdent(s string) string {
	return "`" + strings.ReplaceAll(s, "`", "``") + "`"
}

func quoteString(s string) string {
	return "'" + strings.ReplaceAll(strings.ReplaceAll(s, `\`, `\\`), "'", `\'`) + "'"
}
