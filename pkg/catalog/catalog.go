package catalog

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/courtside-data/cbbdx/pkg/normalize"
)

// ColumnDef is one catalog column.
type ColumnDef struct {
	Name string
	Type string
}

// TableDef describes an external table over a typed lake table.
type TableDef struct {
	Database      string
	Name          string
	Location      string
	Columns       []ColumnDef
	PartitionKeys []string
}

// Registrar makes the catalog cover a TableDef. Ensure must not touch the catalog when
// the registered definition already covers def; otherwise it registers the merge of both,
// so a batch carrying fewer columns never narrows the table. changed reports whether it
// touched the catalog.
type Registrar interface {
	EnsureDatabase(ctx context.Context, name string) error
	Ensure(ctx context.Context, def TableDef) (changed bool, err error)
}

// ColumnType maps a semantic column type to its ClickHouse type.
func ColumnType(t normalize.Type) string {
	switch t {
	case normalize.Int:
		return "Nullable(Int64)"
	case normalize.Float:
		return "Nullable(Float64)"
	case normalize.Bool:
		return "Nullable(Bool)"
	case normalize.Timestamp:
		return "Nullable(DateTime64(6, 'UTC'))"
	default:
		return "Nullable(String)"
	}
}

// FromTable builds the definition of t stored at location. Columns that share a name
// with a partition key are left out; the partition directories supply them.
func FromTable(database string, t *normalize.Table, location string, partitionKeys []string) TableDef {
	cols := make([]ColumnDef, 0, len(t.Columns))
	for _, c := range t.Columns {
		if slices.Contains(partitionKeys, c.Name) {
			continue
		}
		cols = append(cols, ColumnDef{Name: c.Name, Type: ColumnType(c.Type)})
	}
	return TableDef{
		Database:      database,
		Name:          t.Name,
		Location:      location,
		Columns:       cols,
		PartitionKeys: partitionKeys,
	}
}

// Covers reports whether d already describes other: same location and partition keys,
// and every column of other present in d with the same or a wider type.
func (d TableDef) Covers(other TableDef) bool {
	if !strings.EqualFold(d.Name, other.Name) || !strings.EqualFold(d.Database, other.Database) {
		return false
	}
	if strings.TrimRight(d.Location, "/") != strings.TrimRight(other.Location, "/") {
		return false
	}
	if !slices.EqualFunc(d.PartitionKeys, other.PartitionKeys, strings.EqualFold) {
		return false
	}
	for _, c := range other.Columns {
		i := d.column(c.Name)
		if i < 0 || !sameType(widen(d.Columns[i].Type, c.Type), d.Columns[i].Type) {
			return false
		}
	}
	return true
}

// Merge returns d extended to cover other. Columns only other has are appended, a column
// typed differently in both is widened, and location and partition keys come from other.
func (d TableDef) Merge(other TableDef) TableDef {
	out := TableDef{
		Database:      other.Database,
		Name:          other.Name,
		Location:      other.Location,
		PartitionKeys: other.PartitionKeys,
		Columns:       slices.Clone(d.Columns),
	}
	for _, c := range other.Columns {
		if i := out.column(c.Name); i >= 0 {
			out.Columns[i].Type = widen(out.Columns[i].Type, c.Type)
			continue
		}
		out.Columns = append(out.Columns, c)
	}
	return out
}

func (d TableDef) column(name string) int {
	return slices.IndexFunc(d.Columns, func(c ColumnDef) bool { return strings.EqualFold(c.Name, name) })
}

// widen picks a type able to hold values of both a and b: Float64 for an Int64/Float64
// pair, String for any other disagreement.
func widen(a, b string) string {
	if sameType(a, b) {
		return a
	}
	intType, floatType := ColumnType(normalize.Int), ColumnType(normalize.Float)
	numeric := func(t string) bool { return sameType(t, intType) || sameType(t, floatType) }
	if numeric(a) && numeric(b) {
		return floatType
	}
	return ColumnType(normalize.String)
}

func sameType(a, b string) bool {
	return strings.EqualFold(normType(a), normType(b))
}

func normType(t string) string {
	return strings.ReplaceAll(t, " ", "")
}

func (d TableDef) String() string {
	return fmt.Sprintf("%s.%s", d.Database, d.Name)
}
