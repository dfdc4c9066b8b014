package normalize

// Column is a typed output column.
type Column struct {
	Name string
	Type Type
}

// Table is a column-typed row set. Every cell is nil or the Go type matching its column:
// int64, float64, bool, string or time.Time (UTC).
type Table struct {
	Name       string
	Columns    []Column
	PrimaryKey []string
	Rows       [][]any
}

// NumRows returns the number of rows.
func (t *Table) NumRows() int { return len(t.Rows) }

// ColumnIndex returns the position of name, or -1.
func (t *Table) ColumnIndex(name string) int {
	for i, c := range t.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// Column returns every value of the named column, or nil when it does not exist.
func (t *Table) Column(name string) []any {
	idx := t.ColumnIndex(name)
	if idx < 0 {
		return nil
	}
	out := make([]any, len(t.Rows))
	for i, row := range t.Rows {
		out[i] = row[idx]
	}
	return out
}

// Int64s returns the non-null values of an Int column.
func (t *Table) Int64s(name string) []int64 {
	var out []int64
	for _, v := range t.Column(name) {
		if n, ok := v.(int64); ok {
			out = append(out, n)
		}
	}
	return out
}

// Record returns row i as a map keyed by column name.
func (t *Table) Record(i int) map[string]any {
	out := make(map[string]any, len(t.Columns))
	for j, c := range t.Columns {
		out[c.Name] = t.Rows[i][j]
	}
	return out
}

// Empty returns a zero-row table with the given columns.
func Empty(name string, cols []Column, pk []string) *Table {
	return &Table{Name: name, Columns: cols, PrimaryKey: pk, Rows: [][]any{}}
}

// Concat appends the rows of tables into one table. Columns are the union in order of
// first appearance; a column missing from a table is null-filled for its rows. The
// primary key is taken from the first table that declares one.
func Concat(name string, tables ...*Table) *Table {
	var cols []Column
	index := map[string]int{}
	var pk []string
	for _, t := range tables {
		if t == nil {
			continue
		}
		if pk == nil && len(t.PrimaryKey) > 0 {
			pk = t.PrimaryKey
		}
		for _, c := range t.Columns {
			if _, ok := index[c.Name]; !ok {
				index[c.Name] = len(cols)
				cols = append(cols, c)
			}
		}
	}
	out := Empty(name, cols, pk)
	for _, t := range tables {
		if t == nil {
			continue
		}
		pos := make([]int, len(t.Columns))
		for i, c := range t.Columns {
			pos[i] = index[c.Name]
		}
		for _, row := range t.Rows {
			merged := make([]any, len(cols))
			for i, v := range row {
				if v != nil && cols[pos[i]].Type != t.Columns[i].Type {
					v = Cast(v, cols[pos[i]].Type)
				}
				merged[pos[i]] = v
			}
			out.Rows = append(out.Rows, merged)
		}
	}
	return out
}
