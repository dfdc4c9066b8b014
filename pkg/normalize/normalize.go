package normalize

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// ErrUnknownTable is wrapped by SchemaError when strict mode meets an undeclared table.
var ErrUnknownTable = errors.New("unknown table")

// SchemaError is a structural failure that aborts one Normalize call.
type SchemaError struct {
	Table  string
	Reason string
	Err    error
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("schema error on %s: %s", e.Table, e.Reason)
}

func (e *SchemaError) Unwrap() error { return e.Err }

// Mode selects how undeclared tables are handled.
type Mode int

const (
	// Strict rejects tables without a spec.
	Strict Mode = iota
	// Permissive infers a schema for tables without a spec.
	Permissive
)

func (m Mode) String() string {
	if m == Permissive {
		return "permissive"
	}
	return "strict"
}

// Normalizer turns raw API records into typed, deduplicated tables.
type Normalizer struct {
	Registry *Registry
	Mode     Mode
	Logger   *zap.Logger
}

// New returns a Normalizer over registry. A nil registry means every table is undeclared.
func New(registry *Registry, mode Mode, logger *zap.Logger) *Normalizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if registry == nil {
		registry = &Registry{specs: map[string]*TableSpec{}}
	}
	return &Normalizer{Registry: registry, Mode: mode, Logger: logger}
}

// Normalize converts records into the typed table named table. Input records are not
// modified. Unparseable values become nulls; only structural problems return an error.
func (n *Normalizer) Normalize(table string, records []map[string]any) (*Table, error) {
	spec, ok := n.Registry.Lookup(table)
	if !ok {
		if n.Mode == Strict {
			return nil, &SchemaError{Table: table, Reason: "no table spec declared", Err: ErrUnknownTable}
		}
		return Infer(table, records), nil
	}

	rows := expand(spec, records)
	cols := make([]Column, len(spec.Fields))
	for i, f := range spec.Fields {
		cols[i] = Column{Name: f.Name, Type: f.Type}
	}
	out := Empty(spec.Name, cols, spec.PrimaryKey)
	resolver := newResolver(spec)
	for _, rec := range rows {
		raw := resolver.resolve(rec)
		for _, pk := range spec.PrimaryKey {
			switch raw[pk].(type) {
			case map[string]any, []any:
				return nil, &SchemaError{Table: table, Reason: fmt.Sprintf("primary key %q holds a composite value", pk)}
			}
		}
		row := make([]any, len(cols))
		for i, c := range cols {
			row[i] = Cast(raw[c.Name], c.Type)
		}
		out.Rows = append(out.Rows, row)
	}
	if removed := Dedup(out); removed > 0 {
		n.Logger.Debug("dropped duplicate rows",
			zap.String("table", table),
			zap.Int("removed", removed),
			zap.Int("kept", out.NumRows()),
		)
	}
	return out, nil
}

// expand applies the explode step and per-record transforms to copies of records.
func expand(spec *TableSpec, records []map[string]any) []map[string]any {
	out := make([]map[string]any, 0, len(records))
	for _, rec := range records {
		if rec == nil {
			continue
		}
		parents := []map[string]any{rec}
		if spec.Explode != nil {
			parents = spec.Explode.Apply(rec)
		}
		for _, p := range parents {
			c := cloneRecord(p)
			for _, t := range spec.Transforms {
				t.Apply(c)
			}
			out = append(out, c)
		}
	}
	return out
}

// resolver maps source keys onto canonical field names. For each field the candidates
// are tried in order: the exact canonical name, case variants of it, then aliases
// targeting it. The first non-null value wins.
type resolver struct {
	spec    *TableSpec
	aliases map[string][]string // canonical -> lowercased alias sources, sorted
}

func newResolver(spec *TableSpec) *resolver {
	r := &resolver{spec: spec, aliases: map[string][]string{}}
	for src, dst := range spec.Aliases {
		r.aliases[dst] = append(r.aliases[dst], strings.ToLower(src))
	}
	for k := range r.aliases {
		sort.Strings(r.aliases[k])
	}
	return r
}

func (r *resolver) resolve(rec map[string]any) map[string]any {
	byLower := make(map[string][]string, len(rec))
	for k := range rec {
		lk := strings.ToLower(k)
		byLower[lk] = append(byLower[lk], k)
	}
	for lk := range byLower {
		sort.Strings(byLower[lk])
	}

	out := make(map[string]any, len(r.spec.Fields))
	for _, f := range r.spec.Fields {
		if v, ok := rec[f.Name]; ok && v != nil {
			out[f.Name] = v
			continue
		}
		if v := firstNonNull(rec, byLower[strings.ToLower(f.Name)]); v != nil {
			out[f.Name] = v
			continue
		}
		for _, alias := range r.aliases[f.Name] {
			if v := firstNonNull(rec, byLower[alias]); v != nil {
				out[f.Name] = v
				break
			}
		}
	}
	return out
}

func firstNonNull(rec map[string]any, keys []string) any {
	for _, k := range keys {
		if v := rec[k]; v != nil {
			return v
		}
	}
	return nil
}
