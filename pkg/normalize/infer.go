package normalize

import (
	"encoding/json"
	"math"
	"sort"
)

// Infer builds a table from records with no declared spec. Column names are the union of
// record keys, sorted. Each column takes the narrowest type every non-null value fits:
// Bool, then Int, then Float, otherwise String. Columns holding only nulls are String.
// Inferred tables have no primary key, so rows are never deduplicated.
func Infer(name string, records []map[string]any) *Table {
	keys := map[string]struct{}{}
	for _, rec := range records {
		for k := range rec {
			keys[k] = struct{}{}
		}
	}
	names := make([]string, 0, len(keys))
	for k := range keys {
		names = append(names, k)
	}
	sort.Strings(names)

	cols := make([]Column, len(names))
	for i, n := range names {
		cols[i] = Column{Name: n, Type: inferColumn(n, records)}
	}
	t := Empty(name, cols, nil)
	for _, rec := range records {
		row := make([]any, len(cols))
		for i, c := range cols {
			row[i] = Cast(rec[c.Name], c.Type)
		}
		t.Rows = append(t.Rows, row)
	}
	return t
}

func inferColumn(name string, records []map[string]any) Type {
	allBool, allInt, allNum, seen := true, true, true, false
	for _, rec := range records {
		v := rec[name]
		if v == nil {
			continue
		}
		seen = true
		switch n := v.(type) {
		case bool:
			allInt, allNum = false, false
		case int, int32, int64:
			allBool = false
		case float64:
			allBool = false
			if n != math.Trunc(n) || math.IsInf(n, 0) || math.IsNaN(n) {
				allInt = false
			}
		case json.Number:
			allBool = false
			if _, err := n.Int64(); err != nil {
				allInt = false
				if _, err := n.Float64(); err != nil {
					allNum = false
				}
			}
		default:
			allBool, allInt, allNum = false, false, false
		}
		if !allBool && !allNum {
			break
		}
	}
	switch {
	case !seen:
		return String
	case allBool:
		return Bool
	case allInt:
		return Int
	case allNum:
		return Float
	default:
		return String
	}
}

func cloneRecord(rec map[string]any) map[string]any {
	out := make(map[string]any, len(rec))
	for k, v := range rec {
		out[k] = v
	}
	return out
}
