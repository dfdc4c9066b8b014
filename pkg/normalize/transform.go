package normalize

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Transform rewrites one raw record in place before alias resolution. Transforms only add
// keys; the source key they read from is left for permissive passthrough.
type Transform interface {
	Apply(rec map[string]any)
}

// ListIDs flattens a fixed-cardinality list of entities into numbered scalar columns,
// e.g. onFloor -> onfloor_player1..onfloor_player10. Elements may be bare IDs or
// objects carrying IDField.
type ListIDs struct {
	Source  string
	Prefix  string
	Count   int
	IDField string
}

func (t ListIDs) Apply(rec map[string]any) {
	v, ok := lookupCI(rec, t.Source)
	if !ok {
		return
	}
	items, ok := v.([]any)
	if !ok {
		parsed, ok := parseStructured(v)
		if !ok {
			return
		}
		if items, ok = parsed.([]any); !ok {
			return
		}
	}
	idField := t.IDField
	if idField == "" {
		idField = "id"
	}
	for i := 0; i < t.Count; i++ {
		key := fmt.Sprintf("%s%d", t.Prefix, i+1)
		if i >= len(items) {
			rec[key] = nil
			continue
		}
		switch el := items[i].(type) {
		case map[string]any:
			id, _ := lookupCI(el, idField)
			rec[key] = id
		default:
			rec[key] = el
		}
	}
}

// Pluck copies the value at a nested path to Target. Path segments address map keys
// case-insensitively or list positions by index.
type Pluck struct {
	Path   []string
	Target string
}

func (t Pluck) Apply(rec map[string]any) {
	var cur any = rec
	for _, seg := range t.Path {
		switch node := cur.(type) {
		case map[string]any:
			next, ok := lookupCI(node, seg)
			if !ok {
				return
			}
			cur = next
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(node) {
				return
			}
			cur = node[idx]
		case string:
			parsed, ok := parseStructured(node)
			if !ok {
				return
			}
			m, ok := parsed.(map[string]any)
			if !ok {
				return
			}
			next, ok := lookupCI(m, seg)
			if !ok {
				return
			}
			cur = next
		default:
			return
		}
	}
	switch cur.(type) {
	case map[string]any, []any:
		return
	}
	if _, exists := rec[t.Target]; !exists || rec[t.Target] == nil {
		rec[t.Target] = cur
	}
}

// Aggregate parses a small counted sub-record (a nested object, JSON text, Python-literal
// text or inline "k=v" text) into Prefix_<leaf> scalar columns.
type Aggregate struct {
	Source string
	Prefix string
}

func (t Aggregate) Apply(rec map[string]any) {
	v, ok := lookupCI(rec, t.Source)
	if !ok || v == nil {
		return
	}
	parsed, ok := parseStructured(v)
	if !ok {
		return
	}
	m, ok := parsed.(map[string]any)
	if !ok {
		return
	}
	leaves := map[string]any{}
	flattenLeaves(strings.ToLower(t.Prefix), m, leaves)
	for k, leaf := range leaves {
		if _, exists := rec[k]; !exists {
			rec[k] = leaf
		}
	}
}

// Explode turns a record holding a list of sub-records into one record per element.
// Scalar fields of the parent are copied onto each child unless the child defines them.
// With Rename, a parent field is copied under a different name (gameId -> gameId is the
// default identity).
type Explode struct {
	Field  string
	Rename map[string]string
	// KeepWithout keeps parents that carry no list as a single record. Otherwise they are dropped.
	KeepWithout bool
}

// Apply returns the exploded records for one parent.
func (e *Explode) Apply(rec map[string]any) []map[string]any {
	v, ok := lookupCI(rec, e.Field)
	var items []any
	if ok {
		items, _ = v.([]any)
	}
	if len(items) == 0 {
		if e.KeepWithout {
			return []map[string]any{rec}
		}
		return nil
	}
	parent := make(map[string]any, len(rec))
	for k, pv := range rec {
		if strings.EqualFold(k, e.Field) {
			continue
		}
		switch pv.(type) {
		case map[string]any, []any:
			continue
		}
		if dst, ok := e.Rename[k]; ok {
			k = dst
		}
		parent[k] = pv
	}
	out := make([]map[string]any, 0, len(items))
	for _, it := range items {
		child, ok := it.(map[string]any)
		if !ok {
			continue
		}
		merged := make(map[string]any, len(parent)+len(child))
		for k, pv := range parent {
			merged[k] = pv
		}
		for k, cv := range child {
			merged[k] = cv
		}
		out = append(out, merged)
	}
	return out
}

// lookupCI finds key in m, preferring an exact match and otherwise the first
// case-insensitive match in sorted key order.
func lookupCI(m map[string]any, key string) (any, bool) {
	if v, ok := m[key]; ok {
		return v, true
	}
	var candidates []string
	for k := range m {
		if strings.EqualFold(k, key) {
			candidates = append(candidates, k)
		}
	}
	if len(candidates) == 0 {
		return nil, false
	}
	sort.Strings(candidates)
	return m[candidates[0]], true
}
