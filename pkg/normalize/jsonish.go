package normalize

import (
	"encoding/json"
	"strings"
)

// parseStructured turns v into a map or slice when it already is one, or when it is text
// holding a JSON document, a Python-literal document ({'a': None, 'b': True}) or an inline
// "k=v, k2=v2" / "k: v; k2: v2" list. Anything else yields (nil, false).
func parseStructured(v any) (any, bool) {
	switch t := v.(type) {
	case map[string]any, []any:
		return t, true
	case string:
		raw := strings.TrimSpace(t)
		if raw == "" || raw == "None" || raw == "null" {
			return nil, false
		}
		if raw[0] == '{' || raw[0] == '[' {
			if out, ok := decodeJSON(raw); ok {
				return out, true
			}
			if out, ok := decodeJSON(pythonToJSON(raw)); ok {
				return out, true
			}
			return nil, false
		}
		if m, ok := parseInlinePairs(raw); ok {
			return m, true
		}
	}
	return nil, false
}

func decodeJSON(raw string) (any, bool) {
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, false
	}
	if dec.More() {
		return nil, false
	}
	return out, true
}

// pythonToJSON rewrites a Python literal into JSON: single-quoted strings become
// double-quoted and None/True/False outside strings become null/true/false.
func pythonToJSON(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	var quote byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		if quote != 0 {
			switch {
			case c == '\\' && i+1 < len(s):
				next := s[i+1]
				if next == '\'' {
					b.WriteByte('\'')
				} else {
					b.WriteByte(c)
					b.WriteByte(next)
				}
				i++
			case c == quote:
				b.WriteByte('"')
				quote = 0
			case c == '"':
				b.WriteString(`\"`)
			default:
				b.WriteByte(c)
			}
			continue
		}
		switch {
		case c == '\'' || c == '"':
			quote = c
			b.WriteByte('"')
		case strings.HasPrefix(s[i:], "None") && boundary(s, i, 4):
			b.WriteString("null")
			i += 3
		case strings.HasPrefix(s[i:], "True") && boundary(s, i, 4):
			b.WriteString("true")
			i += 3
		case strings.HasPrefix(s[i:], "False") && boundary(s, i, 5):
			b.WriteString("false")
			i += 4
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

func boundary(s string, i, n int) bool {
	isWord := func(c byte) bool {
		return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
	}
	if i > 0 && isWord(s[i-1]) {
		return false
	}
	return i+n >= len(s) || !isWord(s[i+n])
}

// parseInlinePairs handles "made=5, attempted=10" and "made: 5; attempted: 10".
func parseInlinePairs(raw string) (map[string]any, bool) {
	sep := ","
	if strings.Contains(raw, ";") {
		sep = ";"
	}
	parts := strings.Split(raw, sep)
	out := make(map[string]any, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		idx := strings.IndexAny(p, "=:")
		if idx <= 0 {
			return nil, false
		}
		k := strings.TrimSpace(p[:idx])
		v := strings.TrimSpace(p[idx+1:])
		if k == "" || strings.ContainsAny(k, " \t") {
			return nil, false
		}
		out[k] = strings.Trim(v, `"'`)
	}
	if len(out) == 0 {
		return nil, false
	}
	return out, true
}

// jsonText renders structured values as compact JSON with sorted keys.
func jsonText(v any) (string, bool) {
	bz, err := json.Marshal(v)
	if err != nil {
		return "", false
	}
	return string(bz), true
}

// flattenLeaves writes every scalar leaf of v into out under prefix_path (lowercase).
func flattenLeaves(prefix string, v any, out map[string]any) {
	switch t := v.(type) {
	case map[string]any:
		for k, child := range t {
			flattenLeaves(prefix+"_"+strings.ToLower(k), child, out)
		}
	case []any:
		// lists inside aggregates are not scalar counters
	default:
		out[prefix] = t
	}
}
