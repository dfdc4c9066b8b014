package normalize

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// Cast converts a loosely-typed value into the Go representation of t. Values that do
// not parse become nil; Cast never fails.
func Cast(v any, t Type) any {
	if v == nil {
		return nil
	}
	switch t {
	case Int:
		return castInt(v)
	case Float:
		return castFloat(v)
	case Bool:
		return castBool(v)
	case Timestamp:
		return castTimestamp(v)
	default:
		return castString(v)
	}
}

func castInt(v any) any {
	switch n := v.(type) {
	case bool:
		return nil
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case int64:
		return n
	case uint32:
		return int64(n)
	case float32:
		return wholeFloat(float64(n))
	case float64:
		return wholeFloat(n)
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i
		}
		if f, err := n.Float64(); err == nil {
			return wholeFloat(f)
		}
		return nil
	case string:
		s := strings.TrimSpace(n)
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i
		}
		return nil
	}
	return nil
}

func wholeFloat(f float64) any {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return nil
	}
	if f > math.MaxInt64 || f < math.MinInt64 {
		return nil
	}
	return int64(f)
}

func castFloat(v any) any {
	var f float64
	switch n := v.(type) {
	case bool:
		return nil
	case int:
		f = float64(n)
	case int32:
		f = float64(n)
	case int64:
		f = float64(n)
	case float32:
		f = float64(n)
	case float64:
		f = n
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return nil
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return nil
		}
		f = parsed
	default:
		return nil
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return f
}

func castBool(v any) any {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		switch strings.ToLower(strings.TrimSpace(b)) {
		case "true", "t", "yes", "y", "1":
			return true
		case "false", "f", "no", "n", "0":
			return false
		}
		return nil
	}
	switch n := castFloat(v).(type) {
	case float64:
		if n == 1 {
			return true
		}
		if n == 0 {
			return false
		}
	}
	return nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

func castTimestamp(v any) any {
	switch t := v.(type) {
	case time.Time:
		return t.UTC().Truncate(time.Microsecond)
	case string:
		s := strings.TrimSpace(t)
		for _, layout := range timestampLayouts {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts.UTC().Truncate(time.Microsecond)
			}
		}
	}
	return nil
}

func castString(v any) any {
	switch s := v.(type) {
	case string:
		trimmed := strings.TrimSpace(s)
		if trimmed != "" && (trimmed[0] == '{' || trimmed[0] == '[') {
			if parsed, ok := parseStructured(trimmed); ok {
				if txt, ok := jsonText(parsed); ok {
					return txt
				}
			}
		}
		return s
	case bool:
		return strconv.FormatBool(s)
	case json.Number:
		return s.String()
	case int:
		return strconv.Itoa(s)
	case int64:
		return strconv.FormatInt(s, 10)
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case time.Time:
		return s.UTC().Format(time.RFC3339Nano)
	case map[string]any, []any:
		if txt, ok := jsonText(s); ok {
			return txt
		}
	}
	return nil
}
