package normalize

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Dedup keeps one row per primary-key tuple. The surviving row holds the values of the
// last occurrence and sits where the key first appeared. Rows with a null key component
// are deduplicated on their whole content instead, so an identical row written twice
// collapses to one. Tables with an empty key are kept as they are. It returns the number
// of rows removed.
func Dedup(t *Table) int {
	idx, ok := keyIndex(t)
	if !ok || len(t.Rows) == 0 {
		return 0
	}

	pos := make(map[string]int, len(t.Rows))
	out := make([][]any, 0, len(t.Rows))
	for _, row := range t.Rows {
		key := rowKey(row, idx)
		if at, seen := pos[key]; seen {
			out[at] = row
			continue
		}
		pos[key] = len(out)
		out = append(out, row)
	}
	removed := len(t.Rows) - len(out)
	t.Rows = out
	return removed
}

// DuplicateKeys counts the rows Dedup would remove.
func DuplicateKeys(t *Table) int {
	idx, ok := keyIndex(t)
	if !ok {
		return 0
	}
	seen := make(map[string]struct{}, len(t.Rows))
	dups := 0
	for _, row := range t.Rows {
		key := rowKey(row, idx)
		if _, ok := seen[key]; ok {
			dups++
			continue
		}
		seen[key] = struct{}{}
	}
	return dups
}

func keyIndex(t *Table) ([]int, bool) {
	if len(t.PrimaryKey) == 0 {
		return nil, false
	}
	idx := make([]int, len(t.PrimaryKey))
	for i, pk := range t.PrimaryKey {
		if idx[i] = t.ColumnIndex(pk); idx[i] < 0 {
			return nil, false
		}
	}
	return idx, true
}

// rowKey is the key tuple when every component is set, otherwise the whole row. The two
// forms carry different prefixes and never collide.
func rowKey(row []any, idx []int) string {
	if key, ok := tupleKey(row, idx); ok {
		return "k" + key
	}
	var b strings.Builder
	b.WriteByte('r')
	for _, v := range row {
		writeComponent(&b, v)
	}
	return b.String()
}

func tupleKey(row []any, idx []int) (string, bool) {
	var b strings.Builder
	for _, j := range idx {
		if row[j] == nil {
			return "", false
		}
		writeComponent(&b, row[j])
	}
	return b.String(), true
}

// writeComponent appends <tag><len>:<text> so no value can imitate a boundary.
func writeComponent(b *strings.Builder, v any) {
	var tag byte
	var s string
	switch v := v.(type) {
	case nil:
		tag = 'n'
	case int64:
		tag, s = 'i', strconv.FormatInt(v, 10)
	case float64:
		tag, s = 'f', strconv.FormatFloat(v, 'g', -1, 64)
	case bool:
		tag, s = 'b', strconv.FormatBool(v)
	case time.Time:
		tag, s = 't', v.UTC().Format(time.RFC3339Nano)
	case string:
		tag, s = 's', v
	default:
		tag, s = 'x', fmt.Sprintf("%T:%v", v, v)
	}
	b.WriteByte(tag)
	b.WriteString(strconv.Itoa(len(s)))
	b.WriteByte(':')
	b.WriteString(s)
}
