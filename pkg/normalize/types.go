package normalize

import (
	"fmt"
	"strings"
)

// Type is the closed set of semantic column types.
type Type int

const (
	String Type = iota
	Int
	Float
	Bool
	Timestamp
)

func (t Type) String() string {
	switch t {
	case Int:
		return "int"
	case Float:
		return "float"
	case Bool:
		return "bool"
	case Timestamp:
		return "timestamp"
	default:
		return "string"
	}
}

// ParseType accepts the names produced by Type.String plus a few common spellings.
func ParseType(s string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "string", "str", "text":
		return String, nil
	case "int", "integer", "int64", "bigint":
		return Int, nil
	case "float", "double", "float64":
		return Float, nil
	case "bool", "boolean":
		return Bool, nil
	case "timestamp", "datetime", "time":
		return Timestamp, nil
	default:
		return String, fmt.Errorf("unknown type %q", s)
	}
}

// Field is one declared column.
type Field struct {
	Name string
	Type Type
}

// F is shorthand used by the built-in catalog.
func F(name string, t Type) Field { return Field{Name: name, Type: t} }
