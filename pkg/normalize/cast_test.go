package normalize

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCast(t *testing.T) {
	tests := []struct {
		name string
		in   any
		typ  Type
		want any
	}{
		{"int from string", "42", Int, int64(42)},
		{"int from padded string", " 42 ", Int, int64(42)},
		{"int rejects decimal string", "3.14", Int, nil},
		{"int from whole float", 3.0, Int, int64(3)},
		{"int rejects fraction", 3.5, Int, nil},
		{"int rejects bool", true, Int, nil},
		{"int from json number", json.Number("17"), Int, int64(17)},
		{"int from whole json float", json.Number("17.0"), Int, int64(17)},
		{"int from garbage", "abc", Int, nil},
		{"float from string", "1e3", Float, 1000.0},
		{"float from int", 7, Float, 7.0},
		{"float rejects NaN", "NaN", Float, nil},
		{"float rejects inf", math.Inf(1), Float, nil},
		{"float from garbage", "--", Float, nil},
		{"bool yes", "yes", Bool, true},
		{"bool N", "N", Bool, false},
		{"bool TRUE", "TRUE", Bool, true},
		{"bool one", 1, Bool, true},
		{"bool zero", json.Number("0"), Bool, false},
		{"bool two", 2, Bool, nil},
		{"bool maybe", "maybe", Bool, nil},
		{"string from bool", false, String, "false"},
		{"string from float", 2.5, String, "2.5"},
		{"string from map", map[string]any{"b": 1, "a": "x"}, String, `{"a":"x","b":1}`},
		{"string from python text", "{'a': None}", String, `{"a":null}`},
		{"string keeps plain text", "hello", String, "hello"},
		{"nil stays nil", nil, Int, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Cast(tt.in, tt.typ))
		})
	}
}

func TestParseStructured(t *testing.T) {
	v, ok := parseStructured("{'made': 5, 'flag': True, 'name': 'O\\'Neal'}")
	assert.True(t, ok)
	assert.Equal(t, map[string]any{"made": json.Number("5"), "flag": true, "name": "O'Neal"}, v)

	v, ok = parseStructured("made=5, attempted=10")
	assert.True(t, ok)
	assert.Equal(t, map[string]any{"made": "5", "attempted": "10"}, v)

	_, ok = parseStructured("just some words")
	assert.False(t, ok)
	_, ok = parseStructured("None")
	assert.False(t, ok)
}

func TestParseType(t *testing.T) {
	for _, typ := range []Type{String, Int, Float, Bool, Timestamp} {
		got, err := ParseType(typ.String())
		assert.NoError(t, err)
		assert.Equal(t, typ, got)
	}
	_, err := ParseType("decimal")
	assert.Error(t, err)
}
