package executor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormat(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"nil", nil, ""},
		{"string", "hello", "hello"},
		{"number", 42, "42"},
		{"list", []any{"a", 1, true}, "a\n1\ntrue"},
		{"nested list", []any{"a", []string{"b", "c"}}, "a\nb\nc"},
		{"map sorted", map[string]any{"b": 2, "a": 1}, "a: 1\nb: 2"},
		{
			"nested map one level",
			map[string]any{"disk": map[string]any{"free": "10G", "deep": map[string]any{"x": 1}}, "host": "box"},
			"disk:\n  deep: map[x:1]\n  free: 10G\nhost: box",
		},
		{"string map", map[string]string{"k": "v"}, "k: v"},
		{"list of maps", []any{map[string]any{"a": 1}, map[string]any{"b": 2}}, "a: 1\nb: 2"},
		{"bytes", []byte("hi"), "[104 105]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Format(tt.in))
		})
	}
}
