package executor

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// Format renders a step result or aggregate for display. Lists are
// newline-joined after formatting each item; maps become sorted
// "key: value" lines, with nested maps indented one level; anything else
// is stringified.
func Format(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}

	rv := reflect.ValueOf(v)
	switch {
	case isList(rv):
		lines := make([]string, 0, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			lines = append(lines, Format(rv.Index(i).Interface()))
		}
		return strings.Join(lines, "\n")
	case isStringMap(rv):
		return formatMap(rv, "", true)
	}
	return fmt.Sprint(v)
}

func isList(rv reflect.Value) bool {
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return false
	}
	return rv.Type().Elem().Kind() != reflect.Uint8
}

func isStringMap(rv reflect.Value) bool {
	return rv.Kind() == reflect.Map && rv.Type().Key().Kind() == reflect.String
}

func formatMap(rv reflect.Value, indent string, nest bool) string {
	keys := make([]string, 0, rv.Len())
	values := make(map[string]reflect.Value, rv.Len())
	for _, k := range rv.MapKeys() {
		keys = append(keys, k.String())
		values[k.String()] = rv.MapIndex(k)
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		val := values[k]
		if val.Kind() == reflect.Interface && !val.IsNil() {
			val = val.Elem()
		}
		if nest && isStringMap(val) {
			lines = append(lines, indent+k+":")
			if val.Len() > 0 {
				lines = append(lines, formatMap(val, indent+"  ", false))
			}
			continue
		}
		lines = append(lines, fmt.Sprintf("%s%s: %v", indent, k, val.Interface()))
	}
	return strings.Join(lines, "\n")
}
