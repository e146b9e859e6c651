// Package jsonval provides tolerant accessors over loosely structured
// JSON trees (map[string]any / []any), the duck-typed message and
// vendor-payload shapes this module consumes. Accessors try several
// key spellings (snake_case and camelCase) since upstream producers
// are not consistent about casing.
package jsonval

import (
	"strconv"
	"strings"
)

// Map is a convenience alias for a decoded JSON object.
type Map = map[string]any

// AsMap coerces v to a Map, returning nil if it isn't one.
func AsMap(v any) Map {
	m, _ := v.(Map)
	return m
}

// Get looks up the first present key among names in m.
func Get(m Map, names ...string) any {
	if m == nil {
		return nil
	}
	for _, name := range names {
		if v, ok := m[name]; ok && v != nil {
			return v
		}
	}
	return nil
}

// GetPath walks a dotted path of maps, e.g. GetPath(body, "s3", "bucket", "name").
func GetPath(m Map, path ...string) any {
	var cur any = m
	for _, key := range path {
		asMap, ok := cur.(Map)
		if !ok {
			return nil
		}
		cur = asMap[key]
		if cur == nil {
			return nil
		}
	}
	return cur
}

// String reads a string field, trying each of names, snake_case then
// camelCase variants are expected to be passed explicitly.
func String(m Map, names ...string) (string, bool) {
	v := Get(m, names...)
	s, ok := v.(string)
	return s, ok
}

// StringOr returns the string at names, or def if absent/not a string.
func StringOr(m Map, def string, names ...string) string {
	if s, ok := String(m, names...); ok {
		return s
	}
	return def
}

// Float reads a numeric field as float64, tolerating JSON numbers,
// numeric strings, and ints.
func Float(m Map, names ...string) (float64, bool) {
	return ToFloat(Get(m, names...))
}

// ToFloat coerces an arbitrary decoded JSON value to float64.
func ToFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// FloatOr returns the float64 at names, or def if absent/not numeric.
func FloatOr(m Map, def float64, names ...string) float64 {
	if f, ok := Float(m, names...); ok {
		return f
	}
	return def
}

// Int coerces a field to int, flooring any fractional float.
func Int(m Map, names ...string) (int, bool) {
	f, ok := Float(m, names...)
	if !ok {
		return 0, false
	}
	return int(f), true
}

// IntOr returns the int at names, or def if absent/not numeric.
func IntOr(m Map, def int, names ...string) int {
	if i, ok := Int(m, names...); ok {
		return i
	}
	return def
}

// List coerces a field to a []any slice.
func List(m Map, names ...string) []any {
	v := Get(m, names...)
	l, _ := v.([]any)
	return l
}

// FloatSlice coerces a field to a []float64, skipping non-numeric entries.
func FloatSlice(v any) []float64 {
	l, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]float64, 0, len(l))
	for _, item := range l {
		if f, ok := ToFloat(item); ok {
			out = append(out, f)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// NormaliseConfidence returns the confidence value at names, defaulting
// to 1.0 when absent — vendor payloads routinely omit confidence for
// entries they are certain about.
func NormaliseConfidence(m Map, names ...string) float64 {
	if f, ok := Float(m, names...); ok {
		return f
	}
	return 1.0
}

// Clamp01 clamps f to the closed interval [0, 1].
func Clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
