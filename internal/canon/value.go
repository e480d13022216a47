// Package canon implements RFC 8785 canonical JSON over a small, closed set
// of value types, used anywhere bsky-store needs a content-addressed,
// byte-stable encoding: filter signatures, sync source keys, and checkpoint
// identity.
package canon

import (
	"encoding/json"
	"fmt"
	"slices"
	"unicode/utf16"
)

// Value is a sealed interface over the JSON value types canonical encoding
// supports. Floats and null are deliberately absent: both are sources of
// cross-platform non-determinism (float formatting, null-vs-absent
// ambiguity) that a content-addressed hash cannot tolerate.
type Value interface {
	canonValue()
}

// String is a canonical string value.
type String string

func (String) canonValue() {}

// Int is a canonical integer value, always int64.
type Int int64

func (Int) canonValue() {}

// Bool is a canonical boolean value.
type Bool bool

func (Bool) canonValue() {}

// Array is an ordered list of canonical values.
type Array []Value

func (Array) canonValue() {}

// Object is a string-keyed map of canonical values, sorted by key when encoded.
type Object map[string]Value

func (Object) canonValue() {}

// Pair is a key/value pair for building an Object with compile-time safety
// against accidentally passing a float.
type Pair struct {
	Key   string
	Value Value
}

// P is shorthand for Pair.
func P(key string, value Value) Pair { return Pair{Key: key, Value: value} }

// Obj builds an Object from pairs.
func Obj(pairs ...Pair) Object {
	obj := make(Object, len(pairs))
	for _, p := range pairs {
		obj[p.Key] = p.Value
	}
	return obj
}

// sortedKeys returns the object's keys ordered by UTF-16 code unit, per
// RFC 8785. Go's native string comparison is UTF-8 byte order, which
// diverges from RFC 8785 for any key containing characters outside the
// Basic Multilingual Plane boundary ordering - so this cannot be replaced
// with sort.Strings.
func (obj Object) sortedKeys() []string {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareUTF16)
	return keys
}

func compareUTF16(a, b string) int {
	a16 := utf16.Encode([]rune(a))
	b16 := utf16.Encode([]rune(b))
	n := min(len(a16), len(b16))
	for i := 0; i < n; i++ {
		if a16[i] != b16[i] {
			if a16[i] < b16[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a16) < len(b16):
		return -1
	case len(a16) > len(b16):
		return 1
	default:
		return 0
	}
}

// FromAny builds a Value tree from plain Go values (string, int64, int,
// bool, []Value-able slices, map[string]any). Returns an error on float or
// nil input, matching the same forbidden-value discipline as Marshal.
func FromAny(v any) (Value, error) {
	switch val := v.(type) {
	case nil:
		return nil, fmt.Errorf("canon: nil is forbidden")
	case Value:
		return val, nil
	case string:
		return String(val), nil
	case int64:
		return Int(val), nil
	case int:
		return Int(val), nil
	case uint64:
		return Int(val), nil
	case bool:
		return Bool(val), nil
	case float32, float64:
		return nil, fmt.Errorf("canon: floats are forbidden")
	case []string:
		arr := make(Array, len(val))
		for i, s := range val {
			arr[i] = String(s)
		}
		return arr, nil
	case []any:
		arr := make(Array, len(val))
		for i, elem := range val {
			cv, err := FromAny(elem)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			arr[i] = cv
		}
		return arr, nil
	case map[string]any:
		obj := make(Object, len(val))
		for k, elem := range val {
			cv, err := FromAny(elem)
			if err != nil {
				return nil, fmt.Errorf("[%q]: %w", k, err)
			}
			obj[k] = cv
		}
		return obj, nil
	default:
		return nil, fmt.Errorf("canon: unsupported type %T", v)
	}
}

// marshalJSON (non-canonical) is used only for diagnostics/debugging;
// production hashing always goes through Marshal.
func marshalJSON(v Value) ([]byte, error) {
	switch val := v.(type) {
	case String:
		return json.Marshal(string(val))
	case Int:
		return json.Marshal(int64(val))
	case Bool:
		return json.Marshal(bool(val))
	case Array:
		parts := make([]json.RawMessage, len(val))
		for i, elem := range val {
			b, err := marshalJSON(elem)
			if err != nil {
				return nil, err
			}
			parts[i] = b
		}
		return json.Marshal(parts)
	case Object:
		m := make(map[string]json.RawMessage, len(val))
		for _, k := range val.sortedKeys() {
			b, err := marshalJSON(val[k])
			if err != nil {
				return nil, err
			}
			m[k] = b
		}
		return json.Marshal(m)
	default:
		return nil, fmt.Errorf("canon: unknown value type %T", v)
	}
}
