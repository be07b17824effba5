// Package document holds the helpers used to read decoded status documents:
// decoding, numeric coercion, nested lookup and metric-name canonicalization.
//
// A document is the tree encoding/json produces: map[string]any objects,
// []any arrays and scalar leaves. Values built in Go (int, int64, uint64...)
// are accepted as well.
package document

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
)

// Object is a decoded JSON object.
type Object = map[string]any

// ErrNotObject is returned by Decode when the top-level value is not an object.
var ErrNotObject = errors.New("document: top-level value is not an object")

// Decode parses one JSON object. Numbers are kept as json.Number so 64-bit
// counters do not lose precision before the final float conversion.
func Decode(data []byte) (Object, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("document: decode: %w", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("document: trailing data after object")
	}
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, ErrNotObject
	}
	return obj, nil
}

// AsObject reports whether v is an object the walker may descend into.
// Extended-JSON numeric wrappers ({"$numberLong": "1"}) are scalars, not objects.
func AsObject(v any) (Object, bool) {
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, false
	}
	if _, wrapped := numericWrapper(obj); wrapped {
		return nil, false
	}
	return obj, true
}

// SortedKeys returns the keys of obj in lexical order.
func SortedKeys(obj Object) []string {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the size of an array or object value.
func Len(v any) (int, bool) {
	switch t := v.(type) {
	case []any:
		return len(t), true
	case map[string]any:
		return len(t), true
	case []string:
		return len(t), true
	default:
		return 0, false
	}
}

// Truthy maps a value to a boolean the way status payloads use flags:
// booleans as-is, numbers non-zero, strings "true"/"1".
func Truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		s := strings.ToLower(strings.TrimSpace(t))
		return s == "true" || s == "1"
	}
	if f, ok := ToFloat(v, false); ok {
		return f != 0
	}
	return true
}

// Describe renders a short, bounded description of v for diagnostics.
func Describe(v any) string {
	const limit = 64
	var s string
	switch t := v.(type) {
	case nil:
		return "null"
	case string:
		s = fmt.Sprintf("string %q", t)
	case bool:
		s = fmt.Sprintf("bool %v", t)
	case map[string]any:
		s = fmt.Sprintf("object with %d keys", len(t))
	case []any:
		s = fmt.Sprintf("array of %d", len(t))
	default:
		s = fmt.Sprintf("%T %v", v, v)
	}
	if len(s) > limit {
		s = s[:limit] + "..."
	}
	return s
}
