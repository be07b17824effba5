package document

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

var numericWrapperKeys = []string{"$numberLong", "$numberInt", "$numberDouble", "$numberDecimal"}

// ToFloat converts a scalar to float64. Booleans convert to 0/1 only when
// coerceBool is set. Strings are never numeric: a quoted number at a metric
// site is schema drift worth reporting.
func ToFloat(v any, coerceBool bool) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, !math.IsNaN(t)
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int8:
		return float64(t), true
	case int16:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case uint:
		return float64(t), true
	case uint8:
		return float64(t), true
	case uint16:
		return float64(t), true
	case uint32:
		return float64(t), true
	case uint64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case bool:
		if !coerceBool {
			return 0, false
		}
		if t {
			return 1, true
		}
		return 0, true
	case map[string]any:
		if raw, ok := numericWrapper(t); ok {
			return parseWrapped(raw)
		}
	}
	return 0, false
}

// numericWrapper detects MongoDB extended-JSON numbers such as
// {"$numberLong": "42"} and returns the wrapped value.
func numericWrapper(obj map[string]any) (any, bool) {
	if len(obj) != 1 {
		return nil, false
	}
	for _, key := range numericWrapperKeys {
		if raw, ok := obj[key]; ok {
			return raw, true
		}
	}
	return nil, false
}

func parseWrapped(raw any) (float64, bool) {
	switch t := raw.(type) {
	case string:
		s := strings.TrimSpace(t)
		switch s {
		case "Infinity":
			return math.Inf(1), true
		case "-Infinity":
			return math.Inf(-1), true
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(f) {
			return 0, false
		}
		return f, true
	default:
		return ToFloat(raw, false)
	}
}
