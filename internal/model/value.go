package model

import (
	"fmt"
	"math"
	"strconv"
)

// JSONValue is a sample value for JSON output. Non-finite values are written
// as the strings "+Inf", "-Inf" and "NaN", as in the Prometheus text format,
// since JSON numbers cannot hold them.
type JSONValue float64

func (v JSONValue) MarshalJSON() ([]byte, error) {
	f := float64(v)
	switch {
	case math.IsInf(f, 1):
		return []byte(`"+Inf"`), nil
	case math.IsInf(f, -1):
		return []byte(`"-Inf"`), nil
	case math.IsNaN(f):
		return []byte(`"NaN"`), nil
	}
	return strconv.AppendFloat(nil, f, 'g', -1, 64), nil
}

func (v *JSONValue) UnmarshalJSON(data []byte) error {
	s := string(data)
	if unquoted, err := strconv.Unquote(s); err == nil {
		s = unquoted
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("model: invalid sample value %s", data)
	}
	*v = JSONValue(f)
	return nil
}
