// Package timestamp parses the time representations found in status
// documents and ingest envelopes.
package timestamp

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

var layouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// Parser converts timestamp values to time.Time. The zero value is usable.
type Parser struct {
	// Location applies to layouts without a zone. Nil means UTC.
	Location *time.Location
}

// NewParser returns a parser that treats zone-less times as UTC.
func NewParser() *Parser {
	return &Parser{Location: time.UTC}
}

// ParseTimestamp accepts strings (RFC 3339 and common variants, or digits),
// numbers as unix time in s/ms/us/ns picked by magnitude, and MongoDB
// extended JSON dates ({"$date": ...}).
func (p *Parser) ParseTimestamp(v any) (time.Time, bool) {
	switch t := v.(type) {
	case nil:
		return time.Time{}, false
	case string:
		return p.parseString(t)
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return time.Time{}, false
		}
		return parseUnix(f)
	case float64:
		return parseUnix(t)
	case int64:
		return parseUnix(float64(t))
	case int:
		return parseUnix(float64(t))
	case map[string]any:
		if date, ok := t["$date"]; ok {
			return p.ParseTimestamp(date)
		}
		if n, ok := t["$numberLong"]; ok {
			return p.ParseTimestamp(n)
		}
	}
	return time.Time{}, false
}

func (p *Parser) parseString(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return parseUnix(f)
	}
	loc := p.Location
	if loc == nil {
		loc = time.UTC
	}
	for _, layout := range layouts {
		if ts, err := time.ParseInLocation(layout, s, loc); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

// parseUnix picks the unit by magnitude: below 1e11 seconds, below 1e14
// milliseconds, below 1e17 microseconds, nanoseconds otherwise.
func parseUnix(f float64) (time.Time, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f <= 0 {
		return time.Time{}, false
	}
	switch {
	case f < 1e11:
		sec, frac := math.Modf(f)
		return time.Unix(int64(sec), int64(frac*1e9)).UTC(), true
	case f < 1e14:
		return time.UnixMilli(int64(f)).UTC(), true
	case f < 1e17:
		return time.UnixMicro(int64(f)).UTC(), true
	default:
		return time.Unix(0, int64(f)).UTC(), true
	}
}
