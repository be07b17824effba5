package model

import (
	"sort"
	"strings"
)

// MetricKind distinguishes point-in-time gauges from cumulative counters.
type MetricKind int

const (
	Gauge MetricKind = iota
	Counter
)

func (k MetricKind) String() string {
	switch k {
	case Gauge:
		return "gauge"
	case Counter:
		return "counter"
	default:
		return "unknown"
	}
}

// ParseMetricKind maps "gauge"/"counter" back to a MetricKind.
func ParseMetricKind(s string) (MetricKind, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "gauge":
		return Gauge, true
	case "counter":
		return Counter, true
	default:
		return Gauge, false
	}
}

// Labels is a metric label set. Keys are unique; order is irrelevant.
type Labels map[string]string

// Clone returns an independent copy. A nil receiver yields an empty set.
func (l Labels) Clone() Labels {
	out := make(Labels, len(l))
	for k, v := range l {
		out[k] = v
	}
	return out
}

// Merge returns a new set holding l overlaid with each of sets in order.
func (l Labels) Merge(sets ...Labels) Labels {
	out := l.Clone()
	for _, s := range sets {
		for k, v := range s {
			out[k] = v
		}
	}
	return out
}

// Keys returns the label names in sorted order.
func (l Labels) Keys() []string {
	keys := make([]string, 0, len(l))
	for k := range l {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// String renders the set as {a="1",b="2"} with sorted keys.
func (l Labels) String() string {
	var b strings.Builder
	b.WriteByte('{')
	for i, k := range l.Keys() {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteString(`="`)
		b.WriteString(l[k])
		b.WriteByte('"')
	}
	b.WriteByte('}')
	return b.String()
}

// Metric is one typed, labeled value produced by a walk.
type Metric struct {
	Name   string
	Kind   MetricKind
	Value  float64
	Labels Labels
}

// ID is the metric identity: name plus labels. Position in a walk is not identity.
func (m Metric) ID() string {
	return m.Name + m.Labels.String()
}
