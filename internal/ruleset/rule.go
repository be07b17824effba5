// Package ruleset declares how the keys of a status document map to metrics.
//
// A RuleSet is a tree of scopes mirroring the document's nested objects. It
// is assembled once from plain declaration values and is immutable after
// Build returns, so one RuleSet can be shared by any number of concurrent
// walks.
//
//	set, err := ruleset.Build("connections",
//		ruleset.Child("connections",
//			ruleset.Gauge("current"),
//			ruleset.Gauge("available"),
//			ruleset.Counter("totalCreated", ruleset.As("created_total")),
//		),
//	)
package ruleset

import "github.com/tinytelemetry/statwalk/internal/model"

// Kind is the variant of a Rule.
type Kind int

const (
	KindIgnore Kind = iota
	KindGauge
	KindCounter
	KindDerivedGauge
	KindDerivedCounter
)

func (k Kind) String() string {
	switch k {
	case KindIgnore:
		return "ignore"
	case KindGauge:
		return "gauge"
	case KindCounter:
		return "counter"
	case KindDerivedGauge:
		return "derived_gauge"
	case KindDerivedCounter:
		return "derived_counter"
	default:
		return "unknown"
	}
}

// Derived reports whether the rule computes its value instead of reading a key.
func (k Kind) Derived() bool {
	return k == KindDerivedGauge || k == KindDerivedCounter
}

// Rule is one leaf of a scope.
type Rule struct {
	Kind Kind
	// Key is the document key a literal rule reads. Empty for derived rules.
	Key string
	// Name is the emitted metric name: the alias when given, otherwise the
	// canonical form of Key. Derived rules always carry an explicit name.
	Name   string
	Labels model.Labels
	// CoerceBool lets a literal rule accept true/false as 1/0.
	CoerceBool bool
	// Extraction computes the value of a derived rule.
	Extraction Extraction
}

// MetricKind maps the rule variant to the kind of metric it emits.
func (r *Rule) MetricKind() model.MetricKind {
	switch r.Kind {
	case KindCounter, KindDerivedCounter:
		return model.Counter
	default:
		return model.Gauge
	}
}

// RuleOption customizes a gauge, counter or derived rule.
type RuleOption func(*Rule)

// As overrides the emitted metric name.
func As(alias string) RuleOption {
	return func(r *Rule) { r.Name = alias }
}

// WithLabels attaches static labels to the emitted metric.
func WithLabels(labels model.Labels) RuleOption {
	return func(r *Rule) { r.Labels = r.Labels.Merge(labels) }
}

// CoerceBool accepts boolean values as 1 (true) and 0 (false).
func CoerceBool() RuleOption {
	return func(r *Rule) { r.CoerceBool = true }
}

// Emitter is handed to catch-all callbacks. Values go through the same
// numeric validation as literal rules; labels are merged over the inherited set.
type Emitter interface {
	Gauge(name string, value any, labels model.Labels)
	Counter(name string, value any, labels model.Labels)
}

// IterateFunc handles one key that no explicit rule matched. inherited holds
// the labels in effect for the scope (root labels, scope labels).
type IterateFunc func(key string, value any, inherited model.Labels, emit Emitter)
