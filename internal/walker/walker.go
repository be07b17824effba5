// Package walker matches status documents against a RuleSet and produces
// metrics plus schema-drift diagnostics.
//
// A walk is synchronous and keeps all of its state on the stack, so a single
// RuleSet can be walked by many goroutines at once. Per-key problems never
// stop a walk: they become diagnostics and the remaining keys are processed.
package walker

import (
	"errors"
	"fmt"

	"github.com/tinytelemetry/statwalk/internal/document"
	"github.com/tinytelemetry/statwalk/internal/model"
	"github.com/tinytelemetry/statwalk/internal/ruleset"
)

// Result is the collected output of Walk.
type Result struct {
	Metrics     []model.Metric
	Diagnostics []model.Diagnostic
}

type config struct {
	labels   model.Labels
	maxDepth int
}

// Option configures a walk.
type Option func(*config)

// WithLabels sets labels inherited by every metric of the walk, such as the
// instance the document came from.
func WithLabels(base model.Labels) Option {
	return func(c *config) { c.labels = c.labels.Merge(base) }
}

// WithMaxDepth bounds how many nested scopes a walk enters. Values below 1
// keep the default.
func WithMaxDepth(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.maxDepth = n
		}
	}
}

// Walk runs doc through set and returns everything it produced.
func Walk(doc document.Object, set *ruleset.RuleSet, opts ...Option) Result {
	var metrics []model.Metric
	diags := NewDiagnostics()
	WalkTo(doc, set, model.MetricSinkFunc(func(m model.Metric) {
		metrics = append(metrics, m)
	}), diags, opts...)
	return Result{Metrics: metrics, Diagnostics: diags.Items()}
}

// WalkTo streams the metrics of doc to sink and the diagnostics to diags.
// Metrics already delivered stay delivered whatever happens later in the walk.
func WalkTo(doc document.Object, set *ruleset.RuleSet, sink model.MetricSink, diags model.DiagnosticSink, opts ...Option) {
	if doc == nil || set == nil {
		return
	}
	cfg := config{maxDepth: model.DefaultMaxDepth}
	for _, opt := range opts {
		opt(&cfg)
	}
	if sink == nil {
		sink = model.MetricSinkFunc(func(model.Metric) {})
	}
	if diags == nil {
		diags = model.DiagnosticSinkFunc(func(model.Diagnostic) {})
	}
	w := &walk{sink: sink, diags: diags, maxDepth: cfg.maxDepth}
	w.scope(doc, set.Root(), cfg.labels.Clone(), 0)
}

type walk struct {
	sink     model.MetricSink
	diags    model.DiagnosticSink
	maxDepth int
}

func (w *walk) scope(obj document.Object, s *ruleset.Scope, inherited model.Labels, depth int) {
	labels := inherited
	if len(s.Labels()) > 0 {
		labels = inherited.Merge(s.Labels())
	}
	path := s.Path().String()

	for _, key := range document.SortedKeys(obj) {
		value := obj[key]

		if r, ok := s.Rule(key); ok {
			if r.Kind != ruleset.KindIgnore {
				w.literal(r, path, value, labels)
			}
			continue
		}

		if child, ok := s.Child(key); ok {
			nested, isObj := document.AsObject(value)
			if !isObj {
				continue
			}
			if depth+1 > w.maxDepth {
				w.report(path, key, model.DepthExceeded, fmt.Sprintf("scope not entered, max depth %d", w.maxDepth))
				continue
			}
			w.scope(nested, child, labels, depth+1)
			continue
		}

		if s.Consumes(key) {
			continue
		}

		if fn := s.CatchAll(); fn != nil {
			w.iterate(fn, path, key, value, labels)
			continue
		}

		w.report(path, key, model.UnmappedKey, document.Describe(value))
	}

	for _, r := range s.Derived() {
		w.derived(r, obj, s.Path(), labels)
	}
}

func (w *walk) literal(r *ruleset.Rule, path string, value any, labels model.Labels) {
	f, ok := document.ToFloat(value, r.CoerceBool)
	if !ok {
		w.report(path, r.Key, model.TypeMismatch, fmt.Sprintf("%s %s: %s", r.Kind, r.Name, document.Describe(value)))
		return
	}
	w.sink.Emit(model.Metric{
		Name:   r.Name,
		Kind:   r.MetricKind(),
		Value:  f,
		Labels: labels.Merge(r.Labels),
	})
}

func (w *walk) derived(r *ruleset.Rule, obj document.Object, at document.Path, labels model.Labels) {
	path := at.String()
	f, err := w.extract(r, obj, at)
	if err != nil {
		kind := model.TypeMismatch
		if errors.Is(err, document.ErrMissingPath) {
			kind = model.MissingExtractPath
		}
		w.report(path, r.Name, kind, err.Error())
		return
	}
	w.sink.Emit(model.Metric{
		Name:   r.Name,
		Kind:   r.MetricKind(),
		Value:  f,
		Labels: labels.Merge(r.Labels),
	})
}

func (w *walk) extract(r *ruleset.Rule, obj document.Object, at document.Path) (f float64, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("extraction panicked: %v", p)
		}
	}()
	return r.Extraction.Value(obj, at)
}

func (w *walk) iterate(fn ruleset.IterateFunc, path, key string, value any, labels model.Labels) {
	defer func() {
		if p := recover(); p != nil {
			w.report(path, key, model.TypeMismatch, fmt.Sprintf("iterate callback panicked: %v", p))
		}
	}()
	fn(key, value, labels.Clone(), &emitter{w: w, path: path, key: key, labels: labels})
}

func (w *walk) report(path, key string, kind model.DiagnosticKind, detail string) {
	w.diags.Report(model.Diagnostic{Path: path, Key: key, Kind: kind, Detail: detail})
}

// emitter is the ruleset.Emitter handed to one catch-all invocation.
type emitter struct {
	w      *walk
	path   string
	key    string
	labels model.Labels
}

func (e *emitter) Gauge(name string, value any, labels model.Labels) {
	e.emit(model.Gauge, name, value, labels)
}

func (e *emitter) Counter(name string, value any, labels model.Labels) {
	e.emit(model.Counter, name, value, labels)
}

func (e *emitter) emit(kind model.MetricKind, name string, value any, labels model.Labels) {
	if name == "" {
		e.w.report(e.path, e.key, model.TypeMismatch, "iterate emitted an empty metric name")
		return
	}
	f, ok := document.ToFloat(value, false)
	if !ok {
		e.w.report(e.path, e.key, model.TypeMismatch, fmt.Sprintf("%s %s: %s", kind, name, document.Describe(value)))
		return
	}
	e.w.sink.Emit(model.Metric{
		Name:   name,
		Kind:   kind,
		Value:  f,
		Labels: e.labels.Merge(labels),
	})
}
