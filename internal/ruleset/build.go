package ruleset

import (
	"errors"

	"github.com/tinytelemetry/statwalk/internal/document"
	"github.com/tinytelemetry/statwalk/internal/model"
)

// Decl is one declaration inside a scope. Decls are built by the functions of
// this package and applied by Build.
type Decl interface {
	apply(s *Scope) error
}

type declFunc func(s *Scope) error

func (f declFunc) apply(s *Scope) error { return f(s) }

// RuleSet is an immutable, named tree of scopes.
type RuleSet struct {
	name string
	root *Scope
}

// Build assembles a RuleSet and fails on the first configuration mistake.
func Build(name string, decls ...Decl) (*RuleSet, error) {
	root := newScope("", nil)
	if err := applyAll(root, decls); err != nil {
		return nil, withRuleSet(err, name)
	}
	if err := root.validate(); err != nil {
		return nil, withRuleSet(err, name)
	}
	return &RuleSet{name: name, root: root}, nil
}

// MustBuild is Build for static tables compiled into the binary.
func MustBuild(name string, decls ...Decl) *RuleSet {
	set, err := Build(name, decls...)
	if err != nil {
		panic(err)
	}
	return set
}

// Name is the subsystem identifier the set was built for.
func (r *RuleSet) Name() string { return r.name }

// Root returns the root scope.
func (r *RuleSet) Root() *Scope { return r.root }

func withRuleSet(err error, name string) error {
	var ce *ConflictingRuleError
	if errors.As(err, &ce) {
		ce.RuleSet = name
	}
	return err
}

func applyAll(s *Scope, decls []Decl) error {
	for _, d := range decls {
		if d == nil {
			continue
		}
		if err := d.apply(s); err != nil {
			return err
		}
	}
	return nil
}

// Ignore marks keys as intentionally unhandled: no metric, no diagnostic.
func Ignore(keys ...string) Decl {
	return declFunc(func(s *Scope) error {
		for _, key := range keys {
			if err := s.claim(key); err != nil {
				return err
			}
			s.rules[key] = &Rule{Kind: KindIgnore, Key: key}
		}
		return nil
	})
}

// Child declares a nested scope for the object found at name.
func Child(name string, decls ...Decl) Decl {
	return declFunc(func(s *Scope) error {
		if err := s.claim(name); err != nil {
			return err
		}
		child := newScope(name, s.path.Child(name))
		if err := applyAll(child, decls); err != nil {
			return err
		}
		s.children[name] = child
		return nil
	})
}

// ScopeLabels attaches labels to every metric emitted in the scope and below.
func ScopeLabels(labels model.Labels) Decl {
	return declFunc(func(s *Scope) error {
		s.labels = s.labels.Merge(labels)
		return nil
	})
}

// Gauge reads key as a point-in-time value.
func Gauge(key string, opts ...RuleOption) Decl {
	return literal(KindGauge, key, opts)
}

// Counter reads key as a cumulative value.
func Counter(key string, opts ...RuleOption) Decl {
	return literal(KindCounter, key, opts)
}

func literal(kind Kind, key string, opts []RuleOption) Decl {
	return declFunc(func(s *Scope) error {
		if err := s.claim(key); err != nil {
			return err
		}
		r := &Rule{Kind: kind, Key: key, Name: document.CanonicalName(key)}
		for _, opt := range opts {
			opt(r)
		}
		if r.Name == "" {
			return conflict(s, key, "metric name is empty")
		}
		s.rules[key] = r
		s.metrics++
		return nil
	})
}

// DerivedGauge emits a gauge computed from the scope object.
func DerivedGauge(name string, x Extraction, opts ...RuleOption) Decl {
	return derived(KindDerivedGauge, name, x, opts)
}

// DerivedCounter emits a counter computed from the scope object.
func DerivedCounter(name string, x Extraction, opts ...RuleOption) Decl {
	return derived(KindDerivedCounter, name, x, opts)
}

func derived(kind Kind, name string, x Extraction, opts []RuleOption) Decl {
	return declFunc(func(s *Scope) error {
		if !x.valid() {
			return conflict(s, name, "derived metric has no extraction")
		}
		r := &Rule{Kind: kind, Name: name, Extraction: x}
		for _, opt := range opts {
			opt(r)
		}
		if r.Name == "" {
			return conflict(s, "", "derived metric name is empty")
		}
		for _, key := range x.Keys() {
			s.consumed[key] = true
		}
		s.derived = append(s.derived, r)
		return nil
	})
}

// Iterate registers the scope's catch-all. Only Ignore and derived
// declarations may share the scope; see IterateRest.
func Iterate(fn IterateFunc) Decl {
	return catchAll(fn, false)
}

// IterateRest registers a catch-all that runs only for keys no explicit rule
// or child scope of the same scope matched.
func IterateRest(fn IterateFunc) Decl {
	return catchAll(fn, true)
}

func catchAll(fn IterateFunc, rest bool) Decl {
	return declFunc(func(s *Scope) error {
		if fn == nil {
			return conflict(s, "", "nil iterate callback")
		}
		if s.catchAll != nil {
			return conflict(s, "", "scope already has a catch-all")
		}
		s.catchAll = fn
		s.rest = rest
		return nil
	})
}
