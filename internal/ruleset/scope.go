package ruleset

import (
	"sort"

	"github.com/tinytelemetry/statwalk/internal/document"
	"github.com/tinytelemetry/statwalk/internal/model"
)

// Scope is one nesting level of a RuleSet, mirroring one document object.
// All fields are fixed once Build returns.
type Scope struct {
	name     string
	path     document.Path
	labels   model.Labels
	rules    map[string]*Rule
	children map[string]*Scope
	derived  []*Rule
	consumed map[string]bool
	catchAll IterateFunc
	rest     bool
	metrics  int // gauge and counter rules, for the catch-all exclusivity check
}

func newScope(name string, path document.Path) *Scope {
	return &Scope{
		name:     name,
		path:     path,
		rules:    make(map[string]*Rule),
		children: make(map[string]*Scope),
		consumed: make(map[string]bool),
	}
}

// Name is the document key of the scope; empty for the root.
func (s *Scope) Name() string { return s.name }

// Path is the scope's location from the root.
func (s *Scope) Path() document.Path { return s.path }

// Labels returns the static labels declared on this scope.
func (s *Scope) Labels() model.Labels { return s.labels }

// Rule returns the ignore, gauge or counter rule registered for key.
func (s *Scope) Rule(key string) (*Rule, bool) {
	r, ok := s.rules[key]
	return r, ok
}

// Child returns the child scope registered for key.
func (s *Scope) Child(key string) (*Scope, bool) {
	c, ok := s.children[key]
	return c, ok
}

// Consumes reports whether a derived rule of this scope reads key.
func (s *Scope) Consumes(key string) bool { return s.consumed[key] }

// Derived returns the derived rules in declaration order.
func (s *Scope) Derived() []*Rule { return s.derived }

// CatchAll returns the iterate callback, or nil.
func (s *Scope) CatchAll() IterateFunc { return s.catchAll }

// Keys returns every explicitly registered key (rules and child scopes), sorted.
func (s *Scope) Keys() []string {
	keys := make([]string, 0, len(s.rules)+len(s.children))
	for k := range s.rules {
		keys = append(keys, k)
	}
	for k := range s.children {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (s *Scope) claim(key string) error {
	if key == "" {
		return conflict(s, key, "empty key")
	}
	if _, ok := s.rules[key]; ok {
		return conflict(s, key, "registered twice in the same scope")
	}
	if _, ok := s.children[key]; ok {
		return conflict(s, key, "registered twice in the same scope (already a child scope)")
	}
	return nil
}

func (s *Scope) validate() error {
	if s.catchAll != nil && !s.rest && (s.metrics > 0 || len(s.children) > 0) {
		return conflict(s, "", "Iterate cannot be combined with gauge, counter or child declarations; use IterateRest to let explicit rules take precedence")
	}
	for _, name := range sortedChildNames(s.children) {
		if err := s.children[name].validate(); err != nil {
			return err
		}
	}
	return nil
}

func sortedChildNames(children map[string]*Scope) []string {
	names := make([]string, 0, len(children))
	for k := range children {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
