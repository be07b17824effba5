// Package ruletables holds the rule sets the service knows about: the
// built-in MongoDB tables and any loaded from YAML files.
package ruletables

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/tinytelemetry/statwalk/internal/ruleset"
)

// ErrDuplicateSubsystem is returned when two rule sets claim one subsystem.
var ErrDuplicateSubsystem = errors.New("ruletables: subsystem already registered")

// Registry maps subsystem identifiers to rule sets.
type Registry struct {
	mu   sync.RWMutex
	sets map[string]*ruleset.RuleSet
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{sets: make(map[string]*ruleset.RuleSet)}
}

// Default returns a registry holding the built-in tables.
func Default() *Registry {
	r := NewRegistry()
	for _, set := range []*ruleset.RuleSet{Shard()} {
		if err := r.Register(set); err != nil {
			panic(err)
		}
	}
	return r
}

// Register adds set under its name.
func (r *Registry) Register(set *ruleset.RuleSet) error {
	if set == nil || set.Name() == "" {
		return errors.New("ruletables: rule set has no name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sets[set.Name()]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateSubsystem, set.Name())
	}
	r.sets[set.Name()] = set
	return nil
}

// Lookup returns the rule set for subsystem.
func (r *Registry) Lookup(subsystem string) (*ruleset.RuleSet, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set, ok := r.sets[subsystem]
	return set, ok
}

// Names returns the registered subsystems, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.sets))
	for name := range r.sets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
