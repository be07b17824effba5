package main

import (
	"fmt"

	"github.com/tinytelemetry/statwalk/internal/ruletables"
)

// loadRuleSets returns the built-in rule tables plus the rule files of dir.
// A conflicting rule file is fatal; the process must not start with a rule
// set that differs from what the operator wrote.
func loadRuleSets(dir string) (*ruletables.Registry, []string, error) {
	reg := ruletables.Default()
	if dir == "" {
		return reg, nil, nil
	}
	loaded, err := ruletables.LoadInto(reg, dir)
	if err != nil {
		return nil, nil, fmt.Errorf("load rules from %s: %w", dir, err)
	}
	return reg, loaded, nil
}
