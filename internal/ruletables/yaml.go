package ruletables

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/tinytelemetry/statwalk/internal/model"
	"github.com/tinytelemetry/statwalk/internal/ruleset"
)

// A YAML rule file describes one subsystem:
//
//	subsystem: replset
//	ignore: [host, version]
//	gauges:
//	  - ok
//	  - {key: setVersion, as: set_version}
//	scopes:
//	  opcounters:
//	    iterate: {name: opcounters, kind: counter, label: type}
//	  repl:
//	    derived:
//	      - {name: is_master, bool: [ismaster]}
//	      - {name: visible_hosts, len: [hosts]}
type fileSpec struct {
	Subsystem string `yaml:"subsystem"`
	scopeSpec `yaml:",inline"`
}

type scopeSpec struct {
	Ignore   []string             `yaml:"ignore"`
	Labels   map[string]string    `yaml:"labels"`
	Gauges   []metricSpec         `yaml:"gauges"`
	Counters []metricSpec         `yaml:"counters"`
	Derived  []derivedSpec        `yaml:"derived"`
	Iterate  *iterateSpec         `yaml:"iterate"`
	Scopes   map[string]scopeSpec `yaml:"scopes"`
}

type metricSpec struct {
	Key    string            `yaml:"key"`
	As     string            `yaml:"as"`
	Labels map[string]string `yaml:"labels"`
	Bool   bool              `yaml:"bool"`
}

// UnmarshalYAML accepts a bare key as shorthand for {key: ...}.
func (m *metricSpec) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		m.Key = value.Value
		return nil
	}
	type plain metricSpec
	return value.Decode((*plain)(m))
}

type derivedSpec struct {
	Name    string            `yaml:"name"`
	Kind    string            `yaml:"kind"`
	Extract []string          `yaml:"extract"`
	Bool    []string          `yaml:"bool"`
	Len     []string          `yaml:"len"`
	Labels  map[string]string `yaml:"labels"`
}

type iterateSpec struct {
	Name   string            `yaml:"name"`
	Kind   string            `yaml:"kind"`
	Label  string            `yaml:"label"`
	Labels map[string]string `yaml:"labels"`
	Rest   bool              `yaml:"rest"`
}

// LoadYAML builds a rule set from YAML. fallbackName is used when the file
// does not name its subsystem.
func LoadYAML(data []byte, fallbackName string) (*ruleset.RuleSet, error) {
	var spec fileSpec
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&spec); err != nil {
		return nil, fmt.Errorf("ruletables: parse yaml: %w", err)
	}
	name := spec.Subsystem
	if name == "" {
		name = fallbackName
	}
	if name == "" {
		return nil, errors.New("ruletables: rule file has no subsystem")
	}
	decls, err := spec.scopeSpec.decls()
	if err != nil {
		return nil, fmt.Errorf("ruletables: %s: %w", name, err)
	}
	return ruleset.Build(name, decls...)
}

// LoadFile reads one rule file. The file name without extension is the
// default subsystem.
func LoadFile(path string) (*ruleset.RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ruletables: read %s: %w", path, err)
	}
	base := filepath.Base(path)
	set, err := LoadYAML(data, strings.TrimSuffix(base, filepath.Ext(base)))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return set, nil
}

// LoadDir reads every *.yml and *.yaml file of dir in name order.
func LoadDir(dir string) ([]*ruleset.RuleSet, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("ruletables: read dir %s: %w", dir, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".yml", ".yaml":
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	sets := make([]*ruleset.RuleSet, 0, len(names))
	for _, name := range names {
		set, err := LoadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		sets = append(sets, set)
	}
	return sets, nil
}

// LoadInto registers every rule file of dir into reg.
func LoadInto(reg *Registry, dir string) ([]string, error) {
	sets, err := LoadDir(dir)
	if err != nil {
		return nil, err
	}
	loaded := make([]string, 0, len(sets))
	for _, set := range sets {
		if err := reg.Register(set); err != nil {
			return loaded, err
		}
		loaded = append(loaded, set.Name())
	}
	return loaded, nil
}

func (s scopeSpec) decls() ([]ruleset.Decl, error) {
	var decls []ruleset.Decl
	if len(s.Ignore) > 0 {
		decls = append(decls, ruleset.Ignore(s.Ignore...))
	}
	if len(s.Labels) > 0 {
		decls = append(decls, ruleset.ScopeLabels(model.Labels(s.Labels)))
	}
	for _, g := range s.Gauges {
		decls = append(decls, ruleset.Gauge(g.Key, g.options()...))
	}
	for _, c := range s.Counters {
		decls = append(decls, ruleset.Counter(c.Key, c.options()...))
	}
	for _, d := range s.Derived {
		decl, err := d.decl()
		if err != nil {
			return nil, err
		}
		decls = append(decls, decl)
	}

	names := make([]string, 0, len(s.Scopes))
	for name := range s.Scopes {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		child, err := s.Scopes[name].decls()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		decls = append(decls, ruleset.Child(name, child...))
	}

	if s.Iterate != nil {
		fn, err := s.Iterate.fn()
		if err != nil {
			return nil, err
		}
		if s.Iterate.Rest {
			decls = append(decls, ruleset.IterateRest(fn))
		} else {
			decls = append(decls, ruleset.Iterate(fn))
		}
	}
	return decls, nil
}

func (m metricSpec) options() []ruleset.RuleOption {
	var opts []ruleset.RuleOption
	if m.As != "" {
		opts = append(opts, ruleset.As(m.As))
	}
	if len(m.Labels) > 0 {
		opts = append(opts, ruleset.WithLabels(model.Labels(m.Labels)))
	}
	if m.Bool {
		opts = append(opts, ruleset.CoerceBool())
	}
	return opts
}

func (d derivedSpec) decl() (ruleset.Decl, error) {
	var (
		x   ruleset.Extraction
		set int
	)
	if len(d.Extract) > 0 {
		x, set = ruleset.Extract(d.Extract...), set+1
	}
	if len(d.Bool) > 0 {
		x, set = ruleset.ExtractBool(d.Bool...), set+1
	}
	if len(d.Len) > 0 {
		x, set = ruleset.ExtractLen(d.Len...), set+1
	}
	if set != 1 {
		return nil, fmt.Errorf("derived %q: exactly one of extract, bool or len is required", d.Name)
	}

	var opts []ruleset.RuleOption
	if len(d.Labels) > 0 {
		opts = append(opts, ruleset.WithLabels(model.Labels(d.Labels)))
	}
	kind, err := parseKind(d.Kind)
	if err != nil {
		return nil, fmt.Errorf("derived %q: %w", d.Name, err)
	}
	if kind == model.Counter {
		return ruleset.DerivedCounter(d.Name, x, opts...), nil
	}
	return ruleset.DerivedGauge(d.Name, x, opts...), nil
}

func (it iterateSpec) fn() (ruleset.IterateFunc, error) {
	if it.Name == "" {
		return nil, errors.New("iterate: name is required")
	}
	kind, err := parseKind(it.Kind)
	if err != nil {
		return nil, fmt.Errorf("iterate %q: %w", it.Name, err)
	}
	label := it.Label
	if label == "" {
		label = "type"
	}
	static := model.Labels(it.Labels)
	name := it.Name

	return func(key string, value any, _ model.Labels, emit ruleset.Emitter) {
		labels := static.Merge(model.Labels{label: key})
		if kind == model.Counter {
			emit.Counter(name, value, labels)
			return
		}
		emit.Gauge(name, value, labels)
	}, nil
}

func parseKind(s string) (model.MetricKind, error) {
	if s == "" {
		return model.Gauge, nil
	}
	kind, ok := model.ParseMetricKind(s)
	if !ok {
		return model.Gauge, fmt.Errorf("unknown metric kind %q", s)
	}
	return kind, nil
}
