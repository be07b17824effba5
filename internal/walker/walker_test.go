package walker

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/tinytelemetry/statwalk/internal/document"
	"github.com/tinytelemetry/statwalk/internal/model"
	"github.com/tinytelemetry/statwalk/internal/ruleset"
)

func decode(t *testing.T, raw string) document.Object {
	t.Helper()
	obj, err := document.Decode([]byte(raw))
	if err != nil {
		t.Fatalf("decode %s: %v", raw, err)
	}
	return obj
}

func byID(t *testing.T, metrics []model.Metric) map[string]model.Metric {
	t.Helper()
	out := make(map[string]model.Metric, len(metrics))
	for _, m := range metrics {
		if _, dup := out[m.ID()]; dup {
			t.Fatalf("duplicate metric %s", m.ID())
		}
		out[m.ID()] = m
	}
	return out
}

var lockModes = map[string]string{"R": "s", "W": "x", "r": "is", "w": "ix"}

func lockStats(key string, value any, inherited model.Labels, emit ruleset.Emitter) {
	stats, ok := value.(map[string]any)
	if !ok {
		return
	}
	for stat, modes := range stats {
		name := map[string]string{"acquireCount": "lock_acquire_count"}[stat]
		byMode, _ := modes.(map[string]any)
		for mode, v := range byMode {
			emit.Counter(name, v, model.Labels{"type": key, "mode": lockModes[mode]})
		}
	}
}

func TestWalk_AliasedGauge(t *testing.T) {
	t.Parallel()

	set := ruleset.MustBuild("a", ruleset.Gauge("ok", ruleset.As("metrics_is_ok")))
	res := Walk(decode(t, `{"ok": 1}`), set)

	if len(res.Metrics) != 1 || len(res.Diagnostics) != 0 {
		t.Fatalf("result = %+v", res)
	}
	m := res.Metrics[0]
	if m.Name != "metrics_is_ok" || m.Kind != model.Gauge || m.Value != 1 || len(m.Labels) != 0 {
		t.Fatalf("metric = %+v", m)
	}
}

func TestWalk_LockModesBecomeLabels(t *testing.T) {
	t.Parallel()

	set := ruleset.MustBuild("b", ruleset.Child("locks", ruleset.Iterate(lockStats)))
	res := Walk(decode(t, `{"locks": {"Global": {"acquireCount": {"r": 5, "w": 2}}}}`), set)

	got := byID(t, res.Metrics)
	if len(got) != 2 || len(res.Diagnostics) != 0 {
		t.Fatalf("result = %+v", res)
	}
	for id, want := range map[string]float64{
		`lock_acquire_count{mode="is",type="Global"}`: 5,
		`lock_acquire_count{mode="ix",type="Global"}`: 2,
	} {
		m, ok := got[id]
		if !ok {
			t.Fatalf("missing %s", id)
		}
		if m.Kind != model.Counter || m.Value != want {
			t.Fatalf("%s = %+v, want counter %v", id, m, want)
		}
	}
}

func TestWalk_ConnectionsScope(t *testing.T) {
	t.Parallel()

	set := ruleset.MustBuild("c", ruleset.Child("connections",
		ruleset.Gauge("current"),
		ruleset.Gauge("available"),
		ruleset.Counter("totalCreated", ruleset.As("created_total")),
	))
	res := Walk(decode(t, `{"connections": {"current":3, "available":97, "totalCreated":120}}`), set)

	got := byID(t, res.Metrics)
	want := map[string]struct {
		kind  model.MetricKind
		value float64
	}{
		"current{}":       {model.Gauge, 3},
		"available{}":     {model.Gauge, 97},
		"created_total{}": {model.Counter, 120},
	}
	if len(got) != len(want) || len(res.Diagnostics) != 0 {
		t.Fatalf("result = %+v", res)
	}
	for id, w := range want {
		if m := got[id]; m.Kind != w.kind || m.Value != w.value {
			t.Fatalf("%s = %+v, want %+v", id, m, w)
		}
	}
}

func TestWalk_UnmappedSiblingKey(t *testing.T) {
	t.Parallel()

	set := ruleset.MustBuild("d", ruleset.Gauge("a"), ruleset.Gauge("b"))
	res := Walk(decode(t, `{"a": 1, "b": 2, "c": 3}`), set)

	if len(res.Metrics) != 2 {
		t.Fatalf("metrics = %+v", res.Metrics)
	}
	if len(res.Diagnostics) != 1 {
		t.Fatalf("diagnostics = %+v", res.Diagnostics)
	}
	d := res.Diagnostics[0]
	if d.Kind != model.UnmappedKey || d.Key != "c" || d.Path != "" {
		t.Fatalf("diagnostic = %+v", d)
	}
}

func TestWalk_IgnoredKeysAreSilent(t *testing.T) {
	t.Parallel()

	set := ruleset.MustBuild("i", ruleset.Ignore("host", "version", "nested"))
	res := Walk(decode(t, `{"host": "db1", "version": "7.0", "nested": {"x": 1}}`), set)
	if len(res.Metrics) != 0 || len(res.Diagnostics) != 0 {
		t.Fatalf("result = %+v", res)
	}
}

func TestWalk_IterateOncePerKeyWithLabel(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	calls := map[string]int{}
	set := ruleset.MustBuild("it", ruleset.Child("opcounters",
		ruleset.Iterate(func(key string, value any, inherited model.Labels, emit ruleset.Emitter) {
			mu.Lock()
			calls[key]++
			mu.Unlock()
			emit.Counter("opcounters_total", value, model.Labels{"type": key})
		}),
	))
	res := Walk(decode(t, `{"opcounters": {"insert": 1, "query": 2, "update": 3}}`), set)

	if len(calls) != 3 {
		t.Fatalf("calls = %v", calls)
	}
	for key, n := range calls {
		if n != 1 {
			t.Fatalf("key %s called %d times", key, n)
		}
	}
	for _, m := range res.Metrics {
		if _, ok := calls[m.Labels["type"]]; !ok {
			t.Fatalf("metric %s lacks dynamic key label", m.ID())
		}
	}
	if len(res.Metrics) != 3 {
		t.Fatalf("metrics = %d, want 3", len(res.Metrics))
	}
}

func TestWalk_IterateRestSkipsExplicitKeys(t *testing.T) {
	t.Parallel()

	var seen []string
	set := ruleset.MustBuild("rest", ruleset.Child("asserts",
		ruleset.Counter("rollovers"),
		ruleset.IterateRest(func(key string, value any, _ model.Labels, emit ruleset.Emitter) {
			seen = append(seen, key)
			emit.Counter("asserts_total", value, model.Labels{"type": key})
		}),
	))
	res := Walk(decode(t, `{"asserts": {"rollovers": 0, "regular": 1, "user": 4}}`), set)

	sort.Strings(seen)
	if strings.Join(seen, ",") != "regular,user" {
		t.Fatalf("iterated keys = %v", seen)
	}
	got := byID(t, res.Metrics)
	if _, ok := got["rollovers{}"]; !ok || len(got) != 3 {
		t.Fatalf("metrics = %v", got)
	}
}

func TestWalk_AliasIndependentOfKey(t *testing.T) {
	t.Parallel()

	for _, key := range []string{"ok", "Some Key (x)", "$weird"} {
		set := ruleset.MustBuild("alias", ruleset.Counter(key, ruleset.As("fixed_name")))
		res := Walk(document.Object{key: 7}, set)
		if len(res.Metrics) != 1 || res.Metrics[0].Name != "fixed_name" {
			t.Fatalf("key %q: metrics = %+v", key, res.Metrics)
		}
	}
}

func TestWalk_UnmappedCount(t *testing.T) {
	t.Parallel()

	set := ruleset.MustBuild("count",
		ruleset.Ignore("i1", "i2"),
		ruleset.Gauge("g1"),
		ruleset.Counter("c1"),
		ruleset.Child("s1", ruleset.Ignore("deep")),
	)
	doc := document.Object{
		"i1": 1, "i2": "x", "g1": 1, "c1": 2,
		"s1": document.Object{"deep": 1},
		"u1": 1, "u2": true, "u3": document.Object{}, "u4": nil,
	}
	res := Walk(doc, set)

	want := len(doc) - 2 - 2 - 1
	d := &Diagnostics{}
	for _, item := range res.Diagnostics {
		d.Report(item)
	}
	if got := d.Count(model.UnmappedKey); got != want {
		t.Fatalf("unmapped = %d, want %d", got, want)
	}
	if len(d.Unmapped()) != want || d.Len() != want {
		t.Fatalf("diagnostics = %+v", res.Diagnostics)
	}
}

func TestWalk_TypeMismatchIsolated(t *testing.T) {
	t.Parallel()

	set := ruleset.MustBuild("tm", ruleset.Child("mem",
		ruleset.Gauge("resident"),
		ruleset.Gauge("virtual"),
		ruleset.Gauge("supported"),
		ruleset.Gauge("flag", ruleset.CoerceBool()),
	))
	res := Walk(decode(t, `{"mem": {"resident": "lots", "virtual": 10, "supported": true, "flag": true}}`), set)

	got := byID(t, res.Metrics)
	if got["virtual{}"].Value != 10 || got["flag{}"].Value != 1 || len(got) != 2 {
		t.Fatalf("metrics = %v", got)
	}
	d := &Diagnostics{}
	for _, item := range res.Diagnostics {
		d.Report(item)
	}
	mismatches := d.Mismatches()
	if len(mismatches) != 2 {
		t.Fatalf("mismatches = %+v", mismatches)
	}
	if mismatches[0].Key != "resident" || mismatches[0].Path != "mem" || mismatches[1].Key != "supported" {
		t.Fatalf("mismatches = %+v", mismatches)
	}
}

func TestWalk_ChildScopeSkippedWhenAbsentOrScalar(t *testing.T) {
	t.Parallel()

	set := ruleset.MustBuild("skip",
		ruleset.Child("repl", ruleset.Gauge("x")),
		ruleset.Child("wiredTiger", ruleset.Gauge("y")),
		ruleset.Gauge("ok"),
	)
	res := Walk(decode(t, `{"repl": 5, "ok": 1}`), set)
	if len(res.Metrics) != 1 || len(res.Diagnostics) != 0 {
		t.Fatalf("result = %+v", res)
	}
}

func TestWalk_NumericWrapperIsScalar(t *testing.T) {
	t.Parallel()

	set := ruleset.MustBuild("wrap", ruleset.Counter("bytesIn", ruleset.As("in_bytes")))
	res := Walk(decode(t, `{"bytesIn": {"$numberLong": "12345678901"}}`), set)
	if len(res.Metrics) != 1 || res.Metrics[0].Value != 12345678901 {
		t.Fatalf("metrics = %+v", res.Metrics)
	}
}

func TestWalk_LabelInheritance(t *testing.T) {
	t.Parallel()

	set := ruleset.MustBuild("labels", ruleset.Child("concurrentTransactions",
		ruleset.Child("read",
			ruleset.ScopeLabels(model.Labels{"op": "read"}),
			ruleset.Gauge("out", ruleset.WithLabels(model.Labels{"state": "out"})),
		),
	))
	res := Walk(decode(t, `{"concurrentTransactions": {"read": {"out": 2}}}`), set,
		WithLabels(model.Labels{"instance": "db1"}))

	if len(res.Metrics) != 1 {
		t.Fatalf("metrics = %+v", res.Metrics)
	}
	if got := res.Metrics[0].Labels.String(); got != `{instance="db1",op="read",state="out"}` {
		t.Fatalf("labels = %s", got)
	}
}

func TestWalk_DerivedRules(t *testing.T) {
	t.Parallel()

	set := ruleset.MustBuild("derived", ruleset.Child("repl",
		ruleset.Gauge("setVersion", ruleset.As("set_version")),
		ruleset.DerivedGauge("is_master", ruleset.ExtractBool("ismaster")),
		ruleset.DerivedGauge("visible_hosts", ruleset.ExtractLen("hosts")),
		ruleset.DerivedGauge("missing", ruleset.Extract("nowhere", "value")),
	))
	res := Walk(decode(t, `{"repl": {"setVersion": 3, "ismaster": true, "hosts": ["a", "b"]}}`), set)

	got := byID(t, res.Metrics)
	if got["is_master{}"].Value != 1 || got["visible_hosts{}"].Value != 2 || got["set_version{}"].Value != 3 {
		t.Fatalf("metrics = %v", got)
	}
	if len(res.Diagnostics) != 1 {
		t.Fatalf("diagnostics = %+v", res.Diagnostics)
	}
	d := res.Diagnostics[0]
	if d.Kind != model.MissingExtractPath || d.Key != "missing" || d.Path != "repl" {
		t.Fatalf("diagnostic = %+v", d)
	}
	if !strings.Contains(d.Detail, "repl.nowhere") {
		t.Fatalf("detail = %q", d.Detail)
	}
}

func TestWalk_PanicsBecomeDiagnostics(t *testing.T) {
	t.Parallel()

	set := ruleset.MustBuild("panic",
		ruleset.Child("it", ruleset.Iterate(func(key string, value any, _ model.Labels, emit ruleset.Emitter) {
			if key == "bad" {
				panic("boom")
			}
			emit.Gauge("v", value, model.Labels{"k": key})
		})),
		ruleset.DerivedGauge("computed", ruleset.Compute(func(document.Object, document.Path) (float64, error) {
			panic("kaboom")
		})),
		ruleset.Gauge("after"),
	)
	res := Walk(decode(t, `{"it": {"bad": 1, "good": 2}, "after": 3}`), set)

	got := byID(t, res.Metrics)
	if _, ok := got[`v{k="good"}`]; !ok {
		t.Fatalf("metrics = %v", got)
	}
	if _, ok := got["after{}"]; !ok {
		t.Fatalf("metrics = %v", got)
	}
	if len(res.Diagnostics) != 2 {
		t.Fatalf("diagnostics = %+v", res.Diagnostics)
	}
}

func TestWalk_EmitterValidatesValues(t *testing.T) {
	t.Parallel()

	set := ruleset.MustBuild("emit", ruleset.Child("commands", ruleset.Iterate(
		func(key string, value any, _ model.Labels, emit ruleset.Emitter) {
			emit.Counter("command_total", value, model.Labels{"type": key})
			emit.Counter("", 1, nil)
		})))
	res := Walk(decode(t, `{"commands": {"find": "many"}}`), set)

	if len(res.Metrics) != 0 {
		t.Fatalf("metrics = %+v", res.Metrics)
	}
	// Both problems share (kind, path, key) and collapse into one finding.
	if len(res.Diagnostics) != 1 || res.Diagnostics[0].Kind != model.TypeMismatch || res.Diagnostics[0].Key != "find" {
		t.Fatalf("diagnostics = %+v", res.Diagnostics)
	}
}

func TestWalk_MaxDepth(t *testing.T) {
	t.Parallel()

	set := ruleset.MustBuild("deep",
		ruleset.Child("a", ruleset.Gauge("v"), ruleset.Child("b", ruleset.Gauge("v"), ruleset.Child("c", ruleset.Gauge("v")))),
	)
	doc := decode(t, `{"a": {"v": 1, "b": {"v": 2, "c": {"v": 3}}}}`)

	full := Walk(doc, set)
	if len(full.Metrics) != 3 {
		t.Fatalf("metrics = %+v", full.Metrics)
	}

	res := Walk(doc, set, WithMaxDepth(2))
	if len(res.Metrics) != 2 {
		t.Fatalf("metrics = %+v", res.Metrics)
	}
	if len(res.Diagnostics) != 1 || res.Diagnostics[0].Kind != model.DepthExceeded || res.Diagnostics[0].Location() != "a.b.c" {
		t.Fatalf("diagnostics = %+v", res.Diagnostics)
	}
}

func TestWalkTo_StreamsToSinks(t *testing.T) {
	t.Parallel()

	set := ruleset.MustBuild("stream", ruleset.Gauge("a"), ruleset.Gauge("b"))
	var names []string
	var diags []model.Diagnostic
	WalkTo(decode(t, `{"a": 1, "b": "x", "c": 2}`), set,
		model.MetricSinkFunc(func(m model.Metric) { names = append(names, m.Name) }),
		model.DiagnosticSinkFunc(func(d model.Diagnostic) { diags = append(diags, d) }),
	)
	if strings.Join(names, ",") != "a" || len(diags) != 2 {
		t.Fatalf("names = %v diags = %+v", names, diags)
	}

	// A nil diagnostic sink is tolerated.
	WalkTo(decode(t, `{"c": 1}`), set, model.MetricSinkFunc(func(model.Metric) {}), nil)
}

func TestWalk_NilInputs(t *testing.T) {
	t.Parallel()

	set := ruleset.MustBuild("nil", ruleset.Gauge("a"))
	if res := Walk(nil, set); len(res.Metrics) != 0 || len(res.Diagnostics) != 0 {
		t.Fatalf("result = %+v", res)
	}
	if res := Walk(document.Object{"a": 1}, nil); len(res.Metrics) != 0 {
		t.Fatalf("result = %+v", res)
	}
}

func TestWalk_ConcurrentSharedRuleSet(t *testing.T) {
	t.Parallel()

	set := ruleset.MustBuild("shared",
		ruleset.Child("connections", ruleset.Gauge("current")),
		ruleset.Child("opcounters", ruleset.Iterate(func(key string, value any, _ model.Labels, emit ruleset.Emitter) {
			emit.Counter("op_total", value, model.Labels{"type": key})
		})),
	)

	var wg sync.WaitGroup
	errs := make(chan error, 32)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			doc := document.Object{
				"connections": document.Object{"current": i},
				"opcounters":  document.Object{"insert": i, "query": i * 2},
				"extra":       i,
			}
			res := Walk(doc, set, WithLabels(model.Labels{"instance": fmt.Sprintf("db%d", i)}))
			if len(res.Metrics) != 3 || len(res.Diagnostics) != 1 {
				errs <- fmt.Errorf("walk %d: %+v", i, res)
				return
			}
			for _, m := range res.Metrics {
				if m.Labels["instance"] != fmt.Sprintf("db%d", i) {
					errs <- fmt.Errorf("walk %d: label leak %s", i, m.ID())
					return
				}
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}
}

func TestDiagnostics_Dedup(t *testing.T) {
	t.Parallel()

	var d Diagnostics
	d.Report(model.Diagnostic{Path: "p", Key: "k", Kind: model.UnmappedKey, Detail: "first"})
	d.Report(model.Diagnostic{Path: "p", Key: "k", Kind: model.UnmappedKey, Detail: "second"})
	d.Report(model.Diagnostic{Path: "p", Key: "k", Kind: model.TypeMismatch, Detail: `string "a"`})
	d.Report(model.Diagnostic{Path: "p", Key: "k", Kind: model.TypeMismatch, Detail: `string "a"`})
	d.Report(model.Diagnostic{Path: "p", Key: "k", Kind: model.TypeMismatch, Detail: `string "b"`})
	d.Report(model.Diagnostic{Path: "q", Key: "k", Kind: model.UnmappedKey})

	items := d.Items()
	if len(items) != 4 || items[0].Detail != "first" {
		t.Fatalf("items = %+v", items)
	}
	items[0].Key = "mutated"
	if d.Items()[0].Key != "k" {
		t.Fatal("Items must return a copy")
	}
	if d.Count(model.UnmappedKey) != 2 || d.Count(model.TypeMismatch) != 2 {
		t.Fatalf("counts = %d/%d", d.Count(model.UnmappedKey), d.Count(model.TypeMismatch))
	}
}

func TestWalk_IterateKeepsEveryMismatchedValue(t *testing.T) {
	t.Parallel()

	set := ruleset.MustBuild("locks", ruleset.Child("locks", ruleset.Iterate(lockStats)))
	doc := decode(t, `{"locks":{"Global":{"acquireCount":{"r":"bad1","w":2,"R":"bad2"}}}}`)

	res := Walk(doc, set)
	if len(res.Metrics) != 1 {
		t.Fatalf("metrics = %+v", res.Metrics)
	}
	if len(res.Diagnostics) != 2 {
		t.Fatalf("diagnostics = %+v", res.Diagnostics)
	}
	details := []string{res.Diagnostics[0].Detail, res.Diagnostics[1].Detail}
	sort.Strings(details)
	if !strings.Contains(details[0], `"bad1"`) || !strings.Contains(details[1], `"bad2"`) {
		t.Fatalf("details = %q", details)
	}
	for _, d := range res.Diagnostics {
		if d.Kind != model.TypeMismatch || d.Path != "locks" || d.Key != "Global" {
			t.Fatalf("diagnostic = %+v", d)
		}
	}
}

func TestWalkTo_NilSink(t *testing.T) {
	t.Parallel()

	set := ruleset.MustBuild("nil-sink", ruleset.Gauge("ok"))
	diags := NewDiagnostics()
	WalkTo(decode(t, `{"ok":1,"extra":2}`), set, nil, diags)
	if diags.Count(model.UnmappedKey) != 1 {
		t.Fatalf("diagnostics = %+v", diags.Items())
	}
}
