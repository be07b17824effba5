package duckdb

import (
	"strings"
	"testing"
	"time"

	"github.com/tinytelemetry/statwalk/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore("")
	if err != nil {
		t.Fatalf("NewStore(\"\") failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func sample(ts time.Time, instance, name string, kind model.MetricKind, value float64, labels model.Labels) *model.MetricSample {
	return &model.MetricSample{
		Timestamp: ts,
		Subsystem: "shard",
		Instance:  instance,
		Metric:    model.Metric{Name: name, Kind: kind, Value: value, Labels: labels},
	}
}

func diagnostic(ts time.Time, path, key string, kind model.DiagnosticKind, detail string) *model.DiagnosticRecord {
	return &model.DiagnosticRecord{
		Timestamp:  ts,
		Subsystem:  "shard",
		Instance:   "db1",
		Diagnostic: model.Diagnostic{Path: path, Key: key, Kind: kind, Detail: detail},
	}
}

func insertTestSamples(t *testing.T, store *Store, samples []*model.MetricSample) {
	t.Helper()
	if err := store.InsertSampleBatch(samples); err != nil {
		t.Fatalf("InsertSampleBatch failed: %v", err)
	}
}

func TestInsertSampleBatch(t *testing.T) {
	store := newTestStore(t)
	now := time.Now()

	insertTestSamples(t, store, []*model.MetricSample{
		sample(now, "db1", "current", model.Gauge, 3, nil),
		sample(now, "db1", "created_total", model.Counter, 120, nil),
		sample(now, "db1", "lock_acquire_count", model.Counter, 5, model.Labels{"type": "Global", "mode": "is"}),
	})

	count, err := store.TotalSampleCount()
	if err != nil {
		t.Fatalf("TotalSampleCount: %v", err)
	}
	if count != 3 {
		t.Errorf("TotalSampleCount = %d, want 3", count)
	}

	rows, err := store.ExecuteQuery(`SELECT kind, metric_id FROM samples WHERE name = 'lock_acquire_count'`)
	if err != nil {
		t.Fatalf("ExecuteQuery: %v", err)
	}
	if len(rows) != 1 || rows[0]["kind"] != "counter" || rows[0]["metric_id"] != `lock_acquire_count{mode="is",type="Global"}` {
		t.Fatalf("rows = %v", rows)
	}
}

func TestTotalSampleCount_Empty(t *testing.T) {
	store := newTestStore(t)

	count, err := store.TotalSampleCount()
	if err != nil {
		t.Fatalf("TotalSampleCount: %v", err)
	}
	if count != 0 {
		t.Errorf("empty store TotalSampleCount = %d, want 0", count)
	}
}

func TestLatestSamples(t *testing.T) {
	store := newTestStore(t)
	older := time.Now().Add(-time.Minute)
	newer := time.Now()

	insertTestSamples(t, store, []*model.MetricSample{
		sample(older, "db1", "current", model.Gauge, 1, nil),
		sample(newer, "db1", "current", model.Gauge, 7, nil),
		sample(older, "db1", "lock_acquire_count", model.Counter, 5, model.Labels{"type": "Global", "mode": "is"}),
		sample(newer, "db2", "current", model.Gauge, 9, nil),
	})

	latest, err := store.LatestSamples("shard", "db1", 10)
	if err != nil {
		t.Fatalf("LatestSamples: %v", err)
	}
	if len(latest) != 2 {
		t.Fatalf("LatestSamples returned %d rows, want 2: %+v", len(latest), latest)
	}
	if latest[0].Name != "current" || latest[0].Value != 7 || latest[0].Kind != model.Gauge {
		t.Errorf("latest[0] = %+v", latest[0])
	}
	if latest[1].Kind != model.Counter || latest[1].Labels["mode"] != "is" {
		t.Errorf("latest[1] = %+v", latest[1])
	}

	all, err := store.LatestSamples("shard", "", 10)
	if err != nil {
		t.Fatalf("LatestSamples: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("LatestSamples across instances returned %d rows, want 3", len(all))
	}
}

func TestDriftReport(t *testing.T) {
	store := newTestStore(t)
	t0 := time.Now().Add(-time.Hour)
	t1 := time.Now()

	err := store.InsertDiagnosticBatch([]*model.DiagnosticRecord{
		diagnostic(t0, "", "newTopLevelSection", model.UnmappedKey, "object with 1 keys"),
		diagnostic(t1, "", "newTopLevelSection", model.UnmappedKey, "object with 2 keys"),
		diagnostic(t1, "connections", "current", model.TypeMismatch, "gauge current: string"),
	})
	if err != nil {
		t.Fatalf("InsertDiagnosticBatch: %v", err)
	}

	report, err := store.DriftReport("shard", 10)
	if err != nil {
		t.Fatalf("DriftReport: %v", err)
	}
	if len(report) != 2 {
		t.Fatalf("DriftReport returned %d entries, want 2", len(report))
	}
	top := report[0]
	if top.Key != "newTopLevelSection" || top.Kind != "unmapped_key" || top.Count != 2 {
		t.Errorf("top entry = %+v", top)
	}
	if top.Detail != "object with 2 keys" {
		t.Errorf("top detail = %q, want the most recent", top.Detail)
	}

	other, err := store.DriftReport("router", 10)
	if err != nil {
		t.Fatalf("DriftReport: %v", err)
	}
	if len(other) != 0 {
		t.Errorf("DriftReport(router) = %+v, want empty", other)
	}
}

func TestDeleteBefore(t *testing.T) {
	store := newTestStore(t)
	old := time.Now().Add(-48 * time.Hour)
	now := time.Now()

	insertTestSamples(t, store, []*model.MetricSample{
		sample(old, "db1", "current", model.Gauge, 1, nil),
		sample(now, "db1", "current", model.Gauge, 2, nil),
	})
	if err := store.InsertDiagnosticBatch([]*model.DiagnosticRecord{diagnostic(old, "", "x", model.UnmappedKey, "")}); err != nil {
		t.Fatalf("InsertDiagnosticBatch: %v", err)
	}

	deleted, err := store.DeleteBefore(now.Add(-24 * time.Hour))
	if err != nil {
		t.Fatalf("DeleteBefore: %v", err)
	}
	if deleted != 2 {
		t.Errorf("deleted = %d, want 2", deleted)
	}
	counts, err := store.TableRowCounts()
	if err != nil {
		t.Fatalf("TableRowCounts: %v", err)
	}
	if counts["samples"] != 1 || counts["diagnostics"] != 0 {
		t.Errorf("counts = %v", counts)
	}
}

func TestExecuteQuery_SelectAllowed(t *testing.T) {
	store := newTestStore(t)
	insertTestSamples(t, store, []*model.MetricSample{sample(time.Now(), "db1", "ok", model.Gauge, 1, nil)})

	results, err := store.ExecuteQuery("SELECT COUNT(*) as cnt FROM samples")
	if err != nil {
		t.Fatalf("ExecuteQuery SELECT: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("ExecuteQuery returned %d rows, want 1", len(results))
	}
}

func TestExecuteQuery_WithAllowed(t *testing.T) {
	store := newTestStore(t)
	insertTestSamples(t, store, []*model.MetricSample{sample(time.Now(), "db1", "ok", model.Gauge, 1, nil)})

	results, err := store.ExecuteQuery("WITH c AS (SELECT COUNT(*) AS cnt FROM samples) SELECT cnt FROM c")
	if err != nil {
		t.Fatalf("ExecuteQuery WITH: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("ExecuteQuery WITH returned %d rows, want 1", len(results))
	}
}

func TestExecuteQuery_DMLRejected(t *testing.T) {
	store := newTestStore(t)

	rejected := []string{
		"INSERT INTO samples (name, value) VALUES ('x', 1)",
		"UPDATE samples SET value = 0",
		"DELETE FROM diagnostics",
		"DROP TABLE samples",
		"CREATE TABLE evil (id int)",
		"ALTER TABLE samples ADD COLUMN evil varchar",
		"TRUNCATE diagnostics",
	}

	for _, sql := range rejected {
		_, err := store.ExecuteQuery(sql)
		if err == nil {
			t.Errorf("ExecuteQuery(%q) should have been rejected", sql)
		}
	}
}

func TestExecuteQuery_DuckDBKeywordsRejected(t *testing.T) {
	store := newTestStore(t)

	// Test keyword rejection without semicolons (keyword denylist).
	rejected := []struct {
		sql     string
		keyword string
	}{
		{"SELECT COPY(samples, '/tmp/dump.csv') FROM samples", "COPY"},
		{"SELECT ATTACH FROM samples", "ATTACH"},
		{"SELECT LOAD FROM samples", "LOAD"},
		{"SELECT EXPORT FROM samples", "EXPORT"},
		{"SELECT INSTALL FROM samples", "INSTALL"},
		{"SELECT PRAGMA FROM samples", "PRAGMA"},
		{"SELECT SET FROM samples", "SET"},
		{"SELECT 1 /* hidden */ FROM samples WHERE DROP", "DROP"},
	}

	for _, tt := range rejected {
		_, err := store.ExecuteQuery(tt.sql)
		if err == nil {
			t.Errorf("ExecuteQuery should reject %s keyword", tt.keyword)
		}
		if err != nil && !strings.Contains(err.Error(), tt.keyword) {
			t.Errorf("ExecuteQuery error %q should mention keyword %s", err.Error(), tt.keyword)
		}
	}

	// Test semicolon rejection (prevents statement chaining).
	semicolonCases := []string{
		"SELECT * FROM samples; DROP TABLE samples",
		"SELECT * FROM diagnostics; COPY diagnostics TO '/tmp/dump.csv'",
	}
	for _, sql := range semicolonCases {
		_, err := store.ExecuteQuery(sql)
		if err == nil {
			t.Errorf("ExecuteQuery should reject query with semicolons: %s", sql)
		}
		if err != nil && !strings.Contains(err.Error(), "semicolons") {
			t.Errorf("ExecuteQuery error %q should mention semicolons", err.Error())
		}
	}
}

func TestTableRowCounts(t *testing.T) {
	store := newTestStore(t)

	counts, err := store.TableRowCounts()
	if err != nil {
		t.Fatalf("TableRowCounts: %v", err)
	}

	for _, table := range []string{"samples", "diagnostics"} {
		if _, ok := counts[table]; !ok {
			t.Errorf("TableRowCounts missing table %q", table)
		}
	}
}

func TestGetSchemaDescription_NamesTables(t *testing.T) {
	store := newTestStore(t)

	desc := store.GetSchemaDescription()
	for _, want := range []string{"'samples'", "'diagnostics'", "metric_id"} {
		if !strings.Contains(desc, want) {
			t.Errorf("schema description missing %s", want)
		}
	}
}

func TestSetMaxConcurrentQueries(t *testing.T) {
	store := newTestStore(t)
	store.SetMaxConcurrentQueries(1)
	if cap(store.readSlots) != 1 {
		t.Fatalf("read slots = %d, want 1", cap(store.readSlots))
	}
	store.SetMaxConcurrentQueries(0)
	if cap(store.readSlots) != DefaultMaxConcurrentQueries {
		t.Fatalf("read slots = %d, want default", cap(store.readSlots))
	}
	if _, err := store.TotalSampleCount(); err != nil {
		t.Fatalf("TotalSampleCount: %v", err)
	}
}
