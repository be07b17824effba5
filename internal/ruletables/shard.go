package ruletables

import (
	"github.com/tinytelemetry/statwalk/internal/document"
	"github.com/tinytelemetry/statwalk/internal/model"
	"github.com/tinytelemetry/statwalk/internal/ruleset"
)

var (
	lockStatNames = map[string]string{
		"acquireCount":        "lock_acquire_count",
		"acquireWaitCount":    "lock_acquire_wait_count",
		"timeAcquiringMicros": "time_acquiring_us",
	}

	lockModeNames = map[string]string{
		"R": "s",
		"W": "x",
		"r": "is",
		"w": "ix",
	}
)

// Shard is the rule set for a mongod shard's serverStatus document.
func Shard() *ruleset.RuleSet {
	return ruleset.MustBuild(model.DefaultSubsystem,
		ruleset.Ignore(
			"host",
			"advisoryHostFQDNs",
			"version",
			"process",
			"pid",
			"uptime",
			"uptimeMillis",
			"uptimeEstimate",
			"localTime",
			"extra_info",
			"sharding",
			"writeBacksQueued",
			"storageEngine",
			"$gleStats",
		),

		ruleset.Child("repl",
			ruleset.Ignore("rbid", "setName", "primary", "secondary", "me", "electionId"),
			ruleset.Gauge("setVersion", ruleset.As("set_version")),
			ruleset.DerivedGauge("is_master", ruleset.ExtractBool("ismaster")),
			ruleset.DerivedGauge("visible_hosts", ruleset.ExtractLen("hosts")),
		),

		ruleset.Child("globalLock",
			ruleset.Gauge("totalTime", ruleset.As("total_time_us")),
			ruleset.Child("currentQueue",
				ruleset.Ignore("total"),
				ruleset.Iterate(labelled(model.Gauge, "global_lock", "queue")),
			),
			ruleset.Child("activeClients",
				ruleset.Ignore("total"),
				ruleset.Iterate(labelled(model.Gauge, "global_lock", "client")),
			),
		),

		// lock type (Global, Database, Collection...) -> stat -> mode
		ruleset.Child("locks", ruleset.Iterate(lockStats)),

		wiredTiger(),

		ruleset.Child("asserts",
			ruleset.Counter("rollovers"),
			ruleset.IterateRest(labelled(model.Counter, "asserts", "type")),
		),

		ruleset.Child("opcounters",
			ruleset.Iterate(labelled(model.Counter, "opcounters", "type")),
		),

		ruleset.Child("opcountersRepl",
			ruleset.ScopeLabels(model.Labels{"role": "repl"}),
			ruleset.Iterate(labelled(model.Counter, "opcounters", "type")),
		),

		ruleset.Child("connections",
			ruleset.Gauge("current"),
			ruleset.Gauge("available"),
			ruleset.Counter("totalCreated", ruleset.As("created_total")),
		),

		ruleset.Child("network",
			ruleset.Counter("bytesIn", ruleset.As("in_bytes")),
			ruleset.Gauge("bytesOut", ruleset.As("out_bytes")),
			ruleset.Counter("numRequests", ruleset.As("requests_total")),
		),

		ruleset.Child("mem",
			ruleset.Ignore("bits", "supported"),
			ruleset.Ignore("mapped", "mappedWithJournal"), // MMAPv1
			ruleset.Gauge("resident", ruleset.As("resident_mbytes")),
			ruleset.Gauge("virtual", ruleset.As("virtual_mbytes")),
		),

		serverMetrics(),

		ruleset.Gauge("ok", ruleset.As("metrics_is_ok")),
	)
}

func serverMetrics() ruleset.Decl {
	return ruleset.Child("metrics",
		ruleset.Ignore("getLastError", "repl"),
		ruleset.Ignore("record"), // MMAPv1 on-disk moves

		ruleset.Child("document",
			ruleset.Counter("deleted"),
			ruleset.Counter("inserted"),
			ruleset.Counter("returned"),
			ruleset.Counter("updated"),
		),

		ruleset.Child("operation",
			ruleset.Iterate(labelled(model.Counter, "special_operation", "type")),
		),

		ruleset.Child("queryExecutor",
			ruleset.DerivedCounter("query_index_scanned_total", ruleset.Extract("scanned")),
			ruleset.DerivedCounter("query_documents_scanned_total", ruleset.Extract("scannedObjects")),
		),

		ruleset.Child("ttl",
			ruleset.Counter("deletedDocuments", ruleset.As("documents_deleted_total")),
			ruleset.Counter("passes", ruleset.As("passes_total")),
		),

		ruleset.Child("cursor",
			ruleset.Counter("timedOut", ruleset.As("timed_out_total")),
			ruleset.Child("open",
				ruleset.Gauge("noTimeout", ruleset.As("no_timeout")),
				ruleset.Gauge("pinned"),
				ruleset.Gauge("total"),
				ruleset.Gauge("singleTarget"),
				ruleset.Gauge("multiTarget"),
			),
		),

		ruleset.Child("storage",
			ruleset.Child("freelist",
				ruleset.Child("search",
					ruleset.Counter("bucketExhausted", ruleset.As("bucket_exhausted")),
					ruleset.Counter("requests"),
					ruleset.Counter("scanned"),
				),
			),
		),

		ruleset.Child("commands",
			ruleset.Counter("<UNKNOWN>", ruleset.As("unknown")),
			ruleset.IterateRest(commandStats),
		),
	)
}

func wiredTiger() ruleset.Decl {
	typed := func(t string) ruleset.RuleOption { return ruleset.WithLabels(model.Labels{"type": t}) }
	tickets := func(op string) ruleset.Decl {
		return ruleset.Child(op,
			ruleset.ScopeLabels(model.Labels{"op": op}),
			ruleset.Gauge("out"),
			ruleset.Gauge("available"),
			ruleset.Gauge("totalTickets", ruleset.As("tickets_total")),
		)
	}

	return ruleset.Child("wiredTiger",
		ruleset.Ignore("uri"),

		ruleset.Child("LSM",
			ruleset.Gauge("application work units currently queued", typed("app"), ruleset.As("work_units_queued")),
			ruleset.Gauge("merge work units currently queued", typed("merge"), ruleset.As("work_units_queued")),
			ruleset.Gauge("switch work units currently queued", typed("switch"), ruleset.As("work_units_queued")),
			ruleset.Counter("rows merged in an LSM tree", ruleset.As("tree_rows_merged")),
			ruleset.Gauge("sleep for LSM checkpoint throttle", ruleset.WithLabels(model.Labels{"task": "checkpoint"}), ruleset.As("throttle_sleep")),
			ruleset.Gauge("sleep for LSM merge throttle", ruleset.WithLabels(model.Labels{"task": "merge"}), ruleset.As("merge_throttle_sleep")),
			ruleset.Gauge("tree maintenance operations discarded", typed("discarded"), ruleset.As("tree_maintanace_ops")),
			ruleset.Gauge("tree maintenance operations executed", typed("executed"), ruleset.As("tree_maintanace_ops")),
			ruleset.Gauge("tree maintenance operations scheduled", typed("scheduled"), ruleset.As("tree_maintanace_ops")),
			ruleset.Gauge("tree queue hit maximum", ruleset.As("tree_queue_hit_max")),
		),

		ruleset.Child("async",
			ruleset.Gauge("current work queue length", ruleset.As("work_queue_length_current")),
			ruleset.Gauge("maximum work queue length", ruleset.As("work_queue_length_max")),
			ruleset.Counter("number of allocation state races", ruleset.As("allocation_state_races")),
			ruleset.Counter("number of flush calls", ruleset.As("flush_calls")),
			ruleset.Counter("number of operation slots viewed for allocation", ruleset.As("slots_viewed_for_allocation")),
			ruleset.Counter("number of times operation allocation failed", ruleset.As("operation_allocation_failed")),
			ruleset.Counter("number of times worker found no work", ruleset.As("worker_work_not_found")),
			ruleset.Counter("total allocations", ruleset.As("allocations_total")),
			ruleset.Counter("total compact calls", typed("compact"), ruleset.As("calls_total")),
			ruleset.Counter("total insert calls", typed("insert"), ruleset.As("calls_total")),
			ruleset.Counter("total remove calls", typed("remove"), ruleset.As("calls_total")),
			ruleset.Counter("total search calls", typed("search"), ruleset.As("calls_total")),
			ruleset.Counter("total update calls", typed("update"), ruleset.As("calls_total")),
		),

		ruleset.Child("block-manager",
			ruleset.Counter("blocks pre-loaded", ruleset.As("preloaded_blocks")),
			ruleset.Counter("blocks read", ruleset.As("read_blocks")),
			ruleset.Counter("blocks written", ruleset.As("written_blocks")),
			ruleset.Counter("bytes read", ruleset.As("read_bytes")),
			ruleset.Counter("bytes written", ruleset.As("written_bytes")),
			ruleset.Counter("bytes written for checkpoint", ruleset.As("checkpoint_written_bytes")),
			ruleset.Counter("mapped blocks read", ruleset.As("read_mapped_blocks")),
			ruleset.Counter("mapped bytes read", ruleset.As("read_mapped_bytes")),
		),

		ruleset.Child("connection",
			ruleset.Counter("auto adjusting condition resets", ruleset.As("adjusting_resets")),
			ruleset.Counter("auto adjusting condition wait calls", ruleset.As("adjusting_wait_calls")),
			ruleset.Counter("files currently open", ruleset.As("files_open")),
			ruleset.Counter("memory allocations", ruleset.As("mem_allocations")),
			ruleset.Counter("memory frees", ruleset.As("mem_frees")),
			ruleset.Counter("memory re-allocations", ruleset.As("mem_realloc")),
			ruleset.Counter("pthread mutex condition wait calls", ruleset.As("mutex_condition_wait_calls")),
			ruleset.Counter("pthread mutex shared lock read-lock calls", ruleset.As("mutex_shared_lock_read_calls")),
			ruleset.Counter("pthread mutex shared lock write-lock calls", ruleset.As("mutex_shared_lock_write_calls")),
			ruleset.Counter("total fsync I/Os", ruleset.As("fsync_io_total")),
			ruleset.Counter("total read I/Os", ruleset.As("read_io_total")),
			ruleset.Counter("total write I/Os", ruleset.As("write_io_total")),
		),

		ruleset.Child("concurrentTransactions", tickets("read"), tickets("write")),

		ruleset.Child("cache", ruleset.Ignore(cacheIgnored...)),

		ruleset.Child("cursor",
			ruleset.Counter("cursor create calls", typed("create"), ruleset.As("calls")),
			ruleset.Counter("cursor insert calls", typed("insert"), ruleset.As("calls")),
			ruleset.Counter("cursor next calls", typed("next"), ruleset.As("calls")),
			ruleset.Counter("cursor prev calls", typed("prev"), ruleset.As("calls")),
			ruleset.Counter("cursor remove calls", typed("remove"), ruleset.As("calls")),
			ruleset.Counter("cursor reset calls", typed("reset"), ruleset.As("calls")),
			ruleset.Counter("cursor restarted searches", typed("restarted"), ruleset.As("calls")),
			ruleset.Counter("cursor search calls", typed("search"), ruleset.As("calls")),
			ruleset.Counter("cursor search near calls", typed("search_near"), ruleset.As("calls")),
			ruleset.Counter("cursor update calls", typed("update"), ruleset.As("calls")),
			ruleset.Counter("truncate calls", ruleset.As("truncate_calls")),
		),

		ruleset.Child("thread-state", ruleset.Ignore(
			"active filesystem fsync calls",
			"active filesystem read calls",
			"active filesystem write calls",
		)),
		ruleset.Child("thread-yield", ruleset.Ignore(
			"page acquire busy blocked",
			"page acquire eviction blocked",
			"page acquire locked blocked",
			"page acquire read blocked",
			"page acquire time sleeping (usecs)",
		)),
		ruleset.Child("data-handle", ruleset.Ignore(dataHandleIgnored...)),
		ruleset.Child("reconciliation", ruleset.Ignore(reconciliationIgnored...)),
		ruleset.Child("transaction", ruleset.Ignore(transactionIgnored...)),
		ruleset.Child("session", ruleset.Ignore(sessionIgnored...)),
		ruleset.Child("log", ruleset.Ignore(logIgnored...)),
	)
}

// labelled emits each key of the scope as name{label=key}.
func labelled(kind model.MetricKind, name, label string) ruleset.IterateFunc {
	return func(key string, value any, _ model.Labels, emit ruleset.Emitter) {
		labels := model.Labels{label: key}
		if kind == model.Counter {
			emit.Counter(name, value, labels)
			return
		}
		emit.Gauge(name, value, labels)
	}
}

// lockStats skips non-object levels the same way child scopes do.
func lockStats(lockType string, value any, _ model.Labels, emit ruleset.Emitter) {
	stats, ok := document.AsObject(value)
	if !ok {
		return
	}
	for _, stat := range document.SortedKeys(stats) {
		name, known := lockStatNames[stat]
		if !known {
			name = "lock_" + document.CanonicalName(stat)
		}
		modes, ok := document.AsObject(stats[stat])
		if !ok {
			continue
		}
		for _, mode := range document.SortedKeys(modes) {
			modeName, known := lockModeNames[mode]
			if !known {
				modeName = document.CanonicalName(mode)
			}
			emit.Counter(name, modes[mode], model.Labels{"type": lockType, "mode": modeName})
		}
	}
}

func commandStats(command string, value any, _ model.Labels, emit ruleset.Emitter) {
	stats, ok := document.AsObject(value)
	if !ok {
		return
	}
	labels := model.Labels{"type": command}
	if failed, ok := stats["failed"]; ok {
		emit.Counter("command_failed", failed, labels)
	}
	if total, ok := stats["total"]; ok {
		emit.Counter("command_total", total, labels)
	}
}
