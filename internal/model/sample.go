package model

import "time"

// MetricSample is a walk result stamped with where and when it came from.
// It is the canonical type for storage and export.
type MetricSample struct {
	Timestamp time.Time
	Subsystem string
	Instance  string
	Metric
}

// DiagnosticRecord is a Diagnostic stamped with its origin.
type DiagnosticRecord struct {
	Timestamp time.Time
	Subsystem string
	Instance  string
	Diagnostic
}

// DriftEntry aggregates repeated diagnostics for one location.
type DriftEntry struct {
	Subsystem string
	Path      string
	Key       string
	Kind      string
	Count     int64
	LastSeen  time.Time
	Detail    string
}
