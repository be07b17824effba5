package model

// MetricSink receives each metric a walk produces.
type MetricSink interface {
	Emit(Metric)
}

// DiagnosticSink receives each diagnostic a walk produces. It must not fail.
type DiagnosticSink interface {
	Report(Diagnostic)
}

// MetricSinkFunc adapts a function to MetricSink.
type MetricSinkFunc func(Metric)

func (f MetricSinkFunc) Emit(m Metric) { f(m) }

// DiagnosticSinkFunc adapts a function to DiagnosticSink.
type DiagnosticSinkFunc func(Diagnostic)

func (f DiagnosticSinkFunc) Report(d Diagnostic) { f(d) }

// SampleWriter provides append-oriented writes for walk results.
type SampleWriter interface {
	InsertSampleBatch(samples []*MetricSample) error
	InsertDiagnosticBatch(records []*DiagnosticRecord) error
}

// SchemaQuerier provides schema introspection and arbitrary read-only queries.
type SchemaQuerier interface {
	ExecuteQuery(query string) ([]map[string]interface{}, error)
	GetSchemaDescription() string
	TableRowCounts() (map[string]int64, error)
}

// SampleQuerier provides read-only queries over stored walk results.
type SampleQuerier interface {
	TotalSampleCount() (int64, error)
	DriftReport(subsystem string, limit int) ([]DriftEntry, error)
	LatestSamples(subsystem, instance string, limit int) ([]MetricSample, error)
}

// ReadAPI is the unified read contract for the HTTP surface.
type ReadAPI interface {
	SampleQuerier
	SchemaQuerier
}
