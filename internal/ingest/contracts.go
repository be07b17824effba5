package ingest

import (
	"time"

	"github.com/tinytelemetry/statwalk/internal/model"
)

// Batch is the stamped output of one walk.
type Batch struct {
	Subsystem   string
	Instance    string
	Source      string
	Timestamp   time.Time
	Duration    time.Duration
	Samples     []*model.MetricSample
	Diagnostics []*model.DiagnosticRecord
}

// BatchSink consumes walk output. Implementations must be safe for
// concurrent use: the extractor calls them from every worker.
type BatchSink interface {
	Consume(*Batch)
}

// BatchSinkFunc adapts a function to BatchSink.
type BatchSinkFunc func(*Batch)

func (f BatchSinkFunc) Consume(b *Batch) { f(b) }
