package ingest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tinytelemetry/statwalk/internal/document"
	"github.com/tinytelemetry/statwalk/internal/model"
	"github.com/tinytelemetry/statwalk/internal/ruleset"
	"github.com/tinytelemetry/statwalk/internal/walker"
)

// ErrUnknownSubsystem is returned for a document whose subsystem has no rule set.
var ErrUnknownSubsystem = errors.New("ingest: no rule set for subsystem")

// RuleSets resolves a subsystem identifier to its rule set.
type RuleSets interface {
	Lookup(subsystem string) (*ruleset.RuleSet, bool)
}

// ExtractorConfig holds tunable parameters for the extractor.
type ExtractorConfig struct {
	MaxDepth int
	Drift    *DriftLog
}

// Extractor walks documents against their subsystem's rule set and hands
// the stamped result to every sink. It keeps no per-document state, so one
// Extractor serves all workers.
type Extractor struct {
	rules    RuleSets
	sinks    []BatchSink
	maxDepth int
	drift    *DriftLog
}

// NewExtractor creates an extractor that delivers batches to sinks in order.
func NewExtractor(rules RuleSets, sinks []BatchSink, conf ...ExtractorConfig) *Extractor {
	e := &Extractor{
		rules:    rules,
		sinks:    sinks,
		maxDepth: model.DefaultMaxDepth,
	}
	if len(conf) > 0 {
		if conf[0].MaxDepth > 0 {
			e.maxDepth = conf[0].MaxDepth
		}
		e.drift = conf[0].Drift
	}
	return e
}

// Process walks doc and delivers the result. Sinks are not called when the
// subsystem is unknown.
func (e *Extractor) Process(doc *Document) (*Batch, error) {
	set, ok := e.rules.Lookup(doc.Subsystem)
	if !ok {
		return nil, fmt.Errorf("%w: %q (source %s)", ErrUnknownSubsystem, doc.Subsystem, doc.Source)
	}

	start := time.Now()
	res := walker.Walk(doc.Body, set, walker.WithMaxDepth(e.maxDepth))
	batch := &Batch{
		Subsystem:   doc.Subsystem,
		Instance:    doc.Instance,
		Source:      doc.Source,
		Timestamp:   doc.Timestamp,
		Duration:    time.Since(start),
		Samples:     make([]*model.MetricSample, 0, len(res.Metrics)),
		Diagnostics: make([]*model.DiagnosticRecord, 0, len(res.Diagnostics)),
	}
	for _, m := range res.Metrics {
		batch.Samples = append(batch.Samples, &model.MetricSample{
			Timestamp: doc.Timestamp,
			Subsystem: doc.Subsystem,
			Instance:  doc.Instance,
			Metric:    m,
		})
	}
	for _, d := range res.Diagnostics {
		batch.Diagnostics = append(batch.Diagnostics, &model.DiagnosticRecord{
			Timestamp:  doc.Timestamp,
			Subsystem:  doc.Subsystem,
			Instance:   doc.Instance,
			Diagnostic: d,
		})
	}

	if e.drift != nil {
		e.drift.Observe(batch)
	}
	for _, sink := range e.sinks {
		sink.Consume(batch)
	}
	return batch, nil
}

// DryRun walks body without stamping or delivering anything.
func (e *Extractor) DryRun(subsystem string, body document.Object) (walker.Result, error) {
	set, ok := e.rules.Lookup(subsystem)
	if !ok {
		return walker.Result{}, fmt.Errorf("%w: %q", ErrUnknownSubsystem, subsystem)
	}
	return walker.Walk(body, set, walker.WithMaxDepth(e.maxDepth)), nil
}

// Run processes documents from docs on workers goroutines until docs is
// closed or ctx is done. Per-document errors are logged, never returned.
func (e *Extractor) Run(ctx context.Context, docs <-chan *Document, workers int) error {
	if workers <= 0 {
		workers = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case doc, ok := <-docs:
					if !ok {
						return nil
					}
					if _, err := e.Process(doc); err != nil {
						log.Printf("ingest: %v", err)
					}
				}
			}
		})
	}
	return g.Wait()
}
