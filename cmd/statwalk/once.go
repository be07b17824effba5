package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/tinytelemetry/statwalk/internal/docsource"
	"github.com/tinytelemetry/statwalk/internal/ingest"
	"github.com/tinytelemetry/statwalk/internal/model"
	"github.com/tinytelemetry/statwalk/internal/otlpexport"
)

// Output formats of the one-shot walk.
const (
	formatText = "text"
	formatJSON = "json"
	formatOTLP = "otlp"
)

type onceOptions struct {
	Path      string
	Subsystem string
	Format    string
}

// runOnce walks every document of one file and prints the results. Nothing
// is stored or exported.
func runOnce(cfg appConfig, opts onceOptions, w io.Writer) error {
	switch opts.Format {
	case formatText, formatJSON, formatOTLP:
	default:
		return fmt.Errorf("invalid format %q: want %s, %s or %s", opts.Format, formatText, formatJSON, formatOTLP)
	}

	rules, _, err := loadRuleSets(cfg.RulesDir)
	if err != nil {
		return err
	}

	subsystem := opts.Subsystem
	if subsystem == "" {
		subsystem = cfg.DefaultSubsystem
	}

	var batches []*ingest.Batch
	extractor := ingest.NewExtractor(rules, []ingest.BatchSink{
		ingest.BatchSinkFunc(func(b *ingest.Batch) { batches = append(batches, b) }),
	}, ingest.ExtractorConfig{MaxDepth: cfg.MaxDepth})
	decoder := ingest.NewDecoder(ingest.DecoderConfig{DefaultSubsystem: subsystem})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	src, err := docsource.NewFileSource(ctx, opts.Path)
	if err != nil {
		return err
	}
	defer src.Stop()

	for env := range src.Lines() {
		doc, err := decoder.Feed(env)
		if err != nil {
			return fmt.Errorf("%s: %w", src.Name(), err)
		}
		if doc == nil {
			continue
		}
		if _, err := extractor.Process(doc); err != nil {
			return err
		}
	}
	if len(batches) == 0 {
		return fmt.Errorf("no status document found in %s", opts.Path)
	}

	switch opts.Format {
	case formatJSON:
		return writeJSON(w, batches)
	case formatOTLP:
		return writeOTLP(w, batches, cfg.Namespace)
	default:
		return writeText(w, batches)
	}
}

func writeText(w io.Writer, batches []*ingest.Batch) error {
	for i, b := range batches {
		if i > 0 {
			if _, err := fmt.Fprintln(w); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintf(w, "# %s %s %s (%d metrics, %d diagnostics)\n",
			b.Subsystem, b.Instance, b.Timestamp.UTC().Format(time.RFC3339), len(b.Samples), len(b.Diagnostics)); err != nil {
			return err
		}
		for _, s := range b.Samples {
			name := s.Metric.Name
			if len(s.Metric.Labels) > 0 {
				name += s.Metric.Labels.String()
			}
			if _, err := fmt.Fprintf(w, "%-7s %s %s\n", s.Metric.Kind, name, formatValue(s.Metric.Value)); err != nil {
				return err
			}
		}
		for _, d := range b.Diagnostics {
			if _, err := fmt.Fprintf(w, "! %s %s: %s\n", d.Kind, d.Location(), d.Detail); err != nil {
				return err
			}
		}
	}
	return nil
}

type onceMetric struct {
	Name   string          `json:"name"`
	Kind   string          `json:"kind"`
	Value  model.JSONValue `json:"value"`
	Labels model.Labels    `json:"labels,omitempty"`
}

type onceDiagnostic struct {
	Kind   string `json:"kind"`
	Path   string `json:"path"`
	Key    string `json:"key"`
	Detail string `json:"detail"`
}

type onceDocument struct {
	Subsystem   string           `json:"subsystem"`
	Instance    string           `json:"instance"`
	Timestamp   time.Time        `json:"timestamp"`
	Metrics     []onceMetric     `json:"metrics"`
	Diagnostics []onceDiagnostic `json:"diagnostics"`
}

// writeJSON prints one JSON object per document.
func writeJSON(w io.Writer, batches []*ingest.Batch) error {
	enc := json.NewEncoder(w)
	for _, b := range batches {
		out := onceDocument{
			Subsystem:   b.Subsystem,
			Instance:    b.Instance,
			Timestamp:   b.Timestamp.UTC(),
			Metrics:     make([]onceMetric, 0, len(b.Samples)),
			Diagnostics: make([]onceDiagnostic, 0, len(b.Diagnostics)),
		}
		for _, s := range b.Samples {
			out.Metrics = append(out.Metrics, onceMetric{
				Name:   s.Metric.Name,
				Kind:   s.Metric.Kind.String(),
				Value:  model.JSONValue(s.Metric.Value),
				Labels: s.Metric.Labels,
			})
		}
		for _, d := range b.Diagnostics {
			out.Diagnostics = append(out.Diagnostics, onceDiagnostic{
				Kind:   d.Kind.String(),
				Path:   d.Path,
				Key:    d.Key,
				Detail: d.Detail,
			})
		}
		if err := enc.Encode(out); err != nil {
			return err
		}
	}
	return nil
}

// writeOTLP prints the export request a collector would receive.
func writeOTLP(w io.Writer, batches []*ingest.Batch, namespace string) error {
	var samples []*model.MetricSample
	for _, b := range batches {
		samples = append(samples, b.Samples...)
	}
	req := otlpexport.BuildRequest(samples, otlpexport.RequestOptions{
		Namespace: namespace,
		Version:   version,
	})
	data, err := otlpexport.RenderJSON(req)
	if err != nil {
		return fmt.Errorf("render otlp: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	_, err = fmt.Fprintln(w)
	return err
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
