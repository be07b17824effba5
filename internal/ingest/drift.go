package ingest

import (
	"log"
	"sync"

	"github.com/tinytelemetry/statwalk/internal/model"
)

type driftKey struct {
	subsystem string
	path      string
	key       string
	kind      model.DiagnosticKind
}

// DriftLog writes each distinct finding to the log the first time any
// instance reports it. Later repeats are only counted.
type DriftLog struct {
	mu     sync.Mutex
	seen   map[driftKey]int64
	logf   func(format string, args ...any)
	limit  int
	capped bool
}

// DefaultDriftLogLimit bounds how many distinct findings are remembered.
const DefaultDriftLogLimit = 10_000

// NewDriftLog creates a drift log writing through log.Printf.
func NewDriftLog() *DriftLog {
	return &DriftLog{
		seen:  make(map[driftKey]int64),
		logf:  log.Printf,
		limit: DefaultDriftLogLimit,
	}
}

// Observe records the diagnostics of one batch.
func (d *DriftLog) Observe(b *Batch) {
	if len(b.Diagnostics) == 0 {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, rec := range b.Diagnostics {
		k := driftKey{subsystem: b.Subsystem, path: rec.Path, key: rec.Key, kind: rec.Kind}
		if _, ok := d.seen[k]; ok {
			d.seen[k]++
			continue
		}
		if len(d.seen) >= d.limit {
			if !d.capped {
				d.capped = true
				d.logf("ingest: drift log holds %d distinct findings, new ones are no longer logged", d.limit)
			}
			continue
		}
		d.seen[k] = 1
		d.logf("ingest: %s %s in %s (instance %s): %s", rec.Kind, rec.Location(), b.Subsystem, b.Instance, rec.Detail)
	}
}

// Seen returns how often a finding was observed.
func (d *DriftLog) Seen(subsystem, path, key string, kind model.DiagnosticKind) int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.seen[driftKey{subsystem: subsystem, path: path, key: key, kind: kind}]
}

// Distinct returns the number of distinct findings remembered.
func (d *DriftLog) Distinct() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
