package walker

import "github.com/tinytelemetry/statwalk/internal/model"

type diagKey struct {
	kind   model.DiagnosticKind
	path   string
	key    string
	detail string
}

func keyOf(diag model.Diagnostic) diagKey {
	k := diagKey{kind: diag.Kind, path: diag.Path, key: diag.Key}
	// One iterate key can carry several bad values; each is its own finding.
	if diag.Kind == model.TypeMismatch {
		k.detail = diag.Detail
	}
	return k
}

// Diagnostics collects the findings of one walk. Each (kind, path, key) is
// kept once, in first-seen order, except type mismatches, which are kept
// per offending value. The zero value is ready to use; it is not
// safe for concurrent use.
type Diagnostics struct {
	items []model.Diagnostic
	seen  map[diagKey]struct{}
}

// NewDiagnostics returns an empty collector.
func NewDiagnostics() *Diagnostics {
	return &Diagnostics{}
}

// Report implements model.DiagnosticSink.
func (d *Diagnostics) Report(diag model.Diagnostic) {
	if d.seen == nil {
		d.seen = make(map[diagKey]struct{})
	}
	k := keyOf(diag)
	if _, dup := d.seen[k]; dup {
		return
	}
	d.seen[k] = struct{}{}
	d.items = append(d.items, diag)
}

// Items returns a copy of every collected diagnostic.
func (d *Diagnostics) Items() []model.Diagnostic {
	out := make([]model.Diagnostic, len(d.items))
	copy(out, d.items)
	return out
}

// Unmapped returns the schema-drift findings.
func (d *Diagnostics) Unmapped() []model.Diagnostic {
	return d.filter(model.UnmappedKey)
}

// Mismatches returns the values that failed numeric coercion.
func (d *Diagnostics) Mismatches() []model.Diagnostic {
	return d.filter(model.TypeMismatch)
}

// Count returns the number of diagnostics of kind.
func (d *Diagnostics) Count(kind model.DiagnosticKind) int {
	n := 0
	for _, item := range d.items {
		if item.Kind == kind {
			n++
		}
	}
	return n
}

// Len is the total number of distinct diagnostics.
func (d *Diagnostics) Len() int { return len(d.items) }

func (d *Diagnostics) filter(kind model.DiagnosticKind) []model.Diagnostic {
	var out []model.Diagnostic
	for _, item := range d.items {
		if item.Kind == kind {
			out = append(out, item)
		}
	}
	return out
}
