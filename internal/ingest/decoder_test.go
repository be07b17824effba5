package ingest

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/tinytelemetry/statwalk/internal/model"
)

var fixedNow = time.Date(2025, time.March, 1, 9, 0, 0, 0, time.UTC)

func newTestDecoder(t *testing.T) *Decoder {
	t.Helper()
	return NewDecoder(DecoderConfig{
		DefaultSubsystem: "shard",
		Now:              func() time.Time { return fixedNow },
	})
}

func TestDecoder_SingleLineBareDocument(t *testing.T) {
	t.Parallel()

	d := newTestDecoder(t)
	doc, err := d.Feed(model.IngestEnvelope{Source: "stdin", Line: `{"host": "db1:27017", "ok": 1}`})
	if err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if doc == nil {
		t.Fatal("expected a document")
	}
	if doc.Subsystem != "shard" || doc.Instance != "db1:27017" || doc.Source != "stdin" {
		t.Fatalf("doc = %+v", doc)
	}
	if !doc.Timestamp.Equal(fixedNow) {
		t.Fatalf("timestamp = %v, want %v", doc.Timestamp, fixedNow)
	}
}

func TestDecoder_MultiLinePerSource(t *testing.T) {
	t.Parallel()

	d := newTestDecoder(t)
	feed := func(source, line string) *Document {
		t.Helper()
		doc, err := d.Feed(model.IngestEnvelope{Source: source, Line: line})
		if err != nil {
			t.Fatalf("Feed(%s, %q): %v", source, line, err)
		}
		return doc
	}

	if feed("a", "{") != nil {
		t.Fatal("document returned too early")
	}
	if feed("b", `{"ok": 2}`) == nil {
		t.Fatal("source b document should complete independently")
	}
	if feed("a", `  "connections": {"current": 1},`) != nil {
		t.Fatal("document returned too early")
	}
	if d.Pending() != 1 {
		t.Fatalf("pending = %d, want 1", d.Pending())
	}
	if feed("a", `  "note": "brace } in string",`) != nil {
		t.Fatal("brace in string closed the object")
	}
	doc := feed("a", `  "ok": 1`+"\n}")
	if doc == nil {
		t.Fatal("expected completed document")
	}
	if _, ok := doc.Body["connections"]; !ok || doc.Instance != "a" {
		t.Fatalf("doc = %+v", doc)
	}
	if d.Pending() != 0 {
		t.Fatalf("pending = %d, want 0", d.Pending())
	}
}

func TestDecoder_InstanceFromTCPSourceDropsPort(t *testing.T) {
	t.Parallel()

	d := newTestDecoder(t)
	for _, source := range []string{"tcp:10.0.0.5:51234", "tcp:10.0.0.5:51299"} {
		doc, err := d.Feed(model.IngestEnvelope{Source: source, Line: `{"ok": 1}`})
		if err != nil {
			t.Fatalf("Feed(%s): %v", source, err)
		}
		if doc.Instance != "10.0.0.5" || doc.Source != source {
			t.Fatalf("doc from %s = %+v", source, doc)
		}
	}
}

func TestSourceInstance(t *testing.T) {
	t.Parallel()

	tests := []struct {
		source string
		want   string
	}{
		{"tcp:10.0.0.5:51234", "10.0.0.5"},
		{"tcp:[::1]:40000", "::1"},
		{"tcp:1", "tcp:1"},
		{"stdin", "stdin"},
		{"file:/var/tmp/status.json", "file:/var/tmp/status.json"},
	}
	for _, tt := range tests {
		if got := SourceInstance(tt.source); got != tt.want {
			t.Errorf("SourceInstance(%q) = %q, want %q", tt.source, got, tt.want)
		}
	}
}

func TestDecoder_Envelope(t *testing.T) {
	t.Parallel()

	d := newTestDecoder(t)
	doc, err := d.Feed(model.IngestEnvelope{Source: "tcp", Line: `{"subsystem": "router", "instance": "mongos-1", "timestamp": "2024-05-01T00:00:00Z", "document": {"host": "ignored", "ok": 1}}`})
	if err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if doc.Subsystem != "router" || doc.Instance != "mongos-1" || doc.Timestamp.Year() != 2024 {
		t.Fatalf("doc = %+v", doc)
	}
	if _, ok := doc.Body["ok"]; !ok {
		t.Fatalf("body = %v", doc.Body)
	}
}

func TestDecoder_EnvelopeRequiresOnlyKnownKeys(t *testing.T) {
	t.Parallel()

	d := newTestDecoder(t)
	doc, err := d.Feed(model.IngestEnvelope{Source: "tcp", Line: `{"document": {"x": 1}, "ok": 1}`})
	if err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if _, ok := doc.Body["document"]; !ok {
		t.Fatal("object with extra keys must be treated as a bare document")
	}
}

func TestDecoder_LocalTime(t *testing.T) {
	t.Parallel()

	d := newTestDecoder(t)
	doc, err := d.Feed(model.IngestEnvelope{Source: "tcp", Line: `{"localTime": {"$date": "2017-03-01T12:00:00Z"}, "ok": 1}`})
	if err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if doc.Timestamp.Year() != 2017 {
		t.Fatalf("timestamp = %v", doc.Timestamp)
	}
}

func TestDecoder_Errors(t *testing.T) {
	t.Parallel()

	d := newTestDecoder(t)
	if _, err := d.Feed(model.IngestEnvelope{Source: "s", Line: "plain text"}); !errors.Is(err, ErrNotJSON) {
		t.Fatalf("err = %v, want ErrNotJSON", err)
	}
	if doc, err := d.Feed(model.IngestEnvelope{Source: "s", Line: "   "}); doc != nil || err != nil {
		t.Fatalf("blank line = %v, %v", doc, err)
	}
	if _, err := d.Feed(model.IngestEnvelope{Source: "s", Line: `{"a": }`}); err == nil {
		t.Fatal("expected decode error")
	}

	small := NewDecoder(DecoderConfig{MaxDocumentSize: 16})
	if _, err := small.Feed(model.IngestEnvelope{Source: "s", Line: "{"}); err != nil {
		t.Fatalf("Feed: %v", err)
	}
	_, err := small.Feed(model.IngestEnvelope{Source: "s", Line: `"key": "` + strings.Repeat("x", 32) + `",`})
	if !errors.Is(err, ErrDocumentTooLarge) {
		t.Fatalf("err = %v, want ErrDocumentTooLarge", err)
	}
	if small.Pending() != 0 {
		t.Fatal("oversized document must be dropped")
	}
}

func TestDecoder_ClosedSource(t *testing.T) {
	t.Parallel()

	d := newTestDecoder(t)
	if doc, err := d.Feed(model.IngestEnvelope{Source: "tcp:1", Closed: true}); doc != nil || err != nil {
		t.Fatalf("close without pending = %v, %v", doc, err)
	}
	if _, err := d.Feed(model.IngestEnvelope{Source: "tcp:1", Line: "{"}); err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if _, err := d.Feed(model.IngestEnvelope{Source: "tcp:1", Closed: true}); !errors.Is(err, ErrTruncatedDocument) {
		t.Fatalf("err = %v, want ErrTruncatedDocument", err)
	}
	if d.Pending() != 0 {
		t.Fatal("closed source must release its buffer")
	}
}

func TestDecoder_Reset(t *testing.T) {
	t.Parallel()

	d := newTestDecoder(t)
	if _, err := d.Feed(model.IngestEnvelope{Source: "s", Line: "{"}); err != nil {
		t.Fatalf("Feed: %v", err)
	}
	d.Reset("s")
	doc, err := d.Feed(model.IngestEnvelope{Source: "s", Line: `{"ok": 1}`})
	if err != nil || doc == nil {
		t.Fatalf("after reset = %v, %v", doc, err)
	}
}

func TestCountJSONDepth(t *testing.T) {
	t.Parallel()

	tests := []struct {
		line string
		want int
	}{
		{`{`, 1},
		{`}`, -1},
		{`{"a": [1, 2]}`, 0},
		{`"x": "{[",`, 0},
		{`"x": "\"{",`, 0},
		{`"nested": {"a": {`, 2},
	}
	for _, tt := range tests {
		if got := CountJSONDepth(tt.line); got != tt.want {
			t.Errorf("CountJSONDepth(%q) = %d, want %d", tt.line, got, tt.want)
		}
	}
}
