package docsource

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tinytelemetry/statwalk/internal/model"
)

func drain(t *testing.T, src DocSource) []model.IngestEnvelope {
	t.Helper()
	var out []model.IngestEnvelope
	timeout := time.After(5 * time.Second)
	for {
		select {
		case env, ok := <-src.Lines():
			if !ok {
				return out
			}
			out = append(out, env)
		case <-timeout:
			t.Fatal("timed out waiting for lines channel to close")
		}
	}
}

func TestStdinSourceStopClosesLines(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	defer func() { _ = w.Close() }()

	src := newStdinSourceWithReader(context.Background(), r)
	src.Stop()

	select {
	case _, ok := <-src.Lines():
		if ok {
			t.Fatal("expected lines channel to be closed after Stop")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for lines channel to close")
	}
}

func TestStdinSourceStopIsIdempotent(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	defer func() { _ = w.Close() }()

	src := newStdinSourceWithReader(context.Background(), r)
	src.Stop()
	src.Stop()
}

func TestStdinSourceForwardsLinesThenClosed(t *testing.T) {
	t.Parallel()

	src := newStdinSourceWithReader(context.Background(), strings.NewReader("{\n\"ok\": 1\n}\n"))
	got := drain(t, src)
	if len(got) != 4 {
		t.Fatalf("got %d envelopes, want 4: %+v", len(got), got)
	}
	if got[1].Line != `"ok": 1` || got[1].Source != "stdin" {
		t.Fatalf("second line = %+v", got[1])
	}
	if last := got[3]; !last.Closed || last.Line != "" {
		t.Fatalf("last envelope = %+v", last)
	}
}

func TestFileSourceReadsFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "status.json")
	if err := os.WriteFile(path, []byte(`{"ok": 1}`+"\n"+`{"ok": 0}`+"\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	src, err := NewFileSource(context.Background(), path)
	if err != nil {
		t.Fatalf("NewFileSource: %v", err)
	}
	got := drain(t, src)
	if len(got) != 3 || got[0].Source != "file:"+path || src.Name() != "file:"+path {
		t.Fatalf("envelopes = %+v", got)
	}
}

func TestFileSourceMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := NewFileSource(context.Background(), filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Fatal("expected error")
	}
}
