package ingest

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/tinytelemetry/statwalk/internal/document"
	"github.com/tinytelemetry/statwalk/internal/timestamp"
)

// Envelope keys. A top-level object holding "document" plus only these keys
// is treated as an envelope; anything else is a bare status document.
const (
	envelopeSubsystem = "subsystem"
	envelopeInstance  = "instance"
	envelopeTimestamp = "timestamp"
	envelopeDocument  = "document"
)

// Document is one decoded status document with its routing metadata.
type Document struct {
	Source    string
	Subsystem string
	Instance  string
	Timestamp time.Time
	Body      document.Object
}

// Origin describes where raw bytes came from.
type Origin struct {
	Source           string
	DefaultSubsystem string
	Received         time.Time
}

// ParseDocument decodes raw JSON, unwrapping an envelope when present.
// Bare documents take the instance from their "host" field and the time from
// "localTime"; Origin supplies the fallbacks.
func ParseDocument(raw []byte, origin Origin, parser *timestamp.Parser) (*Document, error) {
	obj, err := document.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("ingest: %w", err)
	}
	if parser == nil {
		parser = timestamp.NewParser()
	}

	doc := &Document{
		Source:    origin.Source,
		Subsystem: origin.DefaultSubsystem,
		Timestamp: origin.Received,
		Body:      obj,
	}

	if body, ok := envelopeBody(obj); ok {
		doc.Body = body
		if s, ok := obj[envelopeSubsystem].(string); ok && strings.TrimSpace(s) != "" {
			doc.Subsystem = strings.TrimSpace(s)
		}
		if s, ok := obj[envelopeInstance].(string); ok {
			doc.Instance = strings.TrimSpace(s)
		}
		if ts, ok := parser.ParseTimestamp(obj[envelopeTimestamp]); ok {
			doc.Timestamp = ts
		}
	} else if ts, ok := parser.ParseTimestamp(obj["localTime"]); ok {
		doc.Timestamp = ts
	}

	if doc.Instance == "" {
		if host, ok := doc.Body["host"].(string); ok {
			doc.Instance = strings.TrimSpace(host)
		}
	}
	if doc.Instance == "" {
		doc.Instance = SourceInstance(origin.Source)
	}
	if doc.Timestamp.IsZero() {
		doc.Timestamp = time.Now()
	}
	return doc, nil
}

func envelopeBody(obj document.Object) (document.Object, bool) {
	raw, ok := obj[envelopeDocument]
	if !ok {
		return nil, false
	}
	body, ok := document.AsObject(raw)
	if !ok {
		return nil, false
	}
	for key := range obj {
		switch key {
		case envelopeSubsystem, envelopeInstance, envelopeTimestamp, envelopeDocument:
		default:
			return nil, false
		}
	}
	return body, true
}

// SourceInstance is the instance used for a bare document without a "host"
// field. TCP sources drop the client's ephemeral port so reconnects keep the
// same instance.
func SourceInstance(source string) string {
	addr, ok := strings.CutPrefix(source, "tcp:")
	if !ok {
		return source
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil || host == "" {
		return source
	}
	return host
}
