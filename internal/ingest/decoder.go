package ingest

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tinytelemetry/statwalk/internal/model"
	"github.com/tinytelemetry/statwalk/internal/timestamp"
)

// DefaultMaxDocumentSize bounds a document accumulated over several lines.
const DefaultMaxDocumentSize = 16 * 1024 * 1024

// ErrNotJSON is returned for a line that neither starts nor continues a JSON object.
var ErrNotJSON = errors.New("ingest: line is not a JSON object")

// ErrTruncatedDocument is returned when a source closes in the middle of an object.
var ErrTruncatedDocument = errors.New("ingest: source closed inside a document")

// ErrDocumentTooLarge is returned when a multi-line document exceeds the size limit.
var ErrDocumentTooLarge = errors.New("ingest: document exceeds max size")

// DecoderConfig holds tunable parameters for the decoder.
type DecoderConfig struct {
	DefaultSubsystem string
	MaxDocumentSize  int
	Now              func() time.Time
}

// Decoder turns source-tagged lines into documents. A document may be one
// line or a pretty-printed object spread over many; partial objects are kept
// per source so interleaved sources do not corrupt each other.
// A Decoder is not safe for concurrent use.
type Decoder struct {
	defaultSubsystem string
	maxSize          int
	now              func() time.Time
	parser           *timestamp.Parser
	pending          map[string]*accumulator
}

type accumulator struct {
	buf   strings.Builder
	depth int
}

// NewDecoder creates a decoder.
func NewDecoder(conf ...DecoderConfig) *Decoder {
	d := &Decoder{
		defaultSubsystem: model.DefaultSubsystem,
		maxSize:          DefaultMaxDocumentSize,
		now:              time.Now,
		parser:           timestamp.NewParser(),
		pending:          make(map[string]*accumulator),
	}
	if len(conf) > 0 {
		if conf[0].DefaultSubsystem != "" {
			d.defaultSubsystem = conf[0].DefaultSubsystem
		}
		if conf[0].MaxDocumentSize > 0 {
			d.maxSize = conf[0].MaxDocumentSize
		}
		if conf[0].Now != nil {
			d.now = conf[0].Now
		}
	}
	return d
}

// Feed consumes one line. It returns the decoded document once an object is
// complete and nil while a multi-line object is still being accumulated.
func (d *Decoder) Feed(env model.IngestEnvelope) (*Document, error) {
	acc, inObject := d.pending[env.Source]
	if env.Closed {
		delete(d.pending, env.Source)
		if inObject {
			return nil, fmt.Errorf("%w (source %s, %d bytes)", ErrTruncatedDocument, env.Source, acc.buf.Len())
		}
		return nil, nil
	}
	if !inObject {
		trimmed := strings.TrimSpace(env.Line)
		if trimmed == "" {
			return nil, nil
		}
		if !strings.HasPrefix(trimmed, "{") {
			return nil, fmt.Errorf("%w: %.80s", ErrNotJSON, trimmed)
		}
		acc = &accumulator{}
	}

	acc.buf.WriteString(env.Line)
	acc.buf.WriteByte('\n')
	acc.depth += CountJSONDepth(env.Line)

	if acc.depth > 0 {
		if acc.buf.Len() > d.maxSize {
			delete(d.pending, env.Source)
			return nil, fmt.Errorf("%w (%d bytes)", ErrDocumentTooLarge, d.maxSize)
		}
		d.pending[env.Source] = acc
		return nil, nil
	}

	delete(d.pending, env.Source)
	return ParseDocument([]byte(acc.buf.String()), Origin{
		Source:           env.Source,
		DefaultSubsystem: d.defaultSubsystem,
		Received:         d.now(),
	}, d.parser)
}

// Reset drops any partial object accumulated for source.
func (d *Decoder) Reset(source string) {
	delete(d.pending, source)
}

// Pending reports how many sources have an incomplete object buffered.
func (d *Decoder) Pending() int { return len(d.pending) }

// CountJSONDepth counts the net change in JSON nesting depth for a line.
func CountJSONDepth(line string) int {
	depth := 0
	inString := false
	escaped := false

	for _, char := range line {
		if escaped {
			escaped = false
			continue
		}

		switch char {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{', '[':
			if !inString {
				depth++
			}
		case '}', ']':
			if !inString {
				depth--
			}
		}
	}

	return depth
}
