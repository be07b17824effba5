// Package docsource adapts the input transports to one line-oriented contract
// consumed by the document decoder.
package docsource

import "github.com/tinytelemetry/statwalk/internal/model"

// DocSource is a unified interface for all document input sources (TCP, stdin, file).
type DocSource interface {
	Lines() <-chan model.IngestEnvelope // read-only channel of raw lines
	Stop()                              // graceful shutdown
	Name() string                       // "tcp", "stdin", "file"
}
