package docsource

import (
	"log"

	"github.com/tinytelemetry/statwalk/internal/model"
	"github.com/tinytelemetry/statwalk/internal/tcpserver"
)

// TCPSource exposes a started tcpserver.Server as one DocSource. Envelopes
// keep their per-connection source names.
type TCPSource struct {
	server *tcpserver.Server
}

// NewTCPSource creates a TCPSource from an already-started TCP server.
func NewTCPSource(server *tcpserver.Server) *TCPSource {
	return &TCPSource{server: server}
}

func (t *TCPSource) Lines() <-chan model.IngestEnvelope { return t.server.Lines() }

// Stop closes the listener and all connections.
func (t *TCPSource) Stop() {
	if err := t.server.Stop(); err != nil {
		log.Printf("docsource: stop tcp %s: %v", t.server.Addr(), err)
	}
}

// Name is "tcp://" plus the bound listen address.
func (t *TCPSource) Name() string { return "tcp://" + t.server.Addr() }
