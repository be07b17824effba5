package main

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/tinytelemetry/statwalk/internal/model"
)

// DefaultMuxBuffer is the default channel buffer size for the source multiplexer.
const DefaultMuxBuffer = 50_000

// muxInput is one source and the number of envelopes taken from it.
type muxInput struct {
	src       NamedDocSource
	forwarded atomic.Int64
}

// SourceMultiplexer merges document sources into one stream. Blank lines
// are dropped; end-of-source markers pass through so the decoder can release
// partial documents of a source that went away.
type SourceMultiplexer struct {
	ctx    context.Context
	cancel context.CancelFunc

	inputs []*muxInput
	out    chan model.IngestEnvelope

	startOnce sync.Once
	stopOnce  sync.Once
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewSourceMultiplexer creates a multiplexer. Nothing is read until Start.
func NewSourceMultiplexer(parent context.Context, sources []NamedDocSource, buffer int) *SourceMultiplexer {
	if buffer <= 0 {
		buffer = DefaultMuxBuffer
	}
	ctx, cancel := context.WithCancel(parent)
	inputs := make([]*muxInput, 0, len(sources))
	for _, src := range sources {
		inputs = append(inputs, &muxInput{src: src})
	}
	return &SourceMultiplexer{
		ctx:    ctx,
		cancel: cancel,
		inputs: inputs,
		out:    make(chan model.IngestEnvelope, buffer),
	}
}

// Start begins forwarding. The output closes once every source is drained.
func (m *SourceMultiplexer) Start() {
	m.startOnce.Do(func() {
		m.wg.Add(len(m.inputs))
		for _, in := range m.inputs {
			go m.forward(in)
		}
		go func() {
			m.wg.Wait()
			m.closeOutput()
		}()
	})
}

// Stop stops every source and closes the output.
func (m *SourceMultiplexer) Stop() {
	m.stopOnce.Do(func() {
		m.cancel()
		for _, in := range m.inputs {
			in.src.Stop()
		}
		m.wg.Wait()
		m.closeOutput()
	})
}

func (m *SourceMultiplexer) HasSources() bool {
	return len(m.inputs) > 0
}

// SourceNames lists the sources in the order they were given.
func (m *SourceMultiplexer) SourceNames() []string {
	names := make([]string, 0, len(m.inputs))
	for _, in := range m.inputs {
		names = append(names, in.src.Name())
	}
	return names
}

// Forwarded returns, per source name, how many envelopes reached the output.
func (m *SourceMultiplexer) Forwarded() map[string]int64 {
	out := make(map[string]int64, len(m.inputs))
	for _, in := range m.inputs {
		out[in.src.Name()] += in.forwarded.Load()
	}
	return out
}

func (m *SourceMultiplexer) Lines() <-chan model.IngestEnvelope {
	return m.out
}

func (m *SourceMultiplexer) forward(in *muxInput) {
	defer m.wg.Done()

	lines := in.src.Lines()
	for {
		var env model.IngestEnvelope
		var ok bool
		select {
		case <-m.ctx.Done():
			return
		case env, ok = <-lines:
		}
		if !ok {
			return
		}
		if env.Line == "" && !env.Closed {
			continue
		}
		select {
		case m.out <- env:
			in.forwarded.Add(1)
		case <-m.ctx.Done():
			return
		}
	}
}

func (m *SourceMultiplexer) closeOutput() {
	m.closeOnce.Do(func() {
		close(m.out)
	})
}
