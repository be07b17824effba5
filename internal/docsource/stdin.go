package docsource

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log"
	"os"
	"sync"

	"github.com/tinytelemetry/statwalk/internal/model"
)

const (
	// DefaultStdinBuffer is the default channel buffer size for stdin lines.
	DefaultStdinBuffer = 50_000

	// DefaultStdinMaxLineSize is the default maximum size (in bytes) of a single stdin line.
	DefaultStdinMaxLineSize = 16 * 1024 * 1024
)

// StdinConfig holds tunable parameters for the stdin source.
type StdinConfig struct {
	BufferSize  int
	MaxLineSize int
}

// StdinSource reads status documents from stdin. FileSource reuses it for files.
type StdinSource struct {
	ch     chan model.IngestEnvelope
	name   string
	closer io.Closer
	cancel context.CancelFunc
	once   sync.Once
}

// NewStdinSource creates a StdinSource that reads from stdin in a background goroutine.
func NewStdinSource(ctx context.Context, conf ...StdinConfig) *StdinSource {
	return newReaderSource(ctx, "stdin", os.Stdin, nil, conf...)
}

func newStdinSourceWithReader(ctx context.Context, r io.Reader, conf ...StdinConfig) *StdinSource {
	return newReaderSource(ctx, "stdin", r, nil, conf...)
}

func newReaderSource(ctx context.Context, name string, r io.Reader, closer io.Closer, conf ...StdinConfig) *StdinSource {
	bufferSize := DefaultStdinBuffer
	maxLineSize := DefaultStdinMaxLineSize
	if len(conf) > 0 {
		if conf[0].BufferSize > 0 {
			bufferSize = conf[0].BufferSize
		}
		if conf[0].MaxLineSize > 0 {
			maxLineSize = conf[0].MaxLineSize
		}
	}
	ctx, cancel := context.WithCancel(ctx)
	s := &StdinSource{
		ch:     make(chan model.IngestEnvelope, bufferSize),
		name:   name,
		closer: closer,
		cancel: cancel,
	}
	go s.read(ctx, r, maxLineSize)
	return s
}

func (s *StdinSource) read(ctx context.Context, r io.Reader, maxLineSize int) {
	defer close(s.ch)
	if s.closer != nil {
		defer s.closer.Close()
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	// Use a single goroutine for blocking scan with a done channel to
	// detect context cancellation without spawning a goroutine per line.
	results := make(chan string)
	go func() {
		defer close(results)
		for scanner.Scan() {
			select {
			case results <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			if errors.Is(err, bufio.ErrTooLong) {
				log.Printf("docsource: %s line exceeded max size (%d bytes), stopping %s source", s.name, maxLineSize, s.name)
				return
			}
			log.Printf("docsource: %s scanner error: %v", s.name, err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-results:
			if !ok {
				s.emit(ctx, model.IngestEnvelope{Source: s.name, Closed: true})
				return
			}
			if !s.emit(ctx, model.IngestEnvelope{Source: s.name, Line: line}) {
				return
			}
		}
	}
}

func (s *StdinSource) emit(ctx context.Context, env model.IngestEnvelope) bool {
	select {
	case s.ch <- env:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *StdinSource) Lines() <-chan model.IngestEnvelope { return s.ch }
func (s *StdinSource) Stop()                              { s.once.Do(s.cancel) }
func (s *StdinSource) Name() string                       { return s.name }
