package main

import (
	"context"
	"log"

	"golang.org/x/sync/errgroup"

	"github.com/tinytelemetry/statwalk/internal/ingest"
	"github.com/tinytelemetry/statwalk/internal/model"
)

// pipeline turns multiplexed lines into walked documents: one goroutine
// decodes, workers extract.
type pipeline struct {
	decoder   *ingest.Decoder
	extractor *ingest.Extractor
	workers   int
	docBuffer int
}

// run blocks until lines is closed and every decoded document is processed,
// or until ctx is done.
func (p *pipeline) run(ctx context.Context, lines <-chan model.IngestEnvelope) error {
	buffer := p.docBuffer
	if buffer <= 0 {
		buffer = p.workers * 4
	}
	docs := make(chan *ingest.Document, buffer)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(docs)
		for {
			select {
			case <-gctx.Done():
				return nil
			case env, ok := <-lines:
				if !ok {
					return nil
				}
				doc, err := p.decoder.Feed(env)
				if err != nil {
					log.Printf("ingest: %s: %v", env.Source, err)
					continue
				}
				if doc == nil {
					continue
				}
				select {
				case docs <- doc:
				case <-gctx.Done():
					return nil
				}
			}
		}
	})
	g.Go(func() error {
		return p.extractor.Run(gctx, docs, p.workers)
	})
	return g.Wait()
}
