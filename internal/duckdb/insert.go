package duckdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tinytelemetry/statwalk/internal/ingest"
	"github.com/tinytelemetry/statwalk/internal/model"
)

// DefaultFlushQueueSize is the number of batches that can be queued for async flushing.
const DefaultFlushQueueSize = 64

// DefaultInsertBatchSize is the row count that triggers an immediate flush.
const DefaultInsertBatchSize = 2000

// pendingRows is what the buffer accumulates between flushes.
type pendingRows struct {
	samples     []*model.MetricSample
	diagnostics []*model.DiagnosticRecord
}

func (p *pendingRows) len() int { return len(p.samples) + len(p.diagnostics) }

// InsertBuffer batches walk results and flushes them to DuckDB asynchronously.
// Consume() never blocks on DuckDB writes - rows are sent to a flush goroutine.
type InsertBuffer struct {
	writer        model.SampleWriter
	mu            sync.Mutex
	pending       pendingRows
	flushChan     chan pendingRows // async flush queue
	maxBatch      int
	flushInterval time.Duration
	done          chan struct{}
	stopOnce      sync.Once
	wg            sync.WaitGroup
	tickWg        sync.WaitGroup // separate WaitGroup for tickLoop

	// backpressureCount tracks inline flushes for throttled logging.
	backpressureCount atomic.Int64
	lastBPLog         atomic.Int64 // unix timestamp of last backpressure log
	failedFlushes     atomic.Int64
}

// InsertBufferConfig holds tunable parameters for the insert buffer.
type InsertBufferConfig struct {
	BatchSize      int
	FlushInterval  time.Duration
	FlushQueueSize int
}

// NewInsertBuffer creates a new insert buffer that flushes to the store.
// The flush goroutine processes batches asynchronously so Consume() never blocks on IO.
func NewInsertBuffer(writer model.SampleWriter, conf ...InsertBufferConfig) *InsertBuffer {
	batchSize := DefaultInsertBatchSize
	flushInterval := 100 * time.Millisecond
	flushQueueSize := DefaultFlushQueueSize
	if len(conf) > 0 {
		if conf[0].BatchSize > 0 {
			batchSize = conf[0].BatchSize
		}
		if conf[0].FlushInterval > 0 {
			flushInterval = conf[0].FlushInterval
		}
		if conf[0].FlushQueueSize > 0 {
			flushQueueSize = conf[0].FlushQueueSize
		}
	}

	b := &InsertBuffer{
		writer:        writer,
		flushChan:     make(chan pendingRows, flushQueueSize),
		maxBatch:      batchSize,
		flushInterval: flushInterval,
		done:          make(chan struct{}),
	}

	b.wg.Add(1)
	go b.flushWorker()

	b.wg.Add(1)
	b.tickWg.Add(1)
	go b.tickLoop()

	return b
}

// tickLoop periodically drains the pending buffer.
func (b *InsertBuffer) tickLoop() {
	defer b.wg.Done()
	defer b.tickWg.Done()
	ticker := time.NewTicker(b.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b.drainPending()
		case <-b.done:
			b.drainPending() // final drain
			return
		}
	}
}

// logBackpressure emits a throttled warning (at most once per 10 seconds) when
// the flush channel is full and an inline flush is triggered.
func (b *InsertBuffer) logBackpressure() {
	count := b.backpressureCount.Add(1)
	now := time.Now().Unix()
	last := b.lastBPLog.Load()
	if now-last >= 10 && b.lastBPLog.CompareAndSwap(last, now) {
		log.Printf("duckdb: backpressure, %d inline flushes (flush channel full, DuckDB falling behind)", count)
	}
}

// take swaps out the pending rows. Caller holds b.mu.
func (b *InsertBuffer) take() pendingRows {
	rows := b.pending
	b.pending = pendingRows{}
	return rows
}

// drainPending moves pending rows to the flush channel without blocking on DuckDB.
func (b *InsertBuffer) drainPending() {
	b.mu.Lock()
	if b.pending.len() == 0 {
		b.mu.Unlock()
		return
	}
	rows := b.take()
	b.mu.Unlock()

	b.enqueue(rows, "inline")
}

// enqueue hands rows to the flush worker. If the channel is full, it flushes
// synchronously as a safety valve (this means DuckDB is falling behind).
func (b *InsertBuffer) enqueue(rows pendingRows, where string) {
	select {
	case b.flushChan <- rows:
	default:
		b.logBackpressure()
		if err := b.flush(rows); err != nil {
			log.Printf("duckdb flush error (%s): %v", where, err)
		}
	}
}

// flushWorker processes batches from the flush channel.
func (b *InsertBuffer) flushWorker() {
	defer b.wg.Done()
	for rows := range b.flushChan {
		if err := b.flush(rows); err != nil {
			log.Printf("duckdb flush error: %v", err)
		}
	}
}

// Consume queues the samples and diagnostics of one walk. It never blocks on DuckDB IO.
func (b *InsertBuffer) Consume(batch *ingest.Batch) {
	if batch == nil || len(batch.Samples)+len(batch.Diagnostics) == 0 {
		return
	}
	select {
	case <-b.done:
		return
	default:
	}

	b.mu.Lock()
	b.pending.samples = append(b.pending.samples, batch.Samples...)
	b.pending.diagnostics = append(b.pending.diagnostics, batch.Diagnostics...)
	var rows pendingRows
	shouldFlush := b.pending.len() >= b.maxBatch
	if shouldFlush {
		rows = b.take()
	}
	b.mu.Unlock()

	if shouldFlush {
		b.enqueue(rows, "overflow-inline")
	}
}

// Stop flushes remaining rows and waits for all writes to complete.
// It is safe to call more than once.
func (b *InsertBuffer) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)
		// Wait for tickLoop to finish its final drain before closing flushChan,
		// ensuring all pending rows are sent to the flush channel.
		b.tickWg.Wait()
		close(b.flushChan)
		b.wg.Wait()
	})
}

// BackpressureCount returns how many flushes ran inline because the queue was full.
func (b *InsertBuffer) BackpressureCount() int64 { return b.backpressureCount.Load() }

// FailedFlushes returns how many flushes returned an error.
func (b *InsertBuffer) FailedFlushes() int64 { return b.failedFlushes.Load() }

func (b *InsertBuffer) flush(rows pendingRows) error {
	if err := b.writer.InsertSampleBatch(rows.samples); err != nil {
		b.failedFlushes.Add(1)
		return fmt.Errorf("samples: %w", err)
	}
	if err := b.writer.InsertDiagnosticBatch(rows.diagnostics); err != nil {
		b.failedFlushes.Add(1)
		return fmt.Errorf("diagnostics: %w", err)
	}
	return nil
}

const (
	insertSampleSQL     = `INSERT INTO samples (timestamp, subsystem, instance, name, kind, value, labels, metric_id) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	insertDiagnosticSQL = `INSERT INTO diagnostics (timestamp, subsystem, instance, path, key, kind, detail) VALUES (?, ?, ?, ?, ?, ?, ?)`
)

// InsertSampleBatch appends samples into DuckDB in a single transaction.
// If any individual sample fails to insert, the entire batch is rolled back and retried
// sample-by-sample to salvage as many rows as possible.
func (s *Store) InsertSampleBatch(samples []*model.MetricSample) error {
	if len(samples) == 0 {
		return nil
	}
	return insertSalvaging(s, samples, insertSampleSQL, sampleArgs, func(m *model.MetricSample) string {
		return fmt.Sprintf("subsystem=%s instance=%s metric=%s", m.Subsystem, m.Instance, m.ID())
	})
}

// InsertDiagnosticBatch appends diagnostics into DuckDB, with the same
// salvage behaviour as InsertSampleBatch.
func (s *Store) InsertDiagnosticBatch(records []*model.DiagnosticRecord) error {
	if len(records) == 0 {
		return nil
	}
	return insertSalvaging(s, records, insertDiagnosticSQL, diagnosticArgs, func(d *model.DiagnosticRecord) string {
		return fmt.Sprintf("subsystem=%s instance=%s at=%s", d.Subsystem, d.Instance, d.Location())
	})
}

func insertSalvaging[T any](s *Store, rows []T, stmt string, args func(T) []any, describe func(T) string) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.QueryTimeout)
	defer cancel()

	s.mu.Lock()
	defer s.mu.Unlock()

	err := insertTx(ctx, s.db, stmt, rows, args)
	if err == nil {
		return nil
	}

	// Batch failed, retry row-by-row to salvage what we can.
	var failed int
	for _, r := range rows {
		if rerr := insertTx(ctx, s.db, stmt, []T{r}, args); rerr != nil {
			failed++
			log.Printf("duckdb: dropping row (%s): %v", describe(r), rerr)
		}
	}
	if failed > 0 {
		log.Printf("duckdb: batch partially failed, %d/%d rows dropped", failed, len(rows))
	}
	if failed == len(rows) {
		return fmt.Errorf("duckdb: all %d rows failed: %w", len(rows), err)
	}
	return nil
}

// insertTx inserts rows in a single transaction.
func insertTx[T any](ctx context.Context, db *sql.DB, query string, rows []T, args func(T) []any) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx, args(r)...); err != nil {
			return fmt.Errorf("row insert: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

func sampleArgs(m *model.MetricSample) []any {
	labelsJSON := []byte("{}")
	if len(m.Labels) > 0 {
		if data, err := json.Marshal(m.Labels); err != nil {
			log.Printf("duckdb: failed to marshal labels, using empty: %v", err)
		} else {
			labelsJSON = data
		}
	}
	return []any{
		m.Timestamp.UTC(), m.Subsystem, m.Instance,
		m.Name, m.Kind.String(), m.Value, string(labelsJSON), m.ID(),
	}
}

func diagnosticArgs(d *model.DiagnosticRecord) []any {
	return []any{
		d.Timestamp.UTC(), d.Subsystem, d.Instance,
		d.Path, d.Key, d.Kind.String(), d.Detail,
	}
}
