package otlpexport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	collectormetricspb "go.opentelemetry.io/proto/otlp/collector/metrics/v1"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/tinytelemetry/statwalk/internal/ingest"
	"github.com/tinytelemetry/statwalk/internal/model"
)

const (
	// DefaultEndpoint is the standard OTLP/gRPC collector address.
	DefaultEndpoint = "127.0.0.1:4317"

	// DefaultTimeout bounds one Export call.
	DefaultTimeout = 10 * time.Second

	// DefaultQueueSize is the number of batches waiting to be pushed.
	DefaultQueueSize = 256
)

// ErrEmptyEndpoint is returned by NewExporter without an endpoint.
var ErrEmptyEndpoint = errors.New("otlpexport: endpoint is empty")

// Config holds tunable parameters for the exporter.
type Config struct {
	Endpoint  string
	Insecure  bool
	Timeout   time.Duration
	QueueSize int
	Request   RequestOptions
}

// Exporter pushes walk results to an OTLP collector. Consume never blocks:
// batches are queued and sent by one goroutine; when the queue is full the
// batch is dropped and counted.
type Exporter struct {
	conn    *grpc.ClientConn
	client  collectormetricspb.MetricsServiceClient
	timeout time.Duration
	opts    RequestOptions

	queue    chan *ingest.Batch
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	exported atomic.Int64
	dropped  atomic.Int64
	failed   atomic.Int64
}

// NewExporter creates the gRPC client and starts the send loop. The
// connection is established lazily on the first export.
func NewExporter(conf Config) (*Exporter, error) {
	if conf.Endpoint == "" {
		return nil, ErrEmptyEndpoint
	}
	timeout := DefaultTimeout
	if conf.Timeout > 0 {
		timeout = conf.Timeout
	}
	queueSize := DefaultQueueSize
	if conf.QueueSize > 0 {
		queueSize = conf.QueueSize
	}

	creds := credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})
	if conf.Insecure {
		creds = insecure.NewCredentials()
	}
	conn, err := grpc.NewClient(conf.Endpoint, grpc.WithTransportCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("otlpexport: dial %s: %w", conf.Endpoint, err)
	}
	if conf.Request.StartTime.IsZero() {
		conf.Request.StartTime = time.Now()
	}

	e := &Exporter{
		conn:    conn,
		client:  collectormetricspb.NewMetricsServiceClient(conn),
		timeout: timeout,
		opts:    conf.Request,
		queue:   make(chan *ingest.Batch, queueSize),
		done:    make(chan struct{}),
	}
	e.wg.Add(1)
	go e.sendLoop()
	return e, nil
}

// Consume queues a batch for export.
func (e *Exporter) Consume(b *ingest.Batch) {
	if b == nil || len(b.Samples) == 0 {
		return
	}
	select {
	case <-e.done:
		return
	default:
	}
	select {
	case e.queue <- b:
	default:
		if n := e.dropped.Add(1); n == 1 || n%1000 == 0 {
			log.Printf("otlpexport: queue full, %d batches dropped", n)
		}
	}
}

func (e *Exporter) sendLoop() {
	defer e.wg.Done()
	for {
		select {
		case b := <-e.queue:
			e.send(b)
		case <-e.done:
			// Final drain of whatever was queued before Stop.
			for {
				select {
				case b := <-e.queue:
					e.send(b)
				default:
					return
				}
			}
		}
	}
}

func (e *Exporter) send(b *ingest.Batch) {
	ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
	defer cancel()
	if err := e.Export(ctx, b.Samples); err != nil {
		e.failed.Add(1)
		log.Printf("otlpexport: export %s/%s: %v", b.Subsystem, b.Instance, err)
	}
}

// Export pushes samples synchronously.
func (e *Exporter) Export(ctx context.Context, samples []*model.MetricSample) error {
	if len(samples) == 0 {
		return nil
	}
	resp, err := e.client.Export(ctx, BuildRequest(samples, e.opts))
	if err != nil {
		return err
	}
	e.exported.Add(int64(len(samples)))
	if ps := resp.GetPartialSuccess(); ps != nil && ps.GetRejectedDataPoints() > 0 {
		return fmt.Errorf("collector rejected %d data points: %s", ps.GetRejectedDataPoints(), ps.GetErrorMessage())
	}
	return nil
}

// Stop flushes queued batches and closes the connection. It is safe to call more than once.
func (e *Exporter) Stop() {
	e.stopOnce.Do(func() {
		close(e.done)
		e.wg.Wait()
		if err := e.conn.Close(); err != nil {
			log.Printf("otlpexport: close: %v", err)
		}
	})
}

// Exported returns the number of samples accepted by the collector.
func (e *Exporter) Exported() int64 { return e.exported.Load() }

// Dropped returns the number of batches dropped because the queue was full.
func (e *Exporter) Dropped() int64 { return e.dropped.Load() }

// Failed returns the number of batches whose export returned an error.
func (e *Exporter) Failed() int64 { return e.failed.Load() }
