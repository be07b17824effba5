package otlpexport

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	collectormetricspb "go.opentelemetry.io/proto/otlp/collector/metrics/v1"
	"google.golang.org/grpc"

	"github.com/tinytelemetry/statwalk/internal/ingest"
)

type fakeCollector struct {
	collectormetricspb.UnimplementedMetricsServiceServer

	mu       sync.Mutex
	requests []*collectormetricspb.ExportMetricsServiceRequest
	reject   int64
}

func (f *fakeCollector) Export(_ context.Context, req *collectormetricspb.ExportMetricsServiceRequest) (*collectormetricspb.ExportMetricsServiceResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	resp := &collectormetricspb.ExportMetricsServiceResponse{}
	if f.reject > 0 {
		resp.PartialSuccess = &collectormetricspb.ExportMetricsPartialSuccess{RejectedDataPoints: f.reject, ErrorMessage: "bad points"}
	}
	return resp, nil
}

func (f *fakeCollector) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func startCollector(t *testing.T) (*fakeCollector, string) {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := grpc.NewServer()
	fc := &fakeCollector{}
	collectormetricspb.RegisterMetricsServiceServer(srv, fc)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)
	return fc, lis.Addr().String()
}

func TestNewExporter_RequiresEndpoint(t *testing.T) {
	t.Parallel()

	if _, err := NewExporter(Config{}); !errors.Is(err, ErrEmptyEndpoint) {
		t.Fatalf("err = %v, want ErrEmptyEndpoint", err)
	}
}

func TestExporter_ExportSync(t *testing.T) {
	t.Parallel()

	fc, addr := startCollector(t)
	e, err := NewExporter(Config{Endpoint: addr, Insecure: true, Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("NewExporter: %v", err)
	}
	defer e.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.Export(ctx, testSamples()); err != nil {
		t.Fatalf("Export: %v", err)
	}
	if fc.count() != 1 || e.Exported() != 4 {
		t.Fatalf("requests = %d exported = %d", fc.count(), e.Exported())
	}
	if got := len(fc.requests[0].GetResourceMetrics()); got != 2 {
		t.Fatalf("resource metrics = %d, want 2", got)
	}

	fc.mu.Lock()
	fc.reject = 1
	fc.mu.Unlock()
	if err := e.Export(ctx, testSamples()); err == nil {
		t.Fatal("expected partial success error")
	}
}

func TestExporter_ConsumeFlushesOnStop(t *testing.T) {
	t.Parallel()

	fc, addr := startCollector(t)
	e, err := NewExporter(Config{Endpoint: addr, Insecure: true})
	if err != nil {
		t.Fatalf("NewExporter: %v", err)
	}

	for i := 0; i < 5; i++ {
		e.Consume(&ingest.Batch{Subsystem: "shard", Instance: "db1", Samples: testSamples()})
	}
	e.Consume(&ingest.Batch{Subsystem: "shard", Instance: "empty"})
	e.Stop()
	e.Stop()

	if fc.count() != 5 {
		t.Fatalf("requests = %d, want 5", fc.count())
	}
	if e.Failed() != 0 || e.Dropped() != 0 {
		t.Fatalf("failed = %d dropped = %d", e.Failed(), e.Dropped())
	}
}
