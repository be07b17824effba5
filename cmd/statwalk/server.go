package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/tinytelemetry/statwalk/internal/duckdb"
	"github.com/tinytelemetry/statwalk/internal/httpserver"
	"github.com/tinytelemetry/statwalk/internal/ingest"
	"github.com/tinytelemetry/statwalk/internal/otlpexport"
	"github.com/tinytelemetry/statwalk/internal/promexport"
	"github.com/tinytelemetry/statwalk/internal/tcpserver"
)

// runServer starts headless document ingestion with the HTTP API.
func runServer(cfg appConfig, files []string) error {
	cleanupLogger := configureRuntimeLogger(cfg)
	defer cleanupLogger()

	// Rule sets are built before anything else; a conflict aborts startup.
	rules, loadedRules, err := loadRuleSets(cfg.RulesDir)
	if err != nil {
		return err
	}
	for _, name := range loadedRules {
		log.Printf("server: loaded rule set %q from %s", name, cfg.RulesDir)
	}

	// Initialize DuckDB store
	store, err := duckdb.NewStore(cfg.DBPath, cfg.QueryTimeout)
	if err != nil {
		return fmt.Errorf("failed to initialize DuckDB: %w", err)
	}
	defer store.Close()
	store.SetMaxConcurrentQueries(cfg.MaxConcurrentReads)

	// Create insert buffer for batched DuckDB writes
	insertBuffer := duckdb.NewInsertBuffer(store, duckdb.InsertBufferConfig{
		BatchSize:      cfg.InsertBatchSize,
		FlushInterval:  cfg.InsertFlushInterval,
		FlushQueueSize: cfg.InsertFlushQueue,
	})
	defer insertBuffer.Stop()

	// Start retention cleaner for automatic sample expiry
	retentionCleaner := duckdb.NewRetentionCleaner(store, duckdb.RetentionConfig{
		RetentionDays: cfg.SampleRetention,
	})
	if retentionCleaner != nil {
		defer retentionCleaner.Stop()
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := promexport.NewCollector(promexport.Config{
		Namespace: cfg.Namespace,
		TTL:       cfg.MetricsTTL,
	})
	if err := collector.Register(registry); err != nil {
		return fmt.Errorf("failed to register prometheus collector: %w", err)
	}

	sinks := []ingest.BatchSink{insertBuffer, collector}

	if cfg.OTLPEnabled {
		exporter, err := otlpexport.NewExporter(otlpexport.Config{
			Endpoint: cfg.OTLPEndpoint,
			Insecure: cfg.OTLPInsecure,
			Timeout:  cfg.OTLPTimeout,
			Request: otlpexport.RequestOptions{
				Namespace: cfg.Namespace,
				Version:   version,
				StartTime: time.Now(),
			},
		})
		if err != nil {
			return fmt.Errorf("failed to initialize OTLP exporter: %w", err)
		}
		defer func() {
			exporter.Stop()
			log.Printf("server: otlp exported=%d dropped=%d failed=%d", exporter.Exported(), exporter.Dropped(), exporter.Failed())
		}()
		sinks = append(sinks, exporter)
	}

	extractor := ingest.NewExtractor(rules, sinks, ingest.ExtractorConfig{
		MaxDepth: cfg.MaxDepth,
		Drift:    ingest.NewDriftLog(),
	})

	// Start HTTP API server if enabled
	if cfg.APIEnabled {
		apiServer := httpserver.NewServer(cfg.APIAddr, store, httpserver.Options{
			Gatherer: registry,
			Walker:   extractor,
			Rules:    rules,
			Version:  version,
		})
		if err := apiServer.Start(); err != nil {
			return fmt.Errorf("failed to start API server: %w", err)
		}
		defer apiServer.Stop()
	}

	// Set up context and signal handling before errgroup
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		fmt.Println("\nShutting down gracefully... (press Ctrl+C again to force)")
		cancel()

		// Shutdown deadline starts now, not at boot.
		deadline := time.NewTimer(10 * time.Second)
		defer deadline.Stop()

		select {
		case <-sigCh:
			fmt.Println("\nForce shutdown.")
		case <-deadline.C:
			fmt.Println("Shutdown timed out, forcing exit.")
		}
		os.Exit(1)
	}()

	// Build input plugins and source multiplexer
	plugins := buildInputPlugins(InputPluginConfig{
		TCPEnabled: cfg.TCPEnabled,
		TCPAddr:    cfg.TCPAddr,
		TCP: tcpserver.ServerConfig{
			MaxConnections: cfg.TCPMaxConnections,
			IdleTimeout:    cfg.TCPIdleTimeout,
		},
		Files: files,
	})

	sources := make([]NamedDocSource, 0, len(plugins))
	for _, plugin := range plugins {
		if !plugin.Enabled() {
			continue
		}
		src, err := plugin.Build(ctx)
		if err != nil {
			log.Printf("Error initializing input plugin %q: %v", plugin.Name(), err)
			continue
		}
		sources = append(sources, src)
	}

	mux := NewSourceMultiplexer(ctx, sources, cfg.MuxBufferSize)
	mux.Start()

	fmt.Println(buildStartupBanner(cfg, mux.SourceNames(), rules.Names()))

	// Use errgroup for concurrent goroutine lifecycle management.
	g, gctx := errgroup.WithContext(ctx)

	// Ingestion pipeline
	if mux.HasSources() {
		p := &pipeline{
			decoder:   ingest.NewDecoder(ingest.DecoderConfig{DefaultSubsystem: cfg.DefaultSubsystem}),
			extractor: extractor,
			workers:   cfg.Workers,
		}
		g.Go(func() error {
			return p.run(gctx, mux.Lines())
		})
	}

	// Wait for context cancellation (from signal handler) in the errgroup
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Printf("server: errgroup exited with error: %v", err)
	}

	cancel()
	mux.Stop()
	for name, n := range mux.Forwarded() {
		log.Printf("server: source %s forwarded %d lines", name, n)
	}

	// If we reach here, graceful shutdown succeeded within the deadline.
	// The signal goroutine (if active) dies with the process.
	signal.Stop(sigCh)

	return nil
}

// configureRuntimeLogger sends the standard logger to a rotated file under
// ~/.local/state/statwalk. It falls back to stderr when that is not possible.
func configureRuntimeLogger(cfg appConfig) func() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	home, err := os.UserHomeDir()
	if err != nil {
		log.SetOutput(os.Stderr)
		return func() {}
	}

	logDir := filepath.Join(home, ".local", "state", "statwalk")
	if err := os.MkdirAll(logDir, 0755); err != nil {
		log.SetOutput(os.Stderr)
		return func() {}
	}

	logger := &lumberjack.Logger{
		Filename:   filepath.Join(logDir, "statwalk.log"),
		MaxSize:    cfg.LogMaxSize,
		MaxBackups: cfg.LogMaxBackups,
		MaxAge:     cfg.LogMaxAge,
		Compress:   true,
	}
	log.SetOutput(logger)
	return func() {
		log.SetOutput(os.Stderr)
		_ = logger.Close()
	}
}
