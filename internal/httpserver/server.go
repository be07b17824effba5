package httpserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tinytelemetry/statwalk/internal/document"
	"github.com/tinytelemetry/statwalk/internal/ingest"
	"github.com/tinytelemetry/statwalk/internal/model"
	"github.com/tinytelemetry/statwalk/internal/walker"
)

// DefaultAddr is used when NewServer gets an empty address.
const DefaultAddr = "0.0.0.0:9216"

// maxWalkBody bounds a dry-run request body.
const maxWalkBody = 16 << 20

// QueryStore is the narrow store contract required by the HTTP API.
type QueryStore interface {
	model.ReadAPI
}

// DryRunner walks a document without recording anything.
type DryRunner interface {
	DryRun(subsystem string, body document.Object) (walker.Result, error)
}

// RuleSetLister lists the registered subsystems.
type RuleSetLister interface {
	Names() []string
}

// Options wires the optional parts of the API.
type Options struct {
	Gatherer prometheus.Gatherer
	Walker   DryRunner
	Rules    RuleSetLister
	Version  string
}

// Server provides the /metrics endpoint and an HTTP API over stored walk results.
type Server struct {
	addr      string
	store     QueryStore
	opts      Options
	server    *http.Server
	ctx       context.Context
	cancel    context.CancelFunc
	startTime time.Time
}

// NewServer creates a new HTTP API server.
func NewServer(addr string, store QueryStore, opts Options) *Server {
	if addr == "" {
		addr = DefaultAddr
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:      addr,
		store:     store,
		opts:      opts,
		ctx:       ctx,
		cancel:    cancel,
		startTime: time.Now(),
	}
}

func (s *Server) router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{})))
	r.GET("/api/health", s.handleHealth)
	r.GET("/api/rulesets", s.handleRuleSets)
	r.POST("/api/walk/:subsystem", s.handleWalk)
	r.GET("/api/samples/:subsystem", s.handleSamples)
	r.GET("/api/drift", s.handleDrift)
	r.GET("/api/schema", s.handleSchema)
	r.POST("/api/query", s.handleQuery)
	return r
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	gin.SetMode(gin.ReleaseMode)

	s.server = &http.Server{
		Handler:           s.router(),
		BaseContext:       func(_ net.Listener) context.Context { return s.ctx },
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.addr = listener.Addr().String()
	s.startTime = time.Now()

	go s.server.Serve(listener)
	return nil
}

// Addr returns the listen address, resolved once Start has run.
func (s *Server) Addr() string { return s.addr }

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop() error {
	s.cancel()
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	sampleCount, err := s.store.TotalSampleCount()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read health metrics"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":       "ok",
		"version":      s.opts.Version,
		"uptime":       time.Since(s.startTime).String(),
		"sample_count": sampleCount,
	})
}

func (s *Server) handleRuleSets(c *gin.Context) {
	var names []string
	if s.opts.Rules != nil {
		names = s.opts.Rules.Names()
	}
	c.JSON(http.StatusOK, gin.H{"subsystems": names})
}

type metricJSON struct {
	Name   string          `json:"name"`
	Kind   string          `json:"kind"`
	Value  model.JSONValue `json:"value"`
	Labels model.Labels    `json:"labels,omitempty"`
}

type diagnosticJSON struct {
	Kind   string `json:"kind"`
	Path   string `json:"path"`
	Key    string `json:"key"`
	Detail string `json:"detail,omitempty"`
}

func (s *Server) handleWalk(c *gin.Context) {
	if s.opts.Walker == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "walker not configured"})
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWalkBody))
	if err != nil {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": err.Error()})
		return
	}
	doc, err := document.Decode(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	subsystem := c.Param("subsystem")
	res, err := s.opts.Walker.DryRun(subsystem, doc)
	if errors.Is(err, ingest.ErrUnknownSubsystem) {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("unknown subsystem %q", subsystem)})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	metrics := make([]metricJSON, 0, len(res.Metrics))
	for _, m := range res.Metrics {
		metrics = append(metrics, metricJSON{Name: m.Name, Kind: m.Kind.String(), Value: model.JSONValue(m.Value), Labels: m.Labels})
	}
	diags := make([]diagnosticJSON, 0, len(res.Diagnostics))
	for _, d := range res.Diagnostics {
		diags = append(diags, diagnosticJSON{Kind: d.Kind.String(), Path: d.Path, Key: d.Key, Detail: d.Detail})
	}
	c.JSON(http.StatusOK, gin.H{
		"subsystem":   subsystem,
		"metrics":     metrics,
		"diagnostics": diags,
	})
}

// queryLimit reads ?limit=, falling back to def and capping at maxN.
func queryLimit(c *gin.Context, def, maxN int) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, false
	}
	if n > maxN {
		n = maxN
	}
	return n, true
}

func (s *Server) handleSamples(c *gin.Context) {
	limit, ok := queryLimit(c, 1000, 10000)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
		return
	}
	samples, err := s.store.LatestSamples(c.Param("subsystem"), c.Query("instance"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	type sampleJSON struct {
		metricJSON
		Instance  string    `json:"instance"`
		Timestamp time.Time `json:"timestamp"`
	}
	out := make([]sampleJSON, 0, len(samples))
	for _, m := range samples {
		out = append(out, sampleJSON{
			metricJSON: metricJSON{Name: m.Name, Kind: m.Kind.String(), Value: model.JSONValue(m.Value), Labels: m.Labels},
			Instance:   m.Instance,
			Timestamp:  m.Timestamp,
		})
	}
	c.JSON(http.StatusOK, gin.H{"samples": out, "count": len(out)})
}

func (s *Server) handleDrift(c *gin.Context) {
	limit, ok := queryLimit(c, 100, 1000)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
		return
	}
	entries, err := s.store.DriftReport(c.Query("subsystem"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	type driftJSON struct {
		Subsystem string    `json:"subsystem"`
		Path      string    `json:"path"`
		Key       string    `json:"key"`
		Kind      string    `json:"kind"`
		Count     int64     `json:"count"`
		LastSeen  time.Time `json:"last_seen"`
		Detail    string    `json:"detail,omitempty"`
	}
	out := make([]driftJSON, 0, len(entries))
	for _, e := range entries {
		out = append(out, driftJSON(e))
	}
	c.JSON(http.StatusOK, gin.H{"entries": out})
}

func (s *Server) handleSchema(c *gin.Context) {
	description := s.store.GetSchemaDescription()

	tables, err := s.store.ExecuteQuery(
		"SELECT table_name, column_name, data_type FROM information_schema.columns WHERE table_schema = 'main' ORDER BY table_name, ordinal_position",
	)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read schema metadata"})
		return
	}

	schema := make(map[string][]map[string]string)
	for _, row := range tables {
		tableName := fmt.Sprintf("%v", row["table_name"])
		schema[tableName] = append(schema[tableName], map[string]string{
			"column": fmt.Sprintf("%v", row["column_name"]),
			"type":   fmt.Sprintf("%v", row["data_type"]),
		})
	}

	counts, err := s.store.TableRowCounts()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read table row counts"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"description": description,
		"tables":      schema,
		"row_counts":  counts,
	})
}

func (s *Server) handleQuery(c *gin.Context) {
	var req struct {
		SQL string `json:"sql" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body or missing sql field"})
		return
	}

	results, err := s.store.ExecuteQuery(req.SQL)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var columns []string
	if len(results) > 0 {
		for col := range results[0] {
			columns = append(columns, col)
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"columns":   columns,
		"rows":      results,
		"row_count": len(results),
	})
}
