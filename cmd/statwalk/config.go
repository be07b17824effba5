package main

import (
	"time"

	"github.com/tinytelemetry/statwalk/internal/model"
	"github.com/tinytelemetry/statwalk/internal/otlpexport"
	"github.com/tinytelemetry/statwalk/internal/tcpserver"
)

const (
	defaultBindHost            = "127.0.0.1"
	defaultTCPPort             = 27500
	defaultAPIPort             = 9216
	defaultTCPMaxConnections   = tcpserver.DefaultMaxConnections
	defaultMuxBufferSize       = DefaultMuxBuffer
	defaultQueryTimeout        = 30 * time.Second
	defaultMaxConcurrentReads  = 8
	defaultInsertBatchSize     = 2000
	defaultInsertFlushInterval = 100 * time.Millisecond
	defaultInsertFlushQueue    = 64
	defaultSampleRetention     = 14 // days, 0 = disabled
	defaultSubsystem           = model.DefaultSubsystem
	defaultWorkers             = 4
	defaultMaxDepth            = model.DefaultMaxDepth
	defaultNamespace           = model.DefaultNamespace
	defaultMetricsTTL          = model.DefaultMetricsTTL
	defaultOTLPEndpoint        = otlpexport.DefaultEndpoint
	defaultOTLPTimeout         = otlpexport.DefaultTimeout
	defaultLogMaxSize          = 50 // megabytes
	defaultLogMaxBackups       = 3
	defaultLogMaxAge           = 28 // days
)

// appConfig is internal runtime configuration.
// It is package-private to keep defaults and shape local to the CLI entrypoint.
type appConfig struct {
	Host                string        `mapstructure:"host"`
	TCPEnabled          bool          `mapstructure:"tcp-enabled"`
	TCPPort             int           `mapstructure:"tcp-port"`
	TCPAddr             string        `mapstructure:"tcp-addr"`
	TCPMaxConnections   int           `mapstructure:"tcp-max-connections"`
	TCPIdleTimeout      time.Duration `mapstructure:"tcp-idle-timeout"`
	APIEnabled          bool          `mapstructure:"api-enabled"`
	APIPort             int           `mapstructure:"api-port"`
	APIAddr             string        `mapstructure:"api-addr"`
	MuxBufferSize       int           `mapstructure:"mux-buffer-size"`
	DBPath              string        `mapstructure:"db-path"`
	QueryTimeout        time.Duration `mapstructure:"query-timeout"`
	MaxConcurrentReads  int           `mapstructure:"max-concurrent-queries"`
	InsertBatchSize     int           `mapstructure:"insert-batch-size"`
	InsertFlushInterval time.Duration `mapstructure:"insert-flush-interval"`
	InsertFlushQueue    int           `mapstructure:"insert-flush-queue-size"`
	SampleRetention     int           `mapstructure:"sample-retention"`
	DefaultSubsystem    string        `mapstructure:"default-subsystem"`
	RulesDir            string        `mapstructure:"rules-dir"`
	Workers             int           `mapstructure:"workers"`
	MaxDepth            int           `mapstructure:"max-depth"`
	Namespace           string        `mapstructure:"namespace"`
	MetricsTTL          time.Duration `mapstructure:"metrics-ttl"`
	OTLPEnabled         bool          `mapstructure:"otlp-enabled"`
	OTLPEndpoint        string        `mapstructure:"otlp-endpoint"`
	OTLPInsecure        bool          `mapstructure:"otlp-insecure"`
	OTLPTimeout         time.Duration `mapstructure:"otlp-timeout"`
	LogMaxSize          int           `mapstructure:"log-max-size"`
	LogMaxBackups       int           `mapstructure:"log-max-backups"`
	LogMaxAge           int           `mapstructure:"log-max-age"`
	ConfigPath          string        `mapstructure:"-"` // not from config file
}
