package main

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Build variables - set by ldflags during build.
var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
	goVersion = "unknown"
)

func main() {
	var configPath string
	var showVersion bool
	var walkPath string
	var subsystem string
	var format string

	flag.StringVar(&configPath, "config", "", "config file (default is $HOME/.config/statwalk/config.yml)")
	flag.BoolVar(&showVersion, "version", false, "print version information")
	flag.StringVar(&walkPath, "walk", "", "walk one status document file, print the result and exit")
	flag.StringVar(&subsystem, "subsystem", "", "subsystem for documents without an envelope (default from config)")
	flag.StringVar(&format, "format", formatText, "output format of -walk: text, json or otlp")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] [file ...]\n\nFiles are read once in addition to the TCP and stdin inputs.\n\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if showVersion {
		fmt.Printf("statwalk - serverStatus metric extraction\n")
		fmt.Printf("  Version:    %s\n", version)
		fmt.Printf("  Commit:     %s\n", commit)
		fmt.Printf("  Built:      %s\n", buildTime)
		fmt.Printf("  Go version: %s\n", goVersion)
		return
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	if walkPath != "" {
		opts := onceOptions{Path: walkPath, Subsystem: subsystem, Format: format}
		if err := runOnce(cfg, opts, os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := runServer(cfg, flag.Args()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig(configPath string) (appConfig, error) {
	var cfg appConfig

	home, err := os.UserHomeDir()
	if err != nil {
		return cfg, fmt.Errorf("finding home directory: %w", err)
	}

	defaultDBPath := filepath.Join(home, ".local", "share", "statwalk", "statwalk.duckdb")

	v := viper.New()
	v.SetEnvPrefix("STATWALK")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	v.SetDefault("host", defaultBindHost)
	v.SetDefault("tcp-enabled", true)
	v.SetDefault("tcp-port", defaultTCPPort)
	v.SetDefault("tcp-max-connections", defaultTCPMaxConnections)
	v.SetDefault("tcp-idle-timeout", time.Duration(0))
	v.SetDefault("api-enabled", true)
	v.SetDefault("api-port", defaultAPIPort)
	v.SetDefault("mux-buffer-size", defaultMuxBufferSize)
	v.SetDefault("db-path", defaultDBPath)
	v.SetDefault("query-timeout", defaultQueryTimeout)
	v.SetDefault("max-concurrent-queries", defaultMaxConcurrentReads)
	v.SetDefault("insert-batch-size", defaultInsertBatchSize)
	v.SetDefault("insert-flush-interval", defaultInsertFlushInterval)
	v.SetDefault("insert-flush-queue-size", defaultInsertFlushQueue)
	v.SetDefault("sample-retention", defaultSampleRetention)
	v.SetDefault("default-subsystem", defaultSubsystem)
	v.SetDefault("rules-dir", "")
	v.SetDefault("workers", defaultWorkers)
	v.SetDefault("max-depth", defaultMaxDepth)
	v.SetDefault("namespace", defaultNamespace)
	v.SetDefault("metrics-ttl", defaultMetricsTTL)
	v.SetDefault("otlp-enabled", false)
	v.SetDefault("otlp-endpoint", defaultOTLPEndpoint)
	v.SetDefault("otlp-insecure", true)
	v.SetDefault("otlp-timeout", defaultOTLPTimeout)
	v.SetDefault("log-max-size", defaultLogMaxSize)
	v.SetDefault("log-max-backups", defaultLogMaxBackups)
	v.SetDefault("log-max-age", defaultLogMaxAge)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		defaultConfigPath := filepath.Join(home, ".config", "statwalk", "config.yml")
		v.SetConfigFile(defaultConfigPath)
	}

	configFound := true
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFound) && !os.IsNotExist(err) {
			return cfg, err
		}
		configFound = false
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, err
	}
	if configFound {
		cfg.ConfigPath = v.ConfigFileUsed()
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}

	// Expand ~ in paths
	cfg.DBPath = expandHome(home, cfg.DBPath)
	cfg.RulesDir = expandHome(home, cfg.RulesDir)

	if cfg.TCPAddr == "" {
		cfg.TCPAddr = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.TCPPort))
	}
	if cfg.APIAddr == "" {
		cfg.APIAddr = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.APIPort))
	}

	return cfg, nil
}

func validateConfig(cfg appConfig) error {
	if cfg.TCPPort <= 0 || cfg.TCPPort > 65535 {
		return fmt.Errorf("invalid tcp-port: %d", cfg.TCPPort)
	}
	if cfg.APIPort <= 0 || cfg.APIPort > 65535 {
		return fmt.Errorf("invalid api-port: %d", cfg.APIPort)
	}
	if cfg.TCPMaxConnections <= 0 {
		return fmt.Errorf("invalid tcp-max-connections: %d", cfg.TCPMaxConnections)
	}
	if cfg.TCPIdleTimeout < 0 {
		return fmt.Errorf("invalid tcp-idle-timeout: %s", cfg.TCPIdleTimeout)
	}
	if strings.TrimSpace(cfg.Host) == "" {
		return errors.New("invalid host: must not be empty")
	}
	if cfg.Workers <= 0 {
		return fmt.Errorf("invalid workers: %d", cfg.Workers)
	}
	if cfg.MaxDepth <= 0 {
		return fmt.Errorf("invalid max-depth: %d", cfg.MaxDepth)
	}
	if cfg.SampleRetention < 0 {
		return fmt.Errorf("invalid sample-retention: %d", cfg.SampleRetention)
	}
	if cfg.MetricsTTL < 0 {
		return fmt.Errorf("invalid metrics-ttl: %s", cfg.MetricsTTL)
	}
	if strings.TrimSpace(cfg.DefaultSubsystem) == "" {
		return errors.New("invalid default-subsystem: must not be empty")
	}
	if strings.TrimSpace(cfg.Namespace) == "" {
		return errors.New("invalid namespace: must not be empty")
	}
	if cfg.OTLPEnabled {
		if strings.TrimSpace(cfg.OTLPEndpoint) == "" {
			return errors.New("invalid otlp-endpoint: required when otlp-enabled is set")
		}
		if cfg.OTLPTimeout <= 0 {
			return fmt.Errorf("invalid otlp-timeout: %s", cfg.OTLPTimeout)
		}
	}
	if cfg.LogMaxSize < 0 {
		return fmt.Errorf("invalid log-max-size: %d", cfg.LogMaxSize)
	}
	return nil
}

func expandHome(home, path string) string {
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:])
	}
	return path
}
