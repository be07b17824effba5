package main

import (
	"context"
	"fmt"
	"os"

	"github.com/tinytelemetry/statwalk/internal/docsource"
	"github.com/tinytelemetry/statwalk/internal/tcpserver"
)

// NamedDocSource aliases the shared source abstraction to keep app-layer APIs explicit.
type NamedDocSource = docsource.DocSource

// InputSourcePlugin is a small plugin primitive for wiring document inputs.
type InputSourcePlugin interface {
	Name() string
	Enabled() bool
	Build(ctx context.Context) (NamedDocSource, error)
}

// InputPluginConfig defines runtime input selection.
type InputPluginConfig struct {
	TCPEnabled bool
	TCPAddr    string
	TCP        tcpserver.ServerConfig
	Files      []string
}

func buildInputPlugins(cfg InputPluginConfig) []InputSourcePlugin {
	plugins := make([]InputSourcePlugin, 0, 2+len(cfg.Files))
	plugins = append(plugins, tcpInputPlugin{
		addr:    cfg.TCPAddr,
		enabled: cfg.TCPEnabled,
		conf:    cfg.TCP,
	})
	for _, path := range cfg.Files {
		plugins = append(plugins, fileInputPlugin{path: path})
	}
	plugins = append(plugins, stdinInputPlugin{})
	return plugins
}

type tcpInputPlugin struct {
	addr    string
	enabled bool
	conf    tcpserver.ServerConfig
}

func (p tcpInputPlugin) Name() string { return "tcp" }

func (p tcpInputPlugin) Enabled() bool { return p.enabled }

func (p tcpInputPlugin) Build(_ context.Context) (NamedDocSource, error) {
	server := tcpserver.NewServer(p.addr, p.conf)
	if err := server.Start(); err != nil {
		return nil, fmt.Errorf("start tcp server: %w", err)
	}
	return docsource.NewTCPSource(server), nil
}

type fileInputPlugin struct {
	path string
}

func (p fileInputPlugin) Name() string { return "file:" + p.path }

func (p fileInputPlugin) Enabled() bool { return p.path != "" }

func (p fileInputPlugin) Build(ctx context.Context) (NamedDocSource, error) {
	src, err := docsource.NewFileSource(ctx, p.path)
	if err != nil {
		return nil, err
	}
	return src, nil
}

type stdinInputPlugin struct{}

func (p stdinInputPlugin) Name() string { return "stdin" }

func (p stdinInputPlugin) Enabled() bool {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) == 0
}

func (p stdinInputPlugin) Build(ctx context.Context) (NamedDocSource, error) {
	return docsource.NewStdinSource(ctx), nil
}
