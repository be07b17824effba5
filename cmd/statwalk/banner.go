package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	bannerDim    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	bannerGreen  = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	bannerCyan   = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	bannerYellow = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	bannerBold   = lipgloss.NewStyle().Bold(true)
)

// banner collects the startup summary line by line.
type banner struct {
	lines []string
}

func (b *banner) blank() { b.lines = append(b.lines, "") }

func (b *banner) section(title string) {
	b.lines = append(b.lines, bannerBold.Render("    "+title), "")
}

// row renders "● Label value". An inactive row shows a grey dot and off
// instead of value.
func (b *banner) row(active bool, label, value, off string) {
	if active {
		b.lines = append(b.lines, fmt.Sprintf("    %s  %-14s %s", bannerGreen.Render("●"), label, bannerCyan.Render(value)))
		return
	}
	b.lines = append(b.lines, fmt.Sprintf("    %s  %-14s %s", bannerDim.Render("●"), label, bannerDim.Render(off)))
}

// info is an always-active row with a muted value.
func (b *banner) info(label, value string) {
	b.lines = append(b.lines, fmt.Sprintf("    %s  %-14s %s", bannerGreen.Render("●"), label, bannerDim.Render(value)))
}

func (b *banner) String() string { return strings.Join(b.lines, "\n") }

func buildStartupBanner(cfg appConfig, sources, subsystems []string) string {
	logo := bannerCyan.Bold(true).Render(`
    ╔═╗╔╦╗╔═╗╔╦╗╦ ╦╔═╗╦  ╦╔═
    ╚═╗ ║ ╠═╣ ║ ║║║╠═╣║  ╠╩╗
    ╚═╝ ╩ ╩ ╩ ╩ ╚╩╝╩ ╩╩═╝╩ ╩`)
	separator := bannerDim.Render("    ─────────────────────────────────")

	b := &banner{}
	b.blank()
	b.lines = append(b.lines, logo, "    "+bannerDim.Render("v"+version))
	b.blank()
	b.lines = append(b.lines, separator)
	b.blank()

	b.section("Gateway")
	b.row(cfg.APIEnabled, "HTTP API", cfg.APIAddr, "disabled")
	b.row(cfg.APIEnabled, "Metrics", "http://"+cfg.APIAddr+"/metrics", "disabled")
	b.row(cfg.TCPEnabled, "TCP Ingest", cfg.TCPAddr, "disabled")
	b.row(cfg.OTLPEnabled, "OTLP Push", cfg.OTLPEndpoint, "disabled")
	b.blank()

	b.section("Storage")
	b.info("Storage", shortenPath(cfg.DBPath))
	b.row(cfg.SampleRetention > 0, "Retention", fmt.Sprintf("%d days", cfg.SampleRetention), "disabled")
	b.blank()

	b.section("Runtime")
	b.info("Rule Sets", strings.Join(subsystems, ", "))
	b.info("Workers", fmt.Sprintf("%d", cfg.Workers))
	b.row(len(sources) > 0, "Inputs", strings.Join(sources, ", "), "none")
	b.blank()

	b.section("Config")
	b.row(cfg.ConfigPath != "", "Config File", shortenPath(cfg.ConfigPath), "default (no file)")
	b.blank()

	b.lines = append(b.lines, separator)
	b.blank()
	b.lines = append(b.lines, "    "+bannerDim.Render("Press ")+bannerYellow.Render("Ctrl+C")+bannerDim.Render(" to stop"))
	b.blank()
	return b.String()
}

func shortenPath(path string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if strings.HasPrefix(path, home) {
		return "~" + path[len(home):]
	}
	return path
}
