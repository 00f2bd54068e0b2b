// Package doctor builds a diagnostics report about the terminal, paths,
// and persisted console state, for the `homelab doctor` command.
package doctor

import (
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/charmbracelet/glamour"

	"github.com/fouchger/homelab/pkg/paths"
)

// TerminalCapabilities describes what the attached terminal supports.
type TerminalCapabilities struct {
	IsTTY       bool
	Term        string
	IsTmux      bool
	HasColor256 bool
	IsDumb      bool
}

// DetectTerminal probes the environment for terminal capabilities.
func DetectTerminal(stdout *os.File) TerminalCapabilities {
	term := os.Getenv("TERM")
	caps := TerminalCapabilities{
		Term:        term,
		IsTmux:      os.Getenv("TMUX") != "" || strings.HasPrefix(term, "screen") || strings.HasPrefix(term, "tmux"),
		HasColor256: strings.Contains(term, "256color"),
		IsDumb:      term == "dumb" || term == "",
	}
	if info, err := stdout.Stat(); err == nil {
		caps.IsTTY = info.Mode()&os.ModeCharDevice != 0
	}
	return caps
}

// Report is the assembled diagnostics, as markdown.
type Report struct {
	Markdown string
}

// Build assembles the report from the terminal capabilities, the path
// layout, and the on-disk state of the console.
func Build(caps TerminalCapabilities, p paths.AppPaths, stateSummary string) Report {
	var b strings.Builder
	b.WriteString("# Homelab doctor report\n\n")
	fmt.Fprintf(&b, "Go: %s  \nPlatform: %s/%s\n\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)

	b.WriteString("## Terminal\n\n")
	fmt.Fprintf(&b, "- is_tty: %v\n", caps.IsTTY)
	fmt.Fprintf(&b, "- TERM: %q\n", caps.Term)
	fmt.Fprintf(&b, "- is_tmux: %v\n", caps.IsTmux)
	fmt.Fprintf(&b, "- has_color_256: %v\n", caps.HasColor256)
	fmt.Fprintf(&b, "- is_dumb: %v\n\n", caps.IsDumb)

	b.WriteString("## Paths\n\n")
	fmt.Fprintf(&b, "- config: `%s` (%s)\n", p.ConfigFile, existsWord(p.ConfigFile))
	fmt.Fprintf(&b, "- env:    `%s` (%s)\n", p.EnvFile, existsWord(p.EnvFile))
	fmt.Fprintf(&b, "- state:  `%s`\n", p.StateDir)
	fmt.Fprintf(&b, "- runs:   `%s`\n\n", p.RunsDir)

	if stateSummary != "" {
		b.WriteString("## Latest run\n\n")
		b.WriteString(stateSummary)
		b.WriteString("\n\n")
	}

	b.WriteString("## Suggestions\n\n")
	for _, s := range suggestions(caps, p) {
		fmt.Fprintf(&b, "- %s\n", s)
	}
	return Report{Markdown: b.String()}
}

func suggestions(caps TerminalCapabilities, p paths.AppPaths) []string {
	var out []string
	if caps.IsDumb || !caps.IsTTY {
		out = append(out, "Terminal looks limited. Use the plain CLI commands instead of `homelab menu`.")
	}
	if !caps.HasColor256 && !caps.IsDumb {
		out = append(out, "Consider: export TERM=xterm-256color")
	}
	if caps.IsTmux {
		out = append(out, "Under tmux, enable 256 colour (default-terminal \"screen-256color\").")
	}
	if _, err := os.Stat(p.ConfigFile); err != nil {
		out = append(out, fmt.Sprintf("No console config found. Create %s first.", p.ConfigFile))
	}
	if len(out) == 0 {
		out = append(out, "Environment looks healthy.")
	}
	return out
}

func existsWord(path string) string {
	if _, err := os.Stat(path); err != nil {
		return "missing"
	}
	return "present"
}

// Render converts the report markdown to styled terminal output, falling
// back to the raw markdown when rendering is unavailable.
func (r Report) Render() string {
	tr, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return r.Markdown
	}
	out, err := tr.Render(r.Markdown)
	if err != nil {
		return r.Markdown
	}
	return strings.TrimRight(out, "\n") + "\n"
}
