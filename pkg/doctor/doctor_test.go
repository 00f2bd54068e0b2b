package doctor

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fouchger/homelab/pkg/paths"
)

func TestBuildReportSections(t *testing.T) {
	p := paths.At(t.TempDir())
	caps := TerminalCapabilities{IsTTY: true, Term: "xterm-256color", HasColor256: true}

	rep := Build(caps, p, "run 20260214T093000-a1b2c3d4 is RESUMABLE")
	for _, want := range []string{"## Terminal", "## Paths", "## Latest run", "## Suggestions", "RESUMABLE"} {
		if !strings.Contains(rep.Markdown, want) {
			t.Errorf("report missing %q", want)
		}
	}
	if !strings.Contains(rep.Markdown, "missing") {
		t.Error("report should flag the absent config file")
	}
	if !strings.Contains(rep.Markdown, "No console config found") {
		t.Error("missing config should produce a suggestion")
	}
}

func TestBuildReportPresentConfig(t *testing.T) {
	p := paths.At(t.TempDir())
	if err := p.EnsureDirs(); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p.ConfigFile, []byte("apiVersion: v1\n"), 0644); err != nil {
		t.Fatal(err)
	}
	rep := Build(TerminalCapabilities{IsTTY: true, Term: "xterm-256color", HasColor256: true}, p, "")
	if !strings.Contains(rep.Markdown, filepath.Base(p.ConfigFile)) {
		t.Error("report missing config path")
	}
	if !strings.Contains(rep.Markdown, "Environment looks healthy") {
		t.Errorf("healthy environment should say so:\n%s", rep.Markdown)
	}
	if strings.Contains(rep.Markdown, "## Latest run") {
		t.Error("empty state summary should omit the latest-run section")
	}
}

func TestSuggestionsLimitedTerminal(t *testing.T) {
	p := paths.At(t.TempDir())
	got := suggestions(TerminalCapabilities{IsDumb: true}, p)
	joined := strings.Join(got, "\n")
	if !strings.Contains(joined, "plain CLI") {
		t.Errorf("dumb terminal suggestion missing: %v", got)
	}
}

func TestRenderFallsBackToMarkdown(t *testing.T) {
	rep := Report{Markdown: "# title\n\nbody\n"}
	out := rep.Render()
	if out == "" {
		t.Fatal("Render returned nothing")
	}
	if !strings.Contains(out, "title") {
		t.Errorf("render lost content: %q", out)
	}
}
