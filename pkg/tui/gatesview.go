package tui

import (
	"fmt"
	"strings"

	"github.com/mattn/go-runewidth"

	"github.com/fouchger/homelab/pkg/gates"
)

// RenderGateResults formats a full gate evaluation for the terminal: every
// gate on its own line, failures with their remediation rendered as
// markdown. The caller already has the complete result list because gate
// evaluation never short-circuits.
func RenderGateResults(results []gates.Result) string {
	nameWidth := 0
	for _, r := range results {
		if w := runewidth.StringWidth(r.GateName); w > nameWidth {
			nameWidth = w
		}
	}

	var b strings.Builder
	for _, r := range results {
		name := runewidth.FillRight(r.GateName, nameWidth)
		switch {
		case r.Skipped:
			b.WriteString(gateSkippedStyle.Render(fmt.Sprintf("  - %s  skipped", name)))
		case r.Passed:
			b.WriteString(gatePassedStyle.Render(fmt.Sprintf("  %s %s  passed", GlyphOK, name)))
		default:
			b.WriteString(gateFailedStyle.Render(fmt.Sprintf("  %s %s  failed (%s)", GlyphFailed, name, r.FailureClass)))
			for _, d := range r.Details {
				b.WriteString("\n      " + itemDesc.Render(d))
			}
			if r.Remediation != "" {
				b.WriteString("\n" + indent(renderMarkdown(r.Remediation), "      "))
			}
		}
		b.WriteString("\n")
	}
	return b.String()
}

func indent(s, prefix string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, l := range lines {
		if l != "" {
			lines[i] = prefix + l
		}
	}
	return strings.Join(lines, "\n")
}
