// Package tui implements the interactive menu console for the homelab
// CLI. It is a thin front end: it renders the command registry and the
// latest run state, and hands the selected action back to the caller.
package tui

import "github.com/charmbracelet/lipgloss"

// Run state glyphs — convey meaning without relying on color alone.
const (
	GlyphResumable = "⟳"
	GlyphArchived  = "◆"
	GlyphFailed    = "✗"
	GlyphOK        = "✓"
	GlyphDryRun    = "○"
	GlyphLive      = "●"
)

// Palette adapts to terminal capabilities via lipgloss.
var (
	colorGreen  = lipgloss.Color("42")
	colorRed    = lipgloss.Color("196")
	colorYellow = lipgloss.Color("214")
	colorCyan   = lipgloss.Color("51")
	colorDim    = lipgloss.Color("240")
	colorWhite  = lipgloss.Color("255")
)

var headerStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(colorCyan).
	Padding(0, 1)

var modeBadgeLive = lipgloss.NewStyle().
	Bold(true).
	Foreground(lipgloss.Color("0")).
	Background(colorRed).
	Padding(0, 1)

var modeBadgeDry = lipgloss.NewStyle().
	Bold(true).
	Foreground(lipgloss.Color("0")).
	Background(colorYellow).
	Padding(0, 1)

var (
	itemNormal = lipgloss.NewStyle().
			Foreground(colorWhite)

	itemCurrent = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorYellow)

	itemDesc = lipgloss.NewStyle().
			Foreground(colorDim)

	itemDisabled = lipgloss.NewStyle().
			Faint(true)
)

var (
	statusResumable = lipgloss.NewStyle().
			Foreground(colorYellow).
			Bold(true)

	statusFailed = lipgloss.NewStyle().
			Foreground(colorRed).
			Bold(true)

	statusOK = lipgloss.NewStyle().
			Foreground(colorGreen)
)

var (
	keyStyle = lipgloss.NewStyle().
			Foreground(colorCyan).
			Bold(true)

	keyDescStyle = lipgloss.NewStyle().
			Foreground(colorDim)

	keyBarStyle = lipgloss.NewStyle().
			Padding(0, 1)
)

var gatePassedStyle = lipgloss.NewStyle().
	Foreground(colorGreen)

var gateFailedStyle = lipgloss.NewStyle().
	Foreground(colorRed).
	Bold(true)

var gateSkippedStyle = lipgloss.NewStyle().
	Faint(true)
