package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-runewidth"

	"github.com/fouchger/homelab/pkg/lifecycle"
)

// Item is one selectable menu entry. Disabled entries render but cannot be
// chosen (e.g. resume with no resumable run).
type Item struct {
	Command     string
	Title       string
	Description string
	Disabled    bool
}

// Choice is what the operator picked. The caller executes it after the
// program exits; the menu itself never runs anything.
type Choice struct {
	Command string
	DryRun  bool
}

// Model is the bubbletea model for the main menu.
type Model struct {
	items  []Item
	latest *lifecycle.Run

	cursor int
	dryRun bool
	width  int
	height int

	choice *Choice
}

// NewModel builds the menu. Dry-run starts on: a live run is always an
// explicit decision.
func NewModel(items []Item, latest *lifecycle.Run) Model {
	m := Model{items: items, latest: latest, dryRun: true}
	for m.cursor < len(items) && items[m.cursor].Disabled {
		m.cursor++
	}
	return m
}

// Choice returns the selected action, if any.
func (m Model) Choice() (Choice, bool) {
	if m.choice == nil {
		return Choice{}, false
	}
	return *m.choice, true
}

func (m Model) Init() tea.Cmd { return nil }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Up):
			m.cursor = m.step(-1)
		case key.Matches(msg, keys.Down):
			m.cursor = m.step(1)
		case key.Matches(msg, keys.DryRun):
			m.dryRun = !m.dryRun
		case key.Matches(msg, keys.Select):
			if m.cursor < len(m.items) && !m.items[m.cursor].Disabled {
				m.choice = &Choice{Command: m.items[m.cursor].Command, DryRun: m.dryRun}
				return m, tea.Quit
			}
		case key.Matches(msg, keys.Quit):
			return m, tea.Quit
		default:
			if s := msg.String(); len(s) == 1 && s[0] >= '1' && s[0] <= '9' {
				idx := int(s[0] - '1')
				if idx < len(m.items) && !m.items[idx].Disabled {
					m.cursor = idx
					m.choice = &Choice{Command: m.items[idx].Command, DryRun: m.dryRun}
					return m, tea.Quit
				}
			}
		}
	}
	return m, nil
}

// step moves the cursor past disabled items, clamping at the ends.
func (m Model) step(dir int) int {
	c := m.cursor
	for {
		c += dir
		if c < 0 || c >= len(m.items) {
			return m.cursor
		}
		if !m.items[c].Disabled {
			return c
		}
	}
}

func (m Model) View() string {
	var b strings.Builder

	badge := modeBadgeDry.Render(GlyphDryRun + " DRY-RUN")
	if !m.dryRun {
		badge = modeBadgeLive.Render(GlyphLive + " LIVE")
	}
	b.WriteString(headerStyle.Render("Homelab console") + "  " + badge)
	b.WriteString("\n\n")

	titleWidth := 0
	for _, it := range m.items {
		if w := runewidth.StringWidth(it.Title); w > titleWidth {
			titleWidth = w
		}
	}

	for i, it := range m.items {
		cursor := "  "
		if i == m.cursor {
			cursor = itemCurrent.Render("> ")
		}
		num := keyStyle.Render(fmt.Sprintf("%d.", i+1))
		title := runewidth.FillRight(it.Title, titleWidth)

		var line string
		switch {
		case it.Disabled:
			line = itemDisabled.Render(fmt.Sprintf("  %d. %s  %s", i+1, title, it.Description))
		case i == m.cursor:
			line = cursor + num + " " + itemCurrent.Render(title) + "  " + itemDesc.Render(it.Description)
		default:
			line = cursor + num + " " + itemNormal.Render(title) + "  " + itemDesc.Render(it.Description)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(latestRunLine(m.latest))
	b.WriteString("\n\n")
	b.WriteString(keyBarText())
	return b.String()
}

// latestRunLine summarizes the latest run record for the status bar.
func latestRunLine(run *lifecycle.Run) string {
	if run == nil {
		return itemDesc.Render("No previous run.")
	}
	switch run.State {
	case lifecycle.StateResumable:
		return statusResumable.Render(fmt.Sprintf("%s Run %s (%s) is resumable after step %q",
			GlyphResumable, run.ID, run.Command, run.LastStepCompleted))
	case lifecycle.StateCompleted:
		return statusOK.Render(fmt.Sprintf("%s Run %s (%s) completed",
			GlyphOK, run.ID, run.Command))
	case lifecycle.StateArchived:
		if run.FailureReason != "" {
			return statusFailed.Render(fmt.Sprintf("%s Run %s (%s) failed: %s",
				GlyphFailed, run.ID, run.Command, run.FailureReason))
		}
		return itemDesc.Render(fmt.Sprintf("%s Run %s (%s) archived",
			GlyphArchived, run.ID, run.Command))
	default:
		return statusFailed.Render(fmt.Sprintf("%s Run %s (%s) is %s — possibly interrupted",
			GlyphFailed, run.ID, run.Command, run.State))
	}
}

// Run drives the menu to completion and returns the operator's choice.
func Run(items []Item, latest *lifecycle.Run) (Choice, bool, error) {
	p := tea.NewProgram(NewModel(items, latest))
	final, err := p.Run()
	if err != nil {
		return Choice{}, false, fmt.Errorf("run menu: %w", err)
	}
	m, ok := final.(Model)
	if !ok {
		return Choice{}, false, nil
	}
	choice, picked := m.Choice()
	return choice, picked, nil
}
