package tui

import "github.com/charmbracelet/bubbles/key"

// keyMap holds the menu key bindings.
type keyMap struct {
	Up     key.Binding
	Down   key.Binding
	Select key.Binding
	DryRun key.Binding
	Quit   key.Binding
}

var keys = keyMap{
	Up: key.NewBinding(
		key.WithKeys("up", "k"),
		key.WithHelp("↑/k", "up"),
	),
	Down: key.NewBinding(
		key.WithKeys("down", "j"),
		key.WithHelp("↓/j", "down"),
	),
	Select: key.NewBinding(
		key.WithKeys("enter"),
		key.WithHelp("enter", "select"),
	),
	DryRun: key.NewBinding(
		key.WithKeys("d"),
		key.WithHelp("d", "toggle dry-run"),
	),
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c", "esc"),
		key.WithHelp("q", "quit"),
	),
}

// keyBarText renders the key hint line.
func keyBarText() string {
	return keyBarStyle.Render(
		keyStyle.Render("↑↓") + keyDescStyle.Render(":move") + "  " +
			keyStyle.Render("enter") + keyDescStyle.Render(":select") + "  " +
			keyStyle.Render("d") + keyDescStyle.Render(":toggle dry-run") + "  " +
			keyStyle.Render("1-9") + keyDescStyle.Render(":quick") + "  " +
			keyStyle.Render("q") + keyDescStyle.Render(":quit"))
}
