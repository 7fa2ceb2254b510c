package tui

import "github.com/charmbracelet/bubbles/key"

// KeyMap is the set of bindings of the device view.
type KeyMap struct {
	Up, Down, Rescan, Quit, Help key.Binding
}

// DefaultKeyMap returns arrow and vi style bindings.
func DefaultKeyMap() KeyMap {
	bind := func(help, desc string, keys ...string) key.Binding {
		return key.NewBinding(key.WithKeys(keys...), key.WithHelp(help, desc))
	}
	return KeyMap{
		Up:     bind("↑/k", "previous", "up", "k"),
		Down:   bind("↓/j", "next", "down", "j"),
		Rescan: bind("r", "rescan ports", "r", "f5"),
		Quit:   bind("q", "quit", "q", "esc", "ctrl+c"),
		Help:   bind("?", "more keys", "?"),
	}
}

func (k KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Rescan, k.Help, k.Quit}
}

func (k KeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{{k.Up, k.Down}, {k.Rescan, k.Help, k.Quit}}
}
