package tui

import "github.com/charmbracelet/lipgloss"

// palette holds the adaptive colors the styles are built from.
type palette struct {
	accent, text, dim, good, bad, warn lipgloss.AdaptiveColor
}

var defaultPalette = palette{
	accent: lipgloss.AdaptiveColor{Light: "#0063B1", Dark: "#4FA3E0"},
	text:   lipgloss.AdaptiveColor{Light: "#1F1F1F", Dark: "#DADADA"},
	dim:    lipgloss.AdaptiveColor{Light: "#8A8A8A", Dark: "#6B6B6B"},
	good:   lipgloss.AdaptiveColor{Light: "#2E8B3A", Dark: "#6CCB77"},
	bad:    lipgloss.AdaptiveColor{Light: "#C62828", Dark: "#F0706A"},
	warn:   lipgloss.AdaptiveColor{Light: "#B26A00", Dark: "#F2B84B"},
}

// Styles groups the lipgloss styles shared by the views.
type Styles struct {
	App         lipgloss.Style
	Title       lipgloss.Style
	Subtitle    lipgloss.Style
	Header      lipgloss.Style
	Row         lipgloss.Style
	RowSelected lipgloss.Style
	Label       lipgloss.Style
	Value       lipgloss.Style
	Muted       lipgloss.Style
	Error       lipgloss.Style
	Success     lipgloss.Style
	Warning     lipgloss.Style
	Help        lipgloss.Style
}

// DefaultStyles returns the styles for the default palette.
func DefaultStyles() Styles {
	return newStyles(defaultPalette)
}

func newStyles(p palette) Styles {
	fg := func(c lipgloss.AdaptiveColor) lipgloss.Style { return lipgloss.NewStyle().Foreground(c) }
	return Styles{
		App:         lipgloss.NewStyle().Margin(1, 2),
		Title:       lipgloss.NewStyle().Bold(true).Foreground(p.accent).Underline(true),
		Subtitle:    fg(p.dim).PaddingBottom(1),
		Header:      fg(p.text).Bold(true),
		Row:         fg(p.text),
		RowSelected: fg(p.accent).Bold(true),
		Label:       fg(p.dim).Width(12),
		Value:       fg(p.text),
		Muted:       fg(p.dim),
		Error:       fg(p.bad),
		Success:     fg(p.good),
		Warning:     fg(p.warn),
		Help:        fg(p.dim).PaddingTop(1),
	}
}
