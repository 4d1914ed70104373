package display

import "github.com/charmbracelet/lipgloss"

type styles struct {
	title  lipgloss.Style
	label  lipgloss.Style
	value  lipgloss.Style
	voice  lipgloss.Style
	bar    lipgloss.Style
	pan    lipgloss.Style
	halted lipgloss.Style
	hint   lipgloss.Style
}

func newStyles() styles {
	return styles{
		title:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.ANSIColor(3)),
		label:  lipgloss.NewStyle().Foreground(lipgloss.ANSIColor(8)),
		value:  lipgloss.NewStyle().Foreground(lipgloss.ANSIColor(6)),
		voice:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.ANSIColor(5)),
		bar:    lipgloss.NewStyle().Foreground(lipgloss.ANSIColor(2)),
		pan:    lipgloss.NewStyle().Foreground(lipgloss.ANSIColor(4)),
		halted: lipgloss.NewStyle().Foreground(lipgloss.ANSIColor(8)),
		hint:   lipgloss.NewStyle().Faint(true),
	}
}
