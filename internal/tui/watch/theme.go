// Package watch implements the commandeer live dashboard TUI: agent
// pools, in-flight commands, and the control-plane event stream.
package watch

import "github.com/charmbracelet/lipgloss"

// Palette used by the default theme. One place to retune the dashboard.
var (
	colorGood   = lipgloss.Color("#5AF78E")
	colorBusy   = lipgloss.Color("#F3F99D")
	colorBad    = lipgloss.Color("#FF5C57")
	colorParked = lipgloss.Color("#8A8A8A")
	colorFrame  = lipgloss.Color("#57C7FF")
	colorText   = lipgloss.Color("#EFF0EB")
	colorAccent = lipgloss.Color("#F1FA8C")
	colorFaint  = lipgloss.Color("#3A3A3A")
)

// Theme holds every style the dashboard renders with.
type Theme struct {
	StatusOK      lipgloss.Style
	StatusRunning lipgloss.Style
	StatusFailed  lipgloss.Style
	StatusQueued  lipgloss.Style

	Border    lipgloss.Style
	Title     lipgloss.Style
	Header    lipgloss.Style
	Dim       lipgloss.Style
	Highlight lipgloss.Style

	TickerActive   lipgloss.Style
	TickerInactive lipgloss.Style
}

func NewDefaultTheme() Theme {
	return Theme{
		StatusOK:      lipgloss.NewStyle().Foreground(colorGood),
		StatusRunning: lipgloss.NewStyle().Foreground(colorBusy),
		StatusFailed:  lipgloss.NewStyle().Foreground(colorBad),
		StatusQueued:  lipgloss.NewStyle().Foreground(colorParked),

		Border: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorFrame),
		Title: lipgloss.NewStyle().
			Bold(true).
			Foreground(colorText).
			Padding(0, 1),
		Header: lipgloss.NewStyle().
			Bold(true).
			Foreground(colorFrame),
		Dim:       lipgloss.NewStyle().Foreground(colorParked),
		Highlight: lipgloss.NewStyle().Foreground(colorAccent),

		TickerActive:   lipgloss.NewStyle().Foreground(colorGood),
		TickerInactive: lipgloss.NewStyle().Foreground(colorFaint),
	}
}
