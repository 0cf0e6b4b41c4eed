package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/metalab-io/moshpit/internal/model"
)

// statusGlyph pairs a step status with the icon and color it renders as.
type statusGlyph struct {
	icon  string
	style lipgloss.Style
}

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	sectionStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("75")).MarginTop(1)
	summaryStyle = lipgloss.NewStyle().MarginTop(1)

	// spinnerStyle colors the running icon; StatusRunning has no static
	// glyph because the spinner animates in its place.
	spinnerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("81"))

	statusGlyphs = map[model.Status]statusGlyph{
		model.StatusSuccess: {icon: "✓", style: lipgloss.NewStyle().Foreground(lipgloss.Color("35"))},
		model.StatusFailed:  {icon: "✗", style: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("203"))},
		model.StatusSkipped: {icon: "⊘", style: lipgloss.NewStyle().Foreground(lipgloss.Color("245"))},
		model.StatusPending: {icon: "…", style: lipgloss.NewStyle().Foreground(lipgloss.Color("241"))},
	}
)
