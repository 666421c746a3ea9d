package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/benaskins/lectern/internal/status"
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("62"))

	panelBorderStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("240"))

	panelTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("69"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			Width(14)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	healthyStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("82"))

	checkingStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("226"))

	unhealthyStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("196"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))
)

func statusStyle(k status.Kind) lipgloss.Style {
	switch k {
	case status.KindHealthy:
		return healthyStyle
	case status.KindChecking:
		return checkingStyle
	case status.KindUnhealthy:
		return unhealthyStyle
	default:
		return dimStyle
	}
}
