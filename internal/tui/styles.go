package tui

import (
	"fmt"

	"charm.land/lipgloss/v2"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("2")) // green
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))            // gray
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))            // red
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))            // gray

	statusStyles = map[string]lipgloss.Style{
		"connecting":     lipgloss.NewStyle().Foreground(lipgloss.Color("3")), // yellow
		"authenticating": lipgloss.NewStyle().Foreground(lipgloss.Color("3")), // yellow
		"connected":      lipgloss.NewStyle().Foreground(lipgloss.Color("2")), // green
		"reconnecting":   lipgloss.NewStyle().Foreground(lipgloss.Color("3")), // yellow
		"disconnected":   lipgloss.NewStyle().Foreground(lipgloss.Color("1")), // red
		"unauthorized":   lipgloss.NewStyle().Foreground(lipgloss.Color("1")), // red
	}

	methodStyles = map[string]lipgloss.Style{
		"GET":     lipgloss.NewStyle().Foreground(lipgloss.Color("6")), // cyan
		"HEAD":    lipgloss.NewStyle().Foreground(lipgloss.Color("6")), // cyan
		"POST":    lipgloss.NewStyle().Foreground(lipgloss.Color("2")), // green
		"PUT":     lipgloss.NewStyle().Foreground(lipgloss.Color("3")), // yellow
		"DELETE":  lipgloss.NewStyle().Foreground(lipgloss.Color("1")), // red
		"PATCH":   lipgloss.NewStyle().Foreground(lipgloss.Color("5")), // magenta
		"OPTIONS": lipgloss.NewStyle().Foreground(lipgloss.Color("8")), // gray
	}
)

// panelBorderStyle frames the traffic/ws log panel.
func panelBorderStyle() lipgloss.Style {
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")) // gray
}

// panelTitleStyle renders a panel title (placed in the border top line).
var panelTitleStyle = lipgloss.NewStyle().
	Foreground(lipgloss.Color("4")).
	Bold(true)

// StyledMethod returns a method string padded to 7 chars and colored.
func StyledMethod(method string) string {
	padded := fmt.Sprintf("%-7s", method)
	if style, ok := methodStyles[method]; ok {
		return style.Render(padded)
	}
	return padded
}

// StyledStatus returns an HTTP status code string colored by range.
func StyledStatus(status int) string {
	s := fmt.Sprintf("%d", status)
	if status >= 500 {
		return errorStyle.Render(s)
	}
	if status >= 400 {
		return lipgloss.NewStyle().Foreground(lipgloss.Color("3")).Render(s) // yellow
	}
	if status >= 300 {
		return lipgloss.NewStyle().Foreground(lipgloss.Color("6")).Render(s) // cyan
	}
	if status >= 200 {
		return lipgloss.NewStyle().Foreground(lipgloss.Color("2")).Render(s) // green
	}
	return s
}

// StyledConnectionStatus renders one of Client's Status values, styled.
func StyledConnectionStatus(status string) string {
	labels := map[string]string{
		"connecting":     "Connecting...",
		"authenticating": "Authenticating...",
		"connected":      "Connected",
		"reconnecting":   "Reconnecting...",
		"disconnected":   "Disconnected",
		"unauthorized":   "Unauthorized",
	}
	label, ok := labels[status]
	if !ok {
		label = status
	}
	if style, ok := statusStyles[status]; ok {
		return style.Render(label)
	}
	return label
}
