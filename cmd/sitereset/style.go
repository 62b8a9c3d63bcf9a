package main

import "github.com/charmbracelet/lipgloss"

var (
	styleBanner  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	styleWarning = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("11"))
	styleSuccess = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	styleError   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	styleDim     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	styleStatus  = map[string]lipgloss.Style{
		"COMPLETED": lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
		"PREPARED":  lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
		"FAILED":    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9")),
		"GREEN":     lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
		"YELLOW":    lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
		"RED":       lipgloss.NewStyle().Foreground(lipgloss.Color("9")),
		"CRITICAL":  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9")),
	}
)

func renderStatus(status string) string {
	if s, ok := styleStatus[status]; ok {
		return s.Render(status)
	}
	return status
}

func mark(ok bool) string {
	if ok {
		return styleSuccess.Render("OK")
	}
	return styleError.Render("FAIL")
}
