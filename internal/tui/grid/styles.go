package grid

import "github.com/charmbracelet/lipgloss"

// Status colours come from output.FormatStatus so the grid and the CLI agree.
var (
	accent = lipgloss.Color("212")
	muted  = lipgloss.Color("241")

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Background(lipgloss.Color("237")).
			Foreground(lipgloss.Color("255")).
			Padding(0, 1)

	gridStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)

	idStyle       = lipgloss.NewStyle().Bold(true)
	subtleStyle   = lipgloss.NewStyle().Foreground(muted)
	helpStyle     = subtleStyle
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	messageStyle  = lipgloss.NewStyle().Foreground(accent)
	selectedStyle = messageStyle.Bold(true)
)
