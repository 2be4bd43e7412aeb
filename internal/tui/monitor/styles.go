package monitor

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/ocampo/fieldsync/internal/status"
)

var (
	// Base colors
	primaryColor = lipgloss.Color("212")
	mutedColor   = lipgloss.Color("241")
	successColor = lipgloss.Color("42")
	warningColor = lipgloss.Color("214")
	errorColor   = lipgloss.Color("196")

	// Panel styles
	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)

	activePanelStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(primaryColor).
				Padding(0, 1)

	panelTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Background(lipgloss.Color("237")).
			Foreground(lipgloss.Color("255")).
			Padding(0, 1)

	// Text styles
	titleStyle     = lipgloss.NewStyle().Bold(true)
	subtleStyle    = lipgloss.NewStyle().Foreground(mutedColor)
	helpStyle      = lipgloss.NewStyle().Foreground(mutedColor)
	timestampStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	errTextStyle   = lipgloss.NewStyle().Foreground(errorColor)
	spinnerStyle   = lipgloss.NewStyle().Foreground(primaryColor)

	// Sync state styles
	stateStyles = map[status.State]lipgloss.Style{
		status.StateIdle:      lipgloss.NewStyle().Foreground(mutedColor),
		status.StateSyncing:   lipgloss.NewStyle().Foreground(warningColor),
		status.StateCompleted: lipgloss.NewStyle().Foreground(successColor),
		status.StateError:     lipgloss.NewStyle().Foreground(errorColor).Bold(true),
	}
)
