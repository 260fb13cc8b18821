package tui

import "github.com/charmbracelet/lipgloss"

// State colors.
var (
	ColorPending   = lipgloss.Color("#d97706")
	ColorScheduled = lipgloss.Color("#22c55e")
	ColorStopped   = lipgloss.Color("#6b7280")
	ColorIdle      = lipgloss.Color("#4b5563")
	ColorDanger    = lipgloss.Color("#dc2626")
)

// UI chrome colors.
var (
	ColorBorder = lipgloss.Color("#4b5563")
	ColorDimmed = lipgloss.Color("#6b7280")
	ColorBright = lipgloss.Color("#f9fafb")
	ColorAccent = lipgloss.Color("#3b82f6")
)

var (
	styleHeader = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorBright).
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true).
			BorderForeground(ColorBorder)

	styleDimmed   = lipgloss.NewStyle().Foreground(ColorDimmed)
	styleError    = lipgloss.NewStyle().Foreground(ColorDanger)
	styleSelected = lipgloss.NewStyle().Bold(true).Foreground(ColorAccent)
	styleSpinner  = lipgloss.NewStyle().Foreground(ColorPending)
)

func stateStyle(state string, failed bool) lipgloss.Style {
	if failed {
		return lipgloss.NewStyle().Foreground(ColorDanger)
	}
	switch state {
	case "pending":
		return lipgloss.NewStyle().Foreground(ColorPending)
	case "scheduled":
		return lipgloss.NewStyle().Foreground(ColorScheduled)
	case "stopped":
		return lipgloss.NewStyle().Foreground(ColorStopped)
	default:
		return lipgloss.NewStyle().Foreground(ColorIdle)
	}
}
