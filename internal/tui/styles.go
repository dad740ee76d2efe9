package tui

import "github.com/charmbracelet/lipgloss"

var (
	// Colors
	ColorUser   = lipgloss.Color("#87d7af") // Soft Green
	ColorAI     = lipgloss.Color("#87afff") // Soft Blue
	ColorSystem = lipgloss.Color("#767676") // Grey
	ColorError  = lipgloss.Color("#ff5f5f") // Soft Red
	ColorHeader = lipgloss.Color("#bd93f9") // Purple
	ColorBorder = lipgloss.Color("#444444") // Dark Grey

	// Styles
	styleHeader = lipgloss.NewStyle().
			Foreground(ColorHeader).
			Bold(true).
			Padding(0, 1).
			BorderStyle(lipgloss.NormalBorder()).
			BorderForeground(ColorBorder).
			BorderBottom(true)

	styleFooter = lipgloss.NewStyle().
			Foreground(ColorSystem).
			Faint(true)

	styleInput = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorAI).
			Padding(0, 1)

	styleUserLabel = lipgloss.NewStyle().
			Foreground(ColorUser).
			Bold(true)

	styleAILabel = lipgloss.NewStyle().
			Foreground(ColorAI).
			Bold(true)

	styleBubble = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			Padding(0, 1)

	styleUserBubble      = styleBubble.BorderForeground(ColorUser)
	styleAssistantBubble = styleBubble.BorderForeground(ColorAI)

	stylePanel = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorBorder).
			Padding(0, 1)

	styleLabel = lipgloss.NewStyle().
			Foreground(ColorSystem).
			Bold(true)

	styleSystem = lipgloss.NewStyle().Foreground(ColorSystem)

	styleError = lipgloss.NewStyle().
			Foreground(ColorError)
)
