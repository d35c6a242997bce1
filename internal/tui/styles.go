// Package tui renders progress and lock state for the terminal: static
// tables for the status command and a live bubbletea view for watch.
package tui

import "github.com/charmbracelet/lipgloss"

var (
	// Colors meet WCAG AA contrast on dark backgrounds
	PrimaryColor   = lipgloss.Color("#A78BFA") // Purple
	SecondaryColor = lipgloss.Color("#10B981") // Green
	WarningColor   = lipgloss.Color("#F59E0B") // Amber
	ErrorColor     = lipgloss.Color("#F87171") // Red
	MutedColor     = lipgloss.Color("#9CA3AF") // Gray
	BorderColor    = lipgloss.Color("#6B7280") // Gray

	Title = lipgloss.NewStyle().
		Bold(true).
		Foreground(PrimaryColor).
		MarginBottom(1)

	Header = lipgloss.NewStyle().
		Bold(true).
		Foreground(MutedColor)

	Held  = lipgloss.NewStyle().Foreground(WarningColor)
	Free  = lipgloss.NewStyle().Foreground(SecondaryColor)
	Muted = lipgloss.NewStyle().Foreground(MutedColor)
	Error = lipgloss.NewStyle().Foreground(ErrorColor)

	Box = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(BorderColor).
		Padding(0, 1)

	Help = lipgloss.NewStyle().
		Foreground(MutedColor).
		MarginTop(1)
)
