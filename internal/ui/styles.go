package ui

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

// Color palette for startup output
var (
	PrimaryColor = lipgloss.Color("#7D56F4") // Purple - borders, title
	SuccessColor = lipgloss.Color("#43BF6D") // Green - URL
	ErrorColor   = lipgloss.Color("#FF5555") // Red - fatal errors
	WarningColor = lipgloss.Color("#FFA500") // Orange - section tags
	MutedColor   = lipgloss.Color("#626262") // Gray - secondary info
	TextColor    = lipgloss.Color("#FFFFFF") // White - main content
)

// Layout constants
const (
	MinTerminalWidth = 60  // Minimum supported terminal width
	MaxContentWidth  = 100 // Maximum content width before capping
)

var (
	TitleStyle = lipgloss.NewStyle().
			Foreground(TextColor).
			Bold(true)

	URLStyle = lipgloss.NewStyle().
			Foreground(SuccessColor).
			Underline(true)

	// KeyStyle pads field names so values line up.
	KeyStyle = lipgloss.NewStyle().
			Foreground(MutedColor).
			Width(16)

	ValueStyle = lipgloss.NewStyle().
			Foreground(TextColor)

	// TagStyle is for section tags such as "[TLS]".
	TagStyle = lipgloss.NewStyle().
			Foreground(WarningColor).
			Bold(true).
			Width(10)

	MutedStyle = lipgloss.NewStyle().
			Foreground(MutedColor)

	ErrorTitleStyle = lipgloss.NewStyle().
			Foreground(ErrorColor).
			Bold(true)

	ErrorMessageStyle = lipgloss.NewStyle().
				Foreground(ErrorColor)
)

// Status markers
const (
	FailureMarker = "✗"
)

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// GetTerminalWidth returns the width of f clamped to the supported range.
func GetTerminalWidth(f *os.File) int {
	width, _, err := term.GetSize(int(f.Fd()))
	if err != nil || width < MinTerminalWidth {
		return MinTerminalWidth
	}
	if width > MaxContentWidth {
		return MaxContentWidth
	}
	return width
}

// boxStyle returns the rounded frame used by the banner.
func boxStyle(width int, color lipgloss.Color) lipgloss.Style {
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(color).
		Width(width-2). // Account for border characters
		Padding(0, 1)
}
