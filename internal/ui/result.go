package ui

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Failure is the box printed when the server cannot start.
type Failure struct {
	Title string
	Error error
	Hints []string // troubleshooting tips, one per line
	Width int
	Plain bool
}

// NewFailure creates a failure box sized and styled for out.
func NewFailure(title string, err error, hints []string, out *os.File) *Failure {
	return &Failure{
		Title: title,
		Error: err,
		Hints: hints,
		Width: GetTerminalWidth(out),
		Plain: !IsTerminal(out),
	}
}

// Render returns the failure box as a string.
func (f *Failure) Render() string {
	if f.Plain {
		var sb strings.Builder
		fmt.Fprintf(&sb, "%s %s\n", FailureMarker, f.Title)
		if f.Error != nil {
			fmt.Fprintf(&sb, "  Error: %v\n", f.Error)
		}
		for _, hint := range f.Hints {
			fmt.Fprintf(&sb, "  - %s\n", hint)
		}
		return strings.TrimRight(sb.String(), "\n")
	}

	width := f.Width
	if width < MinTerminalWidth {
		width = MinTerminalWidth
	}

	lines := []string{ErrorTitleStyle.Render(fmt.Sprintf("%s  FAILED  ─  %s", FailureMarker, f.Title))}
	if f.Error != nil {
		lines = append(lines, "", ErrorMessageStyle.Render("Error: "+f.Error.Error()))
	}
	if len(f.Hints) > 0 {
		lines = append(lines, "", MutedStyle.Bold(true).Render("Troubleshooting:"))
		for _, hint := range f.Hints {
			lines = append(lines, MutedStyle.Render("  • "+hint))
		}
	}

	return lipgloss.NewStyle().
		Border(lipgloss.DoubleBorder()).
		BorderForeground(ErrorColor).
		Width(width-2).
		Padding(0, 2).
		Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

// String implements fmt.Stringer
func (f *Failure) String() string {
	return f.Render()
}
