package ui

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Field is one aligned "key: value" line.
type Field struct {
	Key   string
	Value string
}

// Section is a tagged block, e.g. "[AUTH]" followed by its lines.
type Section struct {
	Tag   string
	Lines []string
}

// Banner is the startup summary printed before the server accepts
// connections. Fields and sections render in insertion order.
type Banner struct {
	Title    string
	URL      string
	Fields   []Field
	Sections []Section
	Footer   string
	Width    int
	Plain    bool // no colors or borders, for pipes and log files
}

// NewBanner creates a banner sized and styled for out.
func NewBanner(title, url string, out *os.File) *Banner {
	return &Banner{
		Title: title,
		URL:   url,
		Width: GetTerminalWidth(out),
		Plain: !IsTerminal(out),
	}
}

// AddField appends a key/value line.
func (b *Banner) AddField(key, value string) *Banner {
	b.Fields = append(b.Fields, Field{Key: key, Value: value})
	return b
}

// AddSection appends a tagged block. The tag is rendered in brackets.
func (b *Banner) AddSection(tag string, lines ...string) *Banner {
	b.Sections = append(b.Sections, Section{Tag: tag, Lines: lines})
	return b
}

// Render returns the banner as a string.
func (b *Banner) Render() string {
	if b.Plain {
		return b.renderPlain()
	}
	width := b.Width
	if width < MinTerminalWidth {
		width = MinTerminalWidth
	}

	lines := []string{TitleStyle.Render(b.Title), URLStyle.Render(b.URL), ""}
	for _, f := range b.Fields {
		lines = append(lines, KeyStyle.Render(f.Key+":")+ValueStyle.Render(f.Value))
	}
	if len(b.Sections) > 0 {
		lines = append(lines, "")
	}
	for _, s := range b.Sections {
		for i, line := range s.Lines {
			tag := ""
			if i == 0 {
				tag = "[" + s.Tag + "]"
			}
			lines = append(lines, TagStyle.Render(tag)+ValueStyle.Render(line))
		}
	}
	if b.Footer != "" {
		lines = append(lines, "", MutedStyle.Render(b.Footer))
	}

	content := lipgloss.JoinVertical(lipgloss.Left, lines...)
	return boxStyle(width, PrimaryColor).Render(content)
}

func (b *Banner) renderPlain() string {
	rule := strings.Repeat("=", MinTerminalWidth)

	var sb strings.Builder
	sb.WriteString(rule + "\n")
	fmt.Fprintf(&sb, "  %s\n  %s\n\n", b.Title, b.URL)
	for _, f := range b.Fields {
		fmt.Fprintf(&sb, "  %-16s%s\n", f.Key+":", f.Value)
	}
	if len(b.Sections) > 0 {
		sb.WriteString("\n")
	}
	for _, s := range b.Sections {
		for i, line := range s.Lines {
			tag := ""
			if i == 0 {
				tag = "[" + s.Tag + "]"
			}
			fmt.Fprintf(&sb, "  %-10s%s\n", tag, line)
		}
	}
	if b.Footer != "" {
		fmt.Fprintf(&sb, "\n  %s\n", b.Footer)
	}
	sb.WriteString(rule)
	return sb.String()
}

// String implements fmt.Stringer
func (b *Banner) String() string {
	return b.Render()
}
