package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// LipGloss signature purple/pink palette
var (
	headerColor  = lipgloss.Color("#F780FF") // Bright pink/magenta
	keyColor     = lipgloss.Color("#BD93F9") // Purple
	numberColor  = lipgloss.Color("#FF79C6") // Pink
	textColor    = lipgloss.Color("#E9E9F4") // Light purple/white
	borderColor  = lipgloss.Color("#6272A4") // Muted purple
	summaryColor = lipgloss.Color("#8BE9FD") // Cyan accent
)

// column describes one table column.
type column struct {
	title   string
	width   int
	numeric bool
}

// renderTable prints a header, separator and rows. The first column is
// rendered as a key, numeric columns are right-aligned.
func renderTable(w io.Writer, cols []column, rows [][]string) {
	headerStyle := lipgloss.NewStyle().
		Foreground(headerColor).
		Bold(true).
		Padding(0, 1)
	borderStyle := lipgloss.NewStyle().Foreground(borderColor)

	headers := make([]string, len(cols))
	separatorParts := make([]string, len(cols))
	for i, c := range cols {
		headers[i] = headerStyle.Width(c.width).Render(c.title)
		separatorParts[i] = strings.Repeat("─", c.width)
	}
	fmt.Fprintln(w, strings.Join(headers, borderStyle.Render("│")))
	fmt.Fprintln(w, borderStyle.Render(strings.Join(separatorParts, "┼")))

	for _, row := range rows {
		cells := make([]string, len(cols))
		for i, c := range cols {
			style := lipgloss.NewStyle().Padding(0, 1).Width(c.width)
			switch {
			case i == 0:
				style = style.Foreground(keyColor)
			case c.numeric:
				style = style.Foreground(numberColor).Align(lipgloss.Right)
			default:
				style = style.Foreground(textColor)
			}

			value := ""
			if i < len(row) {
				value = truncate(row[i], c.width-2)
			}
			cells[i] = style.Render(value)
		}
		fmt.Fprintln(w, strings.Join(cells, borderStyle.Render("│")))
	}
}

// renderSummary prints one italic summary line.
func renderSummary(w io.Writer, format string, args ...any) {
	summaryStyle := lipgloss.NewStyle().
		Foreground(summaryColor).
		Italic(true)
	fmt.Fprintln(w, summaryStyle.Render(fmt.Sprintf(format, args...)))
}

// truncate shortens s to width runes, keeping the tail of long paths.
func truncate(s string, width int) string {
	r := []rune(s)
	if width <= 1 || len(r) <= width {
		return s
	}
	return "…" + string(r[len(r)-width+1:])
}
