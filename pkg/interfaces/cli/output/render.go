package output

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	colorBorder = lipgloss.Color("#575653")
	colorText   = lipgloss.Color("#FFFCF0")
	colorAccent = lipgloss.Color("#3AA99F")
	colorGreen  = lipgloss.Color("#879A39")
	colorOrange = lipgloss.Color("#DA702C")
	colorRed    = lipgloss.Color("#D14D41")
	colorMuted  = lipgloss.Color("#6F6E69")
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorText).
			Align(lipgloss.Center)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorAccent)

	borderStyle = lipgloss.NewStyle().Foreground(colorBorder)
	mutedStyle  = lipgloss.NewStyle().Foreground(colorMuted)
	okStyle     = lipgloss.NewStyle().Foreground(colorGreen)
	warnStyle   = lipgloss.NewStyle().Foreground(colorOrange)
	lossStyle   = lipgloss.NewStyle().Foreground(colorRed)
)

// Table is a bordered text table. Cells may carry lipgloss styling; widths
// are measured on the rendered text.
type Table struct {
	Title   string
	Headers []string
	Rows    [][]string
	// RightAlign marks numeric columns
	RightAlign map[int]bool
}

// RenderTitle renders a centered title in a rounded box
func RenderTitle(title string) string {
	box := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(colorBorder).
		Width(55).
		Align(lipgloss.Center).
		Padding(0, 1)
	return box.Render(titleStyle.Render(title))
}

// RenderTable renders headers and rows between box-drawing borders
func RenderTable(t Table) string {
	numCols := len(t.Headers)
	for _, row := range t.Rows {
		if len(row) > numCols {
			numCols = len(row)
		}
	}
	if numCols == 0 {
		return ""
	}

	widths := make([]int, numCols)
	for i, h := range t.Headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range t.Rows {
		for i, cell := range row {
			if w := lipgloss.Width(cell); w > widths[i] {
				widths[i] = w
			}
		}
	}

	var b strings.Builder
	if t.Title != "" {
		b.WriteString("  ")
		b.WriteString(headerStyle.Render(t.Title))
		b.WriteString("\n")
	}

	rule := func(left, mid, right string) {
		b.WriteString(borderStyle.Render(left))
		for i, w := range widths {
			b.WriteString(borderStyle.Render(strings.Repeat("─", w+2)))
			if i < numCols-1 {
				b.WriteString(borderStyle.Render(mid))
			}
		}
		b.WriteString(borderStyle.Render(right))
		b.WriteString("\n")
	}
	line := func(cells []string, style *lipgloss.Style) {
		b.WriteString(borderStyle.Render("│"))
		for i := 0; i < numCols; i++ {
			cell := ""
			if i < len(cells) {
				cell = cells[i]
			}
			pad := strings.Repeat(" ", widths[i]-lipgloss.Width(cell))
			if style != nil {
				cell = style.Render(cell)
			}
			if t.RightAlign[i] {
				cell = pad + cell
			} else {
				cell += pad
			}
			b.WriteString(" " + cell + " ")
			if i < numCols-1 {
				b.WriteString(borderStyle.Render("│"))
			}
		}
		b.WriteString(borderStyle.Render("│"))
		b.WriteString("\n")
	}

	rule("╭", "┬", "╮")
	if len(t.Headers) > 0 {
		line(t.Headers, &headerStyle)
		rule("├", "┼", "┤")
	}
	for _, row := range t.Rows {
		line(row, nil)
	}
	rule("╰", "┴", "╯")
	return b.String()
}

// RenderKeyValues renders aligned "key: value" lines
func RenderKeyValues(pairs [][2]string) string {
	width := 0
	for _, p := range pairs {
		if len(p[0]) > width {
			width = len(p[0])
		}
	}
	var b strings.Builder
	for _, p := range pairs {
		fmt.Fprintf(&b, "  %s  %s\n", mutedStyle.Render(fmt.Sprintf("%-*s", width, p[0])), p[1])
	}
	return b.String()
}
