package commands

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#8E4EC6")).
			Padding(0, 1).
			MarginBottom(1)

	colHeaderStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#8E4EC6")).
			Bold(true).
			MarginRight(1)

	cellStyle = lipgloss.NewStyle().MarginRight(1)
	sepStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("240")).MarginRight(1)

	okColor      = lipgloss.Color("#2E8B57")
	warnColor    = lipgloss.Color("#E0A100")
	dangerColor  = lipgloss.Color("#D7263D")
	mutedColor   = lipgloss.Color("241")
	labelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Width(20)
	sectionStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#8E4EC6")).MarginTop(1)
)

type column struct {
	title string
	width int
}

// renderTable lays rows out in fixed-width columns. colors may be nil or hold one
// optional foreground per row.
func renderTable(title string, cols []column, rows [][]string, colors []lipgloss.TerminalColor) string {
	var b strings.Builder
	b.WriteString(headerStyle.Render(title))
	b.WriteString("\n")

	headers := make([]string, len(cols))
	seps := make([]string, len(cols))
	for i, c := range cols {
		headers[i] = colHeaderStyle.Width(c.width).Render(c.title)
		seps[i] = sepStyle.Render(strings.Repeat("─", c.width))
	}
	b.WriteString("  " + lipgloss.JoinHorizontal(lipgloss.Top, headers...) + "\n")
	b.WriteString("  " + lipgloss.JoinHorizontal(lipgloss.Top, seps...) + "\n")

	for r, row := range rows {
		cells := make([]string, len(cols))
		for i, c := range cols {
			value := ""
			if i < len(row) {
				value = row[i]
			}
			style := cellStyle.Width(c.width)
			if r < len(colors) && colors[r] != nil {
				style = style.Foreground(colors[r])
			}
			cells[i] = style.Render(truncate(value, c.width))
		}
		b.WriteString("  " + lipgloss.JoinHorizontal(lipgloss.Top, cells...) + "\n")
	}
	return b.String()
}

func labeled(label, value string) string {
	return "  " + labelStyle.Render(label) + value
}

func truncate(s string, max int) string {
	r := []rune(s)
	if max <= 0 || len(r) <= max {
		return s
	}
	if max <= 3 {
		return string(r[:max])
	}
	return string(r[:max-3]) + "..."
}

func riskColor(level string) lipgloss.TerminalColor {
	switch strings.ToLower(level) {
	case "critical", "high":
		return dangerColor
	case "medium", "warning":
		return warnColor
	case "low", "none", "healthy":
		return okColor
	}
	return nil
}
