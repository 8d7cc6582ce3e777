package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"github.com/verte-zerg/hccdfs/internal/variant"
)

const columnGap = "    "

// renderForm lays the fields out in the two columns their covariates declare.
func (m *Model) renderForm() string {
	var columns [2][]int
	for i, c := range m.variant.Covariates {
		col := c.Column
		if col != 1 {
			col = 0
		}
		columns[col] = append(columns[col], i)
	}
	left := m.renderColumn(columns[0])
	if len(columns[1]) == 0 {
		return left
	}
	right := m.renderColumn(columns[1])
	return lipgloss.JoinHorizontal(lipgloss.Top, left, columnGap, right)
}

func (m *Model) renderColumn(fields []int) string {
	labelWidth := 0
	for _, i := range fields {
		if w := runewidth.StringWidth(m.variant.Covariates[i].Label); w > labelWidth {
			labelWidth = w
		}
	}
	lines := make([]string, 0, len(fields)*2)
	for _, i := range fields {
		c := m.variant.Covariates[i]
		marker := "  "
		if i == m.focus {
			marker = "> "
		}
		label := labelStyle.Render(runewidth.FillRight(c.Label, labelWidth))
		line := marker + label + "  " + m.inputs[i].View() + " " + hintStyle.Render("("+variant.RangeHint(c)+")")
		lines = append(lines, line)
		if msg := m.fieldErrors[i]; msg != "" {
			lines = append(lines, "  "+errorStyle.Render(msg))
		}
	}
	return strings.Join(lines, "\n")
}

func padLine(line string, width int) string {
	lineWidth := lipgloss.Width(line)
	if lineWidth < width {
		return line + strings.Repeat(" ", width-lineWidth)
	}
	return line
}

func fitLines(s string, width, height int) string {
	if width <= 0 || height <= 0 {
		return s
	}
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = padLine(line, width)
	}
	if len(lines) > height {
		lines = lines[:height]
	}
	for len(lines) < height {
		lines = append(lines, strings.Repeat(" ", width))
	}
	return strings.Join(lines, "\n")
}

func truncateLine(s string, width int) string {
	if width <= 0 || lipgloss.Width(s) <= width {
		return s
	}
	return runewidth.Truncate(s, width, "...")
}
