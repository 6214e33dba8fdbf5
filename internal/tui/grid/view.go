package grid

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"github.com/marcus/gridsave/internal/autosave"
	"github.com/marcus/gridsave/internal/output"
)

const (
	idColumnWidth     = 14
	statusColumnWidth = 8
	versionWidth      = 6
	ageWidth          = 12
)

// View implements tea.Model
func (m Model) View() string {
	if m.Width == 0 || m.Height == 0 {
		return "Loading..."
	}

	if m.Width < MinWidth || m.Height < MinHeight {
		return m.renderCompact()
	}

	if m.ShowHelp {
		return m.renderHelp()
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		m.renderHeader(),
		gridStyle.Width(m.Width-2).Render(m.renderRows()),
		m.renderFooter(),
	)
}

// renderCompact is used when the terminal is too small for the grid.
func (m Model) renderCompact() string {
	s := m.Summary()
	return fmt.Sprintf("%s\n%s", output.SummaryLabel(s), helpStyle.Render("enlarge terminal"))
}

func (m Model) renderHeader() string {
	s := m.Summary()
	title := headerStyle.Render("gridsave · " + m.ResourceID)
	label := output.StatusStyle(s.Status).Render(output.SummaryLabel(s))
	padding := m.Width - lipgloss.Width(title) - lipgloss.Width(label) - 1
	if padding < 1 {
		padding = 1
	}
	return title + strings.Repeat(" ", padding) + label
}

// valueWidth is the width left for the value column.
func (m Model) valueWidth() int {
	w := m.Width - 4 - 2 - idColumnWidth - statusColumnWidth - versionWidth - ageWidth - 4
	if w < 8 {
		return 8
	}
	return w
}

func (m Model) renderRows() string {
	if len(m.IDs) == 0 {
		return subtleStyle.Render("no rows")
	}

	end := m.Offset + m.visibleRows()
	if end > len(m.IDs) {
		end = len(m.IDs)
	}

	lines := make([]string, 0, end-m.Offset)
	for i := m.Offset; i < end; i++ {
		lines = append(lines, m.renderRow(i))
	}
	return strings.Join(lines, "\n")
}

func (m Model) renderRow(i int) string {
	id := m.IDs[i]
	st := m.States[id]
	selected := i == m.Cursor

	marker := "  "
	idText := idStyle.Render(pad(truncateString(id, idColumnWidth), idColumnWidth))
	if selected {
		marker = selectedStyle.Render("▶ ")
		idText = selectedStyle.Render(pad(truncateString(id, idColumnWidth), idColumnWidth))
	}

	var value string
	if selected && m.Editing {
		value = m.Input.View()
	} else {
		value = truncateString(cellText(st.Snapshot), m.valueWidth())
	}

	line := marker + idText + " " + pad(value, m.valueWidth()) + " " +
		pad(output.FormatStatus(st.Status), statusColumnWidth) + " " +
		subtleStyle.Render(pad(output.FormatVersion(st.Version), versionWidth))

	if selected && !st.UpdatedAt.IsZero() && st.Status == autosave.StatusSaved {
		line += " " + subtleStyle.Render(output.FormatTimeAgo(st.UpdatedAt, m.now()))
	}
	if selected {
		if problem := output.RowProblem(st); problem != "" {
			line += "\n    " + errorStyle.Render(truncateString(problem, m.Width-10))
		}
	}
	return line
}

func (m Model) renderFooter() string {
	keys := "q:quit  ↑↓:select  enter:edit  r:retry  R:retry all  ctrl+s:save now  ?:help"
	if m.Editing {
		keys = "enter:done  esc:revert  ctrl+s:save now"
	} else if m.hasConflict(m.SelectedID()) {
		keys = "o:overwrite server  d:discard mine  " + keys
	}

	status := ""
	switch {
	case m.Err != nil:
		status = errorStyle.Render(m.Err.Error())
	case m.Message != "":
		status = messageStyle.Render(m.Message)
	}

	s := m.Summary()
	counts := subtleStyle.Render(fmt.Sprintf("%d saved · %d dirty · %d saving · %d error", s.Saved, s.Dirty, s.Saving, s.Error))
	return lipgloss.JoinVertical(lipgloss.Left,
		" "+counts+"  "+status,
		" "+helpStyle.Render(keys),
	)
}

// renderHelp renders the help overlay
func (m Model) renderHelp() string {
	help := `
GRID EDITOR - Key Bindings

NAVIGATION:
  ↑ / ↓ / j / k     Select row
  Enter / e         Edit the selected cell

EDITING:
  (typing)          Changes save after a short pause
  Enter             Stop editing
  Esc               Revert to the value before editing
  Ctrl+S            Save now

ROWS:
  r                 Retry the selected row
  R                 Retry every failed row
  o                 Conflict: overwrite the server copy
  d                 Conflict: discard mine, load the server copy

  q / Ctrl+C        Quit (pending edits are saved first)

Press ? to close help
`
	return helpStyle.Render(help)
}

// pad right-pads s to width display cells.
// pad right-fills a possibly styled string to width cells.
func pad(s string, width int) string {
	if w := ansi.StringWidth(s); w < width {
		return s + strings.Repeat(" ", width-w)
	}
	return s
}

// truncateString clips s to maxLen cells, ending in "…" when clipped.
func truncateString(s string, maxLen int) string {
	if maxLen <= 3 {
		return s
	}
	return ansi.Truncate(s, maxLen, "…")
}
