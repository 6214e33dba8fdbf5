// Package output provides styled terminal output helpers (success, error,
// warning, row and summary formatting) using lipgloss.
package output

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/marcus/gridsave/internal/autosave"
)

var (
	// Styles
	titleStyle   = lipgloss.NewStyle().Bold(true)
	subtleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	statusStyles = map[autosave.Status]lipgloss.Style{
		autosave.StatusIdle:   lipgloss.NewStyle().Foreground(lipgloss.Color("242")),
		autosave.StatusDirty:  lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		autosave.StatusSaving: lipgloss.NewStyle().Foreground(lipgloss.Color("45")),
		autosave.StatusSaved:  lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		autosave.StatusError:  lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
	}
	statusSymbols = map[autosave.Status]string{
		autosave.StatusIdle:   "○",
		autosave.StatusDirty:  "●",
		autosave.StatusSaving: "◎",
		autosave.StatusSaved:  "✓",
		autosave.StatusError:  "✗",
	}
)

// Success prints a success message
func Success(format string, args ...interface{}) {
	fmt.Println(successStyle.Render(fmt.Sprintf(format, args...)))
}

// Error prints an error message
func Error(format string, args ...interface{}) {
	fmt.Println(errorStyle.Render("ERROR: " + fmt.Sprintf(format, args...)))
}

// Warning prints a warning message
func Warning(format string, args ...interface{}) {
	fmt.Println(warningStyle.Render("Warning: " + fmt.Sprintf(format, args...)))
}

// Info prints an info message
func Info(format string, args ...interface{}) {
	fmt.Println(fmt.Sprintf(format, args...))
}

// JSON outputs data as JSON
func JSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

// Error codes for structured JSON output
const (
	ErrCodeInvalidInput = "invalid_input"
	ErrCodeConflict     = "conflict"
	ErrCodeNetwork      = "network_failure"
	ErrCodeConfig       = "config_error"
)

// JSONError outputs an error as JSON
func JSONError(code, message string) {
	JSONErrorWithDetails(code, message, nil)
}

// JSONErrorWithDetails outputs an error as JSON with additional context
func JSONErrorWithDetails(code, message string, details map[string]interface{}) {
	errObj := map[string]interface{}{
		"code":    code,
		"message": message,
	}
	if len(details) > 0 {
		errObj["details"] = details
	}
	data, _ := json.MarshalIndent(map[string]interface{}{"error": errObj}, "", "  ")
	fmt.Println(string(data))
}

// FormatStatus formats a save status with color
func FormatStatus(s autosave.Status) string {
	style, ok := statusStyles[s]
	if !ok {
		return s.String()
	}
	return style.Render(fmt.Sprintf("[%s]", s))
}

// StatusStyle is the colour used for s wherever a status is shown.
func StatusStyle(s autosave.Status) lipgloss.Style {
	if st, ok := statusStyles[s]; ok {
		return st
	}
	return lipgloss.NewStyle()
}

// StatusBadge returns a status indicator with symbol, e.g. "✓ saved".
func StatusBadge(s autosave.Status) string {
	symbol, ok := statusSymbols[s]
	if !ok {
		symbol = "?"
	}
	if style, ok := statusStyles[s]; ok {
		return style.Render(fmt.Sprintf("%s %s", symbol, s))
	}
	return fmt.Sprintf("%s %s", symbol, s)
}

// FormatVersion renders a row version, "-" before the first save.
func FormatVersion(v *int64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("v%d", *v)
}

// FormatRow formats one row on a single line:
// "row-1  ✓ saved  v3  2m ago" plus the error message when there is one.
func FormatRow(st autosave.RowState, now time.Time) string {
	parts := []string{
		titleStyle.Render(st.ID),
		StatusBadge(st.Status),
		subtleStyle.Render(FormatVersion(st.Version)),
	}
	if !st.UpdatedAt.IsZero() {
		parts = append(parts, subtleStyle.Render(FormatTimeAgo(st.UpdatedAt, now)))
	}
	if msg := RowProblem(st); msg != "" {
		parts = append(parts, errorStyle.Render(msg))
	}
	return strings.Join(parts, "  ")
}

// RowProblem explains why a row is in error, or returns "".
func RowProblem(st autosave.RowState) string {
	if st.Conflict != nil {
		msg := "conflict: server has " + FormatVersion(st.Conflict.ServerVersion)
		if !st.Conflict.ServerUpdatedAt.IsZero() {
			msg += " from " + st.Conflict.ServerUpdatedAt.UTC().Format(time.RFC3339)
		}
		return msg
	}
	if st.Err != nil {
		return st.Err.Error()
	}
	return ""
}

// SummaryLabel is the one-line indicator shown for a whole editor.
func SummaryLabel(s autosave.Summary) string {
	switch s.Status {
	case autosave.StatusError:
		if s.Error == 1 {
			return "1 row failed to save"
		}
		return fmt.Sprintf("%d rows failed to save", s.Error)
	case autosave.StatusSaving:
		return "Saving…"
	case autosave.StatusDirty:
		return "Unsaved changes"
	case autosave.StatusSaved:
		return "All changes saved"
	default:
		return "No changes"
	}
}

// FormatSummary renders the summary label with row counts.
func FormatSummary(s autosave.Summary) string {
	label := SummaryLabel(s)
	if style, ok := statusStyles[s.Status]; ok {
		label = style.Render(label)
	}
	counts := fmt.Sprintf("%d rows: %d saved, %d dirty, %d saving, %d error", s.Total, s.Saved, s.Dirty, s.Saving, s.Error)
	return label + "  " + subtleStyle.Render(counts)
}

// FormatTimeAgo formats t relative to now as a human-readable "ago" string
func FormatTimeAgo(t, now time.Time) string {
	diff := now.Sub(t)

	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		return fmt.Sprintf("%dm ago", int(diff.Minutes()))
	case diff < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(diff.Hours()))
	case diff < 7*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(diff.Hours()/24))
	default:
		return t.Format("2006-01-02")
	}
}

// SectionHeader returns a formatted section header for CLI output
// e.g., "\nROWS:\n"
func SectionHeader(title string) string {
	return fmt.Sprintf("\n%s:\n", strings.ToUpper(title))
}
