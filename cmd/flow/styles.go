package main

import (
	"fmt"
	"strings"

	"challengeflow/internal/orchestrator"

	"github.com/charmbracelet/lipgloss"
)

var (
	labelStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	valueStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	successStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#22c55e"))
	failureStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#ef4444"))
	warnStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#f59e0b"))
	boxStyle     = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

func statusStyleFor(s string) lipgloss.Style {
	switch {
	case strings.HasPrefix(s, "success"):
		return successStyle
	case strings.HasPrefix(s, "failure"):
		return failureStyle
	default:
		return warnStyle
	}
}

// renderOutcome formats a Session outcome for the terminal.
func renderOutcome(out orchestrator.Outcome) string {
	var b strings.Builder
	b.WriteString(statusStyleFor(out.Status.String()).Render(strings.ToUpper(out.Status.String())))
	if out.Reason != "" {
		b.WriteString(" " + out.Reason)
	}
	if out.SessionID != "" {
		fmt.Fprintf(&b, "\n%s %s", labelStyle.Render("session:"), out.SessionID)
	}
	fmt.Fprintf(&b, "\n%s %d  %s %d  %s %d",
		labelStyle.Render("attempts:"), out.Attempts,
		labelStyle.Render("tasks:"), out.TasksSubmitted,
		labelStyle.Render("solved:"), out.Solved)
	if out.InvalidIndices > 0 {
		fmt.Fprintf(&b, "  %s %d", warnStyle.Render("invalid indices:"), out.InvalidIndices)
	}
	if out.LastError != nil && out.Status != orchestrator.StatusSuccess {
		fmt.Fprintf(&b, "\n%s %s", labelStyle.Render("last error:"), dimStyle.Render(out.LastError.Error()))
	}
	return boxStyle.Render(b.String())
}
