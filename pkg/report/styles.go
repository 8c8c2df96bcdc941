// pkg/report/styles.go

package report

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/CodeMonkeyCybersecurity/kaiju/pkg/retry"
)

var (
	colorSuccess = lipgloss.Color("#00ff00")
	colorWarning = lipgloss.Color("#ffaa00")
	colorError   = lipgloss.Color("#ff0000")
	colorInfo    = lipgloss.Color("#0099ff")
	colorMuted   = lipgloss.Color("#666666")
)

// styles is either the lipgloss palette or a set of no-op styles, so that
// piped output stays plain text.
type styles struct {
	title   lipgloss.Style
	success lipgloss.Style
	warning lipgloss.Style
	failure lipgloss.Style
	muted   lipgloss.Style
}

func newStyles(styled bool) styles {
	if !styled {
		plain := lipgloss.NewStyle()
		return styles{title: plain, success: plain, warning: plain, failure: plain, muted: plain}
	}
	return styles{
		title:   lipgloss.NewStyle().Bold(true).Foreground(colorInfo),
		success: lipgloss.NewStyle().Foreground(colorSuccess),
		warning: lipgloss.NewStyle().Foreground(colorWarning),
		failure: lipgloss.NewStyle().Bold(true).Foreground(colorError),
		muted:   lipgloss.NewStyle().Foreground(colorMuted),
	}
}

func (s styles) status(st retry.Status) string {
	switch st {
	case retry.StatusSucceeded:
		return s.success.Render(string(st))
	case retry.StatusSkipped:
		return s.muted.Render(string(st))
	case retry.StatusNotRun:
		return s.warning.Render(string(st))
	default:
		return s.failure.Render(string(st))
	}
}
