package review

import (
	"io"

	"github.com/charmbracelet/lipgloss"
)

var (
	colorAccent = lipgloss.Color("#58a6ff")
	colorGood   = lipgloss.Color("#3fb950")
	colorWarn   = lipgloss.Color("#d29922")
	colorBad    = lipgloss.Color("#f85149")
	colorMuted  = lipgloss.Color("#8b949e")
)

// styles are bound to one writer. A writer that is not a terminal gets plain
// text.
type styles struct {
	header  lipgloss.Style
	field   lipgloss.Style
	prompt  lipgloss.Style
	success lipgloss.Style
	warn    lipgloss.Style
	invalid lipgloss.Style
}

func newStyles(w io.Writer) styles {
	r := lipgloss.NewRenderer(w)
	return styles{
		header:  r.NewStyle().Foreground(colorAccent).Bold(true),
		field:   r.NewStyle().Foreground(colorMuted),
		prompt:  r.NewStyle().Bold(true),
		success: r.NewStyle().Foreground(colorGood),
		warn:    r.NewStyle().Foreground(colorWarn),
		invalid: r.NewStyle().Foreground(colorBad),
	}
}
