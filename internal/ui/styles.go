// Package ui holds the terminal-facing collaborators: output styling
// for the CLI and the interactive conflict dialog.
package ui

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

var (
	passStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("82")).
			Bold(true)

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")).
			Bold(true)

	accentStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))
)

// colorEnabled is false when the terminal cannot render ANSI color;
// Render* helpers then pass text through unchanged.
var colorEnabled = termenv.ColorProfile() != termenv.Ascii

// RenderPass styles success markers.
func RenderPass(s string) string {
	if !colorEnabled {
		return s
	}
	return passStyle.Render(s)
}

// RenderWarn styles warnings.
func RenderWarn(s string) string {
	if !colorEnabled {
		return s
	}
	return warnStyle.Render(s)
}

// RenderAccent styles highlighted identifiers and activity markers.
func RenderAccent(s string) string {
	if !colorEnabled {
		return s
	}
	return accentStyle.Render(s)
}

// RenderDim styles secondary detail.
func RenderDim(s string) string {
	if !colorEnabled {
		return s
	}
	return dimStyle.Render(s)
}

// IsInteractive reports whether both ends of the terminal are attached,
// i.e. whether prompting the user is possible at all.
func IsInteractive() bool {
	return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))
}
