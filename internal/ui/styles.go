// Package ui renders console output: status styles, tables, machine
// formats and confirmation prompts.
package ui

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

var (
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#2E7D32", Dark: "#86D993"}).Bold(true)
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#B26A00", Dark: "#F5C26B"}).Bold(true)
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#C62828", Dark: "#FF7A7A"}).Bold(true)
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#1565C0", Dark: "#7AB8FF"})
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#757575", Dark: "#8A8A8A"})
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
)

// ConfigureColor picks the color profile for output written to f. Colors
// are disabled when f is not a terminal or NO_COLOR is set.
func ConfigureColor(f *os.File) {
	if termenv.EnvNoColor() || !term.IsTerminal(int(f.Fd())) {
		lipgloss.SetColorProfile(termenv.Ascii)
		return
	}
	lipgloss.SetColorProfile(termenv.NewOutput(f).EnvColorProfile())
}

// RenderPass renders s in the success style.
func RenderPass(s string) string { return passStyle.Render(s) }

// RenderWarn renders s in the warning style.
func RenderWarn(s string) string { return warnStyle.Render(s) }

// RenderFail renders s in the error style.
func RenderFail(s string) string { return failStyle.Render(s) }

// RenderAccent renders s in the accent style.
func RenderAccent(s string) string { return accentStyle.Render(s) }

// RenderMuted renders s de-emphasized.
func RenderMuted(s string) string { return mutedStyle.Render(s) }
