// Package ui provides terminal styling and output helpers for the
// cardsync CLI.
package ui

import "github.com/charmbracelet/lipgloss"

// Palette shared by every command's output.
var (
	ColorAccent = lipgloss.Color("39")  // blue
	ColorPass   = lipgloss.Color("42")  // green
	ColorWarn   = lipgloss.Color("214") // orange
	ColorFail   = lipgloss.Color("196") // red
	ColorMuted  = lipgloss.Color("245") // gray
)

var (
	accentStyle = lipgloss.NewStyle().Foreground(ColorAccent)
	passStyle   = lipgloss.NewStyle().Foreground(ColorPass)
	warnStyle   = lipgloss.NewStyle().Foreground(ColorWarn)
	failStyle   = lipgloss.NewStyle().Foreground(ColorFail)
	mutedStyle  = lipgloss.NewStyle().Foreground(ColorMuted)
)

func RenderAccent(s string) string { return render(accentStyle, s) }
func RenderPass(s string) string   { return render(passStyle, s) }
func RenderWarn(s string) string   { return render(warnStyle, s) }
func RenderFail(s string) string   { return render(failStyle, s) }
func RenderMuted(s string) string  { return render(mutedStyle, s) }

func render(style lipgloss.Style, s string) string {
	if !ShouldUseColor() {
		return s
	}
	return style.Render(s)
}

// StatusStyle maps a sync status string to its display style.
func StatusStyle(status string) lipgloss.Style {
	switch status {
	case "synced":
		return passStyle
	case "failed":
		return failStyle
	case "syncing":
		return warnStyle
	default:
		return mutedStyle
	}
}
