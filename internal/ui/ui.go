// Package ui provides terminal styling helpers for CLI output.
package ui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

var (
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	dimStyle    = lipgloss.NewStyle().Faint(true)
	overStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	shortStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

// colorEnabled is false when the terminal does not support color or the
// user set NO_COLOR.
var colorEnabled = termenv.EnvColorProfile() != termenv.Ascii

// RenderAccent styles primary output.
func RenderAccent(s string) string {
	if !colorEnabled {
		return s
	}
	return accentStyle.Render(s)
}

// RenderWarn styles warnings.
func RenderWarn(s string) string {
	if !colorEnabled {
		return s
	}
	return warnStyle.Render(s)
}

// RenderError styles errors.
func RenderError(s string) string {
	if !colorEnabled {
		return s
	}
	return errorStyle.Render(s)
}

// RenderDim styles secondary output.
func RenderDim(s string) string {
	if !colorEnabled {
		return s
	}
	return dimStyle.Render(s)
}

// RenderAmount styles a signed cash difference in minor units: green for
// over, red for short.
func RenderAmount(amount int64) string {
	s := fmt.Sprintf("%+d", amount)
	if !colorEnabled {
		return s
	}
	if amount > 0 {
		return overStyle.Render(s)
	}
	return shortStyle.Render(s)
}
