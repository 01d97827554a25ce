package ui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
)

// Colorize applies the given color to the text using lipgloss.
// color is the integer representation from Modrinth.
func Colorize(text string, color int) string {
	if color == 0 {
		return text
	}
	hexColor := fmt.Sprintf("#%06x", color)
	return lipgloss.NewStyle().Foreground(lipgloss.Color(hexColor)).Render(text)
}

var (
	Title   = lipgloss.NewStyle().Bold(true)
	Muted   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	Success = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	Warning = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	Failure = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)

	toast = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("63")).
		Padding(0, 1)
)

// Toast renders msg in a bordered box.
func Toast(msg string) string {
	return toast.Render(msg)
}

// Severity styles a severity or priority label.
func Severity(level string) string {
	switch level {
	case "critical":
		return Failure.Render(level)
	case "high":
		return lipgloss.NewStyle().Foreground(lipgloss.Color("202")).Render(level)
	case "medium":
		return Warning.Render(level)
	default:
		return Muted.Render(level)
	}
}

// Outcome styles a verification outcome label.
func Outcome(label string) string {
	switch label {
	case "valid":
		return Success.Render(label)
	case "mismatch":
		return Failure.Render(label)
	default:
		return Muted.Render(label)
	}
}
