package tui

import (
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Color palette - Dracula theme inspired.
var (
	colorPurple   = lipgloss.Color("#bd93f9")
	colorGreen    = lipgloss.Color("#50fa7b")
	colorYellow   = lipgloss.Color("#f1fa8c")
	colorCyan     = lipgloss.Color("#8be9fd")
	colorRed      = lipgloss.Color("#ff5555")
	colorWhite    = lipgloss.Color("#f8f8f2")
	colorGray     = lipgloss.Color("#6272a4")
	colorDarkGray = lipgloss.Color("#44475a")
)

// Styles holds the lipgloss styles for the stepper.
type Styles struct {
	Header lipgloss.Style

	// Connection line
	Connected    lipgloss.Style
	Connecting   lipgloss.Style
	Disconnected lipgloss.Style
	Identifier   lipgloss.Style

	// Stepper
	StepDone    lipgloss.Style
	StepCurrent lipgloss.Style
	StepPending lipgloss.Style
	StatusText  lipgloss.Style

	// Outcome
	Success lipgloss.Style
	Failure lipgloss.Style

	Notice lipgloss.Style
	Box    lipgloss.Style
}

// DefaultStyles returns the colored style set.
func DefaultStyles() Styles {
	return Styles{
		Header: lipgloss.NewStyle().
			Bold(true).
			Foreground(colorPurple).
			MarginBottom(1),

		Connected:    lipgloss.NewStyle().Foreground(colorGreen).Bold(true),
		Connecting:   lipgloss.NewStyle().Foreground(colorYellow),
		Disconnected: lipgloss.NewStyle().Foreground(colorRed),
		Identifier:   lipgloss.NewStyle().Foreground(colorGray),

		StepDone:    lipgloss.NewStyle().Foreground(colorGreen),
		StepCurrent: lipgloss.NewStyle().Foreground(colorCyan).Bold(true),
		StepPending: lipgloss.NewStyle().Foreground(colorGray),
		StatusText:  lipgloss.NewStyle().Foreground(colorWhite).Italic(true),

		Success: lipgloss.NewStyle().Foreground(colorGreen).Bold(true),
		Failure: lipgloss.NewStyle().Foreground(colorRed).Bold(true),

		Notice: lipgloss.NewStyle().Foreground(colorYellow),
		Box: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorDarkGray).
			Padding(1, 2),
	}
}

// PlainStyles returns styles without colors, for NO_COLOR and dumb terminals.
func PlainStyles() Styles {
	plain := lipgloss.NewStyle()
	bold := lipgloss.NewStyle().Bold(true)
	return Styles{
		Header:       bold.MarginBottom(1),
		Connected:    bold,
		Connecting:   plain,
		Disconnected: plain,
		Identifier:   plain,
		StepDone:     plain,
		StepCurrent:  bold,
		StepPending:  plain,
		StatusText:   plain,
		Success:      bold,
		Failure:      bold,
		Notice:       plain,
		Box:          plain.Border(lipgloss.NormalBorder()).Padding(1, 2),
	}
}

// noColorFromEnv honors NO_COLOR and TERM=dumb.
func noColorFromEnv() bool {
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return true
	}
	return strings.TrimSpace(strings.ToLower(os.Getenv("TERM"))) == "dumb"
}

// reducedMotionFromEnv honors EMITRACK_REDUCED_MOTION and REDUCED_MOTION.
func reducedMotionFromEnv() bool {
	return envBool("EMITRACK_REDUCED_MOTION") || envBool("REDUCED_MOTION")
}

func envBool(name string) bool {
	switch strings.TrimSpace(strings.ToLower(os.Getenv(name))) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}
