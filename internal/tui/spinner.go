package tui

import (
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// SpinnerOptions configures spinner behavior.
type SpinnerOptions struct {
	// Message is shown next to the spinner
	Message string
	// Color is the spinner color (ignored if NoColor)
	Color lipgloss.TerminalColor
	NoColor bool
	// ReduceMotion shows a static indicator instead of animating.
	ReduceMotion bool
}

// Spinner wraps the bubbles spinner with accessibility support. It is shown
// while the channel is connecting.
type Spinner struct {
	spinner      spinner.Model
	message      string
	style        lipgloss.Style
	reduceMotion bool
}

// NewSpinner creates a spinner with the given options.
func NewSpinner(opts SpinnerOptions) *Spinner {
	s := spinner.New()
	s.Spinner = spinner.MiniDot

	msgStyle := lipgloss.NewStyle()
	if !opts.NoColor && opts.Color != nil {
		s.Style = lipgloss.NewStyle().Foreground(opts.Color)
		msgStyle = msgStyle.Foreground(opts.Color)
	}

	return &Spinner{
		spinner:      s,
		message:      opts.Message,
		style:        msgStyle,
		reduceMotion: opts.ReduceMotion,
	}
}

// Tick returns the command that starts the animation.
func (s *Spinner) Tick() tea.Cmd {
	if s == nil || s.reduceMotion {
		return nil
	}
	return s.spinner.Tick
}

// Update handles spinner tick messages.
func (s *Spinner) Update(msg tea.Msg) (*Spinner, tea.Cmd) {
	if s == nil || s.reduceMotion {
		return s, nil
	}
	if _, ok := msg.(spinner.TickMsg); ok {
		var cmd tea.Cmd
		s.spinner, cmd = s.spinner.Update(msg)
		return s, cmd
	}
	return s, nil
}

// View renders the spinner with its message.
func (s *Spinner) View() string {
	if s == nil {
		return ""
	}

	indicator := "[...]"
	if !s.reduceMotion {
		indicator = s.spinner.View()
	}
	if s.message != "" {
		return indicator + " " + s.style.Render(s.message)
	}
	return indicator
}

// SetMessage updates the spinner message.
func (s *Spinner) SetMessage(msg string) {
	if s == nil {
		return
	}
	s.message = msg
}
