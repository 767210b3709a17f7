package tui

import (
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// ProgressOptions configures the stage bar.
type ProgressOptions struct {
	Width   int
	Color   lipgloss.TerminalColor
	NoColor bool
	// ReduceMotion disables animated transitions.
	ReduceMotion bool
}

// Progress wraps the bubbles progress bar. The stepper uses it to show how
// far through the pipeline the current attempt is.
type Progress struct {
	progress     progress.Model
	percent      float64
	reduceMotion bool
}

// NewProgress creates a progress bar with the given options.
func NewProgress(opts ProgressOptions) *Progress {
	p := progress.New(
		progress.WithDefaultGradient(),
		progress.WithoutPercentage(),
	)
	if opts.Width > 0 {
		p.Width = opts.Width
	}

	if opts.NoColor {
		p.Full = '█'
		p.FullColor = ""
		p.Empty = '░'
		p.EmptyColor = ""
	} else if c, ok := opts.Color.(lipgloss.Color); ok {
		p.FullColor = string(c)
	}

	if opts.ReduceMotion {
		p.SetSpringOptions(0, 0)
	}

	return &Progress{progress: p, reduceMotion: opts.ReduceMotion}
}

// Update handles animation frames.
func (p *Progress) Update(msg tea.Msg) (*Progress, tea.Cmd) {
	if p == nil {
		return p, nil
	}
	if frameMsg, ok := msg.(progress.FrameMsg); ok {
		model, cmd := p.progress.Update(frameMsg)
		p.progress = model.(progress.Model)
		return p, cmd
	}
	return p, nil
}

// SetPercent updates the bar (0.0 to 1.0). The returned command animates the
// change; it is nil with reduced motion.
func (p *Progress) SetPercent(percent float64) tea.Cmd {
	if p == nil {
		return nil
	}
	percent = clamp01(percent)
	p.percent = percent

	if p.reduceMotion {
		return nil
	}
	return p.progress.SetPercent(percent)
}

// Percent returns the target percentage.
func (p *Progress) Percent() float64 {
	if p == nil {
		return 0
	}
	return p.percent
}

// View renders the bar.
func (p *Progress) View() string {
	if p == nil {
		return ""
	}
	if p.reduceMotion {
		return p.progress.ViewAs(p.percent)
	}
	return p.progress.View()
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
