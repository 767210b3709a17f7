// Package tui renders the emission stepper with Bubble Tea.
package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/facturaelec/emitrack/internal/channel"
	"github.com/facturaelec/emitrack/internal/emission"
)

// EmitFunc starts an emission attempt and returns its ID.
type EmitFunc func() (string, error)

// Options configures the model.
type Options struct {
	Emit    EmitFunc
	NoColor bool
	// ReduceMotion disables the spinner and bar animations.
	ReduceMotion bool
}

// OptionsFromEnv returns Options with NO_COLOR and reduced motion read from
// the environment.
func OptionsFromEnv(emit EmitFunc) Options {
	return Options{
		Emit:         emit,
		NoColor:      noColorFromEnv(),
		ReduceMotion: reducedMotionFromEnv(),
	}
}

// Model is the stepper UI.
type Model struct {
	styles  Styles
	keys    keyMap
	help    help.Model
	spinner *Spinner
	bar     *Progress
	emit    EmitFunc

	status       channel.Status
	connectionID string
	stage        emission.Stage
	attemptID    string
	lastText     string
	outcome      *emission.Outcome
	tableVersion string
	notice       string
	emitting     bool

	width    int
	quitting bool
}

// New creates a model in the Connecting state.
func New(opts Options) Model {
	styles := DefaultStyles()
	if opts.NoColor {
		styles = PlainStyles()
	}

	var accent lipgloss.TerminalColor = colorPurple
	return Model{
		styles:  styles,
		keys:    defaultKeyMap(),
		help:    help.New(),
		spinner: NewSpinner(SpinnerOptions{Message: "conectando…", Color: colorYellow, NoColor: opts.NoColor, ReduceMotion: opts.ReduceMotion}),
		bar:     NewProgress(ProgressOptions{Width: 36, Color: accent, NoColor: opts.NoColor, ReduceMotion: opts.ReduceMotion}),
		emit:    opts.Emit,
		status:  channel.StatusConnecting,
		stage:   emission.StageNotStarted,
	}
}

// Init starts the spinner.
func (m Model) Init() tea.Cmd {
	return m.spinner.Tick()
}

// Stage returns the stage currently displayed.
func (m Model) Stage() emission.Stage { return m.stage }

// Status returns the channel status currently displayed.
func (m Model) Status() channel.Status { return m.status }

// CanEmit reports whether the emit action is enabled.
func (m Model) CanEmit() bool {
	return m.status == channel.StatusOpen && m.connectionID != "" && m.emit != nil && !m.emitting
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.help.Width = msg.Width
		return m, nil

	case StatusMsg:
		m.status = msg.Status
		if msg.Status == channel.StatusClosed {
			m.connectionID = ""
			m.notice = "canal cerrado; reinicie para reconectar"
		}
		return m, nil

	case ConnectionIDMsg:
		if m.status != channel.StatusClosed {
			m.connectionID = msg.ID
		}
		return m, nil

	case StageMsg:
		tr := msg.Transition
		m.stage = tr.To
		m.attemptID = tr.AttemptID
		m.lastText = tr.Text
		if tr.To == emission.StageNotStarted {
			m.outcome = nil
		}
		return m, m.bar.SetPercent(stagePercent(tr.To))

	case OutcomeMsg:
		o := msg.Outcome
		m.outcome = &o
		return m, nil

	case ReloadMsg:
		if msg.Err != nil {
			m.notice = "error al recargar palabras clave: " + msg.Err.Error()
		} else {
			m.tableVersion = msg.Version
			m.notice = "palabras clave recargadas (" + msg.Version + ")"
		}
		return m, nil

	case emitResultMsg:
		m.emitting = false
		if msg.err != nil {
			m.notice = "no se pudo emitir: " + msg.err.Error()
		} else {
			m.notice = ""
		}
		return m, nil
	}

	var cmds []tea.Cmd
	var cmd tea.Cmd
	m.spinner, cmd = m.spinner.Update(msg)
	cmds = append(cmds, cmd)
	m.bar, cmd = m.bar.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		m.quitting = true
		return m, tea.Quit

	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
		return m, nil

	case key.Matches(msg, m.keys.Emit):
		if !m.CanEmit() {
			if m.status != channel.StatusOpen || m.connectionID == "" {
				m.notice = "sin conexión: no se puede emitir"
			}
			return m, nil
		}
		m.emitting = true
		m.notice = ""
		emit := m.emit
		return m, func() tea.Msg {
			id, err := emit()
			return emitResultMsg{attemptID: id, err: err}
		}
	}
	return m, nil
}

// View renders the stepper.
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(m.styles.Header.Render("Emisión de factura electrónica"))
	b.WriteString("\n")
	b.WriteString(m.connectionView())
	b.WriteString("\n\n")

	for _, step := range emission.Steps {
		b.WriteString(m.stepView(step))
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(m.bar.View())
	b.WriteString("\n")

	if m.lastText != "" {
		b.WriteString(m.styles.StatusText.Render(m.lastText))
		b.WriteString("\n")
	}
	if m.outcome != nil {
		b.WriteString(m.outcomeView())
		b.WriteString("\n")
	}
	if m.notice != "" {
		b.WriteString(m.styles.Notice.Render(m.notice))
		b.WriteString("\n")
	}

	body := m.styles.Box.Render(strings.TrimRight(b.String(), "\n"))
	return body + "\n" + m.help.View(m.keys) + "\n"
}

func (m Model) connectionView() string {
	switch m.status {
	case channel.StatusConnecting:
		return m.spinner.View()
	case channel.StatusOpen:
		line := m.styles.Connected.Render("● conectado")
		if m.connectionID != "" {
			line += " " + m.styles.Identifier.Render(m.connectionID)
		}
		if m.tableVersion != "" {
			line += " " + m.styles.Identifier.Render("tabla "+m.tableVersion)
		}
		return line
	default:
		return m.styles.Disconnected.Render("○ desconectado")
	}
}

func (m Model) stepView(step emission.Stage) string {
	label := fmt.Sprintf("%d. %s", int(step)+1, step.Label())
	switch {
	case step < m.stage:
		return m.styles.StepDone.Render("✔ " + label)
	case step == m.stage:
		return m.styles.StepCurrent.Render("● " + label)
	default:
		return m.styles.StepPending.Render("○ " + label)
	}
}

func (m Model) outcomeView() string {
	msg := m.outcome.Message
	if m.outcome.Success {
		if msg == "" {
			msg = "emitida"
		}
		return m.styles.Success.Render("✔ " + msg)
	}
	if msg == "" {
		msg = "rechazada"
	}
	return m.styles.Failure.Render("✘ " + msg)
}

// stagePercent maps a stage to the fraction of filled steps.
func stagePercent(s emission.Stage) float64 {
	if !s.Valid() || s == emission.StageNotStarted {
		return 0
	}
	return float64(int(s)+1) / float64(len(emission.Steps))
}
