package tui

import (
	"errors"
	"strings"
	"sync"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/facturaelec/emitrack/internal/channel"
	"github.com/facturaelec/emitrack/internal/emission"
)

func plainModel(emit EmitFunc) Model {
	return New(Options{Emit: emit, NoColor: true, ReduceMotion: true})
}

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	nm, ok := next.(Model)
	require.True(t, ok)
	return nm, cmd
}

func keyMsg(s string) tea.KeyMsg {
	if s == "ctrl+c" {
		return tea.KeyMsg{Type: tea.KeyCtrlC}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestModel_InitialView(t *testing.T) {
	m := plainModel(nil)
	view := m.View()

	assert.Contains(t, view, "[...]", "static spinner while connecting")
	for _, label := range []string{"Firmando electrónicamente", "Enviando al SRI", "Esperando validación"} {
		assert.Contains(t, view, label)
	}
	assert.Equal(t, emission.StageNotStarted, m.Stage())
	assert.False(t, m.CanEmit())
}

func TestModel_EmitDisabledUntilConnected(t *testing.T) {
	calls := 0
	m := plainModel(func() (string, error) { calls++; return "a-1", nil })

	m, cmd := update(t, m, keyMsg("e"))
	assert.Nil(t, cmd)
	assert.Contains(t, m.View(), "sin conexión")

	m, _ = update(t, m, StatusMsg{Status: channel.StatusOpen})
	assert.False(t, m.CanEmit(), "open without identifier")

	m, _ = update(t, m, ConnectionIDMsg{ID: "conn-42"})
	require.True(t, m.CanEmit())
	assert.Contains(t, m.View(), "conn-42")

	m, cmd = update(t, m, keyMsg("e"))
	require.NotNil(t, cmd)
	assert.False(t, m.CanEmit(), "disabled while the start call runs")

	result := cmd()
	m, _ = update(t, m, result)
	assert.Equal(t, 1, calls)
	assert.True(t, m.CanEmit())
}

func TestModel_EmitErrorShowsNotice(t *testing.T) {
	m := plainModel(func() (string, error) { return "", errors.New("no identifier") })
	m, _ = update(t, m, StatusMsg{Status: channel.StatusOpen})
	m, _ = update(t, m, ConnectionIDMsg{ID: "c"})

	m, cmd := update(t, m, keyMsg("e"))
	require.NotNil(t, cmd)
	m, _ = update(t, m, cmd())
	assert.Contains(t, m.View(), "no se pudo emitir: no identifier")
}

func TestModel_StagesFillStepper(t *testing.T) {
	m := plainModel(nil)
	m, _ = update(t, m, StatusMsg{Status: channel.StatusOpen})

	m, _ = update(t, m, StageMsg{Transition: emission.Transition{AttemptID: "a", From: emission.StageNotStarted, To: emission.StageSigning, Text: "Firmando electrónicamente"}})
	assert.Equal(t, emission.StageSigning, m.Stage())
	assert.InDelta(t, 1.0/3.0, m.bar.Percent(), 0.001)

	m, _ = update(t, m, StageMsg{Transition: emission.Transition{AttemptID: "a", To: emission.StageSubmitting, Text: "Enviando al SRI"}})
	view := m.View()
	assert.Contains(t, view, "✔ 1. Firmando electrónicamente")
	assert.Contains(t, view, "● 2. Enviando al SRI")
	assert.Contains(t, view, "○ 3. Esperando validación")

	m, _ = update(t, m, OutcomeMsg{Outcome: emission.Outcome{Success: true, Message: "AUTORIZADO"}})
	assert.Contains(t, m.View(), "✔ AUTORIZADO")

	m, _ = update(t, m, StageMsg{Transition: emission.Transition{AttemptID: "b", To: emission.StageNotStarted}})
	assert.Equal(t, emission.StageNotStarted, m.Stage())
	assert.NotContains(t, m.View(), "AUTORIZADO", "reset clears the outcome")
	assert.Zero(t, m.bar.Percent())
}

func TestModel_FailedOutcome(t *testing.T) {
	m := plainModel(nil)
	m, _ = update(t, m, OutcomeMsg{Outcome: emission.Outcome{Success: false}})
	assert.Contains(t, m.View(), "✘ rechazada")
}

func TestModel_CloseClearsIdentifier(t *testing.T) {
	m := plainModel(func() (string, error) { return "", nil })
	m, _ = update(t, m, StatusMsg{Status: channel.StatusOpen})
	m, _ = update(t, m, ConnectionIDMsg{ID: "conn-1"})
	m, _ = update(t, m, StatusMsg{Status: channel.StatusClosed})

	assert.False(t, m.CanEmit())
	view := m.View()
	assert.Contains(t, view, "desconectado")
	assert.NotContains(t, view, "conn-1")

	m, _ = update(t, m, ConnectionIDMsg{ID: "late"})
	assert.NotContains(t, m.View(), "late")
}

func TestModel_ReloadNotice(t *testing.T) {
	m := plainModel(nil)
	m, _ = update(t, m, StatusMsg{Status: channel.StatusOpen})
	m, _ = update(t, m, ReloadMsg{Version: "2026-03"})
	assert.Contains(t, m.View(), "tabla 2026-03")

	m, _ = update(t, m, ReloadMsg{Err: errors.New("bad yaml")})
	assert.Contains(t, m.View(), "bad yaml")
}

func TestModel_Quit(t *testing.T) {
	for _, k := range []string{"q", "ctrl+c"} {
		m := plainModel(nil)
		m, cmd := update(t, m, keyMsg(k))
		require.NotNil(t, cmd, k)
		_, isQuit := cmd().(tea.QuitMsg)
		assert.True(t, isQuit, k)
		assert.Equal(t, "", m.View())
	}
}

func TestModel_HelpToggle(t *testing.T) {
	m := plainModel(nil)
	short := m.View()
	m, _ = update(t, m, keyMsg("?"))
	assert.NotEqual(t, short, m.View())
	assert.True(t, strings.Contains(m.View(), "emitir factura"))
}

func TestStagePercent(t *testing.T) {
	assert.Zero(t, stagePercent(emission.StageNotStarted))
	assert.InDelta(t, 1.0, stagePercent(emission.StageValidating), 0.001)
	assert.Zero(t, stagePercent(emission.Stage(8)))
}

type recordingSender struct {
	mu   sync.Mutex
	msgs []tea.Msg
}

func (s *recordingSender) Send(msg tea.Msg) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, msg)
}

func TestAttach_ForwardsEvents(t *testing.T) {
	manager := channel.New(channel.Config{URL: "ws://unused"})
	tracker := emission.NewTracker(manager, emission.NewProgress(), nil)
	sender := &recordingSender{}

	var earlier []emission.Stage
	tracker.OnStage = func(tr emission.Transition) { earlier = append(earlier, tr.To) }

	Attach(manager, tracker, sender)

	manager.HandleMessage([]byte(`{"type":"connectionId","message":"abc"}`))
	manager.HandleMessage([]byte(`{"type":"estadoFactura","message":"Firmando"}`))
	manager.HandleMessage([]byte(`{"type":"resultado-emision","success":true,"message":"ok"}`))
	manager.Close()

	sender.mu.Lock()
	defer sender.mu.Unlock()
	require.Len(t, sender.msgs, 4)
	assert.Equal(t, ConnectionIDMsg{ID: "abc"}, sender.msgs[0])
	stage, ok := sender.msgs[1].(StageMsg)
	require.True(t, ok)
	assert.Equal(t, emission.StageSigning, stage.Transition.To)
	assert.Equal(t, OutcomeMsg{Outcome: emission.Outcome{Success: true, Message: "ok"}}, sender.msgs[2])
	assert.Equal(t, StatusMsg{Status: channel.StatusClosed}, sender.msgs[3])
	assert.Equal(t, []emission.Stage{emission.StageSigning}, earlier, "existing callback still runs")
}
