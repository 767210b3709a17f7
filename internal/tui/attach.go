package tui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/facturaelec/emitrack/internal/channel"
	"github.com/facturaelec/emitrack/internal/emission"
)

// Sender delivers messages to a running program. *tea.Program satisfies it.
type Sender interface {
	Send(msg tea.Msg)
}

// Attach forwards manager and tracker events to sender. Call it before the
// channel is opened so no transition is missed.
func Attach(manager *channel.Manager, tracker *emission.Tracker, sender Sender) {
	manager.OnStatus(func(s channel.Status) {
		sender.Send(StatusMsg{Status: s})
	})
	manager.AddListener(func(msg channel.Message) {
		if msg.Type == channel.TypeConnectionID {
			sender.Send(ConnectionIDMsg{ID: msg.Text})
		}
	})

	prevStage := tracker.OnStage
	tracker.OnStage = func(tr emission.Transition) {
		if prevStage != nil {
			prevStage(tr)
		}
		sender.Send(StageMsg{Transition: tr})
	}
	prevOutcome := tracker.OnOutcome
	tracker.OnOutcome = func(o emission.Outcome) {
		if prevOutcome != nil {
			prevOutcome(o)
		}
		sender.Send(OutcomeMsg{Outcome: o})
	}
}
