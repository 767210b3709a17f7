package tui

import (
	"github.com/facturaelec/emitrack/internal/channel"
	"github.com/facturaelec/emitrack/internal/emission"
)

// StatusMsg reports a channel lifecycle change.
type StatusMsg struct {
	Status channel.Status
}

// ConnectionIDMsg reports the identifier assigned by the server.
type ConnectionIDMsg struct {
	ID string
}

// StageMsg reports a stage transition, including the reset of a new attempt.
type StageMsg struct {
	Transition emission.Transition
}

// OutcomeMsg reports the final notification of an attempt.
type OutcomeMsg struct {
	Outcome emission.Outcome
}

// ReloadMsg reports a keyword table reload.
type ReloadMsg struct {
	Version string
	Err     error
}

type emitResultMsg struct {
	attemptID string
	err       error
}
