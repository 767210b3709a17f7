package emission

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Transition records one stage change within an attempt.
type Transition struct {
	AttemptID string
	From      Stage
	To        Stage
	Text      string
	At        time.Time
}

// Outcome is the final notification for an attempt. It is reported next to
// the stage, never as a stage.
type Outcome struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Progress tracks the stage of the current emission attempt.
type Progress struct {
	mu               sync.RWMutex
	stage            Stage
	attemptID        string
	stageEntered     time.Time
	history          []Transition
	outcome          *Outcome
	rejectRegression bool
}

// NewProgress creates progress in StageNotStarted with no attempt.
func NewProgress() *Progress {
	return &Progress{
		stage:        StageNotStarted,
		stageEntered: time.Now(),
	}
}

// SetRejectRegression enables the monotonic guard: recognized stages lower
// than the current one are ignored.
func (p *Progress) SetRejectRegression(enabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rejectRegression = enabled
}

// Reset starts a new attempt: stage back to StageNotStarted, history and
// outcome cleared, fresh attempt ID.
func (p *Progress) Reset() Transition {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	t := Transition{
		AttemptID: uuid.New().String(),
		From:      p.stage,
		To:        StageNotStarted,
		At:        now,
	}
	p.attemptID = t.AttemptID
	p.stage = StageNotStarted
	p.stageEntered = now
	p.history = nil
	p.outcome = nil
	return t
}

// Advance moves to stage to. It returns false when nothing changed: same
// stage, invalid stage, or a regression blocked by the guard.
func (p *Progress) Advance(to Stage, text string) (Transition, bool) {
	if to < StageSigning || to > StageValidating {
		return Transition{}, false
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if to == p.stage {
		return Transition{}, false
	}
	if p.rejectRegression && to < p.stage {
		return Transition{}, false
	}

	now := time.Now()
	t := Transition{
		AttemptID: p.attemptID,
		From:      p.stage,
		To:        to,
		Text:      text,
		At:        now,
	}
	p.stage = to
	p.stageEntered = now
	p.history = append(p.history, t)
	return t, true
}

// Stage returns the current stage.
func (p *Progress) Stage() Stage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.stage
}

// AttemptID returns the current attempt ID, "" before the first Reset.
func (p *Progress) AttemptID() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.attemptID
}

// TimeInStage returns how long the current stage has lasted.
func (p *Progress) TimeInStage() time.Duration {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return time.Since(p.stageEntered)
}

// History returns the transitions of the current attempt.
func (p *Progress) History() []Transition {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]Transition(nil), p.history...)
}

// SetOutcome stores the final notification for the current attempt.
func (p *Progress) SetOutcome(o Outcome) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.outcome = &o
}

// Outcome returns the final notification, if one arrived.
func (p *Progress) Outcome() (Outcome, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.outcome == nil {
		return Outcome{}, false
	}
	return *p.outcome, true
}
