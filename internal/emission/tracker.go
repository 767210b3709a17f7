package emission

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/facturaelec/emitrack/internal/channel"
	"github.com/facturaelec/emitrack/internal/db"
)

// ErrNotConnected is returned by Emit when there is no delivery path for
// status pushes.
var ErrNotConnected = errors.New("channel not connected")

// Starter asks the backend to begin an emission attempt for a connection.
type Starter interface {
	StartEmission(ctx context.Context, connectionID string) error
}

// Recorder persists tracker events. db.DB satisfies it.
type Recorder interface {
	RecordConnection(ctx context.Context, e db.ConnectionEvent) error
	RecordStage(ctx context.Context, e db.StageEvent) error
}

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

// WithLogger sets the tracker logger.
func WithLogger(logger *slog.Logger) TrackerOption {
	return func(t *Tracker) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithRecorder persists connection and stage events.
func WithRecorder(r Recorder) TrackerOption {
	return func(t *Tracker) {
		t.recorder = r
	}
}

// WithClassifier replaces the built-in keyword table.
func WithClassifier(c *Classifier) TrackerOption {
	return func(t *Tracker) {
		if c != nil {
			t.classifier.Store(c)
		}
	}
}

// WithStartTimeout bounds the background emission start call.
func WithStartTimeout(d time.Duration) TrackerOption {
	return func(t *Tracker) {
		if d > 0 {
			t.startTimeout = d
		}
	}
}

// Tracker binds one channel to one Progress. Inbound status messages are
// classified and applied; Emit starts new attempts.
type Tracker struct {
	manager      *channel.Manager
	progress     *Progress
	starter      Starter
	recorder     Recorder
	classifier   atomic.Pointer[Classifier]
	logger       *slog.Logger
	listenerID   channel.ListenerID
	startTimeout time.Duration
	wg           sync.WaitGroup

	mu     sync.Mutex
	lastID string

	// Callbacks. Set them before the channel is opened.
	OnStage   func(Transition)
	OnOutcome func(Outcome)
}

// NewTracker subscribes to manager and returns a tracker feeding progress.
func NewTracker(manager *channel.Manager, progress *Progress, starter Starter, opts ...TrackerOption) *Tracker {
	t := &Tracker{
		manager:      manager,
		progress:     progress,
		starter:      starter,
		logger:       slog.Default(),
		startTimeout: 15 * time.Second,
	}
	t.classifier.Store(DefaultClassifier())
	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}
	t.logger = t.logger.With("component", "tracker")

	t.listenerID = manager.AddListener(t.handleMessage)
	manager.OnStatus(t.handleStatus)
	return t
}

// Progress returns the tracked progress.
func (t *Tracker) Progress() *Progress { return t.progress }

// Classifier returns the active classifier.
func (t *Tracker) Classifier() *Classifier { return t.classifier.Load() }

// SetClassifier swaps the keyword table. Messages already being handled
// finish with the previous table.
func (t *Tracker) SetClassifier(c *Classifier) {
	if c == nil {
		return
	}
	prev := t.classifier.Swap(c)
	t.logger.Info("keyword table swapped",
		"from_version", prev.Version(),
		"to_version", c.Version(),
		"rules", len(c.rules),
		"action", "classifier_reload")
}

// Emit starts a new attempt. Progress is reset and the start call runs in the
// background; progress afterwards arrives only through the channel.
func (t *Tracker) Emit(ctx context.Context) (string, error) {
	if !t.manager.Connected() {
		return "", ErrNotConnected
	}
	connectionID := t.manager.ConnectionID()
	if connectionID == "" {
		return "", ErrNotConnected
	}

	reset := t.progress.Reset()
	logger := t.logger.With("attempt_id", reset.AttemptID, "connection_id", connectionID)
	logger.Info("emission requested",
		"from_state", reset.From.String(),
		"to_state", reset.To.String(),
		"action", "attempt_start")
	if t.OnStage != nil {
		t.OnStage(reset)
	}
	t.recordStage(reset, connectionID)

	if t.starter == nil {
		return reset.AttemptID, nil
	}

	// Detach from the caller's cancellation; the call is fire-and-forget.
	startCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), t.startTimeout)
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer cancel()
		if err := t.starter.StartEmission(startCtx, connectionID); err != nil {
			logger.Error("emission start failed", "error", err, "action", "start_failed")
			t.recordConnection("start_failed", connectionID, err.Error())
			return
		}
		logger.Debug("emission start accepted", "action", "start_ok")
	}()

	return reset.AttemptID, nil
}

// Wait blocks until background start calls have returned.
func (t *Tracker) Wait() {
	t.wg.Wait()
}

// Detach stops listening to the channel.
func (t *Tracker) Detach() {
	t.manager.RemoveListener(t.listenerID)
}

func (t *Tracker) handleMessage(msg channel.Message) {
	switch msg.Type {
	case channel.TypeConnectionID:
		t.mu.Lock()
		t.lastID = msg.Text
		t.mu.Unlock()
		t.recordConnection("identifier_assigned", msg.Text, "")

	case ResultMessageType:
		var outcome Outcome
		if err := msg.Decode(&outcome); err != nil {
			t.logger.Warn("dropping malformed result", "error", err, "action", "drop")
			return
		}
		t.progress.SetOutcome(outcome)
		t.logger.Info("emission finished",
			"attempt_id", t.progress.AttemptID(),
			"success", outcome.Success,
			"message", outcome.Message,
			"stage", t.progress.Stage().String(),
			"action", "attempt_result")
		if t.OnOutcome != nil {
			t.OnOutcome(outcome)
		}

	default:
		t.applyStatus(msg)
	}
}

func (t *Tracker) applyStatus(msg channel.Message) {
	classifier := t.classifier.Load()
	if msg.Type != classifier.MessageType() {
		return
	}

	var coded struct {
		Code string `json:"code"`
	}
	_ = msg.Decode(&coded)

	stage, ok := classifier.ClassifyCode(msg.Type, coded.Code, msg.Text)
	if !ok {
		t.logger.Debug("unrecognized status",
			"text", msg.Text,
			"table_version", classifier.Version(),
			"action", "status_ignored")
		return
	}

	current := t.progress.Stage()
	transition, changed := t.progress.Advance(stage, msg.Text)
	if !changed {
		if stage < current {
			t.logger.Warn("stage regression ignored",
				"attempt_id", t.progress.AttemptID(),
				"state", current.String(),
				"rejected_state", stage.String(),
				"action", "regression_rejected")
		}
		return
	}

	t.logger.Info("state transition",
		"attempt_id", transition.AttemptID,
		"from_state", transition.From.String(),
		"to_state", transition.To.String(),
		"text", msg.Text,
		"action", "transition")
	if t.OnStage != nil {
		t.OnStage(transition)
	}
	t.recordStage(transition, t.manager.ConnectionID())
}

func (t *Tracker) handleStatus(status channel.Status) {
	// The manager clears its identifier before reporting Closed.
	t.mu.Lock()
	id := t.lastID
	t.mu.Unlock()
	t.recordConnection(strings.ToLower(status.String()), id, "")
}

func (t *Tracker) recordConnection(event, connectionID, detail string) {
	if t.recorder == nil {
		return
	}
	err := t.recorder.RecordConnection(context.Background(), db.ConnectionEvent{
		At:           time.Now(),
		Event:        event,
		ConnectionID: connectionID,
		Detail:       detail,
	})
	if err != nil {
		t.logger.Warn("record connection event failed", "event", event, "error", err)
	}
}

func (t *Tracker) recordStage(tr Transition, connectionID string) {
	if t.recorder == nil {
		return
	}
	err := t.recorder.RecordStage(context.Background(), db.StageEvent{
		At:           tr.At,
		AttemptID:    tr.AttemptID,
		ConnectionID: connectionID,
		Stage:        int(tr.To),
		StageName:    tr.To.String(),
		Text:         tr.Text,
	})
	if err != nil {
		t.logger.Warn("record stage event failed", "stage", tr.To.String(), "error", err)
	}
}
