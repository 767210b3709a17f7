package emission

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/facturaelec/emitrack/internal/channel"
	"github.com/facturaelec/emitrack/internal/db"
)

type pipeConn struct {
	incoming chan []byte
	closed   chan struct{}
	once     sync.Once
}

func newPipeConn() *pipeConn {
	return &pipeConn{incoming: make(chan []byte, 16), closed: make(chan struct{})}
}

func (c *pipeConn) ReadMessage() (int, []byte, error) {
	select {
	case data := <-c.incoming:
		return websocket.TextMessage, data, nil
	case <-c.closed:
		return 0, nil, io.EOF
	}
}

func (c *pipeConn) WriteMessage(int, []byte) error { return nil }

func (c *pipeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

type fakeStarter struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (s *fakeStarter) StartEmission(_ context.Context, connectionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, connectionID)
	return s.err
}

func (s *fakeStarter) got() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

type memRecorder struct {
	mu          sync.Mutex
	connections []db.ConnectionEvent
	stages      []db.StageEvent
}

func (r *memRecorder) RecordConnection(_ context.Context, e db.ConnectionEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connections = append(r.connections, e)
	return nil
}

func (r *memRecorder) RecordStage(_ context.Context, e db.StageEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stages = append(r.stages, e)
	return nil
}

func (r *memRecorder) events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.connections))
	for _, e := range r.connections {
		out = append(out, e.Event)
	}
	return out
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type harness struct {
	conn     *pipeConn
	manager  *channel.Manager
	progress *Progress
	starter  *fakeStarter
	recorder *memRecorder
	tracker  *Tracker
}

func newHarness(t *testing.T, opts ...TrackerOption) *harness {
	t.Helper()
	h := &harness{
		conn:     newPipeConn(),
		progress: NewProgress(),
		starter:  &fakeStarter{},
		recorder: &memRecorder{},
	}
	h.manager = channel.New(channel.Config{
		URL: "ws://pipe",
		Dialer: channel.DialerFunc(func(context.Context, string) (channel.Conn, error) {
			return h.conn, nil
		}),
		Logger: quietLogger(),
	})
	opts = append([]TrackerOption{WithLogger(quietLogger()), WithRecorder(h.recorder)}, opts...)
	h.tracker = NewTracker(h.manager, h.progress, h.starter, opts...)
	t.Cleanup(h.manager.Close)
	return h
}

func (h *harness) push(raw string) {
	h.manager.HandleMessage([]byte(raw))
}

func TestTracker_StatusSequence(t *testing.T) {
	h := newHarness(t)

	var seen []Stage
	h.tracker.OnStage = func(tr Transition) { seen = append(seen, tr.To) }

	h.push(`{"type":"estadoFactura","message":"Firmando electrónicamente"}`)
	h.push(`{"type":"estadoFactura","message":"Enviando al SRI"}`)
	h.push(`{"type":"estadoFactura","message":"Procesando"}`)
	h.push(`{"type":"otro","message":"Validación"}`)
	h.push(`{"type":"estadoFactura","message":"Esperando validación"}`)

	assert.Equal(t, StageValidating, h.progress.Stage())
	assert.Equal(t, []Stage{StageSigning, StageSubmitting, StageValidating}, seen)
	assert.Len(t, h.recorder.stages, 3)
}

func TestTracker_IdentifierThenStatuses(t *testing.T) {
	h := newHarness(t)

	observed := []Stage{}
	for _, raw := range []string{
		`{"type":"connectionId","message":"abc"}`,
		`{"type":"estadoFactura","message":"Firmando electrónicamente"}`,
		`{"type":"estadoFactura","message":"Enviando al SRI"}`,
	} {
		h.push(raw)
		observed = append(observed, h.progress.Stage())
	}

	assert.Equal(t, []Stage{StageNotStarted, StageSigning, StageSubmitting}, observed)
}

func TestTracker_StatusCode(t *testing.T) {
	c, err := NewClassifier(StatusMessageType, "coded", []Rule{{Code: "SENT", Stage: StageSubmitting}})
	require.NoError(t, err)
	h := newHarness(t, WithClassifier(c))

	h.push(`{"type":"estadoFactura","message":"texto libre","code":"SENT"}`)
	assert.Equal(t, StageSubmitting, h.progress.Stage())
}

func TestTracker_EmitRequiresConnection(t *testing.T) {
	h := newHarness(t)

	_, err := h.tracker.Emit(context.Background())
	assert.ErrorIs(t, err, ErrNotConnected)

	require.NoError(t, h.manager.Open(context.Background()))
	_, err = h.tracker.Emit(context.Background())
	assert.ErrorIs(t, err, ErrNotConnected, "no identifier yet")
	assert.Empty(t, h.starter.got())
}

func TestTracker_EmitResetsAndStarts(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.manager.Open(context.Background()))
	h.push(`{"type":"connectionId","message":"conn-42"}`)
	h.push(`{"type":"estadoFactura","message":"Enviando"}`)
	require.Equal(t, StageSubmitting, h.progress.Stage())

	var resets []Transition
	h.tracker.OnStage = func(tr Transition) { resets = append(resets, tr) }

	attemptID, err := h.tracker.Emit(context.Background())
	require.NoError(t, err)
	h.tracker.Wait()

	assert.NotEmpty(t, attemptID)
	assert.Equal(t, attemptID, h.progress.AttemptID())
	assert.Equal(t, StageNotStarted, h.progress.Stage())
	assert.Equal(t, []string{"conn-42"}, h.starter.got())
	require.Len(t, resets, 1)
	assert.Equal(t, StageNotStarted, resets[0].To)
}

func TestTracker_StartFailureIsRecorded(t *testing.T) {
	h := newHarness(t)
	h.starter.err = errors.New("boom")
	require.NoError(t, h.manager.Open(context.Background()))
	h.push(`{"type":"connectionId","message":"conn-1"}`)

	_, err := h.tracker.Emit(context.Background())
	require.NoError(t, err, "start failures are reported asynchronously")
	h.tracker.Wait()

	assert.Contains(t, h.recorder.events(), "start_failed")
	assert.Equal(t, channel.StatusOpen, h.manager.Status())
}

func TestTracker_OutcomeIsNotAStage(t *testing.T) {
	h := newHarness(t)
	h.push(`{"type":"estadoFactura","message":"Esperando validación"}`)

	var got *Outcome
	h.tracker.OnOutcome = func(o Outcome) { got = &o }

	h.push(`{"type":"resultado-emision","success":true,"message":"AUTORIZADO"}`)

	require.NotNil(t, got)
	assert.True(t, got.Success)
	assert.Equal(t, "AUTORIZADO", got.Message)
	assert.Equal(t, StageValidating, h.progress.Stage())
	o, ok := h.progress.Outcome()
	require.True(t, ok)
	assert.Equal(t, *got, o)
}

func TestTracker_SetClassifierSwapsTable(t *testing.T) {
	h := newHarness(t)

	h.push(`{"type":"estadoFactura","message":"Signing invoice"}`)
	assert.Equal(t, StageNotStarted, h.progress.Stage())

	c, err := NewClassifier(StatusMessageType, "en-1", []Rule{{Keyword: "Signing", Stage: StageSigning}})
	require.NoError(t, err)
	h.tracker.SetClassifier(c)
	h.tracker.SetClassifier(nil)
	assert.Equal(t, "en-1", h.tracker.Classifier().Version())

	h.push(`{"type":"estadoFactura","message":"Signing invoice"}`)
	assert.Equal(t, StageSigning, h.progress.Stage())
}

func TestTracker_RecordsConnectionLifecycle(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.manager.Open(context.Background()))
	h.push(`{"type":"connectionId","message":"abc"}`)
	_ = h.conn.Close()

	select {
	case <-h.manager.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("manager did not close")
	}

	// Status hooks run after Done is closed.
	require.Eventually(t, func() bool { return len(h.recorder.events()) == 3 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"open", "identifier_assigned", "closed"}, h.recorder.events())
	h.recorder.mu.Lock()
	assert.Equal(t, "abc", h.recorder.connections[2].ConnectionID)
	h.recorder.mu.Unlock()
}

func TestTracker_Detach(t *testing.T) {
	h := newHarness(t)
	h.tracker.Detach()
	h.push(`{"type":"estadoFactura","message":"Firmando"}`)
	assert.Equal(t, StageNotStarted, h.progress.Stage())
}
