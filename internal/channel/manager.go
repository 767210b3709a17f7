// Package channel owns the live duplex channel to the emission backend and
// the connection identifier the server assigns to it.
package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Status is the lifecycle of one channel instance.
type Status int

const (
	// StatusConnecting - manager created, dial not finished.
	StatusConnecting Status = iota
	// StatusOpen - channel established, handshake sent.
	StatusOpen
	// StatusClosed - terminal; a new channel needs a new Manager.
	StatusClosed
)

func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "CONNECTING"
	case StatusOpen:
		return "OPEN"
	case StatusClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

var (
	// ErrAlreadyOpened is returned when Open is called twice on one Manager.
	ErrAlreadyOpened = errors.New("channel already opened")
	// ErrClosedDuringOpen is returned when Close wins the race against Open.
	ErrClosedDuringOpen = errors.New("channel closed while opening")
)

// Registrar stores and evicts the connection identifier server-side.
type Registrar interface {
	Register(ctx context.Context, connectionID string) error
	Evict(ctx context.Context) error
}

// ListenerFunc receives every parsed inbound message.
type ListenerFunc func(Message)

// ListenerID identifies a registered listener.
type ListenerID uint64

type listenerEntry struct {
	id ListenerID
	fn ListenerFunc
}

// Config configures a Manager.
type Config struct {
	// URL is the channel address (ws:// or wss://).
	URL string

	// Dialer opens the transport. Defaults to WebSocketDialer.
	Dialer Dialer

	// Registrar receives the identifier. Optional.
	Registrar Registrar

	// RegistrarTimeout bounds each registrar call.
	RegistrarTimeout time.Duration

	// Logger for structured logging.
	Logger *slog.Logger
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Dialer:           WebSocketDialer{},
		RegistrarTimeout: 10 * time.Second,
	}
}

// Manager maintains exactly one channel for its lifetime.
type Manager struct {
	config Config
	logger *slog.Logger

	mu            sync.Mutex
	status        Status
	connectionID  string
	conn          Conn
	opened        bool
	listeners     []listenerEntry
	nextID        ListenerID
	statusHooks   []func(Status)
	registrarTail chan struct{}
	closed        chan struct{}

	writeMu     sync.Mutex
	registrarWG sync.WaitGroup
}

// New creates a manager in the Connecting state. Nothing is dialed until Open.
func New(config Config) *Manager {
	defaults := DefaultConfig()
	if config.Dialer == nil {
		config.Dialer = defaults.Dialer
	}
	if config.RegistrarTimeout <= 0 {
		config.RegistrarTimeout = defaults.RegistrarTimeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return &Manager{
		config: config,
		logger: config.Logger.With("component", "channel"),
		status: StatusConnecting,
		closed: make(chan struct{}),
	}
}

// Open dials the channel, moves to Open and sends the init handshake.
// A failed dial closes the manager; there is no retry.
func (m *Manager) Open(ctx context.Context) error {
	m.mu.Lock()
	if m.opened {
		m.mu.Unlock()
		return ErrAlreadyOpened
	}
	m.opened = true
	m.mu.Unlock()

	m.logger.Debug("dialing channel", "url", m.config.URL, "action", "dial")

	conn, err := m.config.Dialer.Dial(ctx, m.config.URL)
	if err != nil {
		m.logger.Error("channel open failed",
			"url", m.config.URL,
			"error", err,
			"action", "transport_error")
		m.HandleClose()
		return fmt.Errorf("open channel: %w", err)
	}

	m.mu.Lock()
	if m.status == StatusClosed {
		m.mu.Unlock()
		_ = conn.Close()
		return ErrClosedDuringOpen
	}
	m.conn = conn
	m.status = StatusOpen
	m.mu.Unlock()

	m.logger.Info("channel open",
		"url", m.config.URL,
		"from_state", StatusConnecting.String(),
		"to_state", StatusOpen.String(),
		"action", "transition")
	m.notifyStatus(StatusOpen)

	m.Send(initMessage{Action: ActionInit})

	go m.readLoop(conn)
	return nil
}

func (m *Manager) readLoop(conn Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if m.Status() != StatusClosed && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				m.logger.Warn("channel read failed", "error", err, "action", "transport_error")
			}
			m.HandleClose()
			return
		}
		m.HandleMessage(data)
	}
}

// HandleMessage processes one inbound frame. Malformed frames are logged and
// dropped. A connectionId frame stores the identifier and registers it; every
// parsed frame is then forwarded to listeners unchanged.
func (m *Manager) HandleMessage(raw []byte) {
	msg, err := ParseMessage(raw)
	if err != nil {
		m.logger.Warn("dropping malformed frame",
			"error", err,
			"bytes", len(raw),
			"action", "drop")
		return
	}

	if msg.Type == TypeConnectionID {
		m.mu.Lock()
		if m.status == StatusClosed {
			m.mu.Unlock()
			m.logger.Debug("ignoring identifier after close", "action", "drop")
			return
		}
		m.connectionID = msg.Text
		if id := msg.Text; id != "" {
			m.queueRegistrarLocked("register", func(ctx context.Context, r Registrar) error {
				return r.Register(ctx, id)
			})
		}
		m.mu.Unlock()

		if msg.Text == "" {
			m.logger.Warn("empty connection identifier", "action", "identifier_empty")
		} else {
			m.logger.Info("connection identifier assigned",
				"connection_id", msg.Text,
				"action", "identifier_assigned")
		}
	}

	m.dispatch(msg)
}

// HandleClose moves to Closed, clears the identifier and evicts it
// server-side. Calls after the first are no-ops.
func (m *Manager) HandleClose() {
	m.mu.Lock()
	if m.status == StatusClosed {
		m.mu.Unlock()
		return
	}
	from := m.status
	m.status = StatusClosed
	id := m.connectionID
	m.connectionID = ""
	conn := m.conn
	m.conn = nil
	// The eviction is queued before Done fires, so anyone woken by Done
	// can WaitRegistrar for it.
	m.queueRegistrarLocked("evict", func(ctx context.Context, r Registrar) error {
		return r.Evict(ctx)
	})
	close(m.closed)
	m.mu.Unlock()

	if conn != nil {
		m.writeMu.Lock()
		if d, ok := conn.(writeDeadliner); ok {
			_ = d.SetWriteDeadline(time.Now().Add(writeWait))
		}
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		m.writeMu.Unlock()
		_ = conn.Close()
	}

	m.logger.Info("channel closed",
		"connection_id", id,
		"from_state", from.String(),
		"to_state", StatusClosed.String(),
		"action", "transition")
	m.notifyStatus(StatusClosed)
}

// Close closes the channel. Safe to call more than once.
func (m *Manager) Close() {
	m.HandleClose()
}

// Send transmits msg as a JSON text frame when the channel is Open. In any
// other state it logs a warning and drops the message.
func (m *Manager) Send(msg any) {
	m.mu.Lock()
	status := m.status
	conn := m.conn
	m.mu.Unlock()

	if status != StatusOpen || conn == nil {
		m.logger.Warn("channel not open, message not sent",
			"state", status.String(),
			"action", "send_skipped")
		return
	}

	data, err := json.Marshal(msg)
	if err != nil {
		m.logger.Error("encode outbound message", "error", err, "action", "send_failed")
		return
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	if d, ok := conn.(writeDeadliner); ok {
		_ = d.SetWriteDeadline(time.Now().Add(writeWait))
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		m.logger.Error("send failed", "error", err, "action", "send_failed")
	}
}

// AddListener registers fn. Listeners run in registration order on the
// reader goroutine.
func (m *Manager) AddListener(fn ListenerFunc) ListenerID {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.listeners = append(m.listeners, listenerEntry{id: m.nextID, fn: fn})
	return m.nextID
}

// RemoveListener unregisters a listener. A listener removed while a message
// is being dispatched still receives that message and none after it.
func (m *Manager) RemoveListener(id ListenerID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, l := range m.listeners {
		if l.id == id {
			m.listeners = append(m.listeners[:i:i], m.listeners[i+1:]...)
			return true
		}
	}
	return false
}

// OnStatus registers a hook called after every status transition.
func (m *Manager) OnStatus(fn func(Status)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statusHooks = append(m.statusHooks, fn)
}

// Status returns the current lifecycle state.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// ConnectionID returns the server-assigned identifier, or "" when unset.
func (m *Manager) ConnectionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connectionID
}

// Connected reports whether the channel is Open. UIs use it to disable
// actions that need a delivery path.
func (m *Manager) Connected() bool {
	return m.Status() == StatusOpen
}

// Done is closed when the manager reaches Closed.
func (m *Manager) Done() <-chan struct{} {
	return m.closed
}

// WaitRegistrar blocks until registrar calls already issued have returned.
func (m *Manager) WaitRegistrar() {
	m.registrarWG.Wait()
}

func (m *Manager) dispatch(msg Message) {
	m.mu.Lock()
	snapshot := make([]listenerEntry, len(m.listeners))
	copy(snapshot, m.listeners)
	m.mu.Unlock()

	for _, l := range snapshot {
		m.invoke(l, msg)
	}
}

func (m *Manager) invoke(l listenerEntry, msg Message) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("listener panicked",
				"listener_id", l.id,
				"type", msg.Type,
				"panic", fmt.Sprint(r),
				"action", "listener_failed")
		}
	}()
	l.fn(msg)
}

func (m *Manager) notifyStatus(status Status) {
	m.mu.Lock()
	hooks := make([]func(Status), len(m.statusHooks))
	copy(hooks, m.statusHooks)
	m.mu.Unlock()

	for _, fn := range hooks {
		fn(status)
	}
}

// queueRegistrarLocked runs a registrar call in the background. Calls are
// chained so an eviction never overtakes the registration issued before it.
// m.mu must be held.
func (m *Manager) queueRegistrarLocked(op string, call func(context.Context, Registrar) error) {
	registrar := m.config.Registrar
	if registrar == nil {
		return
	}

	prev := m.registrarTail
	done := make(chan struct{})
	m.registrarTail = done

	m.registrarWG.Add(1)
	go func() {
		defer m.registrarWG.Done()
		defer close(done)
		if prev != nil {
			<-prev
		}

		ctx, cancel := context.WithTimeout(context.Background(), m.config.RegistrarTimeout)
		defer cancel()

		start := time.Now()
		if err := call(ctx, registrar); err != nil {
			m.logger.Warn("registrar call failed",
				"op", op,
				"error", err,
				"action", "registrar_failed")
			return
		}
		m.logger.Debug("registrar call succeeded",
			"op", op,
			"duration", time.Since(start),
			"action", "registrar_ok")
	}()
}
