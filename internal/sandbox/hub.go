package sandbox

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrUnknownConnection is returned when pushing to an identifier with no
// live channel.
var ErrUnknownConnection = errors.New("unknown connection")

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	sendBuffer = 64
)

// hub maps connection identifiers to live clients.
type hub struct {
	mu      sync.RWMutex
	clients map[string]*client
	logger  *slog.Logger
}

func newHub(logger *slog.Logger) *hub {
	return &hub{clients: make(map[string]*client), logger: logger}
}

func (h *hub) Register(c *client) {
	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()
}

func (h *hub) Unregister(c *client) {
	h.mu.Lock()
	if h.clients[c.id] == c {
		delete(h.clients, c.id)
	}
	h.mu.Unlock()
	c.Close()
}

func (h *hub) Has(id string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[id]
	return ok
}

func (h *hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Send JSON-encodes v and queues it for connection id.
func (h *hub) Send(id string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}

	h.mu.RLock()
	c, ok := h.clients[id]
	h.mu.RUnlock()
	if !ok {
		return ErrUnknownConnection
	}
	if !c.enqueue(payload) {
		h.logger.Warn("dropping slow sandbox client", "connection_id", id)
		go h.Unregister(c)
		return ErrUnknownConnection
	}
	return nil
}

func (h *hub) Close() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[string]*client)
	h.mu.Unlock()
	for _, c := range clients {
		c.Close()
	}
}

type client struct {
	id     string
	conn   *websocket.Conn
	send   chan []byte
	logger *slog.Logger

	// pongWait bounds how long the peer may stay silent. Pings go out every
	// pongWait*9/10.
	pongWait time.Duration

	mu     sync.Mutex
	closed bool
}

func newClient(id string, conn *websocket.Conn, logger *slog.Logger, wait time.Duration) *client {
	if wait <= 0 {
		wait = pongWait
	}
	return &client{
		id:       id,
		conn:     conn,
		send:     make(chan []byte, sendBuffer),
		logger:   logger,
		pongWait: wait,
	}
}

// enqueue returns false when the client is closed or its buffer is full.
func (c *client) enqueue(payload []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

func (c *client) writeLoop() {
	ticker := time.NewTicker(c.pongWait * 9 / 10)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.logger.Debug("sandbox write failed", "connection_id", c.id, "error", err)
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.logger.Debug("sandbox ping failed", "connection_id", c.id, "error", err)
				return
			}
		}
	}
}

// readLoop runs until the peer goes away. onInit runs once, on the first
// {"action":"init"} frame.
func (c *client) readLoop(onInit func(), onClose func()) {
	defer func() {
		if onClose != nil {
			onClose()
		}
	}()
	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
		return nil
	})

	initialized := false
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(c.pongWait))

		var frame struct {
			Action string `json:"action"`
		}
		if json.Unmarshal(data, &frame) != nil {
			c.logger.Debug("ignoring malformed client frame", "connection_id", c.id)
			continue
		}
		if frame.Action == "init" && !initialized {
			initialized = true
			if onInit != nil {
				onInit()
			}
		}
	}
}

func (c *client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
	if c.conn != nil {
		_ = c.conn.Close()
	}
}
