// Package sandbox is a local stand-in for the e-invoicing backend. It serves
// the status channel, the identifier registrar and a simulated emission
// pipeline.
package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/facturaelec/emitrack/internal/emission"
)

// SessionCookie carries the caller's session, like the backend's auth cookie.
const SessionCookie = "session"

// DefaultSteps are the status texts pushed during a simulated emission.
var DefaultSteps = []string{
	"Firmando electrónicamente",
	"Enviando al SRI",
	"Esperando validación",
}

// Option configures the server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithStepDelay sets the pause before each pushed status.
func WithStepDelay(d time.Duration) Option {
	return func(s *Server) {
		if d >= 0 {
			s.stepDelay = d
		}
	}
}

// WithSteps replaces DefaultSteps.
func WithSteps(steps ...string) Option {
	return func(s *Server) {
		if len(steps) > 0 {
			s.steps = append([]string(nil), steps...)
		}
	}
}

// WithRateLimit bounds emission starts per connection.
func WithRateLimit(every time.Duration, burst int) Option {
	return func(s *Server) {
		if every > 0 && burst > 0 {
			s.limit = rate.Every(every)
			s.burst = burst
		}
	}
}

// WithPongWait sets how long a channel may stay silent before it is dropped.
// Keepalive pings are sent well within that window.
func WithPongWait(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.pongWait = d
		}
	}
}

// Server is the sandbox backend.
type Server struct {
	addr      string
	logger    *slog.Logger
	hub       *hub
	upgrader  websocket.Upgrader
	stepDelay time.Duration
	steps     []string
	limit     rate.Limit
	burst     int
	pongWait  time.Duration

	mu       sync.Mutex
	sessions map[string]string // session -> connection id
	limiters map[string]*rate.Limiter
	closed   bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a server for addr. Nothing listens until Run.
func New(addr string, opts ...Option) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		addr:      addr,
		logger:    slog.Default(),
		stepDelay: 1500 * time.Millisecond,
		steps:     DefaultSteps,
		limit:     rate.Every(2 * time.Second),
		burst:     1,
		pongWait:  pongWait,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		sessions: make(map[string]string),
		limiters: make(map[string]*rate.Limiter),
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.logger = s.logger.With("component", "sandbox")
	s.hub = newHub(s.logger)
	return s
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/ws", s.handleWS).Methods(http.MethodGet)

	// The REST routes answer both at the root and under /api, the prefix
	// the default client configuration uses.
	for _, api := range []*mux.Router{r.PathPrefix("/api").Subrouter(), r} {
		api.HandleFunc("/sockets", s.handleSaveSocket).Methods(http.MethodPost)
		api.HandleFunc("/sockets", s.handleDeleteSocket).Methods(http.MethodDelete)
		api.HandleFunc("/comprobante/simular-emision", s.handleEmit).Methods(http.MethodPost)
	}
	return r
}

// Run serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		s.Close()
	}()

	s.logger.Info("sandbox listening", "addr", s.addr, "step_delay", s.stepDelay)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("sandbox: %w", err)
	}
	return nil
}

// Close stops running pipelines and disconnects every client.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()
	s.hub.Close()
	s.wg.Wait()
}

// Connections returns the number of live channels.
func (s *Server) Connections() int {
	return s.hub.Len()
}

// Registered returns the identifier stored for session, if any.
func (s *Server) Registered(session string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.sessions[session]
	return id, ok
}

type response struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, response{Success: true, Message: "ok"})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("upgrade failed", "error", err)
		return
	}

	id := uuid.NewString()
	c := newClient(id, conn, s.logger, s.pongWait)
	s.hub.Register(c)
	s.logger.Info("channel opened", "connection_id", id)
	go c.writeLoop()

	c.readLoop(func() {
		_ = s.hub.Send(id, map[string]string{"type": "connectionId", "message": id})
	}, func() {
		s.hub.Unregister(c)
		s.mu.Lock()
		delete(s.limiters, id)
		s.mu.Unlock()
		s.logger.Info("channel closed", "connection_id", id)
	})
}

type connectionRequest struct {
	ConnectionID string `json:"connectionId"`
	// Fail makes the simulated authority reject the invoice.
	Fail bool `json:"fail,omitempty"`
}

func decodeConnection(w http.ResponseWriter, r *http.Request) (connectionRequest, error) {
	var req connectionRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		return req, fmt.Errorf("invalid body: %w", err)
	}
	if req.ConnectionID == "" {
		return req, errors.New("connectionId is required")
	}
	return req, nil
}

func (s *Server) session(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(SessionCookie); err == nil && c.Value != "" {
		return c.Value
	}
	id := uuid.NewString()
	http.SetCookie(w, &http.Cookie{Name: SessionCookie, Value: id, Path: "/", HttpOnly: true})
	return id
}

func (s *Server) handleSaveSocket(w http.ResponseWriter, r *http.Request) {
	req, err := decodeConnection(w, r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, response{Message: err.Error()})
		return
	}
	session := s.session(w, r)

	s.mu.Lock()
	s.sessions[session] = req.ConnectionID
	s.mu.Unlock()

	s.logger.Info("identifier registered", "session", session, "connection_id", req.ConnectionID)
	writeJSON(w, http.StatusOK, response{Success: true, Message: "conexión registrada"})
}

func (s *Server) handleDeleteSocket(w http.ResponseWriter, r *http.Request) {
	c, err := r.Cookie(SessionCookie)
	if err != nil || c.Value == "" {
		writeJSON(w, http.StatusOK, response{Success: true, Message: "sin conexión registrada"})
		return
	}

	s.mu.Lock()
	id, ok := s.sessions[c.Value]
	delete(s.sessions, c.Value)
	s.mu.Unlock()

	if ok {
		s.logger.Info("identifier evicted", "session", c.Value, "connection_id", id)
	}
	writeJSON(w, http.StatusOK, response{Success: true, Message: "conexión eliminada"})
}

func (s *Server) limiter(id string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.limiters[id]
	if !ok {
		l = rate.NewLimiter(s.limit, s.burst)
		s.limiters[id] = l
	}
	return l
}

func (s *Server) handleEmit(w http.ResponseWriter, r *http.Request) {
	req, err := decodeConnection(w, r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, response{Message: err.Error()})
		return
	}
	if !s.hub.Has(req.ConnectionID) {
		writeJSON(w, http.StatusNotFound, response{Message: "conexión no encontrada"})
		return
	}
	if !s.limiter(req.ConnectionID).Allow() {
		writeJSON(w, http.StatusTooManyRequests, response{Message: "emisión en curso, intente más tarde"})
		return
	}

	// Close sets closed under s.mu before it waits on s.wg.
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		writeJSON(w, http.StatusServiceUnavailable, response{Message: "servidor cerrando"})
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()
	go func() {
		defer s.wg.Done()
		s.runPipeline(req.ConnectionID, req.Fail)
	}()
	writeJSON(w, http.StatusAccepted, response{Success: true, Message: "emisión en proceso"})
}

// runPipeline pushes each step and then the outcome. It stops early when the
// channel goes away or the server closes.
func (s *Server) runPipeline(id string, fail bool) {
	logger := s.logger.With("connection_id", id)
	for _, text := range s.steps {
		if !s.sleep(s.stepDelay) {
			return
		}
		if err := s.hub.Send(id, map[string]string{"type": emission.StatusMessageType, "message": text}); err != nil {
			logger.Info("pipeline aborted", "error", err)
			return
		}
		logger.Debug("status pushed", "text", text)
	}

	if !s.sleep(s.stepDelay) {
		return
	}
	outcome := emission.Outcome{Success: true, Message: "Comprobante AUTORIZADO"}
	if fail {
		outcome = emission.Outcome{Success: false, Message: "Comprobante DEVUELTO"}
	}
	if err := s.hub.Send(id, struct {
		Type string `json:"type"`
		emission.Outcome
	}{Type: emission.ResultMessageType, Outcome: outcome}); err != nil {
		logger.Info("outcome not delivered", "error", err)
	}
}

func (s *Server) sleep(d time.Duration) bool {
	if d <= 0 {
		select {
		case <-s.ctx.Done():
			return false
		default:
			return true
		}
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-s.ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
