// Package signals turns process signals into reload and shutdown events for
// long-running commands.
package signals

import (
	"os"
	"os/signal"
	"syscall"
)

// Handler delivers SIGHUP as a reload request and SIGINT/SIGTERM as a
// shutdown request.
type Handler struct {
	reload   chan struct{}
	shutdown chan os.Signal
	stop     func()
}

// New starts listening for signals. Call Close to stop.
func New() (*Handler, error) {
	h := &Handler{
		reload:   make(chan struct{}, 1),
		shutdown: make(chan os.Signal, 1),
	}

	raw := make(chan os.Signal, 4)
	signal.Notify(raw, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-done:
				return
			case sig := <-raw:
				if sig == syscall.SIGHUP {
					// Coalesce: one pending reload is enough.
					select {
					case h.reload <- struct{}{}:
					default:
					}
					continue
				}
				select {
				case h.shutdown <- sig:
				default:
				}
			}
		}
	}()

	h.stop = func() {
		signal.Stop(raw)
		close(done)
	}
	return h, nil
}

// Reload fires on SIGHUP.
func (h *Handler) Reload() <-chan struct{} {
	if h == nil {
		return nil
	}
	return h.reload
}

// Shutdown fires on SIGINT or SIGTERM.
func (h *Handler) Shutdown() <-chan os.Signal {
	if h == nil {
		return nil
	}
	return h.shutdown
}

// Close stops signal delivery. Safe on a nil handler.
func (h *Handler) Close() error {
	if h == nil || h.stop == nil {
		return nil
	}
	h.stop()
	h.stop = nil
	return nil
}
