package signals

import (
	"os"
	"testing"
)

func TestNilHandler(t *testing.T) {
	var h *Handler

	if ch := h.Reload(); ch != nil {
		t.Error("Reload on nil handler should return nil")
	}
	if ch := h.Shutdown(); ch != nil {
		t.Error("Shutdown on nil handler should return nil")
	}
	if err := h.Close(); err != nil {
		t.Errorf("Close on nil handler should not error: %v", err)
	}
}

func TestHandler_CloseWithNilStop(t *testing.T) {
	h := &Handler{
		reload:   make(chan struct{}, 1),
		shutdown: make(chan os.Signal, 1),
	}
	if err := h.Close(); err != nil {
		t.Errorf("Close with nil stop should not error: %v", err)
	}
}

func TestHandler_CloseTwice(t *testing.T) {
	h, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := h.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := h.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
