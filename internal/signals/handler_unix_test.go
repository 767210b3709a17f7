//go:build !windows

package signals

import (
	"os"
	"syscall"
	"testing"
	"time"
)

func TestHandler_ReloadOnHUP(t *testing.T) {
	h, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer h.Close()

	if err := syscall.Kill(os.Getpid(), syscall.SIGHUP); err != nil {
		t.Fatalf("kill: %v", err)
	}

	select {
	case <-h.Reload():
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reload event")
	}
}

func TestHandler_ShutdownOnTERM(t *testing.T) {
	h, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer h.Close()

	if err := syscall.Kill(os.Getpid(), syscall.SIGTERM); err != nil {
		t.Fatalf("kill: %v", err)
	}

	select {
	case sig := <-h.Shutdown():
		if sig != syscall.SIGTERM {
			t.Fatalf("signal = %v, want SIGTERM", sig)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for shutdown event")
	}
}
