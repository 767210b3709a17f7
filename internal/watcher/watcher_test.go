package watcher

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
)

func waitForEvent(t *testing.T, ch <-chan Event, match func(Event) bool) Event {
	t.Helper()

	deadline := time.NewTimer(2 * time.Second)
	defer deadline.Stop()

	for {
		select {
		case e := <-ch:
			if match(e) {
				return e
			}
		case <-deadline.C:
			t.Fatalf("timed out waiting for event")
		}
	}
}

func TestWatcher_EndToEnd_FileLifecycle(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	w, err := NewWithDebounceDelay(path, 25*time.Millisecond)
	if err != nil {
		t.Fatalf("NewWithDebounceDelay() error = %v", err)
	}
	defer w.Close()

	if err := os.WriteFile(path, []byte("keywords: {}\n"), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	waitForEvent(t, w.Events(), func(e Event) bool {
		return e.Type == EventFileChanged && e.Path == w.Path()
	})

	// Rename-based save.
	tmp := filepath.Join(dir, "config.yaml.tmp")
	if err := os.WriteFile(tmp, []byte("keywords: {version: x}\n"), 0600); err != nil {
		t.Fatalf("write tmp: %v", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		t.Fatalf("rename: %v", err)
	}
	waitForEvent(t, w.Events(), func(e Event) bool { return e.Type == EventFileChanged })

	if err := os.Remove(path); err != nil {
		t.Fatalf("remove: %v", err)
	}
	waitForEvent(t, w.Events(), func(e Event) bool { return e.Type == EventFileRemoved })
}

func TestWatcher_IgnoresSiblings(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	w := &Watcher{path: path}

	if got := w.translateEvent(fsnotify.Event{Name: filepath.Join(dir, "other.yaml"), Op: fsnotify.Write}); got != nil {
		t.Fatalf("translateEvent() = %+v, want nil", *got)
	}
	if got := w.translateEvent(fsnotify.Event{Name: path, Op: fsnotify.Chmod}); got != nil {
		t.Fatalf("chmod translateEvent() = %+v, want nil", *got)
	}
	if got := w.translateEvent(fsnotify.Event{Name: "", Op: fsnotify.Write}); got != nil {
		t.Fatal("empty name should be ignored")
	}
}

func TestWatcher_TranslateEvent_Types(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	w := &Watcher{path: path}

	got := w.translateEvent(fsnotify.Event{Name: path, Op: fsnotify.Write})
	if got == nil || got.Type != EventFileChanged {
		t.Fatalf("write: got %+v, want changed", got)
	}

	got = w.translateEvent(fsnotify.Event{Name: path, Op: fsnotify.Remove})
	if got == nil || got.Type != EventFileRemoved {
		t.Fatalf("remove of missing file: got %+v, want removed", got)
	}

	if err := os.WriteFile(path, []byte("x"), 0600); err != nil {
		t.Fatalf("write: %v", err)
	}
	got = w.translateEvent(fsnotify.Event{Name: path, Op: fsnotify.Rename})
	if got == nil || got.Type != EventFileChanged {
		t.Fatalf("rename with file present: got %+v, want changed", got)
	}
}

func TestWatcher_TranslateEvent_NilWatcher(t *testing.T) {
	var w *Watcher
	if got := w.translateEvent(fsnotify.Event{Name: "/x", Op: fsnotify.Write}); got != nil {
		t.Fatal("nil watcher should return nil")
	}
}

func TestEventType_String(t *testing.T) {
	tests := []struct {
		et   EventType
		want string
	}{
		{EventFileChanged, "file_changed"},
		{EventFileRemoved, "file_removed"},
		{EventType(9), "unknown(9)"},
	}
	for _, tt := range tests {
		if got := tt.et.String(); got != tt.want {
			t.Errorf("EventType(%d).String() = %q, want %q", tt.et, got, tt.want)
		}
	}
}

func TestNew_EmptyPath(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("New(\"\") should fail")
	}
}

func TestNew_CreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "emitrack", "config.yaml")
	w, err := New(path)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer w.Close()

	if info, err := os.Stat(filepath.Dir(path)); err != nil || !info.IsDir() {
		t.Fatalf("directory not created: %v", err)
	}
}

func TestWatcher_Close(t *testing.T) {
	var nilWatcher *Watcher
	if err := nilWatcher.Close(); err != nil {
		t.Errorf("nil Close() error = %v", err)
	}

	w, err := New(filepath.Join(t.TempDir(), "config.yaml"))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("first Close() error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}
