// Package watcher reports changes to a single file, such as the config file,
// after bursts of writes settle.
package watcher

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// EventType is the kind of change detected.
type EventType int

const (
	EventFileChanged EventType = iota
	EventFileRemoved
)

func (t EventType) String() string {
	switch t {
	case EventFileChanged:
		return "file_changed"
	case EventFileRemoved:
		return "file_removed"
	default:
		return fmt.Sprintf("unknown(%d)", int(t))
	}
}

// Event is a settled change to the watched file.
type Event struct {
	Type EventType
	Path string
}

// Watcher monitors one file. It watches the parent directory so that
// editors that save by rename are still observed.
type Watcher struct {
	path string

	fsWatcher *fsnotify.Watcher
	events    chan Event
	errors    chan error
	done      chan struct{}
	closeOnce sync.Once

	debouncer *debouncer

	wg sync.WaitGroup
}

const (
	defaultEventsBuffer = 16
	defaultErrorsBuffer = 10
)

// New watches path with the default debounce delay (100ms).
func New(path string) (*Watcher, error) {
	return NewWithDebounceDelay(path, defaultDebounceDelay)
}

// NewWithDebounceDelay watches path with a configurable debounce delay. The
// file need not exist yet, but its directory is created if missing.
func NewWithDebounceDelay(path string, delay time.Duration) (*Watcher, error) {
	if path == "" {
		return nil, fmt.Errorf("path is required")
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("abs path: %w", err)
	}

	dir := filepath.Dir(absPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("ensure dir exists: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := fsw.Add(dir); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}

	w := &Watcher{
		path:      absPath,
		fsWatcher: fsw,
		events:    make(chan Event, defaultEventsBuffer),
		errors:    make(chan error, defaultErrorsBuffer),
		done:      make(chan struct{}),
		debouncer: newDebouncer(delay),
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.run()
	}()

	return w, nil
}

// Path returns the absolute path being watched.
func (w *Watcher) Path() string { return w.path }

func (w *Watcher) run() {
	for {
		select {
		case <-w.done:
			return
		case evt, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if translated := w.translateEvent(evt); translated != nil {
				e := *translated
				w.debouncer.Trigger(e.Path, func() { w.emitEvent(e) })
			}
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.emitError(err)
		}
	}
}

// Events returns debounced file events. The channel is never closed; stop
// reading after Close.
func (w *Watcher) Events() <-chan Event { return w.events }

// Errors returns watcher errors.
func (w *Watcher) Errors() <-chan error { return w.errors }

// Close stops the watcher and releases OS resources. Safe to call twice.
func (w *Watcher) Close() error {
	if w == nil {
		return nil
	}

	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		w.debouncer.Stop()
		err = w.fsWatcher.Close()
	})
	w.wg.Wait()
	return err
}

func (w *Watcher) emitEvent(e Event) {
	select {
	case <-w.done:
	case w.events <- e:
	default:
		// Drop if the consumer is stalled; a later write will emit again.
	}
}

func (w *Watcher) emitError(err error) {
	select {
	case w.errors <- err:
	default:
	}
}

// translateEvent keeps only events on the watched file. The last event of a
// burst wins, so a Remove followed by a Create (rename-based save) reports a
// change.
func (w *Watcher) translateEvent(e fsnotify.Event) *Event {
	if w == nil || e.Name == "" {
		return nil
	}
	if filepath.Clean(e.Name) != w.path {
		return nil
	}
	if e.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return nil
	}

	t := EventFileChanged
	if e.Op&(fsnotify.Remove|fsnotify.Rename) != 0 && !fileExists(w.path) {
		t = EventFileRemoved
	}
	return &Event{Type: t, Path: w.path}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
