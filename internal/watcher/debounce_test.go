package watcher

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestDebouncer_CoalescesBurst(t *testing.T) {
	d := newDebouncer(30 * time.Millisecond)
	var calls atomic.Int32

	for i := 0; i < 5; i++ {
		d.Trigger("config.yaml", func() { calls.Add(1) })
		time.Sleep(5 * time.Millisecond)
	}

	time.Sleep(100 * time.Millisecond)
	if got := calls.Load(); got != 1 {
		t.Fatalf("calls = %d, want 1", got)
	}
	if d.Pending() != 0 {
		t.Fatalf("Pending() = %d, want 0", d.Pending())
	}
}

func TestDebouncer_LastCallWins(t *testing.T) {
	d := newDebouncer(20 * time.Millisecond)
	var got atomic.Value

	d.Trigger("k", func() { got.Store("first") })
	d.Trigger("k", func() { got.Store("second") })

	time.Sleep(80 * time.Millisecond)
	if v, _ := got.Load().(string); v != "second" {
		t.Fatalf("got %q, want %q", v, "second")
	}
}

func TestNewDebouncer_ZeroDelay(t *testing.T) {
	d := newDebouncer(0)
	if d.delay != defaultDebounceDelay {
		t.Errorf("delay = %v, want %v default", d.delay, defaultDebounceDelay)
	}
}

func TestNewDebouncer_NegativeDelay(t *testing.T) {
	d := newDebouncer(-50 * time.Millisecond)
	if d.delay != defaultDebounceDelay {
		t.Errorf("delay = %v, want %v default", d.delay, defaultDebounceDelay)
	}
}

func TestDebouncer_Nil(t *testing.T) {
	var d *debouncer
	ran := false
	d.Trigger("k", func() { ran = true })
	if !ran {
		t.Error("nil debouncer should run fn immediately")
	}
	if d.Pending() != 0 {
		t.Error("nil debouncer has no pending calls")
	}
	d.Stop()
}

func TestDebouncer_EmptyKeyRunsImmediately(t *testing.T) {
	d := newDebouncer(time.Hour)
	ran := 0
	d.Trigger("", func() { ran++ })
	d.Trigger("", func() { ran++ })
	if ran != 2 {
		t.Errorf("ran = %d, want 2", ran)
	}
}

func TestDebouncer_StopCancelsPending(t *testing.T) {
	d := newDebouncer(20 * time.Millisecond)
	var calls atomic.Int32

	d.Trigger("a", func() { calls.Add(1) })
	d.Trigger("b", func() { calls.Add(1) })
	if d.Pending() != 2 {
		t.Fatalf("Pending() = %d, want 2", d.Pending())
	}
	d.Stop()
	d.Trigger("c", func() { calls.Add(1) })

	time.Sleep(60 * time.Millisecond)
	if got := calls.Load(); got != 0 {
		t.Fatalf("calls = %d, want 0", got)
	}
}

func TestDebouncer_MultipleKeys(t *testing.T) {
	d := newDebouncer(20 * time.Millisecond)
	var calls atomic.Int32

	d.Trigger("a.yaml", func() { calls.Add(1) })
	d.Trigger("b.yaml", func() { calls.Add(1) })

	time.Sleep(80 * time.Millisecond)
	if got := calls.Load(); got != 2 {
		t.Fatalf("calls = %d, want 2", got)
	}
}
