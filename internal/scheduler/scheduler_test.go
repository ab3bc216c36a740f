package scheduler

import (
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.Default()
}

func TestScheduleFires(t *testing.T) {
	s := New(testLogger())

	fired := make(chan struct{})
	s.Schedule("ses_1", "task", 10*time.Millisecond, func() {
		close(fired)
	})

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("Task never fired")
	}

	// Fired tasks remove themselves
	deadline := time.Now().Add(time.Second)
	for s.Pending("ses_1") != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("Expected 0 pending tasks, got %d", s.Pending("ses_1"))
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestCancel(t *testing.T) {
	s := New(testLogger())

	var fired atomic.Bool
	s.Schedule("ses_1", "task", 30*time.Millisecond, func() {
		fired.Store(true)
	})
	s.Cancel("ses_1", "task")

	time.Sleep(80 * time.Millisecond)
	if fired.Load() {
		t.Error("Cancelled task should not fire")
	}
	if n := s.Pending("ses_1"); n != 0 {
		t.Errorf("Expected 0 pending tasks, got %d", n)
	}
}

func TestSameNameReplaces(t *testing.T) {
	s := New(testLogger())

	var first, second atomic.Bool
	s.Schedule("ses_1", "task", 30*time.Millisecond, func() { first.Store(true) })
	s.Schedule("ses_1", "task", 30*time.Millisecond, func() { second.Store(true) })

	time.Sleep(100 * time.Millisecond)
	if first.Load() {
		t.Error("Replaced task should not fire")
	}
	if !second.Load() {
		t.Error("Replacement task should fire")
	}
}

func TestCancelSession(t *testing.T) {
	s := New(testLogger())

	var count atomic.Int32
	s.Schedule("ses_1", "a", 30*time.Millisecond, func() { count.Add(1) })
	s.Schedule("ses_1", "b", 30*time.Millisecond, func() { count.Add(1) })
	s.Schedule("ses_2", "a", 30*time.Millisecond, func() { count.Add(1) })

	s.CancelSession("ses_1")

	time.Sleep(100 * time.Millisecond)
	if got := count.Load(); got != 1 {
		t.Errorf("Expected only the other session's task to fire, got %d", got)
	}
}

func TestPanicInTaskIsContained(t *testing.T) {
	s := New(testLogger())

	s.Schedule("ses_1", "boom", 10*time.Millisecond, func() {
		panic("task panic")
	})

	fired := make(chan struct{})
	s.Schedule("ses_1", "after", 40*time.Millisecond, func() {
		close(fired)
	})

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("Scheduler stopped working after a task panic")
	}
}

func TestScopesAreIndependent(t *testing.T) {
	s := New(testLogger())

	var fired atomic.Bool
	s.Schedule("ses_1", "task", 30*time.Millisecond, func() { fired.Store(true) })

	// Cancelling the same name under another session must not touch it
	s.Cancel("ses_2", "task")

	time.Sleep(80 * time.Millisecond)
	if !fired.Load() {
		t.Error("Task under a different session was cancelled")
	}
}
