// Package scheduler runs named delayed tasks scoped to a session.
//
// The original UI scattered free-floating timers (paywall reveal delays,
// wheel animation waits, post-payment replays). Here every delayed action
// is a named task owned by a session, so it can be cancelled individually,
// replaced by a newer schedule under the same name, or torn down wholesale
// when the session ends.
package scheduler

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Scheduler tracks pending delayed tasks by session and name.
type Scheduler struct {
	mu     sync.Mutex
	tasks  map[string]map[string]*time.Timer // keyed by session ID, then task name
	logger *slog.Logger
}

// New creates an empty scheduler.
func New(logger *slog.Logger) *Scheduler {
	return &Scheduler{
		tasks:  make(map[string]map[string]*time.Timer),
		logger: logger,
	}
}

// Schedule runs fn after d. A task with the same session and name replaces
// any pending one. fn runs on its own goroutine with panic recovery.
func (s *Scheduler) Schedule(sessionID, name string, d time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byName, ok := s.tasks[sessionID]
	if !ok {
		byName = make(map[string]*time.Timer)
		s.tasks[sessionID] = byName
	}
	if prev, ok := byName[name]; ok {
		prev.Stop()
	}

	byName[name] = time.AfterFunc(d, func() {
		s.remove(sessionID, name)
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("panic in scheduled task",
					"session", sessionID, "task", name, "panic", fmt.Sprint(r))
			}
		}()
		fn()
	})
}

// Cancel stops a single pending task. Safe when no such task exists.
func (s *Scheduler) Cancel(sessionID, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if byName, ok := s.tasks[sessionID]; ok {
		if t, ok := byName[name]; ok {
			t.Stop()
			delete(byName, name)
		}
		if len(byName) == 0 {
			delete(s.tasks, sessionID)
		}
	}
}

// CancelSession stops every pending task for a session. Called on session
// teardown.
func (s *Scheduler) CancelSession(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if byName, ok := s.tasks[sessionID]; ok {
		for _, t := range byName {
			t.Stop()
		}
		delete(s.tasks, sessionID)
	}
}

// Pending returns how many tasks are scheduled for a session.
func (s *Scheduler) Pending(sessionID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks[sessionID])
}

func (s *Scheduler) remove(sessionID, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if byName, ok := s.tasks[sessionID]; ok {
		delete(byName, name)
		if len(byName) == 0 {
			delete(s.tasks, sessionID)
		}
	}
}
