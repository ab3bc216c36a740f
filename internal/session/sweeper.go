package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Sweeper periodically evicts expired sessions from a MemoryStore and
// notifies listeners so per-session resources (scheduled tasks, state
// machines) are torn down with them.
type Sweeper struct {
	store     *MemoryStore
	interval  time.Duration
	onEvicted func(sessionID string)
	logger    *slog.Logger
	stop      chan struct{}
}

// NewSweeper creates a session sweeper. onEvicted may be nil.
func NewSweeper(store *MemoryStore, onEvicted func(sessionID string), logger *slog.Logger) *Sweeper {
	return &Sweeper{
		store:     store,
		interval:  time.Minute,
		onEvicted: onEvicted,
		logger:    logger,
		stop:      make(chan struct{}, 1),
	}
}

// Start begins the sweep loop. Call in a goroutine.
func (s *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			s.safeSweep()
		}
	}
}

// Stop signals the sweeper to stop.
func (s *Sweeper) Stop() {
	select {
	case s.stop <- struct{}{}:
	default:
	}
}

func (s *Sweeper) safeSweep() {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic in session sweeper", "panic", fmt.Sprint(r))
		}
	}()

	removed := s.store.SweepExpired(time.Now())
	if len(removed) == 0 {
		return
	}
	for _, id := range removed {
		if s.onEvicted != nil {
			s.onEvicted(id)
		}
	}
	s.logger.Info("swept expired sessions", "count", len(removed))
}
