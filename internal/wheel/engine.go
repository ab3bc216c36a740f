package wheel

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"go.opentelemetry.io/otel/codes"

	"github.com/videncia/oraculo/internal/catalog"
	"github.com/videncia/oraculo/internal/entitlement"
	"github.com/videncia/oraculo/internal/scheduler"
	"github.com/videncia/oraculo/internal/traces"
)

// RevealDelay is how long a spin stays in the spinning phase before the
// result becomes visible. Matches the front-end wheel animation.
const RevealDelay = 4 * time.Second

const revealTask = "wheel_reveal"

// EventSink receives session-scoped wheel events for live delivery.
type EventSink interface {
	Emit(sessionID, eventType string, data map[string]any)
}

type sessionState struct {
	state      State
	lastResult *Result
}

// Engine drives the wheel for every session.
type Engine struct {
	entitlements *entitlement.Store
	sched        *scheduler.Scheduler
	sink         EventSink
	logger       *slog.Logger

	mu       sync.Mutex
	sessions map[string]*sessionState

	now       func() time.Time
	randFloat func() float64
}

// EngineOption customizes an Engine.
type EngineOption func(*Engine)

// WithClock overrides the engine clock. Used in tests.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// WithRand overrides the prize draw randomness. Used in tests.
func WithRand(f func() float64) EngineOption {
	return func(e *Engine) { e.randFloat = f }
}

// NewEngine creates a wheel engine. sink may be nil.
func NewEngine(ents *entitlement.Store, sched *scheduler.Scheduler, sink EventSink, logger *slog.Logger, opts ...EngineOption) *Engine {
	e := &Engine{
		entitlements: ents,
		sched:        sched,
		sink:         sink,
		logger:       logger,
		sessions:     make(map[string]*sessionState),
		now:          time.Now,
		randFloat:    rand.Float64,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Status reports the wheel phase and spin balances for a session.
func (e *Engine) Status(ctx context.Context, sessionID string) (*Status, error) {
	ws, err := e.entitlements.Wheel(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	ss := e.sessions[sessionID]
	state := StateIdle
	var last *Result
	if ss != nil {
		state = ss.state
		last = ss.lastResult
	}
	e.mu.Unlock()

	today := e.now()
	daily := !ws.DailySpinUsed(today)
	st := &Status{
		State:           state,
		DailyAvailable:  daily,
		ExtraSpins:      ws.ExtraSpinsAvailable,
		SpinsRemaining:  ws.ExtraSpinsAvailable,
		RevealDelayMsec: RevealDelay.Milliseconds(),
	}
	if daily {
		st.SpinsRemaining++
	}
	if ws.LastDailySpinDate != nil {
		st.LastDailySpin = ws.LastDailySpinDate.Format(entitlement.DailySpinDateLayout)
	}
	if state == StateResultShown {
		st.PendingResult = last
	}
	return st, nil
}

// Spin consumes a spin, draws a prize from the service's table, applies it,
// and starts the reveal countdown. The spin currency is gone even if the
// caller never looks at the result.
func (e *Engine) Spin(ctx context.Context, sessionID string, svc catalog.ServiceConfig) (*Result, error) {
	ctx, span := traces.StartSpan(ctx, "wheel.Spin",
		traces.SessionID(sessionID), traces.ServiceID(svc.ID))
	defer span.End()

	e.mu.Lock()
	ss := e.sessions[sessionID]
	if ss == nil {
		ss = &sessionState{state: StateIdle}
		e.sessions[sessionID] = ss
	}
	if ss.state == StateSpinning {
		e.mu.Unlock()
		return nil, ErrSpinInFlight
	}
	ss.state = StateSpinning
	ss.lastResult = nil
	e.mu.Unlock()

	result, err := e.spinLockedOut(ctx, sessionID, svc)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "spin failed")
		e.mu.Lock()
		ss.state = StateIdle
		e.mu.Unlock()
		return nil, err
	}
	span.SetAttributes(traces.Prize(string(result.Prize.Kind)))

	e.mu.Lock()
	ss.lastResult = result
	e.mu.Unlock()

	e.emit(sessionID, "wheel.spinning", map[string]any{
		"revealDelayMs": RevealDelay.Milliseconds(),
	})
	e.sched.Schedule(sessionID, revealTask, RevealDelay, func() {
		e.reveal(sessionID)
	})
	return result, nil
}

func (e *Engine) spinLockedOut(ctx context.Context, sessionID string, svc catalog.ServiceConfig) (*Result, error) {
	ws, err := e.entitlements.Wheel(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	// Extra spins are spent before the daily free spin, so an unused daily
	// spin stays available across the day boundary while extras drain.
	now := e.now()
	var source SpinSource
	switch {
	case ws.ExtraSpinsAvailable > 0:
		consumed, err := e.entitlements.ConsumeExtraSpin(ctx, sessionID)
		if err != nil {
			return nil, fmt.Errorf("failed to consume extra spin: %w", err)
		}
		if !consumed {
			return nil, ErrNoSpins
		}
		source = SourceExtra
	case !ws.DailySpinUsed(now):
		if err := e.entitlements.MarkDailySpinUsed(ctx, sessionID, now); err != nil {
			return nil, fmt.Errorf("failed to consume daily spin: %w", err)
		}
		source = SourceDaily
	default:
		return nil, ErrNoSpins
	}

	prize := Draw(svc.PrizeTable, e.randFloat())
	if err := e.apply(ctx, sessionID, svc, prize); err != nil {
		// Spin currency stays consumed. Log and surface the grant failure.
		e.logger.Error("failed to apply wheel prize",
			"session", sessionID, "service", svc.ID, "prize", prize.Kind, "error", err)
		return nil, err
	}

	return &Result{
		Prize:      prize,
		Source:     source,
		SpunAt:     now,
		RevealedAt: now.Add(RevealDelay),
	}, nil
}

func (e *Engine) apply(ctx context.Context, sessionID string, svc catalog.ServiceConfig, prize catalog.Prize) error {
	switch prize.Kind {
	case catalog.PrizeExtraSpins:
		return e.entitlements.GrantExtraSpins(ctx, sessionID, prize.Count)
	case catalog.PrizeBonusConsultations:
		return e.entitlements.GrantBonusConsultations(ctx, sessionID, svc, prize.Count)
	case catalog.PrizeFullUnlock:
		return e.entitlements.GrantFullAccess(ctx, sessionID, svc)
	case catalog.PrizeTryAgain:
		return nil
	default:
		return fmt.Errorf("unknown prize kind %q", prize.Kind)
	}
}

func (e *Engine) reveal(sessionID string) {
	e.mu.Lock()
	ss := e.sessions[sessionID]
	var result *Result
	if ss != nil && ss.state == StateSpinning {
		ss.state = StateResultShown
		result = ss.lastResult
	}
	e.mu.Unlock()

	if result == nil {
		return
	}
	e.emit(sessionID, "wheel.result", map[string]any{
		"prize":  result.Prize,
		"source": result.Source,
	})
}

// Close acknowledges a shown result and returns the wheel to idle.
func (e *Engine) Close(sessionID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	ss := e.sessions[sessionID]
	if ss == nil || ss.state != StateResultShown {
		return ErrNotShowingResult
	}
	ss.state = StateIdle
	ss.lastResult = nil
	return nil
}

// DropSession discards in-memory wheel state for an ended session.
func (e *Engine) DropSession(sessionID string) {
	e.sched.Cancel(sessionID, revealTask)
	e.mu.Lock()
	delete(e.sessions, sessionID)
	e.mu.Unlock()
}

func (e *Engine) emit(sessionID, eventType string, data map[string]any) {
	if e.sink != nil {
		e.sink.Emit(sessionID, eventType, data)
	}
}

// Draw picks a prize from the table using r in [0,1).
// Weights are cumulative; a table whose weights sum below 1 falls through
// to the last entry.
func Draw(table []catalog.Prize, r float64) catalog.Prize {
	cum := 0.0
	for _, p := range table {
		cum += p.Weight
		if r < cum {
			return p
		}
	}
	return table[len(table)-1]
}
