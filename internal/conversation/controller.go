package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/videncia/oraculo/internal/catalog"
	"github.com/videncia/oraculo/internal/chat"
	"github.com/videncia/oraculo/internal/entitlement"
	"github.com/videncia/oraculo/internal/idgen"
	"github.com/videncia/oraculo/internal/metrics"
	"github.com/videncia/oraculo/internal/scheduler"
	"github.com/videncia/oraculo/internal/session"
	"github.com/videncia/oraculo/internal/traces"
)

// PaywallDelay is how long after the final free reply the conversation
// locks. Gives the visitor a moment to read before the gate appears.
const PaywallDelay = 2 * time.Second

// historyLimit caps how many prior turns travel to the backend.
const historyLimit = 10

// EventSink receives session-scoped conversation events for live delivery.
type EventSink interface {
	Emit(sessionID, eventType string, data map[string]any)
}

// Controller drives one conversation per service per session.
type Controller struct {
	sessions     *session.Manager
	entitlements *entitlement.Store
	backend      chat.Backend
	sched        *scheduler.Scheduler
	sink         EventSink
	logger       *slog.Logger

	mu       sync.Mutex
	inFlight map[string]struct{} // sessionID/serviceID

	now     func() time.Time
	randInt func(n int) int
}

// ControllerOption customizes a Controller.
type ControllerOption func(*Controller)

// WithClock overrides the controller clock. Used in tests.
func WithClock(now func() time.Time) ControllerOption {
	return func(c *Controller) { c.now = now }
}

// WithRandInt overrides welcome selection randomness. Used in tests.
func WithRandInt(f func(n int) int) ControllerOption {
	return func(c *Controller) { c.randInt = f }
}

// NewController creates a conversation controller. sink may be nil.
func NewController(sessions *session.Manager, ents *entitlement.Store, backend chat.Backend, sched *scheduler.Scheduler, sink EventSink, logger *slog.Logger, opts ...ControllerOption) *Controller {
	c := &Controller{
		sessions:     sessions,
		entitlements: ents,
		backend:      backend,
		sched:        sched,
		sink:         sink,
		logger:       logger,
		inFlight:     make(map[string]struct{}),
		now:          time.Now,
		randInt:      rand.Intn,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// History returns the transcript for a service, seeding the persona's
// welcome message on first visit.
func (c *Controller) History(ctx context.Context, sid string, svc catalog.ServiceConfig) (*Transcript, error) {
	messages, err := c.loadMessages(ctx, sid, svc)
	if err != nil {
		return nil, err
	}
	if len(messages) == 0 {
		welcome := c.newWelcome(svc)
		messages = []Message{welcome}
		if err := c.saveMessages(ctx, sid, svc, messages); err != nil {
			return nil, err
		}
	}
	snap, err := c.entitlements.Snapshot(ctx, sid, svc)
	if err != nil {
		return nil, err
	}
	return &Transcript{
		Messages:         messages,
		BlockedMessageID: snap.BlockedMessageID,
		Entitlement:      snap,
	}, nil
}

// SendMessage runs the full send flow: gate check, bonus consumption,
// backend call, reply persistence, and paywall scheduling. A denied send
// records a pending payment context so the text can be replayed after an
// unlock. A backend failure leaves the free counter untouched.
func (c *Controller) SendMessage(ctx context.Context, sid string, svc catalog.ServiceConfig, text string) (*SendResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}

	ctx, span := traces.StartSpan(ctx, "conversation.SendMessage",
		traces.SessionID(sid), traces.ServiceID(svc.ID))
	defer span.End()

	key := sid + "/" + svc.ID
	c.mu.Lock()
	if _, busy := c.inFlight[key]; busy {
		c.mu.Unlock()
		return nil, ErrBusy
	}
	c.inFlight[key] = struct{}{}
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.inFlight, key)
		c.mu.Unlock()
	}()

	snap, err := c.entitlements.Snapshot(ctx, sid, svc)
	if err != nil {
		return nil, err
	}
	if snap.BlockedMessageID != "" && !snap.HasPaidFullAccess {
		c.savePending(ctx, sid, svc, text)
		return nil, ErrBlocked
	}

	allowed, err := c.entitlements.MayUserSend(ctx, sid, svc)
	if err != nil {
		return nil, err
	}
	if !allowed {
		c.savePending(ctx, sid, svc, text)
		return nil, ErrLimitReached
	}

	// The bonus consultation is spent up front. A spent bonus stays spent
	// even if the backend call below fails.
	var systemMsg *Message
	bonusConsumed := false
	bonusLeft := snap.BonusConsultationsRemaining
	if !snap.HasPaidFullAccess && snap.FreeMessagesSent >= snap.FreeLimit {
		consumed, remaining, err := c.entitlements.ConsumeBonusConsultation(ctx, sid, svc)
		if err != nil {
			return nil, err
		}
		if !consumed {
			c.savePending(ctx, sid, svc, text)
			return nil, ErrLimitReached
		}
		bonusConsumed = true
		bonusLeft = remaining
		m := c.newMessage(SenderSystem, bonusNotice(remaining))
		systemMsg = &m
	}

	messages, err := c.loadMessages(ctx, sid, svc)
	if err != nil {
		return nil, err
	}
	history := toHistory(messages)

	userMsg := c.newMessage(SenderUser, text)
	if systemMsg != nil {
		messages = append(messages, *systemMsg)
	}
	messages = append(messages, userMsg)
	if err := c.saveMessages(ctx, sid, svc, messages); err != nil {
		return nil, err
	}

	backendStart := time.Now()
	reply, err := c.backend.Respond(ctx, chat.Request{
		Service:      svc,
		UserMessage:  text,
		History:      history,
		MessageCount: snap.FreeMessagesSent,
		Premium:      snap.HasPaidFullAccess,
	})
	metrics.ChatBackendDuration.Observe(time.Since(backendStart).Seconds())
	if err != nil {
		c.logger.Error("persona backend failed",
			"session", sid, "service", svc.ID, "error", err)
		return nil, err
	}

	replyMsg := c.newMessage(SenderPersona, reply.Text)
	messages = append(messages, replyMsg)
	if err := c.saveMessages(ctx, sid, svc, messages); err != nil {
		return nil, err
	}

	if !snap.HasPaidFullAccess && !bonusConsumed {
		if err := c.entitlements.RecordMessageSent(ctx, sid, svc); err != nil {
			return nil, err
		}
	}

	after, err := c.entitlements.Snapshot(ctx, sid, svc)
	if err != nil {
		return nil, err
	}
	freeRemaining := after.FreeLimit - after.FreeMessagesSent
	if freeRemaining < 0 {
		freeRemaining = 0
	}

	result := &SendResult{
		UserMessage:   userMsg,
		Reply:         replyMsg,
		SystemMessage: systemMsg,
		FreeRemaining: freeRemaining,
		BonusLeft:     bonusLeft,
	}

	// The backend may signal the paywall explicitly; otherwise it lands
	// when the free allowance is exhausted with no bonuses left.
	limitHit := after.FreeMessagesSent >= after.FreeLimit && bonusLeft == 0
	if !after.HasPaidFullAccess && (reply.ShowPaywall || limitHit) {
		result.PaywallSoon = true
		c.schedulePaywall(sid, svc, replyMsg.ID)
	}

	c.emit(sid, "chat.message", map[string]any{
		"service": svc.ID,
		"reply":   replyMsg,
		"paywall": result.PaywallSoon,
	})
	return result, nil
}

// NewConsultation starts the conversation over: free counter reset,
// paywall cleared, transcript replaced by a fresh welcome. Paid access
// survives.
func (c *Controller) NewConsultation(ctx context.Context, sid string, svc catalog.ServiceConfig) (*Transcript, error) {
	c.sched.Cancel(sid, paywallTask(svc))
	if err := c.entitlements.ResetConversation(ctx, sid, svc); err != nil {
		return nil, err
	}
	welcome := c.newWelcome(svc)
	messages := []Message{welcome}
	if err := c.saveMessages(ctx, sid, svc, messages); err != nil {
		return nil, err
	}
	snap, err := c.entitlements.Snapshot(ctx, sid, svc)
	if err != nil {
		return nil, err
	}
	return &Transcript{Messages: messages, Entitlement: snap}, nil
}

// ReplayPending re-sends the message a visitor typed into a closed gate,
// after an unlock removed the gate. No-op when nothing is pending for the
// service.
func (c *Controller) ReplayPending(ctx context.Context, sid string, svc catalog.ServiceConfig) {
	pending, err := c.entitlements.PendingPayment(ctx, sid)
	if err != nil || pending == nil || pending.TargetServiceID != svc.ID {
		return
	}
	if err := c.entitlements.ClearPendingPayment(ctx, sid); err != nil {
		c.logger.Error("failed to clear pending payment", "session", sid, "error", err)
		return
	}
	if _, err := c.SendMessage(ctx, sid, svc, pending.MessageText); err != nil {
		c.logger.Error("failed to replay pending message",
			"session", sid, "service", svc.ID, "error", err)
	}
}

// DropSession cancels any scheduled paywalls for an ended session.
func (c *Controller) DropSession(sid string) {
	c.sched.CancelSession(sid)
}

func (c *Controller) schedulePaywall(sid string, svc catalog.ServiceConfig, messageID string) {
	c.sched.Schedule(sid, paywallTask(svc), PaywallDelay, func() {
		ctx := context.Background()
		// Re-check: a wheel prize or payment may have landed during the delay.
		allowed, err := c.entitlements.MayUserSend(ctx, sid, svc)
		if err != nil {
			c.logger.Error("paywall check failed", "session", sid, "service", svc.ID, "error", err)
			return
		}
		if allowed {
			return
		}
		if err := c.entitlements.MarkBlocked(ctx, sid, svc, messageID); err != nil {
			c.logger.Error("failed to mark conversation blocked",
				"session", sid, "service", svc.ID, "error", err)
			return
		}
		metrics.PaywallTriggeredTotal.WithLabelValues(svc.ID).Inc()
		c.emit(sid, "chat.paywall", map[string]any{
			"service":          svc.ID,
			"blockedMessageId": messageID,
		})
	})
}

func paywallTask(svc catalog.ServiceConfig) string {
	return "paywall_" + svc.ID
}

func (c *Controller) savePending(ctx context.Context, sid string, svc catalog.ServiceConfig, text string) {
	err := c.entitlements.SavePendingPayment(ctx, sid, entitlement.PendingPayment{
		TargetServiceID: svc.ID,
		MessageText:     text,
		CreatedAt:       c.now(),
	})
	if err != nil {
		c.logger.Error("failed to save pending payment", "session", sid, "error", err)
	}
}

func (c *Controller) loadMessages(ctx context.Context, sid string, svc catalog.ServiceConfig) ([]Message, error) {
	var messages []Message
	if _, err := c.sessions.GetJSON(ctx, sid, svc.MessagesKey(), &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

func (c *Controller) saveMessages(ctx context.Context, sid string, svc catalog.ServiceConfig, messages []Message) error {
	return c.sessions.PutJSON(ctx, sid, svc.MessagesKey(), messages)
}

func (c *Controller) newMessage(sender Sender, text string) Message {
	return Message{
		ID:        idgen.WithPrefix("msg_"),
		Sender:    sender,
		Text:      text,
		Timestamp: c.now(),
	}
}

func (c *Controller) newWelcome(svc catalog.ServiceConfig) Message {
	text := svc.Welcomes[c.randInt(len(svc.Welcomes))]
	return c.newMessage(SenderPersona, text)
}

func (c *Controller) emit(sid, eventType string, data map[string]any) {
	if c.sink != nil {
		c.sink.Emit(sid, eventType, data)
	}
}

// toHistory converts the stored transcript into backend turns. System
// notices stay local.
func toHistory(messages []Message) []chat.HistoryEntry {
	start := 0
	if len(messages) > historyLimit {
		start = len(messages) - historyLimit
	}
	history := make([]chat.HistoryEntry, 0, len(messages)-start)
	for _, m := range messages[start:] {
		switch m.Sender {
		case SenderUser:
			history = append(history, chat.HistoryEntry{Role: "user", Message: m.Text})
		case SenderPersona:
			history = append(history, chat.HistoryEntry{Role: "assistant", Message: m.Text})
		}
	}
	return history
}

func bonusNotice(remaining int) string {
	if remaining == 1 {
		return "Has usado una consulta adicional. Te queda 1 consulta."
	}
	return fmt.Sprintf("Has usado una consulta adicional. Te quedan %d consultas.", remaining)
}
