package conversation

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/videncia/oraculo/internal/catalog"
	"github.com/videncia/oraculo/internal/chat"
	"github.com/videncia/oraculo/internal/entitlement"
	"github.com/videncia/oraculo/internal/scheduler"
	"github.com/videncia/oraculo/internal/session"
)

// mockBackend is a controllable persona backend.
type mockBackend struct {
	reply       string
	showPaywall bool
	err         error
	calls       int
	lastReq     chat.Request
}

func (m *mockBackend) Respond(ctx context.Context, req chat.Request) (*chat.Reply, error) {
	m.calls++
	m.lastReq = req
	if m.err != nil {
		return nil, m.err
	}
	return &chat.Reply{Text: m.reply, ShowPaywall: m.showPaywall}, nil
}

func testService() catalog.ServiceConfig {
	return catalog.ServiceConfig{
		ID:        "numerology",
		Name:      "Numerología",
		KeyPrefix: "numerology",
		TierTag:   "full",
		BonusKey:  "numerologyBonusConsultations",
		FreeLimit: 3,
		Welcomes:  []string{"Bienvenida, soy Alma."},
	}
}

type fixture struct {
	controller *Controller
	ents       *entitlement.Store
	backend    *mockBackend
	sched      *scheduler.Scheduler
}

func newFixture() *fixture {
	sessions := session.NewManager(session.NewMemoryStore(), time.Hour)
	ents := entitlement.NewStore(sessions)
	backend := &mockBackend{reply: "Los números te sonríen."}
	sched := scheduler.New(slog.Default())
	return &fixture{
		controller: NewController(sessions, ents, backend, sched, nil, slog.Default()),
		ents:       ents,
		backend:    backend,
		sched:      sched,
	}
}

func TestSendMessage(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	svc := testService()

	result, err := f.controller.SendMessage(ctx, "ses_1", svc, "¿Qué dice mi número?")
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}

	if result.UserMessage.Text != "¿Qué dice mi número?" {
		t.Errorf("User message mismatch: %q", result.UserMessage.Text)
	}
	if result.UserMessage.Sender != SenderUser {
		t.Errorf("Expected user sender, got %s", result.UserMessage.Sender)
	}
	if result.Reply.Text != "Los números te sonríen." {
		t.Errorf("Reply mismatch: %q", result.Reply.Text)
	}
	if result.Reply.Sender != SenderPersona {
		t.Errorf("Expected persona sender, got %s", result.Reply.Sender)
	}
	if result.FreeRemaining != 2 {
		t.Errorf("Expected 2 free remaining, got %d", result.FreeRemaining)
	}
	if result.PaywallSoon {
		t.Error("First message should not announce the paywall")
	}
}

func TestSendMessageTrimsAndRejectsEmpty(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	if _, err := f.controller.SendMessage(ctx, "ses_1", testService(), "   \n "); err != ErrEmptyMessage {
		t.Errorf("Expected ErrEmptyMessage, got %v", err)
	}
	if f.backend.calls != 0 {
		t.Error("Backend should not be called for empty input")
	}
}

func TestFreeLimitThenDenied(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	svc := testService()

	for i := 0; i < 3; i++ {
		result, err := f.controller.SendMessage(ctx, "ses_1", svc, "hola")
		if err != nil {
			t.Fatalf("Message %d failed: %v", i+1, err)
		}
		if i == 2 && !result.PaywallSoon {
			t.Error("Final free message should announce the paywall")
		}
	}

	_, err := f.controller.SendMessage(ctx, "ses_1", svc, "una consulta mas")
	if err != ErrLimitReached {
		t.Fatalf("Expected ErrLimitReached, got %v", err)
	}

	// The denied text is preserved for replay after an unlock
	pending, _ := f.ents.PendingPayment(ctx, "ses_1")
	if pending == nil || pending.MessageText != "una consulta mas" {
		t.Errorf("Denied message should be saved as pending, got %+v", pending)
	}
	if pending.TargetServiceID != svc.ID {
		t.Errorf("Pending target mismatch: %s", pending.TargetServiceID)
	}
}

func TestBackendFailureNotCharged(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	svc := testService()

	f.backend.err = chat.ErrBackendUnavailable

	_, err := f.controller.SendMessage(ctx, "ses_1", svc, "hola")
	if !errors.Is(err, chat.ErrBackendUnavailable) {
		t.Fatalf("Expected backend error, got %v", err)
	}

	snap, _ := f.ents.Snapshot(ctx, "ses_1", svc)
	if snap.FreeMessagesSent != 0 {
		t.Errorf("Failed attempt must not charge the counter, got %d", snap.FreeMessagesSent)
	}
}

func TestBonusConsultation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	svc := testService()

	for i := 0; i < 3; i++ {
		if _, err := f.controller.SendMessage(ctx, "ses_1", svc, "hola"); err != nil {
			t.Fatalf("Message %d failed: %v", i+1, err)
		}
	}
	f.ents.GrantBonusConsultations(ctx, "ses_1", svc, 2)

	result, err := f.controller.SendMessage(ctx, "ses_1", svc, "consulta de regalo")
	if err != nil {
		t.Fatalf("Bonus send failed: %v", err)
	}
	if result.SystemMessage == nil {
		t.Fatal("Bonus consumption should produce a system notice")
	}
	if result.SystemMessage.Sender != SenderSystem {
		t.Errorf("Expected system sender, got %s", result.SystemMessage.Sender)
	}
	if result.BonusLeft != 1 {
		t.Errorf("Expected 1 bonus left, got %d", result.BonusLeft)
	}

	// The free counter stays where it was; the bonus paid for this send
	snap, _ := f.ents.Snapshot(ctx, "ses_1", svc)
	if snap.FreeMessagesSent != 3 {
		t.Errorf("Counter should stay at 3, got %d", snap.FreeMessagesSent)
	}
	if snap.BonusConsultationsRemaining != 1 {
		t.Errorf("Expected 1 bonus remaining, got %d", snap.BonusConsultationsRemaining)
	}
}

func TestBonusSpentOnBackendFailure(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	svc := testService()

	for i := 0; i < 3; i++ {
		f.controller.SendMessage(ctx, "ses_1", svc, "hola")
	}
	f.ents.GrantBonusConsultations(ctx, "ses_1", svc, 1)
	f.backend.err = chat.ErrBackendUnavailable

	_, err := f.controller.SendMessage(ctx, "ses_1", svc, "hola")
	if !errors.Is(err, chat.ErrBackendUnavailable) {
		t.Fatalf("Expected backend error, got %v", err)
	}

	snap, _ := f.ents.Snapshot(ctx, "ses_1", svc)
	if snap.BonusConsultationsRemaining != 0 {
		t.Errorf("A spent bonus stays spent, got %d remaining", snap.BonusConsultationsRemaining)
	}
}

func TestBlockedConversation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	svc := testService()

	f.ents.MarkBlocked(ctx, "ses_1", svc, "msg_abc")

	_, err := f.controller.SendMessage(ctx, "ses_1", svc, "hola")
	if err != ErrBlocked {
		t.Fatalf("Expected ErrBlocked, got %v", err)
	}
	if f.backend.calls != 0 {
		t.Error("Backend should not be called on a blocked conversation")
	}
}

func TestPaidBypassesBlock(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	svc := testService()

	f.ents.MarkBlocked(ctx, "ses_1", svc, "msg_abc")
	f.ents.GrantFullAccess(ctx, "ses_1", svc)

	if _, err := f.controller.SendMessage(ctx, "ses_1", svc, "hola"); err != nil {
		t.Errorf("Paid session should send freely, got %v", err)
	}
}

func TestHistorySeedsWelcome(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	svc := testService()

	transcript, err := f.controller.History(ctx, "ses_1", svc)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(transcript.Messages) != 1 {
		t.Fatalf("Expected seeded welcome, got %d messages", len(transcript.Messages))
	}
	if transcript.Messages[0].Sender != SenderPersona {
		t.Errorf("Welcome should come from the persona, got %s", transcript.Messages[0].Sender)
	}
	if transcript.Messages[0].Text != "Bienvenida, soy Alma." {
		t.Errorf("Welcome text mismatch: %q", transcript.Messages[0].Text)
	}

	// A second read returns the same transcript, not another welcome
	again, _ := f.controller.History(ctx, "ses_1", svc)
	if len(again.Messages) != 1 {
		t.Errorf("Welcome should seed once, got %d messages", len(again.Messages))
	}
}

func TestHistoryTravelsToBackend(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	svc := testService()

	f.controller.SendMessage(ctx, "ses_1", svc, "primera")
	f.controller.SendMessage(ctx, "ses_1", svc, "segunda")

	history := f.backend.lastReq.History
	if len(history) != 2 {
		t.Fatalf("Expected 2 history turns, got %d", len(history))
	}
	if history[0].Role != "user" || history[0].Message != "primera" {
		t.Errorf("History[0] mismatch: %+v", history[0])
	}
	if history[1].Role != "assistant" {
		t.Errorf("History[1] should be the persona reply, got %s", history[1].Role)
	}
	if f.backend.lastReq.MessageCount != 1 {
		t.Errorf("Expected message count 1 before second send, got %d", f.backend.lastReq.MessageCount)
	}
}

func TestNewConsultation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	svc := testService()

	for i := 0; i < 3; i++ {
		f.controller.SendMessage(ctx, "ses_1", svc, "hola")
	}
	f.ents.MarkBlocked(ctx, "ses_1", svc, "msg_abc")

	transcript, err := f.controller.NewConsultation(ctx, "ses_1", svc)
	if err != nil {
		t.Fatalf("NewConsultation failed: %v", err)
	}
	if len(transcript.Messages) != 1 || transcript.Messages[0].Sender != SenderPersona {
		t.Error("Reset should leave only a fresh welcome")
	}
	if transcript.Entitlement.FreeMessagesSent != 0 {
		t.Errorf("Reset should zero the counter, got %d", transcript.Entitlement.FreeMessagesSent)
	}
	if transcript.BlockedMessageID != "" {
		t.Error("Reset should clear the block")
	}

	// Counting starts over
	if _, err := f.controller.SendMessage(ctx, "ses_1", svc, "hola"); err != nil {
		t.Errorf("Send after reset failed: %v", err)
	}
}

func TestReplayPending(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	svc := testService()

	f.ents.SavePendingPayment(ctx, "ses_1", entitlement.PendingPayment{
		TargetServiceID: svc.ID,
		MessageText:     "mi consulta pendiente",
		CreatedAt:       time.Now(),
	})
	f.ents.GrantFullAccess(ctx, "ses_1", svc)

	f.controller.ReplayPending(ctx, "ses_1", svc)

	if f.backend.calls != 1 {
		t.Fatalf("Expected one replayed send, got %d", f.backend.calls)
	}
	if f.backend.lastReq.UserMessage != "mi consulta pendiente" {
		t.Errorf("Replayed text mismatch: %q", f.backend.lastReq.UserMessage)
	}

	pending, _ := f.ents.PendingPayment(ctx, "ses_1")
	if pending != nil {
		t.Error("Replay should clear the pending payment")
	}
}

func TestReplayPendingIgnoresOtherService(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	svc := testService()

	f.ents.SavePendingPayment(ctx, "ses_1", entitlement.PendingPayment{
		TargetServiceID: "zodiac",
		MessageText:     "otra consulta",
	})

	f.controller.ReplayPending(ctx, "ses_1", svc)

	if f.backend.calls != 0 {
		t.Error("Replay must not fire for another service's pending message")
	}
	if pending, _ := f.ents.PendingPayment(ctx, "ses_1"); pending == nil {
		t.Error("Unrelated pending payment must survive")
	}
}

func TestPaywallScheduledAfterFinalReply(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	svc := testService()

	for i := 0; i < 3; i++ {
		f.controller.SendMessage(ctx, "ses_1", svc, "hola")
	}

	if f.sched.Pending("ses_1") == 0 {
		t.Error("Final free reply should schedule the paywall task")
	}

	// The lock has not landed yet; the delay is still running
	snap, _ := f.ents.Snapshot(ctx, "ses_1", svc)
	if snap.BlockedMessageID != "" {
		t.Error("Block should not land before the delay elapses")
	}
}

func TestPaywallCancelledByUnlockDuringDelay(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	svc := testService()

	for i := 0; i < 3; i++ {
		f.controller.SendMessage(ctx, "ses_1", svc, "hola")
	}

	// Unlock lands while the paywall delay is still running
	f.ents.GrantFullAccess(ctx, "ses_1", svc)

	time.Sleep(PaywallDelay + 300*time.Millisecond)

	snap, _ := f.ents.Snapshot(ctx, "ses_1", svc)
	if snap.BlockedMessageID != "" {
		t.Error("Paywall must not land after an unlock")
	}
}

func TestTranscriptSurvivesReloadWithTimestamps(t *testing.T) {
	sessions := session.NewManager(session.NewMemoryStore(), time.Hour)
	ents := entitlement.NewStore(sessions)
	backend := &mockBackend{reply: "Los números te sonríen."}
	ctx := context.Background()
	svc := testService()

	sent := time.Date(2026, 3, 14, 10, 30, 45, 0, time.FixedZone("CET", 3600))
	first := NewController(sessions, ents, backend, scheduler.New(slog.Default()), nil, slog.Default(),
		WithClock(func() time.Time { return sent }))

	if _, err := first.SendMessage(ctx, "ses_1", svc, "hola"); err != nil {
		t.Fatalf("First send failed: %v", err)
	}
	sent = sent.Add(2 * time.Minute)
	if _, err := first.SendMessage(ctx, "ses_1", svc, "¿y mi número?"); err != nil {
		t.Fatalf("Second send failed: %v", err)
	}

	before, err := first.History(ctx, "ses_1", svc)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}

	// A fresh controller over the same store models a page reload: the
	// transcript comes back from persisted JSON, not process memory.
	reloaded := NewController(sessions, ents, backend, scheduler.New(slog.Default()), nil, slog.Default())
	after, err := reloaded.History(ctx, "ses_1", svc)
	if err != nil {
		t.Fatalf("History after reload failed: %v", err)
	}

	if len(after.Messages) != len(before.Messages) {
		t.Fatalf("Reloaded %d messages, want %d", len(after.Messages), len(before.Messages))
	}
	for i, want := range before.Messages {
		got := after.Messages[i]
		if got.ID != want.ID || got.Sender != want.Sender || got.Text != want.Text {
			t.Errorf("Message %d = %+v, want %+v", i, got, want)
		}
		if !got.Timestamp.Equal(want.Timestamp) {
			t.Errorf("Message %d timestamp = %s, want %s", i, got.Timestamp, want.Timestamp)
		}
	}
}

func TestBackendPaywallSignalHonored(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	svc := testService()

	// First send, free allowance far from exhausted, but the backend
	// says the paywall should come up.
	f.backend.showPaywall = true
	result, err := f.controller.SendMessage(ctx, "ses_1", svc, "hola")
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if !result.PaywallSoon {
		t.Error("Backend paywall signal should set PaywallSoon")
	}
	if f.sched.Pending("ses_1") == 0 {
		t.Error("Backend paywall signal should schedule the block")
	}
}

func TestBackendPaywallSignalIgnoredWhenPaid(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	svc := testService()

	f.ents.GrantFullAccess(ctx, "ses_1", svc)
	f.backend.showPaywall = true

	result, err := f.controller.SendMessage(ctx, "ses_1", svc, "hola")
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if result.PaywallSoon {
		t.Error("Paid access must ignore the backend paywall signal")
	}
	if f.sched.Pending("ses_1") != 0 {
		t.Error("No block should be scheduled for paid access")
	}
}
