package payment

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/videncia/oraculo/internal/catalog"
	"github.com/videncia/oraculo/internal/entitlement"
	"github.com/videncia/oraculo/internal/scheduler"
	"github.com/videncia/oraculo/internal/session"
)

// mockProvider is a controllable checkout provider.
type mockProvider struct {
	checkout   *Checkout
	createErr  error
	paid       bool
	verifyErr  error
	lastParams CheckoutParams
}

func (m *mockProvider) CreateCheckout(_ context.Context, params CheckoutParams) (*Checkout, error) {
	m.lastParams = params
	if m.createErr != nil {
		return nil, m.createErr
	}
	return m.checkout, nil
}

func (m *mockProvider) Verify(_ context.Context, _ string) (bool, error) {
	return m.paid, m.verifyErr
}

// mockReplayer records replay requests.
type mockReplayer struct {
	mu    sync.Mutex
	calls []string
}

func (m *mockReplayer) ReplayPending(_ context.Context, sid string, svc catalog.ServiceConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, sid+"/"+svc.ID)
}

func (m *mockReplayer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// mockSink records emitted events.
type mockSink struct {
	mu     sync.Mutex
	events []string
}

func (m *mockSink) Emit(sid, eventType string, _ map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, sid+"/"+eventType)
}

func (m *mockSink) has(want string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.events {
		if e == want {
			return true
		}
	}
	return false
}

func testService() catalog.ServiceConfig {
	return catalog.ServiceConfig{
		ID:         "numerology",
		Name:       "Numerología",
		KeyPrefix:  "numerology",
		TierTag:    "full",
		BonusKey:   "numerologyBonusConsultations",
		FreeLimit:  3,
		PriceCents: 1900,
		Currency:   "eur",
	}
}

type flowFixture struct {
	flow     *Flow
	ents     *entitlement.Store
	provider *mockProvider
	replayer *mockReplayer
	sink     *mockSink
}

func newFlowFixture() *flowFixture {
	ents := entitlement.NewStore(session.NewManager(session.NewMemoryStore(), time.Hour))
	provider := &mockProvider{checkout: &Checkout{ID: "ck_test", URL: "https://pay.example/ck_test"}}
	replayer := &mockReplayer{}
	sink := &mockSink{}
	return &flowFixture{
		flow:     NewFlow(provider, ents, scheduler.New(slog.Default()), replayer, sink, "https://oraculo.example", slog.Default()),
		ents:     ents,
		provider: provider,
		replayer: replayer,
		sink:     sink,
	}
}

func TestInitiateRequiresEmail(t *testing.T) {
	f := newFlowFixture()
	ctx := context.Background()

	_, err := f.flow.Initiate(ctx, "ses_1", testService(), "")
	if err != ErrEmailRequired {
		t.Fatalf("Expected ErrEmailRequired, got %v", err)
	}
}

func TestInitiate(t *testing.T) {
	f := newFlowFixture()
	ctx := context.Background()
	svc := testService()

	f.ents.SaveContactInfo(ctx, "ses_1", entitlement.ContactInfo{Email: "maria@example.com"})

	checkout, err := f.flow.Initiate(ctx, "ses_1", svc, "mi consulta")
	if err != nil {
		t.Fatalf("Initiate failed: %v", err)
	}
	if checkout.ID != "ck_test" {
		t.Errorf("Checkout mismatch: %+v", checkout)
	}

	p := f.provider.lastParams
	if p.CustomerEmail != "maria@example.com" {
		t.Errorf("Email not forwarded: %q", p.CustomerEmail)
	}
	if p.AmountCents != 1900 || p.Currency != "eur" {
		t.Errorf("Price mismatch: %d %s", p.AmountCents, p.Currency)
	}
	if !strings.Contains(p.SuccessURL, "/v1/payments/return?session_id={CHECKOUT_SESSION_ID}&service=numerology") {
		t.Errorf("Success URL mismatch: %s", p.SuccessURL)
	}
	if !strings.Contains(p.CancelURL, "checkout=cancelled") {
		t.Errorf("Cancel URL mismatch: %s", p.CancelURL)
	}

	// The message text is parked for replay
	pending, _ := f.ents.PendingPayment(ctx, "ses_1")
	if pending == nil || pending.MessageText != "mi consulta" {
		t.Errorf("Pending payment not saved: %+v", pending)
	}
}

func TestInitiateWithoutMessage(t *testing.T) {
	f := newFlowFixture()
	ctx := context.Background()

	f.ents.SaveContactInfo(ctx, "ses_1", entitlement.ContactInfo{Email: "maria@example.com"})

	if _, err := f.flow.Initiate(ctx, "ses_1", testService(), ""); err != nil {
		t.Fatalf("Initiate failed: %v", err)
	}

	// No text, nothing to replay later
	pending, _ := f.ents.PendingPayment(ctx, "ses_1")
	if pending != nil {
		t.Errorf("No pending payment expected, got %+v", pending)
	}
}

func TestHandleReturnGrantsAccess(t *testing.T) {
	f := newFlowFixture()
	ctx := context.Background()
	svc := testService()

	f.provider.paid = true

	if err := f.flow.HandleReturn(ctx, "ses_1", svc, "ck_test"); err != nil {
		t.Fatalf("HandleReturn failed: %v", err)
	}

	snap, _ := f.ents.Snapshot(ctx, "ses_1", svc)
	if !snap.HasPaidFullAccess {
		t.Error("Verified payment should grant full access")
	}

	// The replay runs after its short delay
	deadline := time.Now().Add(ReplayDelay + 2*time.Second)
	for f.replayer.count() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("Replay never ran")
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func TestHandleReturnUnpaid(t *testing.T) {
	f := newFlowFixture()
	ctx := context.Background()
	svc := testService()

	f.provider.paid = false
	f.ents.SavePendingPayment(ctx, "ses_1", entitlement.PendingPayment{
		TargetServiceID: svc.ID, MessageText: "mi consulta",
	})

	err := f.flow.HandleReturn(ctx, "ses_1", svc, "ck_test")
	if err != ErrVerificationFailed {
		t.Fatalf("Expected ErrVerificationFailed, got %v", err)
	}

	snap, _ := f.ents.Snapshot(ctx, "ses_1", svc)
	if snap.HasPaidFullAccess {
		t.Error("Unpaid checkout must not grant access")
	}

	// Pending context survives so the visitor can retry
	pending, _ := f.ents.PendingPayment(ctx, "ses_1")
	if pending == nil {
		t.Error("Pending payment should be retained after a failed return")
	}
}

func TestHandleReturnVerifyError(t *testing.T) {
	f := newFlowFixture()
	ctx := context.Background()
	svc := testService()

	f.provider.paid = true
	f.provider.verifyErr = context.DeadlineExceeded

	// Errors fail closed
	if err := f.flow.HandleReturn(ctx, "ses_1", svc, "ck_test"); err != ErrVerificationFailed {
		t.Fatalf("Expected ErrVerificationFailed, got %v", err)
	}
	snap, _ := f.ents.Snapshot(ctx, "ses_1", svc)
	if snap.HasPaidFullAccess {
		t.Error("Unverifiable checkout must not grant access")
	}
}

func TestDevProvider(t *testing.T) {
	p := DevProvider{}
	ctx := context.Background()

	checkout, err := p.CreateCheckout(ctx, CheckoutParams{
		SuccessURL: "https://oraculo.example/v1/payments/return?session_id={CHECKOUT_SESSION_ID}&service=numerology",
	})
	if err != nil {
		t.Fatalf("CreateCheckout failed: %v", err)
	}
	if !strings.HasPrefix(checkout.ID, "devck_") {
		t.Errorf("Unexpected checkout id %s", checkout.ID)
	}
	// The dev flow skips the provider: the URL goes straight to the return
	// endpoint with the placeholder already substituted
	if strings.Contains(checkout.URL, "{CHECKOUT_SESSION_ID}") {
		t.Errorf("Placeholder not substituted: %s", checkout.URL)
	}
	if !strings.Contains(checkout.URL, checkout.ID) {
		t.Errorf("URL should carry the checkout id: %s", checkout.URL)
	}

	if paid, _ := p.Verify(ctx, checkout.ID); !paid {
		t.Error("Dev checkouts always verify")
	}
	if paid, _ := p.Verify(ctx, "cs_live_123"); paid {
		t.Error("Foreign ids must not verify")
	}
}

func TestHandleReturnEmitsUnlockedEvent(t *testing.T) {
	f := newFlowFixture()
	ctx := context.Background()
	svc := testService()

	f.provider.paid = true
	if err := f.flow.HandleReturn(ctx, "ses_1", svc, "ck_test"); err != nil {
		t.Fatalf("HandleReturn failed: %v", err)
	}
	if !f.sink.has("ses_1/payment.unlocked") {
		t.Errorf("Expected payment.unlocked event, got %v", f.sink.events)
	}
	if f.sink.has("ses_1/payment.failed") {
		t.Error("A paid return must not emit a failure event")
	}
}

func TestHandleReturnEmitsFailureEvent(t *testing.T) {
	f := newFlowFixture()
	ctx := context.Background()
	svc := testService()

	f.provider.paid = false
	if err := f.flow.HandleReturn(ctx, "ses_1", svc, "ck_test"); err != ErrVerificationFailed {
		t.Fatalf("Expected ErrVerificationFailed, got %v", err)
	}
	if !f.sink.has("ses_1/payment.failed") {
		t.Errorf("Expected payment.failed event, got %v", f.sink.events)
	}
	if f.sink.has("ses_1/payment.unlocked") {
		t.Error("A failed return must not emit an unlock event")
	}
}
