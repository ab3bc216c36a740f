package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"go.opentelemetry.io/otel/codes"

	"github.com/videncia/oraculo/internal/catalog"
	"github.com/videncia/oraculo/internal/entitlement"
	"github.com/videncia/oraculo/internal/scheduler"
	"github.com/videncia/oraculo/internal/traces"
)

// ReplayDelay is how long after a verified payment the pending message is
// re-sent. Gives the unlock confirmation a moment on screen first.
const ReplayDelay = 1500 * time.Millisecond

const replayTask = "payment_replay"

// Replayer re-sends a message that was waiting behind the paywall.
type Replayer interface {
	ReplayPending(ctx context.Context, sid string, svc catalog.ServiceConfig)
}

// EventSink receives session-scoped payment events for live delivery.
type EventSink interface {
	Emit(sessionID, eventType string, data map[string]any)
}

// Flow coordinates checkout creation and return verification.
type Flow struct {
	provider     Provider
	entitlements *entitlement.Store
	sched        *scheduler.Scheduler
	replayer     Replayer
	sink         EventSink
	baseURL      string
	logger       *slog.Logger
}

// NewFlow creates a payment flow. replayer and sink may be nil.
func NewFlow(provider Provider, ents *entitlement.Store, sched *scheduler.Scheduler, replayer Replayer, sink EventSink, baseURL string, logger *slog.Logger) *Flow {
	return &Flow{
		provider:     provider,
		entitlements: ents,
		sched:        sched,
		replayer:     replayer,
		sink:         sink,
		baseURL:      baseURL,
		logger:       logger,
	}
}

// Initiate creates a checkout for the service unlock. It requires a
// captured email and records the message text, if any, as pending so it
// can replay once the payment lands.
func (f *Flow) Initiate(ctx context.Context, sid string, svc catalog.ServiceConfig, messageText string) (*Checkout, error) {
	ctx, span := traces.StartSpan(ctx, "payment.Initiate",
		traces.SessionID(sid), traces.ServiceID(svc.ID))
	defer span.End()

	info, err := f.entitlements.ContactInfo(ctx, sid)
	if err != nil {
		if errors.Is(err, entitlement.ErrNoContactInfo) {
			return nil, ErrEmailRequired
		}
		return nil, err
	}

	if messageText != "" {
		err := f.entitlements.SavePendingPayment(ctx, sid, entitlement.PendingPayment{
			TargetServiceID: svc.ID,
			MessageText:     messageText,
			CreatedAt:       time.Now(),
		})
		if err != nil {
			return nil, err
		}
	}

	successURL := fmt.Sprintf("%s/v1/payments/return?session_id={CHECKOUT_SESSION_ID}&service=%s",
		f.baseURL, url.QueryEscape(svc.ID))
	cancelURL := fmt.Sprintf("%s/?service=%s&checkout=cancelled", f.baseURL, url.QueryEscape(svc.ID))

	checkout, err := f.provider.CreateCheckout(ctx, CheckoutParams{
		ServiceID:     svc.ID,
		ServiceName:   svc.Name,
		AmountCents:   svc.PriceCents,
		Currency:      svc.Currency,
		CustomerEmail: info.Email,
		SuccessURL:    successURL,
		CancelURL:     cancelURL,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "checkout creation failed")
		return nil, fmt.Errorf("failed to create checkout: %w", err)
	}
	span.SetAttributes(traces.CheckoutID(checkout.ID))

	f.logger.Info("checkout created",
		"session", sid, "service", svc.ID, "checkout", checkout.ID)
	return checkout, nil
}

// HandleReturn verifies the returned checkout and, when paid, grants full
// access and schedules the pending message replay. An unverified return
// grants nothing and keeps the pending context so the visitor can retry.
func (f *Flow) HandleReturn(ctx context.Context, sid string, svc catalog.ServiceConfig, checkoutID string) error {
	ctx, span := traces.StartSpan(ctx, "payment.HandleReturn",
		traces.SessionID(sid), traces.ServiceID(svc.ID), traces.CheckoutID(checkoutID))
	defer span.End()

	paid, err := f.provider.Verify(ctx, checkoutID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "verification errored")
		f.logger.Error("checkout verification errored",
			"session", sid, "checkout", checkoutID, "error", err)
		f.emitFailure(sid, svc)
		return ErrVerificationFailed
	}
	if !paid {
		f.emitFailure(sid, svc)
		return ErrVerificationFailed
	}

	if err := f.entitlements.GrantFullAccess(ctx, sid, svc); err != nil {
		return fmt.Errorf("failed to grant access: %w", err)
	}
	f.logger.Info("full access granted",
		"session", sid, "service", svc.ID, "checkout", checkoutID)
	f.emit(sid, "payment.unlocked", map[string]any{
		"service": svc.ID,
	})

	if f.replayer != nil {
		f.sched.Schedule(sid, replayTask, ReplayDelay, func() {
			f.replayer.ReplayPending(context.Background(), sid, svc)
		})
	}
	return nil
}

func (f *Flow) emitFailure(sid string, svc catalog.ServiceConfig) {
	f.emit(sid, "payment.failed", map[string]any{
		"service": svc.ID,
		"message": "No pudimos confirmar tu pago. Inténtalo de nuevo.",
	})
}

func (f *Flow) emit(sid, eventType string, data map[string]any) {
	if f.sink != nil {
		f.sink.Emit(sid, eventType, data)
	}
}
