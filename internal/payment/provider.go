// Package payment implements the one-time unlock purchase: checkout
// creation, return verification, and the post-payment replay.
package payment

import (
	"context"
	"errors"
	"strings"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"

	"github.com/videncia/oraculo/internal/idgen"
)

var (
	// ErrEmailRequired is returned when checkout is attempted before lead
	// capture provided an email.
	ErrEmailRequired = errors.New("email required before checkout")
	// ErrVerificationFailed is returned when the provider cannot confirm
	// the checkout as paid. The unlock is withheld.
	ErrVerificationFailed = errors.New("payment verification failed")
)

// CheckoutParams describes the purchase to create.
type CheckoutParams struct {
	ServiceID     string
	ServiceName   string
	AmountCents   int64
	Currency      string
	CustomerEmail string
	SuccessURL    string
	CancelURL     string
}

// Checkout is a created provider checkout the visitor is redirected to.
type Checkout struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// Provider creates and verifies checkouts.
type Provider interface {
	CreateCheckout(ctx context.Context, params CheckoutParams) (*Checkout, error)
	// Verify reports whether the checkout finished as paid. Unverifiable
	// checkouts count as unpaid.
	Verify(ctx context.Context, checkoutID string) (bool, error)
}

// StripeProvider backs checkouts with Stripe Checkout sessions.
type StripeProvider struct {
	api *client.API
}

// NewStripeProvider creates a provider using the given secret key.
func NewStripeProvider(secretKey string) *StripeProvider {
	api := &client.API{}
	api.Init(secretKey, nil)
	return &StripeProvider{api: api}
}

func (p *StripeProvider) CreateCheckout(ctx context.Context, cp CheckoutParams) (*Checkout, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:          stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:    stripe.String(cp.SuccessURL),
		CancelURL:     stripe.String(cp.CancelURL),
		CustomerEmail: stripe.String(cp.CustomerEmail),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(cp.Currency),
					UnitAmount: stripe.Int64(cp.AmountCents),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(cp.ServiceName),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
	}
	params.Context = ctx
	params.AddMetadata("service", cp.ServiceID)

	sess, err := p.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, err
	}
	return &Checkout{ID: sess.ID, URL: sess.URL}, nil
}

func (p *StripeProvider) Verify(ctx context.Context, checkoutID string) (bool, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	sess, err := p.api.CheckoutSessions.Get(checkoutID, params)
	if err != nil {
		return false, err
	}
	return sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid, nil
}

// DevProvider fakes checkouts for local development. Every checkout it
// creates verifies as paid.
type DevProvider struct{}

func (DevProvider) CreateCheckout(_ context.Context, cp CheckoutParams) (*Checkout, error) {
	id := idgen.WithPrefix("devck_")
	url := strings.ReplaceAll(cp.SuccessURL, "{CHECKOUT_SESSION_ID}", id)
	return &Checkout{ID: id, URL: url}, nil
}

func (DevProvider) Verify(_ context.Context, checkoutID string) (bool, error) {
	return strings.HasPrefix(checkoutID, "devck_"), nil
}
