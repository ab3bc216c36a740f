// Package oraclient is the Go client for the oracle consultation API.
// It carries the visitor session cookie across calls, so one Client is
// one visitor.
package oraclient

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Service is a consultable oracle service.
type Service struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Persona    string `json:"persona"`
	FreeLimit  int    `json:"freeLimit"`
	PriceCents int64  `json:"priceCents"`
	Currency   string `json:"currency"`
}

// Message is one transcript entry.
type Message struct {
	ID        string    `json:"id"`
	Sender    string    `json:"sender"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Entitlement is the gate state for one service.
type Entitlement struct {
	ServiceID                   string `json:"serviceId"`
	HasPaidFullAccess           bool   `json:"hasPaidFullAccess"`
	FreeMessagesSent            int    `json:"freeMessagesSent"`
	FreeLimit                   int    `json:"freeLimit"`
	BonusConsultationsRemaining int    `json:"bonusConsultationsRemaining"`
	BlockedMessageID            string `json:"blockedMessageId,omitempty"`
}

// Transcript is a conversation with its gate state.
type Transcript struct {
	Messages         []Message   `json:"messages"`
	BlockedMessageID string      `json:"blockedMessageId,omitempty"`
	Entitlement      Entitlement `json:"entitlement"`
}

// SendResult is the outcome of a delivered message.
type SendResult struct {
	UserMessage   Message  `json:"userMessage"`
	Reply         Message  `json:"reply"`
	SystemMessage *Message `json:"systemMessage,omitempty"`
	FreeRemaining int      `json:"freeRemaining"`
	BonusLeft     int      `json:"bonusLeft"`
	PaywallSoon   bool     `json:"paywallSoon"`
}

// Prize is a wheel outcome.
type Prize struct {
	Kind  string `json:"kind"`
	Count int    `json:"count,omitempty"`
	Label string `json:"label"`
}

// SpinResult is a resolved wheel spin.
type SpinResult struct {
	Prize      Prize     `json:"prize"`
	Source     string    `json:"source"`
	SpunAt     time.Time `json:"spunAt"`
	RevealedAt time.Time `json:"revealedAt"`
}

// WheelStatus is the wheel state for the session.
type WheelStatus struct {
	State           string      `json:"state"`
	DailyAvailable  bool        `json:"dailyAvailable"`
	ExtraSpins      int         `json:"extraSpins"`
	SpinsRemaining  int         `json:"spinsRemaining"`
	LastDailySpin   string      `json:"lastDailySpin,omitempty"`
	PendingResult   *SpinResult `json:"pendingResult,omitempty"`
	RevealDelayMsec int64       `json:"revealDelayMs"`
}

// SpinOutcome pairs the spin result with how long the UI should keep the
// wheel turning before revealing it.
type SpinOutcome struct {
	Result        SpinResult
	RevealDelayMs int64
}

// Checkout is a created payment session.
type Checkout struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// Lead is the contact info captured before checkout.
type Lead struct {
	Email     string                 `json:"email"`
	Name      string                 `json:"name,omitempty"`
	Phone     string                 `json:"phone,omitempty"`
	ServiceID string                 `json:"serviceId,omitempty"`
	Extra     map[string]interface{} `json:"extra,omitempty"`
}

// APIError is a structured error response from the API.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"error"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsPaymentRequired reports whether err is the paywall response.
func IsPaymentRequired(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.Status == http.StatusPaymentRequired
}

// IsEmailRequired reports whether err asks for lead capture first.
func IsEmailRequired(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.Code == "email_required"
}
