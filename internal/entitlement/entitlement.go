// Package entitlement implements the per-service entitlement store: paid
// flags, free-message counters, bonus consultations, blocked-message
// markers, and the global reward currencies shared by every service
// (wheel spins, contact info, pending payment context).
//
// All state is session-scoped and partitioned by service: nothing a
// service mutates is visible to another, except the wheel currencies and
// contact info which are intentionally global. The session cookie is the
// only principal; there is no account system behind it.
package entitlement

import (
	"errors"
	"time"
)

var ErrNoContactInfo = errors.New("entitlement: no contact info captured")

// Global session keys (not per-service).
const (
	keyWheelSpins     = "wheelSpins"
	keyLastDailySpin  = "lastWheelSpinDate"
	keyUserData       = "userData"
	keyPendingPayment = "pendingPayment"
)

// DailySpinDateLayout serializes the calendar date of the last free spin.
const DailySpinDateLayout = "2006-01-02"

// ServiceEntitlement is a read snapshot of one service's gate state.
type ServiceEntitlement struct {
	ServiceID                   string `json:"serviceId"`
	HasPaidFullAccess           bool   `json:"hasPaidFullAccess"`
	FreeMessagesSent            int    `json:"freeMessagesSent"`
	FreeLimit                   int    `json:"freeLimit"`
	BonusConsultationsRemaining int    `json:"bonusConsultationsRemaining"`
	BlockedMessageID            string `json:"blockedMessageId,omitempty"`
}

// WheelState is the global reward-wheel currency state.
type WheelState struct {
	ExtraSpinsAvailable int        `json:"extraSpinsAvailable"`
	LastDailySpinDate   *time.Time `json:"lastDailySpinDate,omitempty"`
}

// DailySpinUsed reports whether the daily free spin was consumed on the
// given calendar date.
func (w WheelState) DailySpinUsed(today time.Time) bool {
	if w.LastDailySpinDate == nil {
		return false
	}
	return w.LastDailySpinDate.Format(DailySpinDateLayout) == today.Format(DailySpinDateLayout)
}

// ContactInfo is the lead-capture result, shared across services for the
// duration of the session.
type ContactInfo struct {
	Email string                 `json:"email"`
	Name  string                 `json:"name,omitempty"`
	Phone string                 `json:"phone,omitempty"`
	Extra map[string]interface{} `json:"extra,omitempty"`
}

// PendingPayment is the transient context created when a gate denies a
// send. It survives modal cancellation so the message can be retried, and
// is cleared when a payment verifies and the message is replayed.
type PendingPayment struct {
	TargetServiceID string    `json:"targetServiceId"`
	MessageText     string    `json:"messageText"`
	CreatedAt       time.Time `json:"createdAt"`
}
