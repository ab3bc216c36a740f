// Package conversation runs the per-service chat loop: message history,
// send gating, persona replies, and the paywall handoff.
package conversation

import (
	"errors"
	"time"

	"github.com/videncia/oraculo/internal/entitlement"
)

var (
	// ErrBlocked is returned when the conversation is paywalled and the
	// visitor tries to send anyway.
	ErrBlocked = errors.New("conversation is blocked")
	// ErrBusy is returned when a previous message for the same
	// conversation is still being answered.
	ErrBusy = errors.New("message already in flight")
	// ErrEmptyMessage is returned for blank or whitespace-only input.
	ErrEmptyMessage = errors.New("message is empty")
	// ErrLimitReached is returned when the visitor has no way to send:
	// not paid, free allowance spent, no bonus consultations.
	ErrLimitReached = errors.New("free message limit reached")
)

// Sender identifies who authored a message.
type Sender string

const (
	SenderUser    Sender = "user"
	SenderPersona Sender = "persona"
	SenderSystem  Sender = "system"
)

// Message is one entry in a conversation transcript.
type Message struct {
	ID        string    `json:"id"`
	Sender    Sender    `json:"sender"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Transcript is the stored view of one service's conversation.
type Transcript struct {
	Messages         []Message                      `json:"messages"`
	BlockedMessageID string                         `json:"blockedMessageId,omitempty"`
	Entitlement      entitlement.ServiceEntitlement `json:"entitlement"`
}

// SendResult is the outcome of a successful send.
type SendResult struct {
	UserMessage   Message  `json:"userMessage"`
	Reply         Message  `json:"reply"`
	SystemMessage *Message `json:"systemMessage,omitempty"`
	FreeRemaining int      `json:"freeRemaining"`
	BonusLeft     int      `json:"bonusLeft"`
	PaywallSoon   bool     `json:"paywallSoon"`
}
