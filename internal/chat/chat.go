// Package chat talks to the persona response backend.
package chat

import (
	"context"
	"errors"

	"github.com/videncia/oraculo/internal/catalog"
)

var (
	// ErrBackendUnavailable is returned when the backend cannot be reached
	// or returns a malformed reply.
	ErrBackendUnavailable = errors.New("chat backend unavailable")
	// ErrBackendRefused is returned when the backend reports a failure for
	// an otherwise well-formed exchange.
	ErrBackendRefused = errors.New("chat backend refused request")
)

// HistoryEntry is one prior turn sent to the backend for context.
type HistoryEntry struct {
	Role    string `json:"role"` // "user" or "assistant"
	Message string `json:"message"`
}

// Request carries everything the backend needs to produce a persona reply.
type Request struct {
	Service      catalog.ServiceConfig
	UserMessage  string
	History      []HistoryEntry
	MessageCount int
	Premium      bool
}

// Reply is the backend's answer for a single user message.
type Reply struct {
	Text string
	// ShowPaywall asks for the paywall regardless of the local free
	// counter. The free quota itself stays server side.
	ShowPaywall bool
}

// Backend produces persona replies. Implementations must treat every call
// as independent; conversation state travels in Request.History.
type Backend interface {
	Respond(ctx context.Context, req Request) (*Reply, error)
}
