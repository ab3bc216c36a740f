// Package session provides browser-session-scoped key-value state.
//
// Every visitor gets an opaque session id carried in a cookie; all
// entitlement and conversation state lives under that id and expires with
// it. Values are JSON documents; timestamps inside them are serialized as
// ISO-8601 strings. Nothing here survives a session on purpose.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	ErrKeyNotFound     = errors.New("session: key not found")
	ErrSessionNotFound = errors.New("session: session not found")
)

// CookieName is the session id cookie.
const CookieName = "oraculo_sid"

// DefaultTTL is how long an idle session is kept before the sweeper
// discards it.
const DefaultTTL = 12 * time.Hour

// Store persists per-session key-value state.
type Store interface {
	Get(ctx context.Context, sessionID, key string) (json.RawMessage, error)
	Put(ctx context.Context, sessionID, key string, value json.RawMessage) error
	Delete(ctx context.Context, sessionID, key string) error
	// DeleteAll removes every key for a session.
	DeleteAll(ctx context.Context, sessionID string) error
	// Touch extends a session's expiry. Creates the session if absent.
	Touch(ctx context.Context, sessionID string, expiresAt time.Time) error
	// CountActive returns the number of live sessions.
	CountActive(ctx context.Context) (int, error)
	// ListActive returns live sessions newest first. When createdBefore is
	// non-zero, only sessions strictly before that (createdBefore, beforeID)
	// position are returned.
	ListActive(ctx context.Context, createdBefore time.Time, beforeID string, limit int) ([]Info, error)
}

// Info is a session summary row for back-office listings.
type Info struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}
