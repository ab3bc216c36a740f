// Package admin provides the operator back office: session inspection and
// support grants for visitors whose payment or prize did not land.
package admin

import (
	"context"
	"time"

	"github.com/videncia/oraculo/internal/catalog"
	"github.com/videncia/oraculo/internal/entitlement"
	"github.com/videncia/oraculo/internal/session"
)

// SessionDirectory lists and counts live sessions.
type SessionDirectory interface {
	ListActive(ctx context.Context, createdBefore time.Time, beforeID string, limit int) ([]session.Info, error)
	CountActive(ctx context.Context) (int, error)
}

// Entitlements exposes the per-session state the back office reads and the
// grants it can apply.
type Entitlements interface {
	Snapshot(ctx context.Context, sid string, svc catalog.ServiceConfig) (entitlement.ServiceEntitlement, error)
	Wheel(ctx context.Context, sid string) (entitlement.WheelState, error)
	ContactInfo(ctx context.Context, sid string) (entitlement.ContactInfo, error)
	GrantBonusConsultations(ctx context.Context, sid string, svc catalog.ServiceConfig, count int) error
	GrantExtraSpins(ctx context.Context, sid string, count int) error
	GrantFullAccess(ctx context.Context, sid string, svc catalog.ServiceConfig) error
}

// SessionEnder tears down a session and its scheduled work.
type SessionEnder func(ctx context.Context, sessionID string) error

// SessionDetail is the full back-office view of one session.
type SessionDetail struct {
	ID       string                           `json:"id"`
	Email    string                           `json:"email,omitempty"`
	Wheel    entitlement.WheelState           `json:"wheel"`
	Services []entitlement.ServiceEntitlement `json:"services"`
}
