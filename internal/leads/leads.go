// Package leads captures visitor contact info and forwards it to the
// marketing collection endpoint.
package leads

import (
	"context"
	"errors"
	"log/slog"

	"github.com/videncia/oraculo/internal/entitlement"
	"github.com/videncia/oraculo/internal/validation"
)

// ErrInvalidEmail is returned when the submitted email fails validation.
var ErrInvalidEmail = errors.New("invalid email address")

// Lead is a captured contact submission.
type Lead struct {
	Email     string                 `json:"email"`
	Name      string                 `json:"name,omitempty"`
	Phone     string                 `json:"phone,omitempty"`
	ServiceID string                 `json:"serviceId,omitempty"`
	Extra     map[string]interface{} `json:"extra,omitempty"`
}

// Service validates and stores leads, then hands them to the forwarder.
type Service struct {
	entitlements *entitlement.Store
	forwarder    *Forwarder
	logger       *slog.Logger
}

// NewService creates a lead service. forwarder may be nil when no
// collection endpoint is configured.
func NewService(ents *entitlement.Store, forwarder *Forwarder, logger *slog.Logger) *Service {
	return &Service{entitlements: ents, forwarder: forwarder, logger: logger}
}

// Capture validates the lead, saves the contact info on the session, and
// forwards it. Forwarding is fire-and-forget: a dead collection endpoint
// never blocks the visitor's flow.
func (s *Service) Capture(ctx context.Context, sid string, lead Lead) error {
	lead.Email = validation.SanitizeEmail(lead.Email)
	if !validation.IsValidEmail(lead.Email) {
		return ErrInvalidEmail
	}
	lead.Name = validation.SanitizeString(lead.Name, 200)
	lead.Phone = validation.SanitizeString(lead.Phone, 50)

	err := s.entitlements.SaveContactInfo(ctx, sid, entitlement.ContactInfo{
		Email: lead.Email,
		Name:  lead.Name,
		Phone: lead.Phone,
		Extra: lead.Extra,
	})
	if err != nil {
		return err
	}

	if s.forwarder != nil {
		s.forwarder.Forward(lead)
	}
	return nil
}
