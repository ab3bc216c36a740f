package leads

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/videncia/oraculo/internal/entitlement"
	"github.com/videncia/oraculo/internal/session"
)

func newTestService(forwarder *Forwarder) (*Service, *entitlement.Store) {
	ents := entitlement.NewStore(session.NewManager(session.NewMemoryStore(), time.Hour))
	return NewService(ents, forwarder, slog.Default()), ents
}

func TestCapture(t *testing.T) {
	svc, ents := newTestService(nil)
	ctx := context.Background()

	err := svc.Capture(ctx, "ses_1", Lead{
		Email: "  Maria@Example.COM ",
		Name:  "María",
		Phone: "+34 600 000 000",
	})
	if err != nil {
		t.Fatalf("Capture failed: %v", err)
	}

	info, err := ents.ContactInfo(ctx, "ses_1")
	if err != nil {
		t.Fatalf("ContactInfo failed: %v", err)
	}
	if info.Email != "maria@example.com" {
		t.Errorf("Email should be normalized, got %q", info.Email)
	}
	if info.Name != "María" {
		t.Errorf("Name mismatch: %q", info.Name)
	}
}

func TestCaptureInvalidEmail(t *testing.T) {
	svc, ents := newTestService(nil)
	ctx := context.Background()

	for _, email := range []string{"", "not-an-email", "a@b", "maria@.com"} {
		if err := svc.Capture(ctx, "ses_1", Lead{Email: email}); err != ErrInvalidEmail {
			t.Errorf("Capture(%q): expected ErrInvalidEmail, got %v", email, err)
		}
	}

	if _, err := ents.ContactInfo(ctx, "ses_1"); err != entitlement.ErrNoContactInfo {
		t.Error("Rejected lead must not save contact info")
	}
}

func TestCaptureForwards(t *testing.T) {
	received := make(chan Lead, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var lead Lead
		if err := json.NewDecoder(r.Body).Decode(&lead); err != nil {
			t.Errorf("Bad forward body: %v", err)
		}
		received <- lead
	}))
	defer srv.Close()

	svc, _ := newTestService(NewForwarder(srv.URL, slog.Default()))

	err := svc.Capture(context.Background(), "ses_1", Lead{
		Email:     "maria@example.com",
		ServiceID: "numerology",
	})
	if err != nil {
		t.Fatalf("Capture failed: %v", err)
	}

	select {
	case lead := <-received:
		if lead.Email != "maria@example.com" || lead.ServiceID != "numerology" {
			t.Errorf("Forwarded lead mismatch: %+v", lead)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Lead never forwarded")
	}
}

func TestCaptureSurvivesDeadEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // refuse connections

	svc, ents := newTestService(NewForwarder(srv.URL, slog.Default()))

	// Delivery failure is invisible to the visitor
	if err := svc.Capture(context.Background(), "ses_1", Lead{Email: "maria@example.com"}); err != nil {
		t.Fatalf("Capture should not surface delivery errors, got %v", err)
	}
	if _, err := ents.ContactInfo(context.Background(), "ses_1"); err != nil {
		t.Error("Contact info should be saved regardless of delivery")
	}
}
