package oraclient

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/videncia/oraculo/internal/config"
	"github.com/videncia/oraculo/internal/server"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// newTestAPI spins up a full in-memory server and a client bound to it.
func newTestAPI(t *testing.T) *Client {
	t.Helper()
	srv, err := server.New(&config.Config{
		Port:             "0",
		Env:              "development",
		LogLevel:         "error",
		PublicBaseURL:    "http://localhost:8080",
		FreeMessageLimit: 3,
		SessionTTL:       time.Hour,
		RateLimitRPS:     1000,
	})
	if err != nil {
		t.Fatalf("server.New failed: %v", err)
	}
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)

	client, err := New(ts.URL)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return client
}

func TestClientServices(t *testing.T) {
	client := newTestAPI(t)

	services, err := client.Services(context.Background())
	if err != nil {
		t.Fatalf("Services failed: %v", err)
	}
	if len(services) == 0 {
		t.Fatal("Expected at least one service")
	}
	found := false
	for _, svc := range services {
		if svc.ID == "numerology" {
			found = true
			if svc.FreeLimit != 3 {
				t.Errorf("numerology free limit = %d", svc.FreeLimit)
			}
		}
	}
	if !found {
		t.Error("numerology missing from service list")
	}
}

func TestClientConversationFlow(t *testing.T) {
	client := newTestAPI(t)
	ctx := context.Background()

	chat, err := client.Chat(ctx, "numerology")
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if len(chat.Messages) != 1 {
		t.Fatalf("Expected seeded welcome, got %d messages", len(chat.Messages))
	}

	// The session cookie persists across calls: quota is shared.
	for i := 0; i < 3; i++ {
		result, err := client.Send(ctx, "numerology", "hola")
		if err != nil {
			t.Fatalf("Send %d failed: %v", i, err)
		}
		if result.Reply.Text == "" {
			t.Fatalf("Send %d: empty reply", i)
		}
	}

	_, err = client.Send(ctx, "numerology", "una más")
	if !IsPaymentRequired(err) {
		t.Fatalf("Expected paywall after free limit, got %v", err)
	}

	ent, err := client.Entitlement(ctx, "numerology")
	if err != nil {
		t.Fatalf("Entitlement failed: %v", err)
	}
	if ent.FreeMessagesSent != 3 {
		t.Errorf("FreeMessagesSent = %d, want 3", ent.FreeMessagesSent)
	}

	// Other services keep their own quota.
	if _, err := client.Send(ctx, "zodiac", "hola"); err != nil {
		t.Errorf("zodiac should still accept messages: %v", err)
	}
}

func TestClientReset(t *testing.T) {
	client := newTestAPI(t)
	ctx := context.Background()

	if _, err := client.Send(ctx, "numerology", "hola"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	chat, err := client.ResetChat(ctx, "numerology")
	if err != nil {
		t.Fatalf("ResetChat failed: %v", err)
	}
	if len(chat.Messages) != 1 {
		t.Errorf("Reset transcript should hold only the welcome, got %d", len(chat.Messages))
	}
	if chat.Entitlement.FreeMessagesSent != 0 {
		t.Errorf("Reset should clear the counter, got %d", chat.Entitlement.FreeMessagesSent)
	}
}

func TestClientWheel(t *testing.T) {
	client := newTestAPI(t)
	ctx := context.Background()

	status, err := client.Wheel(ctx)
	if err != nil {
		t.Fatalf("Wheel failed: %v", err)
	}
	if !status.DailyAvailable {
		t.Fatal("Fresh session should have the daily spin")
	}

	outcome, err := client.Spin(ctx, "numerology")
	if err != nil {
		t.Fatalf("Spin failed: %v", err)
	}
	if outcome.Result.Prize.Kind == "" {
		t.Error("Spin returned no prize")
	}
	if outcome.RevealDelayMs <= 0 {
		t.Errorf("RevealDelayMs = %d", outcome.RevealDelayMs)
	}

	// The spin is resolving; a second one is rejected.
	if _, err := client.Spin(ctx, "numerology"); err == nil {
		t.Error("Expected second spin to be rejected while resolving")
	}
}

func TestClientLeadGatesCheckout(t *testing.T) {
	client := newTestAPI(t)
	ctx := context.Background()

	_, err := client.Checkout(ctx, "numerology", "")
	if !IsEmailRequired(err) {
		t.Fatalf("Checkout without lead should require email, got %v", err)
	}

	if err := client.CaptureLead(ctx, Lead{Email: "maria@example.com"}); err != nil {
		t.Fatalf("CaptureLead failed: %v", err)
	}

	checkout, err := client.Checkout(ctx, "numerology", "mi pregunta")
	if err != nil {
		t.Fatalf("Checkout failed: %v", err)
	}
	if checkout.ID == "" || checkout.URL == "" {
		t.Errorf("Incomplete checkout: %+v", checkout)
	}
}

func TestClientAPIError(t *testing.T) {
	client := newTestAPI(t)

	_, err := client.Chat(context.Background(), "astrologia-inversa")
	if err == nil {
		t.Fatal("Expected error for unknown service")
	}
	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("Expected *APIError, got %T", err)
	}
	if apiErr.Status != 404 || apiErr.Code != "not_found" {
		t.Errorf("Unexpected error payload: %+v", apiErr)
	}
}
