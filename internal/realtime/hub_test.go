package realtime

import (
	"context"
	"log/slog"
	"testing"
	"time"
)

func testHub() *Hub {
	return NewHub(slog.Default())
}

// ---------------------------------------------------------------------------
// shouldSend tests
// ---------------------------------------------------------------------------

func TestShouldSend_AllEvents(t *testing.T) {
	h := testHub()
	client := &Client{sessionID: "ses_a", sub: Subscription{AllEvents: true}}

	event := &Event{Type: EventChatMessage, SessionID: "ses_a", Timestamp: time.Now()}
	if !h.shouldSend(client, event) {
		t.Error("AllEvents client should receive events for its session")
	}
}

func TestShouldSend_SessionAddressing(t *testing.T) {
	h := testHub()
	client := &Client{sessionID: "ses_a", sub: Subscription{AllEvents: true}}

	other := &Event{Type: EventChatMessage, SessionID: "ses_b"}
	if h.shouldSend(client, other) {
		t.Error("Should NOT receive events for another session")
	}

	global := &Event{Type: EventSessionEnded, SessionID: ""}
	if !h.shouldSend(client, global) {
		t.Error("Should receive globally addressed events")
	}
}

func TestShouldSend_EventTypeFilter(t *testing.T) {
	h := testHub()

	client := &Client{sessionID: "ses_a", sub: Subscription{
		EventTypes: []EventType{EventChatMessage, EventChatPaywall},
	}}

	replyEvent := &Event{Type: EventChatMessage, SessionID: "ses_a"}
	paywallEvent := &Event{Type: EventChatPaywall, SessionID: "ses_a"}
	wheelEvent := &Event{Type: EventWheelResult, SessionID: "ses_a"}

	if !h.shouldSend(client, replyEvent) {
		t.Error("Should receive chat.message events")
	}
	if !h.shouldSend(client, paywallEvent) {
		t.Error("Should receive chat.paywall events")
	}
	if h.shouldSend(client, wheelEvent) {
		t.Error("Should NOT receive wheel.result events")
	}
}

func TestShouldSend_EmptySubscription(t *testing.T) {
	h := testHub()

	// No filters, not AllEvents
	client := &Client{sessionID: "ses_a", sub: Subscription{}}

	event := &Event{Type: EventChatMessage, SessionID: "ses_a"}
	if !h.shouldSend(client, event) {
		t.Error("Empty subscription (no filters) should receive events")
	}
}

// ---------------------------------------------------------------------------
// Hub lifecycle tests
// ---------------------------------------------------------------------------

func TestHub_Stats_Initial(t *testing.T) {
	h := testHub()

	stats := h.Stats()
	if stats["connectedClients"].(int) != 0 {
		t.Errorf("Expected 0 connected clients, got %v", stats["connectedClients"])
	}
	if stats["totalEvents"].(int64) != 0 {
		t.Errorf("Expected 0 total events, got %v", stats["totalEvents"])
	}
}

func TestHub_BroadcastAndStats(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	// Broadcast an event
	h.Broadcast(&Event{Type: EventChatMessage, Timestamp: time.Now()})
	time.Sleep(50 * time.Millisecond)

	stats := h.Stats()
	if stats["totalEvents"].(int64) != 1 {
		t.Errorf("Expected 1 total event, got %v", stats["totalEvents"])
	}
}

func TestHub_RegisterUnregister(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	client := &Client{
		hub:       h,
		send:      make(chan []byte, 256),
		sessionID: "ses_a",
		sub:       Subscription{AllEvents: true},
	}

	h.register <- client
	time.Sleep(50 * time.Millisecond)

	stats := h.Stats()
	if stats["connectedClients"].(int) != 1 {
		t.Errorf("Expected 1 connected client, got %v", stats["connectedClients"])
	}
	if stats["peakClients"].(int64) != 1 {
		t.Errorf("Expected peak 1, got %v", stats["peakClients"])
	}

	h.unregister <- client
	time.Sleep(50 * time.Millisecond)

	stats = h.Stats()
	if stats["connectedClients"].(int) != 0 {
		t.Errorf("Expected 0 connected clients after unregister, got %v", stats["connectedClients"])
	}
	// Peak should still be 1
	if stats["peakClients"].(int64) != 1 {
		t.Errorf("Expected peak still 1, got %v", stats["peakClients"])
	}
}

func TestHub_EmitToSession(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	client := &Client{
		hub:       h,
		send:      make(chan []byte, 256),
		sessionID: "ses_a",
		sub:       Subscription{AllEvents: true},
	}
	stranger := &Client{
		hub:       h,
		send:      make(chan []byte, 256),
		sessionID: "ses_b",
		sub:       Subscription{AllEvents: true},
	}

	h.register <- client
	h.register <- stranger
	time.Sleep(50 * time.Millisecond)

	h.Emit("ses_a", "chat.message", map[string]any{"service": "numerology"})

	select {
	case msg := <-client.send:
		if len(msg) == 0 {
			t.Error("Expected non-empty message")
		}
	case <-time.After(time.Second):
		t.Error("Timeout waiting for emitted event")
	}

	select {
	case <-stranger.send:
		t.Error("Other session should NOT receive the event")
	case <-time.After(100 * time.Millisecond):
		// Good - not delivered
	}
}

func TestHub_ContextCancellation(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
		// Hub stopped
	case <-time.After(2 * time.Second):
		t.Error("Hub did not stop after context cancellation")
	}
}

func TestHub_FilteredBroadcast(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	// Client only wants wheel results
	client := &Client{
		hub:       h,
		send:      make(chan []byte, 256),
		sessionID: "ses_a",
		sub:       Subscription{EventTypes: []EventType{EventWheelResult}},
	}

	h.register <- client
	time.Sleep(50 * time.Millisecond)

	// Send a chat event (should be filtered out)
	h.Broadcast(&Event{Type: EventChatMessage, SessionID: "ses_a", Timestamp: time.Now()})
	time.Sleep(100 * time.Millisecond)

	select {
	case <-client.send:
		t.Error("Client should NOT receive chat.message event")
	default:
		// Good - filtered out
	}

	// Send a wheel result (should be received)
	h.Broadcast(&Event{Type: EventWheelResult, SessionID: "ses_a", Timestamp: time.Now()})

	select {
	case msg := <-client.send:
		if len(msg) == 0 {
			t.Error("Expected non-empty message")
		}
	case <-time.After(time.Second):
		t.Error("Client should receive wheel.result event")
	}
}
