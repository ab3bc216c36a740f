package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestNewLevels(t *testing.T) {
	cases := []struct {
		level        string
		debugEnabled bool
		infoEnabled  bool
	}{
		{"", false, true},
		{"debug", true, true},
		{"info", false, true},
		{"error", false, false},
	}
	for _, tc := range cases {
		logger := New(tc.level, "text")
		if logger == nil {
			t.Fatalf("New(%q) returned nil", tc.level)
		}
		if got := logger.Enabled(context.Background(), slog.LevelDebug); got != tc.debugEnabled {
			t.Errorf("Level %q: debug enabled = %v, want %v", tc.level, got, tc.debugEnabled)
		}
		if got := logger.Enabled(context.Background(), slog.LevelInfo); got != tc.infoEnabled {
			t.Errorf("Level %q: info enabled = %v, want %v", tc.level, got, tc.infoEnabled)
		}
	}
}

func TestNewJSONFormat(t *testing.T) {
	if New("info", "json") == nil {
		t.Fatal("Expected non-nil logger for JSON format")
	}
}

func TestRequestIDPlumbing(t *testing.T) {
	ctx := context.Background()

	if id := RequestID(ctx); id != "" {
		t.Errorf("Expected empty request ID, got %q", id)
	}

	ctx = WithRequestID(ctx, "req_1f3a")
	if id := RequestID(ctx); id != "req_1f3a" {
		t.Errorf("Expected req_1f3a, got %q", id)
	}

	ctx = WithRequestID(ctx, "req_2b4c")
	if id := RequestID(ctx); id != "req_2b4c" {
		t.Errorf("Latest request ID should win, got %q", id)
	}
}

func TestSessionIDPlumbing(t *testing.T) {
	ctx := context.Background()

	if sid := SessionID(ctx); sid != "" {
		t.Errorf("Expected empty session ID, got %q", sid)
	}

	ctx = WithSessionID(ctx, "ses_visitor1")
	if sid := SessionID(ctx); sid != "ses_visitor1" {
		t.Errorf("Expected ses_visitor1, got %q", sid)
	}
}

func TestFromContext(t *testing.T) {
	ctx := context.Background()

	if FromContext(ctx) == nil {
		t.Fatal("Expected the default logger when none is set")
	}

	custom := New("debug", "json")
	ctx = WithLogger(ctx, custom)
	if FromContext(ctx) != custom {
		t.Error("Expected the context's logger back")
	}
}

func TestLAnnotatesIdentifiers(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewTextHandler(&buf, nil))

	ctx := WithLogger(context.Background(), base)
	ctx = WithRequestID(ctx, "req_1f3a")
	ctx = WithSessionID(ctx, "ses_visitor1")

	L(ctx).Info("message sent", "service", "numerology")

	line := buf.String()
	if !strings.Contains(line, "request_id=req_1f3a") {
		t.Errorf("Request ID missing from log line: %s", line)
	}
	if !strings.Contains(line, "session=ses_visitor1") {
		t.Errorf("Session ID missing from log line: %s", line)
	}
	if !strings.Contains(line, "service=numerology") {
		t.Errorf("Call-site attrs missing from log line: %s", line)
	}
}

func TestLWithBareContext(t *testing.T) {
	if L(context.Background()) == nil {
		t.Fatal("Expected a usable logger from a bare context")
	}
}
