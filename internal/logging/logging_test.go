package logging

import (
	"context"
	"log/slog"
	"testing"
)

func TestNew_Levels(t *testing.T) {
	debug := New("debug", "text")
	if !debug.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("debug level should enable debug records")
	}

	errOnly := New("error", "json")
	if errOnly.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("error level should suppress info records")
	}

	// Unknown levels fall back to info.
	fallback := New("verbose", "text")
	if fallback.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("unknown level should fall back to info")
	}
	if !fallback.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("fallback logger should still log info")
	}
}

func TestRequestIDRoundTrip(t *testing.T) {
	ctx := context.Background()
	if id := RequestID(ctx); id != "" {
		t.Errorf("empty context should have no request ID, got %q", id)
	}

	ctx = WithRequestID(ctx, "req-123")
	if id := RequestID(ctx); id != "req-123" {
		t.Errorf("RequestID = %q, want req-123", id)
	}
}

func TestFromContextFallsBackToDefault(t *testing.T) {
	if FromContext(context.Background()) == nil {
		t.Fatal("FromContext must never return nil")
	}

	custom := New("info", "text")
	ctx := WithLogger(context.Background(), custom)
	if FromContext(ctx) != custom {
		t.Error("FromContext should return the context logger")
	}
}

func TestL_AttachesRequestID(t *testing.T) {
	ctx := WithLogger(context.Background(), New("info", "text"))
	ctx = WithRequestID(ctx, "req-456")
	if L(ctx) == nil {
		t.Fatal("L must never return nil")
	}
	// Without a request ID the context logger comes back unchanged.
	plain := WithLogger(context.Background(), New("info", "text"))
	if L(plain) != FromContext(plain) {
		t.Error("L without request ID should return the context logger")
	}
}
