package util

import (
	"context"
	"log/slog"
	"testing"
)

func TestLoggerRoundTrip(t *testing.T) {
	logger := slog.Default().With("component", "worker")
	ctx := ContextWithLogger(context.Background(), logger)
	if got := LoggerFromContext(ctx); got != logger {
		t.Fatal("stored logger not returned")
	}
}

func TestLoggerFromContextFallsBack(t *testing.T) {
	if got := LoggerFromContext(context.Background()); got != slog.Default() {
		t.Fatal("expected default logger for a bare context")
	}
	if got := LoggerFromContext(nil); got != slog.Default() {
		t.Fatal("expected default logger for a nil context")
	}
}

func TestContextWithNilLoggerIsNoop(t *testing.T) {
	ctx := context.Background()
	if got := ContextWithLogger(ctx, nil); got != ctx {
		t.Fatal("nil logger should leave the context unchanged")
	}
}
