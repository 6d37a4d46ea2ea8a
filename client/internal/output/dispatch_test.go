package output

import (
	"log/slog"
	"testing"
)

func TestDispatchStdoutNeverErrors(t *testing.T) {
	if err := Dispatch(ModeStdout, "hello", slog.Default()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDispatchUnknownModeFallsBackToStdout(t *testing.T) {
	if err := Dispatch("bogus", "hello", slog.Default()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDispatchTypeMissingToolFallsBack(t *testing.T) {
	// In a minimal test environment neither wtype nor xdotool is
	// expected to exist, so this exercises the fallback path without
	// mocking exec.LookPath.
	if err := Dispatch(ModeType, "hello", slog.Default()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
