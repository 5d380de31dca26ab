package logging

import (
	"errors"
	"testing"
)

func TestNewOperationErrorNilPassthrough(t *testing.T) {
	if err := NewOperationError("op", "sid", nil); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestOperationErrorMessageAndUnwrap(t *testing.T) {
	base := errors.New("disk full")
	err := NewOperationError("artifacts.save", "abc", base)

	if got, want := err.Error(), "artifacts.save (session_id=abc): disk full"; got != want {
		t.Fatalf("unexpected message: got %q want %q", got, want)
	}
	if !errors.Is(err, base) {
		t.Fatal("expected errors.Is to find the wrapped error")
	}

	var opErr *OperationError
	if !errors.As(err, &opErr) {
		t.Fatalf("expected OperationError, got %T", err)
	}
	if opErr.Operation != "artifacts.save" {
		t.Fatalf("unexpected operation: %s", opErr.Operation)
	}
}

func TestOperationErrorWithoutSession(t *testing.T) {
	err := NewOperationError("config.load", "", errors.New("bad value"))
	if got, want := err.Error(), "config.load: bad value"; got != want {
		t.Fatalf("unexpected message: got %q want %q", got, want)
	}
}

func TestNewLoggerFallsBackOnUnknownLevel(t *testing.T) {
	logger, err := NewLogger("not-a-level")
	if err != nil {
		t.Fatalf("expected logger, got error: %v", err)
	}
	if !logger.Core().Enabled(0) {
		t.Fatal("expected info level to be enabled")
	}
}
