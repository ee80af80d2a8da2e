package bridge

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorString(t *testing.T) {
	err := NewTimeoutError("no response within budget", nil).WithMethod("document.recompute")

	msg := err.Error()
	if !strings.Contains(msg, "timeout") {
		t.Errorf("expected kind in message, got %q", msg)
	}
	if !strings.Contains(msg, "document.recompute") {
		t.Errorf("expected method in message, got %q", msg)
	}
}

func TestErrorIs(t *testing.T) {
	err := NewConnectionError("dial failed", nil)

	if !errors.Is(err, &Error{Kind: ErrorKindConnection}) {
		t.Error("expected errors.Is match on kind")
	}
	if errors.Is(err, &Error{Kind: ErrorKindTimeout}) {
		t.Error("expected no match across kinds")
	}
}

func TestKindOf(t *testing.T) {
	wrapped := fmt.Errorf("outer: %w", NewRemoteFaultError("sketch has no support", nil))
	if got := KindOf(wrapped); got != ErrorKindRemoteFault {
		t.Errorf("expected remote_fault through wrapping, got %q", got)
	}

	if got := KindOf(errors.New("plain")); got != "" {
		t.Errorf("expected empty kind for foreign error, got %q", got)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		err       error
		retryable bool
	}{
		{NewTimeoutError("t", nil), true},
		{NewConnectionError("c", nil), true},
		{NewRemoteFaultError("f", nil), false},
		{NewValidationError("v"), false},
		{NewRollbackError("r", nil), false},
		{NewNotReadyError("n"), false},
		{NewBusyError("b"), false},
		{NewProtocolError("p", nil), false},
		{NewPolicyError("pol"), false},
		{errors.New("plain"), false},
	}

	for _, tt := range tests {
		if got := IsRetryable(tt.err); got != tt.retryable {
			t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.retryable)
		}
	}
}

func TestValidationErrorMessage(t *testing.T) {
	err := NewValidationError("object \"Pad\" reports invalid state")
	if !strings.HasPrefix(err.Message, "reverted: ") {
		t.Errorf("expected reverted prefix, got %q", err.Message)
	}
}

func TestErrorContextBuilders(t *testing.T) {
	err := NewRemoteFaultError("fault", nil).
		WithMethod("object.edit").
		WithDocument("Bracket").
		WithObject("Pad").
		WithCheckpoint("object.edit-abc12345").
		WithAttempts(1)

	if err.Method != "object.edit" || err.Document != "Bracket" || err.Object != "Pad" {
		t.Error("context builders did not record fields")
	}
	if err.Checkpoint != "object.edit-abc12345" || err.Attempts != 1 {
		t.Error("checkpoint/attempts not recorded")
	}
}
