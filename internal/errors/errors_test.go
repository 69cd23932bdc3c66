// Package errors provides unit tests for error code handling.
package errors

import (
	stderrors "errors"
	"strings"
	"testing"
)

// TestNewError tests error construction and formatting.
func TestNewError(t *testing.T) {
	err := New(ErrRecordNotFound, "record missing")

	if err.Code != ErrRecordNotFound {
		t.Errorf("Expected code %s, got %s", ErrRecordNotFound, err.Code)
	}

	if !strings.Contains(err.Error(), "RECORD_NOT_FOUND") {
		t.Errorf("Expected code in message, got %q", err.Error())
	}
}

// TestWrapUnwrap tests wrapping and unwrapping an underlying error.
func TestWrapUnwrap(t *testing.T) {
	cause := stderrors.New("disk full")
	err := Wrap(ErrDatabase, "write failed", cause)

	if !stderrors.Is(err, cause) {
		t.Error("Expected wrapped error to match cause via errors.Is")
	}

	if !strings.Contains(err.Error(), "disk full") {
		t.Errorf("Expected cause in message, got %q", err.Error())
	}
}

// TestIsCode tests code matching.
func TestIsCode(t *testing.T) {
	err := New(ErrSyncConflict, "both sides changed")

	if !Is(err, ErrSyncConflict) {
		t.Error("Expected Is to match the code")
	}

	if Is(err, ErrSyncFailed) {
		t.Error("Expected Is to reject a different code")
	}

	if Is(stderrors.New("plain"), ErrSyncConflict) {
		t.Error("Expected Is to reject plain errors")
	}
}

// TestCodeOf tests code extraction with a fallback.
func TestCodeOf(t *testing.T) {
	if CodeOf(New(ErrQueueFull, "full")) != ErrQueueFull {
		t.Error("Expected CodeOf to return the AppError code")
	}

	if CodeOf(stderrors.New("plain")) != ErrInternal {
		t.Error("Expected CodeOf to fall back to ErrInternal")
	}
}
