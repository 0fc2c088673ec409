package types

import (
	"errors"
	"fmt"
	"testing"
)

func TestError_ChainingAndHelpers(t *testing.T) {
	t.Parallel()

	root := errors.New("root")
	err := NewError(ErrRetryExhausted, "connect failed").
		WithCause(root).
		WithRetryable(true)

	if GetErrorCode(err) != ErrRetryExhausted {
		t.Fatalf("expected code %s, got %s", ErrRetryExhausted, GetErrorCode(err))
	}
	if !IsRetryable(err) {
		t.Fatalf("expected retryable")
	}
	if !errors.Is(err, root) {
		t.Fatalf("expected errors.Is unwrap to root")
	}
	if got := err.Error(); got == "" {
		t.Fatalf("expected non-empty error string")
	}
}

func TestError_IsMatchesByCode(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("acquire: %w", Errorf(ErrPoolTimeout, "waited %s", "30s"))

	if !IsErrorCode(err, ErrPoolTimeout) {
		t.Fatalf("expected wrapped pool timeout to match by code")
	}
	if IsErrorCode(err, ErrQueryTimeout) {
		t.Fatalf("did not expect query timeout to match")
	}
	if !errors.Is(err, NewError(ErrPoolTimeout, "")) {
		t.Fatalf("expected sentinel-style errors.Is match")
	}
}

func TestError_HelpersOnPlainErrors(t *testing.T) {
	t.Parallel()

	plain := errors.New("plain")
	if IsRetryable(plain) {
		t.Fatalf("plain error must not be retryable")
	}
	if GetErrorCode(plain) != "" {
		t.Fatalf("plain error must not carry a code")
	}
	if _, ok := AsError(nil); ok {
		t.Fatalf("nil must not convert")
	}
}

func TestError_WithField(t *testing.T) {
	t.Parallel()

	err := NewError(ErrValidation, "name is required").WithField("name")
	if err.Field != "name" {
		t.Fatalf("expected field name, got %q", err.Field)
	}
	if err.Error() != "[VALIDATION] name is required" {
		t.Fatalf("unexpected message %q", err.Error())
	}
}
