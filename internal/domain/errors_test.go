package domain

import (
	"errors"
	"testing"
)

func TestCancellationError_UnwrapsToSentinel(t *testing.T) {
	err := NewCancellationError("interrupt")
	if !errors.Is(err, ErrCancelled) {
		t.Error("expected CancellationError to unwrap to ErrCancelled")
	}
	if err.Error() == "" {
		t.Error("expected a non-empty message")
	}
}

func TestCancellationError_EmptyReasonOmitsSuffix(t *testing.T) {
	err := NewCancellationError("")
	if err.Error() != ErrCancelled.Error() {
		t.Errorf("expected bare sentinel message, got %q", err.Error())
	}
}

func TestTransportStartError_Unwraps(t *testing.T) {
	cause := errors.New("dial refused")
	err := NewTransportStartError("http1", cause)
	if !errors.Is(err, cause) {
		t.Error("expected TransportStartError to unwrap to its cause")
	}
}

func TestPerRequestError_Unwraps(t *testing.T) {
	cause := errors.New("connection reset")
	err := NewPerRequestError("/widgets", cause)
	if !errors.Is(err, cause) {
		t.Error("expected PerRequestError to unwrap to its cause")
	}
}

func TestConfigurationError_NamesField(t *testing.T) {
	err := NewConfigurationError("workload.Users", "required")
	if err.Field != "workload.Users" {
		t.Errorf("unexpected field %q", err.Field)
	}
}

func TestShutdownRejection_Error(t *testing.T) {
	var err error = &ShutdownRejection{}
	if err.Error() == "" {
		t.Error("expected a non-empty message")
	}
}
