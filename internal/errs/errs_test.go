package errs

import (
	"errors"
	"fmt"
	"testing"
)

func TestValidationError_Message(t *testing.T) {
	err := Invalid("model_id", "is required")
	if got := err.Error(); got != "validation: model_id: is required" {
		t.Errorf("Error() = %q", got)
	}
	if !IsValidation(err) {
		t.Error("IsValidation = false, want true")
	}
	if IsStorage(err) {
		t.Error("IsStorage = true, want false")
	}
}

func TestStorage_NilPassthrough(t *testing.T) {
	if err := Storage("insert", nil); err != nil {
		t.Errorf("Storage(nil) = %v, want nil", err)
	}
}

func TestStorage_WrapsAndUnwraps(t *testing.T) {
	cause := errors.New("disk full")
	err := Storage("insert evaluation", cause)
	if !IsStorage(err) {
		t.Fatal("IsStorage = false, want true")
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is(err, cause) = false, want true")
	}

	// Wrapping twice keeps the innermost op.
	again := Storage("outer", fmt.Errorf("ctx: %w", err))
	var se *StorageError
	if !errors.As(again, &se) || se.Op != "insert evaluation" {
		t.Errorf("double wrap op = %+v, want insert evaluation", se)
	}
}

func TestKind(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"validation", Invalid("x", "bad"), "ValidationError"},
		{"storage", Storage("op", errors.New("io")), "StorageError"},
		{"invocation", &ModelInvocationError{Model: "gpt-4o", Err: errors.New("429")}, "ModelInvocationError"},
		{"wrapped invocation", fmt.Errorf("call: %w", &ModelInvocationError{Model: "m", Err: errors.New("x")}), "ModelInvocationError"},
		{"plain", errors.New("boom"), "*errors.errorString"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Kind(tt.err); got != tt.want {
				t.Errorf("Kind() = %q, want %q", got, tt.want)
			}
		})
	}
}
