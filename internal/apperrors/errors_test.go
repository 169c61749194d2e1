package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestValidation(t *testing.T) {
	t.Parallel()
	err := Validation("variant", "variant is required")

	if !errors.Is(err, ErrValidation) {
		t.Error("expected error to match ErrValidation")
	}
	if err.Error() != "variant is required" {
		t.Errorf("expected message 'variant is required', got %q", err.Error())
	}

	var appErr *Error
	if !errors.As(err, &appErr) {
		t.Fatal("expected error to be *Error")
	}
	if appErr.Field != "variant" {
		t.Errorf("expected field 'variant', got %q", appErr.Field)
	}
}

func TestNotFound(t *testing.T) {
	t.Parallel()
	err := NotFound("artifact", "models/model_red.pkl")

	if !errors.Is(err, ErrNotFound) {
		t.Error("expected error to match ErrNotFound")
	}
	if err.Error() != "artifact models/model_red.pkl not found" {
		t.Errorf("unexpected message: %q", err.Error())
	}

	var appErr *Error
	if !errors.As(err, &appErr) {
		t.Fatal("expected error to be *Error")
	}
	if appErr.Resource != "artifact" {
		t.Errorf("expected resource 'artifact', got %q", appErr.Resource)
	}
}

func TestConflict(t *testing.T) {
	t.Parallel()
	err := Conflict("run", "red", "run already active for variant red")

	if !errors.Is(err, ErrConflict) {
		t.Error("expected error to match ErrConflict")
	}
	if err.Error() != "run already active for variant red" {
		t.Errorf("unexpected message: %q", err.Error())
	}
}

func TestStorage_PreservesCause(t *testing.T) {
	t.Parallel()
	cause := errors.New("connection reset by peer")
	err := Storage("store.put", cause)

	if !errors.Is(err, ErrStorage) {
		t.Error("expected error to match ErrStorage")
	}
	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to reach the cause")
	}
	if err.Error() != "store.put: connection reset by peer" {
		t.Errorf("unexpected message: %q", err.Error())
	}
}

func TestConfiguration_IsFatal(t *testing.T) {
	t.Parallel()
	err := Configuration("GITHUB_REPO", "is required when announcing is enabled")

	if !errors.Is(err, ErrConfiguration) {
		t.Error("expected error to match ErrConfiguration")
	}
	if !IsFatal(fmt.Errorf("startup: %w", err)) {
		t.Error("expected wrapped configuration error to be fatal")
	}
	if IsFatal(NotFound("artifact", "x")) {
		t.Error("expected not found error to be non-fatal")
	}
}

func TestInternal(t *testing.T) {
	t.Parallel()
	cause := fmt.Errorf("docker daemon unavailable")
	err := Internal("compute.train", cause)

	if !errors.Is(err, ErrInternal) {
		t.Error("expected error to match ErrInternal")
	}
	if err.Error() != "compute.train: docker daemon unavailable" {
		t.Errorf("unexpected message: %q", err.Error())
	}

	var appErr *Error
	if !errors.As(err, &appErr) {
		t.Fatal("expected error to be *Error")
	}
	if appErr.Op != "compute.train" {
		t.Errorf("expected op 'compute.train', got %q", appErr.Op)
	}
	if appErr.Cause != cause {
		t.Error("expected cause to be preserved")
	}
}

func TestHTTPStatus(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{"validation", Validation("variant", "required"), http.StatusBadRequest},
		{"not found", NotFound("artifact", "123"), http.StatusNotFound},
		{"conflict", Conflict("run", "red", "active"), http.StatusConflict},
		{"storage", Storage("store.get", fmt.Errorf("timeout")), http.StatusServiceUnavailable},
		{"configuration", Configuration("X", "missing"), http.StatusInternalServerError},
		{"internal", Internal("op", fmt.Errorf("fail")), http.StatusInternalServerError},
		{"sentinel not found", ErrNotFound, http.StatusNotFound},
		{"wrapped validation", fmt.Errorf("wrap: %w", Validation("f", "m")), http.StatusBadRequest},
		{"unknown error", fmt.Errorf("unknown"), http.StatusInternalServerError},
		{"nil error", nil, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := HTTPStatus(tt.err)
			if got != tt.expected {
				t.Errorf("HTTPStatus() = %d, want %d", got, tt.expected)
			}
		})
	}
}
