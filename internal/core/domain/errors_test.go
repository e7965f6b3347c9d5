package domain

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestAPIError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *APIError
		expected string
	}{
		{
			name:     "invalid request",
			err:      ErrInvalidRequest("Invalid hook ID"),
			expected: "invalid_request: Invalid hook ID",
		},
		{
			name:     "server",
			err:      ErrServer("boom"),
			expected: "server: boom",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestAPIError_HTTPStatusCode(t *testing.T) {
	tests := []struct {
		name     string
		err      *APIError
		expected int
	}{
		{"invalid request", ErrInvalidRequest("x"), http.StatusBadRequest},
		{"authentication", ErrAuthentication("x"), http.StatusForbidden},
		{"permission", NewAPIError(ErrorTypePermission, "x"), http.StatusBadRequest},
		{"not found", NewAPIError(ErrorTypeNotFound, "x"), http.StatusNotFound},
		{"server", ErrServer("x"), http.StatusInternalServerError},
		{"explicit status", ErrServer("x").WithStatusCode(http.StatusBadGateway), http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.HTTPStatusCode(); got != tt.expected {
				t.Errorf("HTTPStatusCode() = %d, want %d", got, tt.expected)
			}
		})
	}
}

func TestAPIError_Unwrap(t *testing.T) {
	err := NewAPIError(ErrorTypePermission, PermissionErrorMessage).WithCause(ErrPermission)
	if !errors.Is(err, ErrPermission) {
		t.Fatal("expected APIError to unwrap to ErrPermission")
	}

	wrapped := fmt.Errorf("create webhook: %w", ErrPermission)
	if !errors.Is(wrapped, ErrPermission) {
		t.Fatal("expected wrapped error to match ErrPermission")
	}
	if ErrPermission.Error() != PermissionErrorMessage {
		t.Errorf("ErrPermission = %q, want %q", ErrPermission.Error(), PermissionErrorMessage)
	}
}
