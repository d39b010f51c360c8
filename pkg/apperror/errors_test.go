// Package apperror provides tests for the custom error types and utility functions.
package apperror

import (
	"errors"
	"net/http"
	"testing"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		expected string
	}{
		{
			name:     "without field",
			err:      New(CodeUnknownDelivery, "delivery not found"),
			expected: "[UNKNOWN_DELIVERY] delivery not found",
		},
		{
			name:     "with field",
			err:      NewWithField(CodeInvalidDeliverySize, "size must be positive", "size"),
			expected: "[INVALID_DELIVERY_SIZE] size must be positive (field: size)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Error() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("underlying error")
	err := Wrap(cause, CodeInternal, "wrapped error")

	if unwrapped := err.Unwrap(); unwrapped != cause {
		t.Errorf("Unwrap() = %v, want %v", unwrapped, cause)
	}
}

func TestError_HTTPStatus(t *testing.T) {
	tests := []struct {
		name     string
		code     ErrorCode
		expected int
	}{
		{"already started", CodeSystemAlreadyStarted, http.StatusConflict},
		{"duplicate vehicle", CodeDuplicateVehicleID, http.StatusConflict},
		{"not started", CodeSystemNotStarted, http.StatusBadRequest},
		{"invalid mix", CodeInvalidAlgorithmMix, http.StatusBadRequest},
		{"unknown vehicle", CodeUnknownVehicle, http.StatusNotFound},
		{"internal", CodeInternal, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.code, "message")
			if got := err.HTTPStatus(); got != tt.expected {
				t.Errorf("HTTPStatus() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestHTTPStatus_NonAppError(t *testing.T) {
	if got := HTTPStatus(errors.New("plain")); got != http.StatusInternalServerError {
		t.Errorf("HTTPStatus() = %v, want %v", got, http.StatusInternalServerError)
	}
}

func TestIs(t *testing.T) {
	err := New(CodeUnknownVehicle, "missing")
	if !Is(err, CodeUnknownVehicle) {
		t.Error("Is() = false, want true")
	}
	if Is(err, CodeInternal) {
		t.Error("Is() = true, want false")
	}
}

func TestValidationErrors(t *testing.T) {
	v := NewValidationErrors()
	if !v.IsValid() {
		t.Fatal("fresh ValidationErrors should be valid")
	}

	v.AddError(CodeInvalidArgument, "bad argument")
	if v.IsValid() {
		t.Error("ValidationErrors should be invalid after AddError")
	}
	if len(v.ErrorMessages()) != 1 {
		t.Errorf("ErrorMessages() length = %d, want 1", len(v.ErrorMessages()))
	}
}
