package types

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

// TestAppErrorImplementsError verifies that *AppError satisfies the error interface.
func TestAppErrorImplementsError(t *testing.T) {
	var _ error = (*AppError)(nil)
}

// TestAppErrorErrorFormat verifies the Error() method produces "code: message".
func TestAppErrorErrorFormat(t *testing.T) {
	appErr := &AppError{
		Code:    ErrCodeValidationMissingField,
		Message: "priceId is required",
	}

	expected := "validation_missing_required_field: priceId is required"
	if appErr.Error() != expected {
		t.Errorf("Error() = %q, want %q", appErr.Error(), expected)
	}
}

// TestAppErrorUnwrap verifies the error chain support via Unwrap.
func TestAppErrorUnwrap(t *testing.T) {
	underlying := errors.New("connection reset by peer")
	appErr := &AppError{
		Code:    ErrCodeInternalStore,
		Message: "failed to load user",
		Err:     underlying,
	}

	if appErr.Unwrap() != underlying {
		t.Errorf("Unwrap() returned unexpected error: got %v, want %v", appErr.Unwrap(), underlying)
	}
}

// TestAppErrorUnwrapNil verifies Unwrap returns nil when no underlying error exists.
func TestAppErrorUnwrapNil(t *testing.T) {
	appErr := &AppError{
		Code:    ErrCodeNotFoundUser,
		Message: "user not found",
	}

	if appErr.Unwrap() != nil {
		t.Errorf("Unwrap() should return nil when Err is nil, got %v", appErr.Unwrap())
	}
}

// TestAppErrorErrorsAs verifies that errors.As can extract AppError from an error chain.
func TestAppErrorErrorsAs(t *testing.T) {
	appErr := &AppError{
		Code:    ErrCodeAuthSessionExpired,
		Message: "session has expired",
	}
	wrappedErr := fmt.Errorf("handler failed: %w", appErr)

	var target *AppError
	if !errors.As(wrappedErr, &target) {
		t.Fatal("errors.As should find AppError in the chain")
	}
	if target.Code != ErrCodeAuthSessionExpired {
		t.Errorf("extracted Code = %q, want %q", target.Code, ErrCodeAuthSessionExpired)
	}
}

// TestAppErrorErrorsIs verifies that errors.Is works through the AppError chain.
func TestAppErrorErrorsIs(t *testing.T) {
	sentinel := errors.New("sentinel")
	appErr := &AppError{
		Code:    ErrCodeInternalUnexpected,
		Message: "unexpected failure",
		Err:     sentinel,
	}

	if !errors.Is(appErr, sentinel) {
		t.Error("errors.Is should find the sentinel error through Unwrap")
	}
}

// TestNewAppError verifies the basic constructor.
func TestNewAppError(t *testing.T) {
	underlying := errors.New("connection refused")
	appErr := NewAppError(ErrCodeUpstreamStripe, "stripe unavailable", underlying)

	if appErr.Code != ErrCodeUpstreamStripe {
		t.Errorf("Code = %q, want %q", appErr.Code, ErrCodeUpstreamStripe)
	}
	if appErr.Message != "stripe unavailable" {
		t.Errorf("Message = %q, want %q", appErr.Message, "stripe unavailable")
	}
	if appErr.Err != underlying {
		t.Errorf("Err = %v, want %v", appErr.Err, underlying)
	}
	if appErr.Details != nil {
		t.Errorf("Details should be nil, got %v", appErr.Details)
	}
}

// TestNewAppErrorWithDetails verifies the detailed constructor.
func TestNewAppErrorWithDetails(t *testing.T) {
	details := map[string]any{
		"field": "priceId",
	}
	appErr := NewAppErrorWithDetails(
		ErrCodeValidationMissingField,
		"priceId is required",
		nil,
		details,
	)

	if appErr.Code != ErrCodeValidationMissingField {
		t.Errorf("Code = %q, want %q", appErr.Code, ErrCodeValidationMissingField)
	}
	if appErr.Details == nil {
		t.Fatal("Details should not be nil")
	}
	if appErr.Details["field"] != "priceId" {
		t.Errorf("Details[\"field\"] = %v, want \"priceId\"", appErr.Details["field"])
	}
}

// TestAppErrorWithDetails verifies the WithDetails method creates a copy with merged details.
func TestAppErrorWithDetails(t *testing.T) {
	original := NewAppErrorWithDetails(
		ErrCodeUpstreamOAuth,
		"token exchange failed",
		nil,
		map[string]any{"provider": "github"},
	)

	enhanced := original.WithDetails(map[string]any{
		"status": 502,
	})

	// Original should be unchanged.
	if _, ok := original.Details["status"]; ok {
		t.Error("WithDetails should not mutate the original error")
	}

	// Enhanced should have both details.
	if enhanced.Details["provider"] != "github" {
		t.Errorf("enhanced should retain original detail: provider = %v", enhanced.Details["provider"])
	}
	if enhanced.Details["status"] != 502 {
		t.Errorf("enhanced should have new detail: status = %v", enhanced.Details["status"])
	}

	if enhanced.Code != original.Code {
		t.Errorf("Code should carry over: got %q, want %q", enhanced.Code, original.Code)
	}
	if enhanced.Message != original.Message {
		t.Errorf("Message should carry over: got %q, want %q", enhanced.Message, original.Message)
	}
}

// TestAppErrorWithDetailsNilOriginal verifies WithDetails works when original has no details.
func TestAppErrorWithDetailsNilOriginal(t *testing.T) {
	original := NewAppError(ErrCodeNotFoundUser, "not found", nil)
	enhanced := original.WithDetails(map[string]any{"email": "user@example.com"})

	if enhanced.Details["email"] != "user@example.com" {
		t.Errorf("WithDetails on nil original should work: email = %v", enhanced.Details["email"])
	}
}

// TestAppErrorHTTPStatus verifies the convenience method on AppError.
func TestAppErrorHTTPStatus(t *testing.T) {
	appErr := NewAppError(ErrCodeNotFoundUser, "not found", nil)
	if appErr.HTTPStatus() != http.StatusNotFound {
		t.Errorf("HTTPStatus() = %d, want %d", appErr.HTTPStatus(), http.StatusNotFound)
	}
}

// TestErrorCodeHTTPStatusMapping verifies the mapping from error codes to HTTP statuses.
func TestErrorCodeHTTPStatusMapping(t *testing.T) {
	tests := []struct {
		code       ErrorCode
		wantStatus int
	}{
		// Validation (400)
		{ErrCodeValidationMissingField, http.StatusBadRequest},
		{ErrCodeValidationInvalidEmail, http.StatusBadRequest},
		{ErrCodeValidationInvalidJSON, http.StatusBadRequest},

		// Auth (401)
		{ErrCodeAuthSessionMissing, http.StatusUnauthorized},
		{ErrCodeAuthSessionExpired, http.StatusUnauthorized},
		{ErrCodeAuthTokenInvalid, http.StatusUnauthorized},
		{ErrCodeAuthSignInDenied, http.StatusUnauthorized},

		// Not Found (404)
		{ErrCodeNotFoundUser, http.StatusNotFound},

		// Conflict (409)
		{ErrCodeConflictEmail, http.StatusConflict},

		// Internal (500)
		{ErrCodeInternalStore, http.StatusInternalServerError},
		{ErrCodeInternalUnexpected, http.StatusInternalServerError},

		// Upstream (502)
		{ErrCodeUpstreamStripe, http.StatusBadGateway},
		{ErrCodeUpstreamOAuth, http.StatusBadGateway},
		{ErrCodeUpstreamRateLimited, http.StatusBadGateway},
		{ErrCodeUpstreamUnavailable, http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			got := tt.code.HTTPStatus()
			if got != tt.wantStatus {
				t.Errorf("ErrorCode(%q).HTTPStatus() = %d, want %d", tt.code, got, tt.wantStatus)
			}
		})
	}
}

// TestErrorCodeHTTPStatusUnknown verifies that unrecognized codes default to 500.
func TestErrorCodeHTTPStatusUnknown(t *testing.T) {
	unknown := ErrorCode("totally_unknown_error")
	if unknown.HTTPStatus() != http.StatusInternalServerError {
		t.Errorf("unknown ErrorCode.HTTPStatus() = %d, want %d", unknown.HTTPStatus(), http.StatusInternalServerError)
	}
}

// TestAppErrorFmtStringer verifies that AppError produces readable output in fmt functions.
func TestAppErrorFmtStringer(t *testing.T) {
	appErr := NewAppError(ErrCodeConflictEmail, "email already in use", nil)
	result := fmt.Sprintf("got error: %v", appErr)
	expected := "got error: conflict_email_exists: email already in use"
	if result != expected {
		t.Errorf("fmt.Sprintf(\"%%v\") = %q, want %q", result, expected)
	}
}
