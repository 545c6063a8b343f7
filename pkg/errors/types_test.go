package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_Error(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "without cause",
			err:  &Error{Code: CodeAuthUnknownKey, Message: "auth: key not found"},
			want: "AUTH_003: auth: key not found",
		},
		{
			name: "with cause",
			err: &Error{
				Code:    CodeSecretNetwork,
				Message: "secrets: request failed",
				Cause:   errors.New("connection refused"),
			},
			want: "SECRET_002: secrets: request failed: connection refused",
		},
		{
			name: "nested platform error",
			err: &Error{
				Code:    CodeInternal,
				Message: "operation failed",
				Cause:   &Error{Code: CodeTimeout, Message: "deadline"},
			},
			want: "INT_001: operation failed: TIMEOUT_001: deadline",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	t.Parallel()
	cause := errors.New("underlying")
	err := Wrap(cause, CodeInternal, "failed")
	assert.Equal(t, cause, err.Unwrap())
	assert.True(t, errors.Is(err, cause))
	assert.Nil(t, New(CodeInternal, "x").Unwrap())
}

func TestError_HTTPStatus(t *testing.T) {
	t.Parallel()
	tests := []struct {
		code Code
		want int
	}{
		{CodeValidation, http.StatusBadRequest},
		{CodeAuthMissingToken, http.StatusUnauthorized},
		{CodeAuthUnsupportedAlgorithm, http.StatusUnauthorized},
		{CodeAuthUnknownKey, http.StatusUnauthorized},
		{CodeAuthSignatureInvalid, http.StatusUnauthorized},
		{CodeAuthExpired, http.StatusUnauthorized},
		{CodeAuthIssuerMismatch, http.StatusUnauthorized},
		{CodeAuthAudienceMismatch, http.StatusUnauthorized},
		{CodeAuthorizationDenied, http.StatusForbidden},
		{CodeConflict, http.StatusConflict},
		{CodeSecretNotConfigured, http.StatusServiceUnavailable},
		{CodeSecretNetwork, http.StatusServiceUnavailable},
		{CodeSecretNotFound, http.StatusNotFound},
		{CodeSecretParse, http.StatusBadGateway},
		{CodeSecretPermissionDenied, http.StatusServiceUnavailable},
		{CodeWebhookMissingSecret, http.StatusUnauthorized},
		{CodeWebhookBadSignatureFormat, http.StatusUnauthorized},
		{CodeWebhookSignatureInvalid, http.StatusUnauthorized},
		{CodeWebhookReplayWindowExceeded, http.StatusUnauthorized},
		{CodeWebhookMalformedPayload, http.StatusUnauthorized},
		{CodeInternalDatabase, http.StatusInternalServerError},
		{CodeUnavailableDependency, http.StatusServiceUnavailable},
		{CodeTimeoutDatabase, http.StatusGatewayTimeout},
		{Code("UNKNOWN_001"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, New(tt.code, "msg").HTTPStatus())
		})
	}
}

func TestError_WithDetails_DoesNotMutate(t *testing.T) {
	t.Parallel()
	orig := New(CodeSecretNetwork, "failed").WithDetail("path", "kv/api")
	extended := orig.WithDetails(map[string]any{"attempts": 3})

	assert.Equal(t, map[string]any{"path": "kv/api"}, orig.Details)
	assert.Equal(t, map[string]any{"path": "kv/api", "attempts": 3}, extended.Details)
	assert.Equal(t, orig.Code, extended.Code)
}

func TestError_LogAttrs(t *testing.T) {
	t.Parallel()
	err := Wrap(errors.New("boom"), CodeSecretNetwork, "secrets: failed").
		WithDetail("attempts", 3)

	attrs := err.LogAttrs()
	require.Len(t, attrs, 8)
	assert.Equal(t, []any{"code", "SECRET_002", "message", "secrets: failed", "cause", "boom", "attempts", 3}, attrs)
}

func TestError_Format(t *testing.T) {
	t.Parallel()
	err := Wrap(errors.New("refused"), CodeSecretNetwork, "request failed").
		WithDetail("path", "kv/api")

	assert.Equal(t, "SECRET_002: request failed: refused", fmt.Sprintf("%v", err))
	assert.Equal(t, "SECRET_002: request failed: refused", fmt.Sprintf("%s", err))
	assert.Equal(t, `"SECRET_002: request failed: refused"`, fmt.Sprintf("%q", err))

	detailed := fmt.Sprintf("%+v", err)
	assert.Contains(t, detailed, `Code: "SECRET_002"`)
	assert.Contains(t, detailed, "Details: map[path:kv/api]")
	assert.Contains(t, detailed, "Cause: refused")
}
