package errors

import (
	"fmt"
	"net/http"
)

// Error is a structured error with a code, message, and optional cause.
//
// Message may contain internal detail (key ids, paths, upstream status
// codes). Boundaries that face untrusted callers respond with a generic
// body derived from [Error.HTTPStatus] and log the full error instead.
type Error struct {
	// Code is the machine-readable error code (e.g., "AUTH_003").
	Code Code

	// Message is the human-readable error message.
	Message string

	// Cause is the underlying error, if any.
	Cause error

	// Details holds structured context for logs (attempt counts, paths).
	Details map[string]any
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause, supporting errors.Is and errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// HTTPStatus returns the HTTP status code for this error. Most categories
// map to a single status; SECRET codes are resolved individually because a
// missing path and an unreachable store call for different responses.
func (e *Error) HTTPStatus() int {
	switch e.Code.Category() {
	case CategoryValidation:
		return http.StatusBadRequest
	case CategoryAuthentication, CategoryWebhook:
		return http.StatusUnauthorized
	case CategoryAuthorization:
		return http.StatusForbidden
	case CategoryConflict:
		return http.StatusConflict
	case CategorySecret:
		return secretStatus(e.Code)
	case CategoryInternal:
		return http.StatusInternalServerError
	case CategoryUnavailable:
		return http.StatusServiceUnavailable
	case CategoryTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func secretStatus(code Code) int {
	switch code {
	case CodeSecretNotFound:
		return http.StatusNotFound
	case CodeSecretParse:
		return http.StatusBadGateway
	default:
		return http.StatusServiceUnavailable
	}
}

// WithDetails returns a copy of the error with the given details merged in.
// The receiver is not modified.
func (e *Error) WithDetails(details map[string]any) *Error {
	merged := make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	return &Error{
		Code:    e.Code,
		Message: e.Message,
		Cause:   e.Cause,
		Details: merged,
	}
}

// WithDetail returns a copy of the error with one detail added.
func (e *Error) WithDetail(key string, value any) *Error {
	return e.WithDetails(map[string]any{key: value})
}

// LogAttrs returns the error as slog-style key/value pairs: code, message,
// cause (when set) and every detail entry.
func (e *Error) LogAttrs() []any {
	attrs := make([]any, 0, 6+2*len(e.Details))
	attrs = append(attrs, "code", string(e.Code), "message", e.Message)
	if e.Cause != nil {
		attrs = append(attrs, "cause", e.Cause.Error())
	}
	for k, v := range e.Details {
		attrs = append(attrs, k, v)
	}
	return attrs
}

// Format implements fmt.Formatter. %+v prints code, message, details and
// the cause chain.
func (e *Error) Format(s fmt.State, verb rune) {
	switch verb {
	case 'v':
		if s.Flag('+') {
			fmt.Fprintf(s, "Error{Code: %q, Message: %q", e.Code, e.Message)
			if len(e.Details) > 0 {
				fmt.Fprintf(s, ", Details: %v", e.Details)
			}
			if e.Cause != nil {
				fmt.Fprintf(s, ", Cause: %+v", e.Cause)
			}
			fmt.Fprint(s, "}")
			return
		}
		fallthrough
	case 's':
		fmt.Fprint(s, e.Error())
	case 'q':
		fmt.Fprintf(s, "%q", e.Error())
	}
}
