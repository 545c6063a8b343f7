package errors

import (
	"errors"
)

// AsError finds the first *Error in err's chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// GetCode returns the code of the first *Error in err's chain, or "".
func GetCode(err error) Code {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ""
}

// HasCode reports whether err carries the given code.
//
// Example:
//
//	if errors.HasCode(err, errors.CodeAuthUnknownKey) {
//	    // key rotation race; the verifier already refreshed once
//	}
func HasCode(err error, code Code) bool {
	return GetCode(err) == code
}

func hasCategory(err error, category string) bool {
	e, ok := AsError(err)
	return ok && e.Code.Category() == category
}

// IsValidation reports whether err is a VAL error.
func IsValidation(err error) bool { return hasCategory(err, CategoryValidation) }

// IsAuthentication reports whether err is an AUTH error (bearer token
// rejected).
func IsAuthentication(err error) bool { return hasCategory(err, CategoryAuthentication) }

// IsAuthorization reports whether err is an AUTHZ error.
func IsAuthorization(err error) bool { return hasCategory(err, CategoryAuthorization) }

// IsNotFound reports whether err is a missing secret.
func IsNotFound(err error) bool { return HasCode(err, CodeSecretNotFound) }

// IsConflict reports whether err is a CONF error.
func IsConflict(err error) bool { return hasCategory(err, CategoryConflict) }

// IsSecret reports whether err is a SECRET error.
func IsSecret(err error) bool { return hasCategory(err, CategorySecret) }

// IsWebhook reports whether err is a WEBHOOK error.
func IsWebhook(err error) bool { return hasCategory(err, CategoryWebhook) }

// IsInternal reports whether err is an INT error.
func IsInternal(err error) bool { return hasCategory(err, CategoryInternal) }

// IsUnavailable reports whether err is an UNAVAIL error.
func IsUnavailable(err error) bool { return hasCategory(err, CategoryUnavailable) }

// IsTimeout reports whether err is a TIMEOUT error.
func IsTimeout(err error) bool { return hasCategory(err, CategoryTimeout) }

// IsRetryable reports whether the failure is transient. Timeout and
// unavailable errors are retryable. SECRET_002 is not: it is only produced
// once the retry budget is already spent.
func IsRetryable(err error) bool {
	e, ok := AsError(err)
	if !ok {
		return false
	}
	switch e.Code.Category() {
	case CategoryTimeout, CategoryUnavailable:
		return true
	default:
		return false
	}
}

// IsClientError reports whether err maps to a 4xx status.
func IsClientError(err error) bool {
	e, ok := AsError(err)
	if !ok {
		return false
	}
	status := e.HTTPStatus()
	return status >= 400 && status < 500
}

// IsServerError reports whether err maps to a 5xx status.
func IsServerError(err error) bool {
	e, ok := AsError(err)
	if !ok {
		return false
	}
	return e.HTTPStatus() >= 500
}
