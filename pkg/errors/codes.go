package errors

// Code represents a machine-readable error code. Codes follow the pattern
// CATEGORY_NNN and never change meaning once assigned, so they are safe to
// alert on and to match in clients.
type Code string

// Category prefixes.
const (
	CategoryValidation     = "VAL"
	CategoryAuthentication = "AUTH"
	CategoryAuthorization  = "AUTHZ"
	CategoryConflict       = "CONF"
	CategorySecret         = "SECRET"
	CategoryWebhook        = "WEBHOOK"
	CategoryInternal       = "INT"
	CategoryUnavailable    = "UNAVAIL"
	CategoryTimeout        = "TIMEOUT"
)

const (
	// Validation errors (VAL_xxx) - HTTP 400

	// CodeValidation indicates a general validation failure.
	CodeValidation Code = "VAL_001"

	// CodeValidationRequired indicates a required field is missing.
	CodeValidationRequired Code = "VAL_002"

	// CodeValidationFormat indicates a field has an invalid format.
	CodeValidationFormat Code = "VAL_003"

	// Authentication errors (AUTH_xxx) - HTTP 401
	// One code per bearer token rejection reason.

	// CodeAuthMissingToken indicates the bearer token is absent or is not
	// a well-formed JWT.
	CodeAuthMissingToken Code = "AUTH_001"

	// CodeAuthUnsupportedAlgorithm indicates the token header declares an
	// algorithm outside the asymmetric allow-list.
	CodeAuthUnsupportedAlgorithm Code = "AUTH_002"

	// CodeAuthUnknownKey indicates the token's kid is not in the key set,
	// even after a forced refresh.
	CodeAuthUnknownKey Code = "AUTH_003"

	// CodeAuthSignatureInvalid indicates the signature does not verify.
	CodeAuthSignatureInvalid Code = "AUTH_004"

	// CodeAuthExpired indicates the token is outside its validity window
	// (exp, nbf or iat), after leeway.
	CodeAuthExpired Code = "AUTH_005"

	// CodeAuthIssuerMismatch indicates the iss claim differs from the
	// configured issuer.
	CodeAuthIssuerMismatch Code = "AUTH_006"

	// CodeAuthAudienceMismatch indicates neither aud nor azp matches a
	// configured audience.
	CodeAuthAudienceMismatch Code = "AUTH_007"

	// Authorization errors (AUTHZ_xxx) - HTTP 403

	// CodeAuthorizationDenied indicates the caller holds none of the
	// required roles.
	CodeAuthorizationDenied Code = "AUTHZ_001"

	// Conflict errors (CONF_xxx) - HTTP 409

	// CodeConflict indicates an operation conflicts with current state.
	CodeConflict Code = "CONF_001"

	// Secret store errors (SECRET_xxx)

	// CodeSecretNotConfigured indicates no secret store credentials were
	// supplied. HTTP 503.
	CodeSecretNotConfigured Code = "SECRET_001"

	// CodeSecretNetwork indicates the secret store could not be reached
	// after all retry attempts. HTTP 503.
	CodeSecretNetwork Code = "SECRET_002"

	// CodeSecretNotFound indicates the path or key does not exist. HTTP 404.
	CodeSecretNotFound Code = "SECRET_003"

	// CodeSecretParse indicates the secret store returned a malformed
	// response. HTTP 502.
	CodeSecretParse Code = "SECRET_004"

	// CodeSecretPermissionDenied indicates the secret store rejected the
	// configured credentials. HTTP 503.
	CodeSecretPermissionDenied Code = "SECRET_005"

	// Webhook errors (WEBHOOK_xxx) - HTTP 401

	// CodeWebhookMissingSecret indicates no shared secret is available to
	// verify the signature.
	CodeWebhookMissingSecret Code = "WEBHOOK_001"

	// CodeWebhookBadSignatureFormat indicates the signature header is
	// missing, lacks the sha256= prefix or is not hex.
	CodeWebhookBadSignatureFormat Code = "WEBHOOK_002"

	// CodeWebhookSignatureInvalid indicates the HMAC does not match.
	CodeWebhookSignatureInvalid Code = "WEBHOOK_003"

	// CodeWebhookReplayWindowExceeded indicates the embedded timestamp is
	// too far from the receiver's clock.
	CodeWebhookReplayWindowExceeded Code = "WEBHOOK_004"

	// CodeWebhookMalformedPayload indicates a correctly signed body that
	// cannot be decoded or lacks source/nonce.
	CodeWebhookMalformedPayload Code = "WEBHOOK_005"

	// Internal errors (INT_xxx) - HTTP 500

	// CodeInternal indicates a general internal error.
	CodeInternal Code = "INT_001"

	// CodeInternalDatabase indicates a database operation failed.
	CodeInternalDatabase Code = "INT_002"

	// CodeInternalConfiguration indicates a configuration error.
	CodeInternalConfiguration Code = "INT_003"

	// Unavailable errors (UNAVAIL_xxx) - HTTP 503

	// CodeUnavailable indicates a general service unavailable error.
	CodeUnavailable Code = "UNAVAIL_001"

	// CodeUnavailableDependency indicates a dependent service is unavailable.
	CodeUnavailableDependency Code = "UNAVAIL_002"

	// Timeout errors (TIMEOUT_xxx) - HTTP 504

	// CodeTimeout indicates a general timeout error.
	CodeTimeout Code = "TIMEOUT_001"

	// CodeTimeoutDatabase indicates a database operation timed out.
	CodeTimeoutDatabase Code = "TIMEOUT_002"
)

// String returns the string representation of the error code.
func (c Code) String() string {
	return string(c)
}

// Category returns the category prefix of the error code (e.g., "AUTH").
func (c Code) Category() string {
	s := string(c)
	for i, r := range s {
		if r == '_' {
			return s[:i]
		}
	}
	return s
}
