// Package errors provides the structured error type shared by every
// component of the StricklySoft trust boundary: token verification,
// authorization, the secret store client and webhook authentication.
//
// # Error Categories
//
// Each error carries a machine-readable [Code] of the form CATEGORY_NNN.
// The category decides how the error surfaces at an HTTP boundary:
//
//   - VAL: invalid input or configuration (400)
//   - AUTH: bearer token rejected (401)
//   - AUTHZ: verified caller lacks a required role (403)
//   - CONF: state conflict, e.g. an illegal lifecycle transition (409)
//   - SECRET: secret store failures (404, 502 or 503, see [Error.HTTPStatus])
//   - WEBHOOK: inbound webhook rejected (401)
//   - INT: unexpected internal failure (500)
//   - UNAVAIL: dependency temporarily unavailable (503)
//   - TIMEOUT: operation exceeded its deadline (504)
//
// Authentication and webhook errors deliberately share a single public
// status. Handlers must not echo [Error.Message] for those categories to
// clients; the message and cause are meant for logs and spans.
//
// # Usage
//
// Create a new error:
//
//	err := errors.New(errors.CodeAuthUnknownKey, "auth: key id not in key set")
//
// Wrap an existing error:
//
//	err := errors.Wrap(err, errors.CodeSecretNetwork, "secrets: request failed")
//
// Inspect an error:
//
//	if errors.IsAuthentication(err) {
//	    // respond 401
//	}
package errors
