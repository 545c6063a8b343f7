package auth

import (
	"context"

	"go.opentelemetry.io/otel/trace"
)

// contextKey is an unexported type used for context keys in this package.
type contextKey int

const claimsKey contextKey = iota

// ContextWithClaims attaches verified claims to ctx. Only the HTTP
// middleware, the gRPC interceptors and tests should call it.
func ContextWithClaims(ctx context.Context, claims *VerifiedClaims) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}

// ClaimsFromContext returns the claims attached by the authentication
// middleware. It never returns nil with true.
//
// Example:
//
//	claims, ok := auth.ClaimsFromContext(r.Context())
//	if !ok {
//	    return sserr.Unauthorized("auth: no claims in context")
//	}
//	logger.Info("directory lookup", "sub", claims.Subject())
func ClaimsFromContext(ctx context.Context) (*VerifiedClaims, bool) {
	claims, ok := ctx.Value(claimsKey).(*VerifiedClaims)
	return claims, ok && claims != nil
}

// MustClaimsFromContext is ClaimsFromContext for handlers mounted behind
// the middleware. It panics when no claims are present.
func MustClaimsFromContext(ctx context.Context) *VerifiedClaims {
	claims, ok := ClaimsFromContext(ctx)
	if !ok {
		panic("auth: no claims in context; ensure authentication middleware is configured")
	}
	return claims
}

// TraceIDFromContext returns the active OpenTelemetry trace id as hex, so
// rejected requests can be correlated with their auth.Verify span.
func TraceIDFromContext(ctx context.Context) (string, bool) {
	spanCtx := trace.SpanFromContext(ctx).SpanContext()
	if !spanCtx.HasTraceID() {
		return "", false
	}
	return spanCtx.TraceID().String(), true
}

// SpanIDFromContext returns the active span id as hex.
func SpanIDFromContext(ctx context.Context) (string, bool) {
	spanCtx := trace.SpanFromContext(ctx).SpanContext()
	if !spanCtx.HasSpanID() {
		return "", false
	}
	return spanCtx.SpanID().String(), true
}
