package auth

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	sserr "github.com/StricklySoft/stricklysoft-trust/pkg/errors"
)

// Request headers read by the middleware.
const (
	HeaderAuthorization = "Authorization"
	HeaderDevUser       = "X-Dev-User"
	HeaderDevRoles      = "X-Dev-Roles"
)

const bearerPrefix = "Bearer "

// Fixed response bodies. Rejections never say why.
const (
	unauthorizedBody = `{"error":"unauthorized"}`
	forbiddenBody    = `{"error":"forbidden"}`
)

// MiddlewareConfig configures [NewMiddleware].
type MiddlewareConfig struct {
	Verifier Verifier

	// DevBypass enables the X-Dev-User header bypass. It is ignored when
	// Production is true.
	DevBypass bool

	// Production hard-disables the development bypass.
	Production bool

	// Now defaults to time.Now. Tests pin it.
	Now func() time.Time

	Logger *slog.Logger
}

// Middleware authenticates requests and stores [VerifiedClaims] in the
// request context.
type Middleware struct {
	verifier  Verifier
	devBypass bool
	now       func() time.Time
	logger    *slog.Logger
}

// NewMiddleware validates cfg. Requesting the bypass in production logs a
// warning once, here, and leaves the bypass off.
func NewMiddleware(cfg MiddlewareConfig) (*Middleware, error) {
	if cfg.Verifier == nil {
		return nil, sserr.New(sserr.CodeValidationRequired, "auth: verifier must not be nil")
	}

	m := &Middleware{
		verifier:  cfg.Verifier,
		devBypass: cfg.DevBypass && !cfg.Production,
		now:       cfg.Now,
		logger:    cfg.Logger,
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}

	if cfg.DevBypass && cfg.Production {
		m.logger.Warn("auth: DEV_AUTH_BYPASS ignored in production")
	} else if m.devBypass {
		m.logger.Warn("auth: development bypass active; X-Dev-User is trusted without a token")
	}
	return m, nil
}

// DevBypassActive reports whether X-Dev-User is honoured.
func (m *Middleware) DevBypassActive() bool { return m.devBypass }

// Handler wraps next. With the bypass active, X-Dev-User is required and
// bearer tokens are not consulted; otherwise a valid bearer token is.
// Failures respond 401 with a fixed JSON body.
//
// Example:
//
//	mux.Handle("GET /v1/me", mw.Handler(auth.RequireRoles(auth.RolesRead)(meHandler)))
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if m.devBypass {
			user := strings.TrimSpace(r.Header.Get(HeaderDevUser))
			if user == "" {
				m.logger.WarnContext(ctx, "auth: development bypass active but X-Dev-User header missing")
				WriteUnauthorized(w)
				return
			}
			roles := parseDevRoles(r.Header.Get(HeaderDevRoles))
			m.logger.InfoContext(ctx, "auth: development bypass", "user", user, "roles", roles)
			next.ServeHTTP(w, r.WithContext(ContextWithClaims(ctx, NewDevClaims(user, roles, m.now()))))
			return
		}

		token := ExtractBearerToken(r.Header.Get(HeaderAuthorization))
		if token == "" {
			WriteUnauthorized(w)
			return
		}

		claims, err := m.verifier.Verify(ctx, token, m.now())
		if err != nil {
			attrs := []any{"error", err, "code", string(sserr.GetCode(err))}
			if traceID, ok := TraceIDFromContext(ctx); ok {
				attrs = append(attrs, "trace_id", traceID)
			}
			m.logger.InfoContext(ctx, "auth: bearer token rejected", attrs...)
			WriteUnauthorized(w)
			return
		}

		next.ServeHTTP(w, r.WithContext(ContextWithClaims(ctx, claims)))
	})
}

// HTTPMiddleware is the bearer-only form of [Middleware], without the
// development bypass.
func HTTPMiddleware(v Verifier) func(http.Handler) http.Handler {
	m, err := NewMiddleware(MiddlewareConfig{Verifier: v})
	if err != nil {
		panic(err)
	}
	return m.Handler
}

// RequireRoles guards next with an any-of role check. Requests without
// claims get 401; requests whose claims hold none of required get 403.
func RequireRoles(required RoleSet) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFromContext(r.Context())
			if !ok {
				WriteUnauthorized(w)
				return
			}
			if err := CheckRoles(claims, required); err != nil {
				slog.InfoContext(r.Context(), "auth: request denied",
					"error", err, "code", string(sserr.GetCode(err)), "sub", claims.Subject())
				WriteForbidden(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ExtractBearerToken returns the token from an Authorization header value,
// or "" if the header is not a non-empty Bearer credential. The scheme is
// matched case-insensitively.
func ExtractBearerToken(header string) string {
	if len(header) < len(bearerPrefix) || !strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(header[len(bearerPrefix):])
}

// WriteUnauthorized writes the fixed 401 response.
func WriteUnauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	writeJSON(w, http.StatusUnauthorized, unauthorizedBody)
}

// WriteForbidden writes the fixed 403 response.
func WriteForbidden(w http.ResponseWriter) {
	writeJSON(w, http.StatusForbidden, forbiddenBody)
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func parseDevRoles(header string) []string {
	roles := make([]string, 0, 4)
	for _, r := range strings.Split(header, ",") {
		if r = strings.TrimSpace(r); r != "" {
			roles = append(roles, r)
		}
	}
	if len(roles) == 0 {
		return []string{DefaultDevRole}
	}
	return roles
}
