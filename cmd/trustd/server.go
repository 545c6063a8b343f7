package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/StricklySoft/stricklysoft-trust/pkg/auth"
	"github.com/StricklySoft/stricklysoft-trust/pkg/webhook"
)

// readyTimeout bounds each dependency check behind /ready.
const readyTimeout = 2 * time.Second

type healthChecker interface {
	Health(ctx context.Context) error
}

type keyPresence interface {
	HasAnyKey() bool
}

// readinessCheck is one dependency consulted by /ready. failure is
// appended to the 503 body, e.g. "db_down;".
type readinessCheck struct {
	failure string
	ok      func(ctx context.Context) bool
}

// routes assembles the HTTP surface. Every field except checks is
// required.
type routes struct {
	service       healthChecker
	middleware    *auth.Middleware
	webhook       http.Handler
	notifications http.Handler
	checks        []readinessCheck
	logger        *slog.Logger
}

func dependencyCheck(failure string, dep healthChecker) readinessCheck {
	return readinessCheck{failure: failure, ok: func(ctx context.Context) bool {
		return dep.Health(ctx) == nil
	}}
}

func keysCheck(keys keyPresence) readinessCheck {
	return readinessCheck{failure: "jwks_missing;", ok: func(context.Context) bool {
		return keys.HasAnyKey()
	}}
}

func (rt *routes) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", rt.health)
	mux.HandleFunc("GET /healthz", rt.health)
	mux.HandleFunc("GET /ready", rt.ready)
	mux.HandleFunc("GET /readyz", rt.ready)

	mux.Handle("GET /v1/me", rt.middleware.Handler(auth.RequireRoles(auth.RolesRead)(http.HandlerFunc(me))))
	mux.Handle("/v1/ingestion/events", rt.webhook)
	mux.Handle(webhook.NotificationPrefix, rt.notifications)

	return otelhttp.NewHandler(mux, "trustd",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}

func (rt *routes) health(w http.ResponseWriter, r *http.Request) {
	if err := rt.service.Health(r.Context()); err != nil {
		writeText(w, http.StatusServiceUnavailable, "unavailable")
		return
	}
	writeText(w, http.StatusOK, "ok")
}

// ready reports "ok" only when every dependency passes. Otherwise the body
// lists each failure in check order.
func (rt *routes) ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	var failures strings.Builder
	for _, c := range rt.checks {
		if !c.ok(ctx) {
			failures.WriteString(c.failure)
		}
	}
	if failures.Len() > 0 {
		rt.logger.WarnContext(ctx, "trustd: not ready", "failures", failures.String())
		writeText(w, http.StatusServiceUnavailable, failures.String())
		return
	}
	writeText(w, http.StatusOK, "ok")
}

// me echoes the caller's verified identity.
func me(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		auth.WriteUnauthorized(w)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(claims)
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}
