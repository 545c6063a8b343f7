package webhook

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	sserr "github.com/StricklySoft/stricklysoft-trust/pkg/errors"
)

// HeaderToken carries the shared token of operational notifications.
const HeaderToken = "X-Webhook-Token"

// NotificationPrefix is the path prefix served by [NotificationHandler].
const NotificationPrefix = "/v1/webhooks/"

// Secret store alert types.
const (
	VaultSecretRotated = "secret_rotated"
	VaultSecretCreated = "secret_created"
	VaultSecretDeleted = "secret_deleted"
	VaultSealed        = "vault_sealed"
	VaultUnsealed      = "vault_unsealed"
)

// VaultAlert is the body of POST /v1/webhooks/vault-alerts.
type VaultAlert struct {
	EventType  string         `json:"event_type"`
	SecretPath string         `json:"secret_path,omitempty"`
	SecretKey  string         `json:"secret_key,omitempty"`
	Timestamp  string         `json:"timestamp,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// IdentityEvent is the body of POST /v1/webhooks/keycloak-events.
type IdentityEvent struct {
	EventType string         `json:"event_type"`
	UserID    string         `json:"user_id,omitempty"`
	Username  string         `json:"username,omitempty"`
	Timestamp string         `json:"timestamp,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// CacheInvalidator drops cached secrets. *secrets.Store satisfies it.
type CacheInvalidator interface {
	Invalidate(path string)
	ClearCache()
}

// NotificationConfig configures [NewNotificationHandler].
type NotificationConfig struct {
	// Token is compared with the X-Webhook-Token header. It is used as is,
	// never hex-decoded.
	Token SecretSource

	// Cache is optional; without it secret store alerts are only logged.
	Cache CacheInvalidator

	// MaxBodySize defaults to [DefaultMaxBodySize].
	MaxBodySize int64

	// Now defaults to time.Now.
	Now func() time.Time

	Logger *slog.Logger
}

// NotificationHandler serves operational notifications from the secret
// store, the identity provider and other platform services:
//
//	POST /v1/webhooks/vault-alerts
//	POST /v1/webhooks/keycloak-events
//	POST /v1/webhooks/{service}
//
// Every route requires X-Webhook-Token to match the configured token.
// Without a token every request gets 503; a missing or wrong header gets
// 401 {"error":"unauthorized"}. Accepted notifications answer 200
// {"status":"success","message":...,"timestamp":...}.
//
// Unlike [Handler] these deliveries are not signed and carry no nonce, so
// they are neither replay protected nor deduplicated. They must only
// trigger idempotent work such as cache invalidation.
type NotificationHandler struct {
	token   SecretSource
	cache   CacheInvalidator
	maxBody int64
	now     func() time.Time
	logger  *slog.Logger
	mux     *http.ServeMux
}

// NewNotificationHandler validates cfg.
func NewNotificationHandler(cfg NotificationConfig) (*NotificationHandler, error) {
	if cfg.Token == nil {
		return nil, sserr.New(sserr.CodeValidationRequired, "webhook: notification token source must not be nil")
	}
	h := &NotificationHandler{
		token:   cfg.Token,
		cache:   cfg.Cache,
		maxBody: cfg.MaxBodySize,
		now:     cfg.Now,
		logger:  cfg.Logger,
	}
	if h.maxBody <= 0 {
		h.maxBody = DefaultMaxBodySize
	}
	if h.now == nil {
		h.now = time.Now
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}

	h.mux = http.NewServeMux()
	h.mux.HandleFunc("POST "+NotificationPrefix+"vault-alerts", h.vaultAlert)
	h.mux.HandleFunc("POST "+NotificationPrefix+"keycloak-events", h.identityEvent)
	h.mux.HandleFunc("POST "+NotificationPrefix+"{service}", h.serviceEvent)
	return h, nil
}

// ServeHTTP implements http.Handler. The token is checked before routing so
// unknown paths do not reveal which services exist.
func (h *NotificationHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.authorize(w, r) {
		return
	}
	h.mux.ServeHTTP(w, r)
}

func (h *NotificationHandler) authorize(w http.ResponseWriter, r *http.Request) bool {
	ctx := r.Context()
	want, err := h.token.WebhookSecret(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "webhook: notification token unavailable", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "unavailable"})
		return false
	}
	got := strings.TrimSpace(r.Header.Get(HeaderToken))
	if got == "" || subtle.ConstantTimeCompare([]byte(got), want) != 1 {
		h.logger.WarnContext(ctx, "webhook: notification rejected", "path", r.URL.Path, "header_present", got != "")
		writeUnauthorized(w)
		return false
	}
	return true
}

func (h *NotificationHandler) vaultAlert(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var alert VaultAlert
	if !h.decode(w, r, &alert) {
		return
	}
	if alert.EventType == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "event_type required"})
		return
	}

	logger := h.logger.With("event_type", alert.EventType, "secret_path", alert.SecretPath)
	switch alert.EventType {
	case VaultSealed:
		logger.ErrorContext(ctx, "webhook: secret store sealed")
	case VaultUnsealed:
		logger.InfoContext(ctx, "webhook: secret store unsealed")
	default:
		logger.InfoContext(ctx, "webhook: secret store alert")
	}
	h.invalidate(ctx, logger, alert)

	h.success(w, "vault alert processed")
}

// invalidate drops only the named path when a single secret changed and
// everything otherwise.
func (h *NotificationHandler) invalidate(ctx context.Context, logger *slog.Logger, alert VaultAlert) {
	if h.cache == nil {
		return
	}
	path := secretStorePath(alert.SecretPath)
	switch {
	case path != "" && (alert.EventType == VaultSecretRotated ||
		alert.EventType == VaultSecretCreated ||
		alert.EventType == VaultSecretDeleted):
		h.cache.Invalidate(path)
		logger.DebugContext(ctx, "webhook: secret cache entry invalidated", "path", path)
	default:
		h.cache.ClearCache()
		logger.DebugContext(ctx, "webhook: secret cache cleared")
	}
}

// secretStorePath accepts both "kv/data/app/db" and "app/db".
func secretStorePath(p string) string {
	p = strings.Trim(p, "/")
	p = strings.TrimPrefix(p, "v1/")
	p = strings.TrimPrefix(p, "kv/data/")
	return strings.Trim(p, "/")
}

// identityEvents are logged; anything else is acknowledged silently.
var identityEvents = map[string]slog.Level{
	"LOGIN":           slog.LevelInfo,
	"LOGOUT":          slog.LevelInfo,
	"REGISTER":        slog.LevelInfo,
	"UPDATE_PASSWORD": slog.LevelInfo,
	"DELETE_ACCOUNT":  slog.LevelWarn,
}

func (h *NotificationHandler) identityEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var ev IdentityEvent
	if !h.decode(w, r, &ev) {
		return
	}
	if ev.EventType == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "event_type required"})
		return
	}
	if level, ok := identityEvents[strings.ToUpper(ev.EventType)]; ok {
		h.logger.Log(ctx, level, "webhook: identity event",
			"event_type", ev.EventType, "user_id", ev.UserID)
	}
	h.success(w, "keycloak event processed")
}

var serviceName = regexp.MustCompile(`^[A-Za-z0-9._-]{1,64}$`)

func (h *NotificationHandler) serviceEvent(w http.ResponseWriter, r *http.Request) {
	service := r.PathValue("service")
	if !serviceName.MatchString(service) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid service"})
		return
	}
	var payload json.RawMessage
	if !h.decode(w, r, &payload) {
		return
	}
	h.logger.InfoContext(r.Context(), "webhook: service notification", "service", service, "bytes", len(payload))
	h.success(w, "webhook from "+service+" processed")
}

func (h *NotificationHandler) decode(w http.ResponseWriter, r *http.Request, into any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err := dec.Decode(into); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "payload too large"})
			return false
		}
		h.logger.InfoContext(r.Context(), "webhook: undecodable notification", "path", r.URL.Path, "error", err)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad request"})
		return false
	}
	return true
}

func (h *NotificationHandler) success(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "success",
		"message":   message,
		"timestamp": h.now().UTC().Format(time.RFC3339),
	})
}
