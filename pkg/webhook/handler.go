package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	sserr "github.com/StricklySoft/stricklysoft-trust/pkg/errors"
)

// DefaultMaxBodySize caps delivery bodies (1 MiB).
const DefaultMaxBodySize = 1 << 20

// HeaderRequestID is echoed or generated on every response.
const HeaderRequestID = "X-Request-ID"

// Processor handles newly accepted events. It is never called for
// duplicates.
type Processor interface {
	Process(ctx context.Context, res *Result) error
}

// ProcessorFunc adapts a function to [Processor].
type ProcessorFunc func(ctx context.Context, res *Result) error

// Process implements [Processor].
func (f ProcessorFunc) Process(ctx context.Context, res *Result) error { return f(ctx, res) }

// HandlerConfig configures [NewHandler].
type HandlerConfig struct {
	Authenticator *Authenticator
	Secrets       SecretSource

	// Processor is optional.
	Processor Processor

	// MaxBodySize defaults to [DefaultMaxBodySize].
	MaxBodySize int64

	// Now defaults to time.Now.
	Now func() time.Time

	Logger *slog.Logger
}

// Handler serves POST /v1/ingestion/events.
//
//	200 {"status":"accepted"} or {"status":"duplicate"}
//	401 {"error":"unauthorized"} for every authentication failure
//	413 {"error":"payload too large"}
//	500 {"error":"internal"} when the receipt store or processor fails
type Handler struct {
	auth      *Authenticator
	secrets   SecretSource
	processor Processor
	maxBody   int64
	now       func() time.Time
	logger    *slog.Logger
}

// NewHandler validates cfg.
func NewHandler(cfg HandlerConfig) (*Handler, error) {
	if cfg.Authenticator == nil {
		return nil, sserr.New(sserr.CodeValidationRequired, "webhook: authenticator must not be nil")
	}
	if cfg.Secrets == nil {
		return nil, sserr.New(sserr.CodeValidationRequired, "webhook: secret source must not be nil")
	}
	h := &Handler{
		auth:      cfg.Authenticator,
		secrets:   cfg.Secrets,
		processor: cfg.Processor,
		maxBody:   cfg.MaxBodySize,
		now:       cfg.Now,
		logger:    cfg.Logger,
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
	return h, nil
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	requestID := r.Header.Get(HeaderRequestID)
	if _, err := uuid.Parse(requestID); err != nil {
		requestID = uuid.NewString()
	}
	w.Header().Set(HeaderRequestID, requestID)
	logger := h.logger.With("request_id", requestID)

	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			logger.WarnContext(ctx, "webhook: body too large", "limit", h.maxBody)
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "payload too large"})
			return
		}
		logger.WarnContext(ctx, "webhook: failed to read body", "error", err)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad request"})
		return
	}

	secret, err := h.secrets.WebhookSecret(ctx)
	if err != nil {
		logger.ErrorContext(ctx, "webhook: shared secret unavailable", "error", err)
		writeUnauthorized(w)
		return
	}

	res, err := h.auth.Authenticate(ctx, r.Header, body, secret, h.now())
	if err != nil {
		if sserr.IsWebhook(err) {
			logger.InfoContext(ctx, "webhook: delivery rejected", "error", err, "code", string(sserr.GetCode(err)))
			writeUnauthorized(w)
			return
		}
		logger.ErrorContext(ctx, "webhook: receipt store failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal"})
		return
	}

	if res.Accepted() && h.processor != nil {
		if err := h.processor.Process(ctx, res); err != nil {
			// The receipt is already recorded; a redelivery will read as a
			// duplicate, so the event is processed at most once.
			logger.ErrorContext(ctx, "webhook: processing failed",
				"source", res.Event.Source, "nonce", res.Event.Nonce, "receipt_id", res.Receipt.ID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal"})
			return
		}
	}

	logger.InfoContext(ctx, "webhook: delivery authenticated",
		"source", res.Event.Source, "outcome", string(res.Outcome))
	writeJSON(w, http.StatusOK, map[string]string{"status": string(res.Outcome)})
}

func writeUnauthorized(w http.ResponseWriter) {
	writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
