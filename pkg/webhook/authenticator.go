package webhook

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	sserr "github.com/StricklySoft/stricklysoft-trust/pkg/errors"
)

const tracerName = "github.com/StricklySoft/stricklysoft-trust/pkg/webhook"

// DefaultReplayWindow is the accepted distance between an event timestamp
// and the receiver's clock, in either direction.
const DefaultReplayWindow = 300 * time.Second

// Config configures an [Authenticator].
type Config struct {
	// Receipts is required.
	Receipts ReceiptStore

	// ReplayWindow defaults to [DefaultReplayWindow].
	ReplayWindow time.Duration

	Logger *slog.Logger
}

// Authenticator verifies deliveries and records their receipts. It holds no
// per-delivery state and is safe for concurrent use.
type Authenticator struct {
	receipts ReceiptStore
	window   time.Duration
	logger   *slog.Logger
	tracer   trace.Tracer
}

// NewAuthenticator validates cfg.
func NewAuthenticator(cfg Config) (*Authenticator, error) {
	if cfg.Receipts == nil {
		return nil, sserr.New(sserr.CodeValidationRequired, "webhook: receipt store must not be nil")
	}
	if cfg.ReplayWindow < 0 {
		return nil, sserr.Newf(sserr.CodeValidation, "webhook: replay window must not be negative, got %v", cfg.ReplayWindow)
	}
	a := &Authenticator{
		receipts: cfg.Receipts,
		window:   cfg.ReplayWindow,
		logger:   cfg.Logger,
		tracer:   otel.Tracer(tracerName),
	}
	if a.window == 0 {
		a.window = DefaultReplayWindow
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	return a, nil
}

// ReplayWindow returns the configured window.
func (a *Authenticator) ReplayWindow() time.Duration { return a.window }

// Authenticate checks one delivery. body must be the exact bytes received.
//
// Rejections are WEBHOOK_* errors and map to HTTP 401. Receipt store
// failures keep their own code (INT_002 by default) and are not webhook
// rejections. A duplicate returns a Result with [OutcomeDuplicate] and a
// nil error.
func (a *Authenticator) Authenticate(ctx context.Context, headers http.Header, body, secret []byte, now time.Time) (*Result, error) {
	ctx, span := a.tracer.Start(ctx, "webhook.Authenticate")
	defer span.End()

	res, err := a.authenticate(ctx, headers, body, secret, now)
	if err != nil {
		span.SetAttributes(attribute.String("webhook.error_code", string(sserr.GetCode(err))))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.String("webhook.source", res.Event.Source),
		attribute.String("webhook.outcome", string(res.Outcome)),
	)
	return res, nil
}

func (a *Authenticator) authenticate(ctx context.Context, headers http.Header, body, secret []byte, now time.Time) (*Result, error) {
	if len(secret) == 0 {
		return nil, sserr.New(sserr.CodeWebhookMissingSecret, "webhook: shared secret is empty")
	}

	declared, err := declaredDigest(headers.Get(HeaderSignature))
	if err != nil {
		return nil, err
	}
	if err := verifySignature(secret, body, declared); err != nil {
		return nil, err
	}

	var ev Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, sserr.Wrap(err, sserr.CodeWebhookMalformedPayload, "webhook: body is not a valid event")
	}
	if strings.TrimSpace(ev.Source) == "" || strings.TrimSpace(ev.Nonce) == "" {
		return nil, sserr.New(sserr.CodeWebhookMalformedPayload, "webhook: event source and nonce are required")
	}

	if skew := now.Sub(ev.Timestamp()).Abs(); skew > a.window {
		return nil, sserr.Newf(sserr.CodeWebhookReplayWindowExceeded,
			"webhook: event timestamp outside replay window (skew %v > %v)", skew, a.window).
			WithDetail("source", ev.Source)
	}

	receipt := Receipt{
		ID:         uuid.New(),
		Source:     ev.Source,
		Nonce:      ev.Nonce,
		ReceivedAt: now.UTC(),
	}
	inserted, err := a.receipts.Record(ctx, receipt)
	if err != nil {
		return nil, err
	}

	res := &Result{Outcome: OutcomeAccepted, Event: ev, Receipt: receipt}
	if !inserted {
		res.Outcome = OutcomeDuplicate
		a.logger.InfoContext(ctx, "webhook: duplicate delivery", "source", ev.Source, "nonce", ev.Nonce)
	}
	return res, nil
}
