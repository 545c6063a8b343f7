package webhook

import (
	"context"
	"encoding/hex"
	"log/slog"

	sserr "github.com/StricklySoft/stricklysoft-trust/pkg/errors"
)

// Default secret store location of the shared webhook secret.
const (
	DefaultSecretPath = "webhook"
	DefaultSecretKey  = "secret"
)

// SecretSource supplies the shared HMAC secret for each delivery.
type SecretSource interface {
	WebhookSecret(ctx context.Context) ([]byte, error)
}

// StaticSecret is a fixed secret, typically WEBHOOK_SHARED_SECRET. The
// string bytes are the key; it is not hex-decoded.
type StaticSecret []byte

// WebhookSecret implements [SecretSource].
func (s StaticSecret) WebhookSecret(context.Context) ([]byte, error) {
	if len(s) == 0 {
		return nil, sserr.New(sserr.CodeWebhookMissingSecret, "webhook: shared secret not configured")
	}
	return s, nil
}

// ValueGetter reads one string field of a stored secret. *secrets.Store
// satisfies it.
type ValueGetter interface {
	GetSecretValue(ctx context.Context, path, key string) (string, error)
}

// StoreSecret reads a hex-encoded secret from the secret store on every
// call; the store's own cache absorbs the load. When the store is
// unconfigured, unreachable or lacks the value and Fallback is non-empty,
// Fallback is used. A denied request or a malformed value never falls
// back.
type StoreSecret struct {
	Store    ValueGetter
	Path     string
	Key      string
	Fallback StaticSecret
	Logger   *slog.Logger
}

// WebhookSecret implements [SecretSource].
func (s *StoreSecret) WebhookSecret(ctx context.Context) ([]byte, error) {
	path, key := s.Path, s.Key
	if path == "" {
		path = DefaultSecretPath
	}
	if key == "" {
		key = DefaultSecretKey
	}

	secret, err := s.fromStore(ctx, path, key)
	if err == nil {
		return secret, nil
	}
	if len(s.Fallback) > 0 && fallbackAllowed(err) {
		s.logger().WarnContext(ctx, "webhook: secret store unavailable, using static secret",
			"path", path, "code", string(sserr.GetCode(err)))
		return s.Fallback, nil
	}
	return nil, sserr.Wrap(err, sserr.CodeWebhookMissingSecret, "webhook: shared secret unavailable")
}

func (s *StoreSecret) fromStore(ctx context.Context, path, key string) ([]byte, error) {
	if s.Store == nil {
		return nil, sserr.New(sserr.CodeSecretNotConfigured, "webhook: no secret store")
	}
	v, err := s.Store.GetSecretValue(ctx, path, key)
	if err != nil {
		return nil, err
	}
	secret, err := hex.DecodeString(v)
	if err != nil {
		return nil, sserr.Wrapf(err, sserr.CodeSecretParse, "webhook: %s/%s is not hex", path, key)
	}
	if len(secret) == 0 {
		return nil, sserr.Newf(sserr.CodeSecretNotFound, "webhook: %s/%s is empty", path, key)
	}
	return secret, nil
}

func fallbackAllowed(err error) bool {
	switch sserr.GetCode(err) {
	case sserr.CodeSecretNotConfigured, sserr.CodeSecretNetwork, sserr.CodeSecretNotFound:
		return true
	default:
		return false
	}
}

func (s *StoreSecret) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}
