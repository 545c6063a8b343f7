package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	sserr "github.com/StricklySoft/stricklysoft-trust/pkg/errors"
	"github.com/StricklySoft/stricklysoft-trust/pkg/retry"
)

// maxKeySetSize caps the JWKS response body (1 MiB).
const maxKeySetSize = 1 << 20

// DefaultKeySetTimeout bounds one complete refresh, retries included.
const DefaultKeySetTimeout = 30 * time.Second

// KeyEntry is one usable verification key from the identity provider.
type KeyEntry struct {
	// KID is the key id matched against the token header.
	KID string

	// Algorithm is the "alg" the provider published for the key. Empty
	// when the provider did not pin one.
	Algorithm string

	PublicKey *rsa.PublicKey
}

// KeySetConfig configures a [KeySetCache].
type KeySetConfig struct {
	// URL is the JWKS endpoint, e.g.
	// https://keycloak/realms/directory/protocol/openid-connect/certs.
	URL string

	// Retry is the backoff applied to a single refresh. Defaults to
	// [retry.DefaultPolicy].
	Retry *retry.Policy

	// Timeout bounds a whole refresh including retries. Defaults to
	// [DefaultKeySetTimeout].
	Timeout time.Duration

	// HTTPClient defaults to an *http.Client with a 10 second timeout.
	HTTPClient HTTPClient

	Logger *slog.Logger
}

// KeySetCache holds the identity provider's current signing keys. Reads
// are lock-shared and never block on network I/O. A refresh replaces the
// whole set at once or leaves it untouched; concurrent refreshes share one
// fetch.
//
// KeySetCache is safe for concurrent use.
type KeySetCache struct {
	url     string
	client  HTTPClient
	policy  retry.Policy
	timeout time.Duration
	logger  *slog.Logger
	tracer  trace.Tracer
	group   singleflight.Group

	mu          sync.RWMutex
	keys        map[string]KeyEntry
	lastRefresh time.Time

	refreshes atomic.Uint64
}

// NewKeySetCache returns an empty cache. Call [KeySetCache.Refresh] to
// populate it.
func NewKeySetCache(cfg KeySetConfig) (*KeySetCache, error) {
	if cfg.URL == "" {
		return nil, sserr.New(sserr.CodeValidationRequired, "auth: JWKS URL must not be empty")
	}

	c := &KeySetCache{
		url:     cfg.URL,
		client:  cfg.HTTPClient,
		policy:  retry.DefaultPolicy(),
		timeout: cfg.Timeout,
		logger:  cfg.Logger,
		tracer:  otel.Tracer(tracerName),
		keys:    map[string]KeyEntry{},
	}
	if cfg.Retry != nil {
		c.policy = *cfg.Retry
	}
	if c.client == nil {
		c.client = &http.Client{Timeout: 10 * time.Second}
	}
	if c.timeout <= 0 {
		c.timeout = DefaultKeySetTimeout
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c, nil
}

// Resolve returns the key for kid from the current snapshot.
func (c *KeySetCache) Resolve(kid string) (KeyEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	k, ok := c.keys[kid]
	return k, ok
}

// HasAnyKey reports whether at least one key is loaded. Used by readiness.
func (c *KeySetCache) HasAnyKey() bool {
	return c.Len() > 0
}

// Len returns the number of loaded keys.
func (c *KeySetCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.keys)
}

// LastRefresh returns when the set was last replaced, or the zero time.
func (c *KeySetCache) LastRefresh() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastRefresh
}

// Refreshes returns the number of successful refreshes.
func (c *KeySetCache) Refreshes() uint64 {
	return c.refreshes.Load()
}

// Refresh fetches the key set and swaps it in. Callers arriving while a
// refresh is in flight wait for that refresh instead of starting another.
//
// The fetch itself does not observe the caller's cancellation; a caller
// whose ctx ends stops waiting and gets ctx.Err(), while the fetch
// completes for everyone else. On failure the previous set is kept and a
// [sserr.CodeUnavailableDependency] error is returned once the retry
// policy is exhausted.
func (c *KeySetCache) Refresh(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	ch := c.group.DoChan("refresh", func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()
		return nil, c.refresh(fetchCtx)
	})

	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-ch:
		return res.Err
	}
}

func (c *KeySetCache) refresh(ctx context.Context) error {
	ctx, span := startSpan(ctx, c.tracer, "auth.KeySetCache.Refresh")
	defer span.End()

	var keys map[string]KeyEntry
	attempts, err := c.policy.Do(ctx, func(ctx context.Context) error {
		var fetchErr error
		keys, fetchErr = c.fetch(ctx)
		return fetchErr
	}, func(attempt int, err error, next time.Duration) {
		c.logger.WarnContext(ctx, "auth: key set fetch failed, retrying",
			"url", c.url, "attempt", attempt, "retry_in", next, "error", err)
	})
	span.SetAttributes(attribute.Int("auth.jwks.attempts", attempts))

	if err != nil {
		wrapped := sserr.Wrapf(err, sserr.CodeUnavailableDependency,
			"auth: key set refresh failed after %d attempt(s)", attempts).
			WithDetail("attempts", attempts)
		c.logger.ErrorContext(ctx, "auth: key set refresh failed", wrapped.LogAttrs()...)
		finishSpan(span, wrapped)
		return wrapped
	}

	c.mu.Lock()
	c.keys = keys
	c.lastRefresh = time.Now()
	c.mu.Unlock()
	c.refreshes.Add(1)

	if len(keys) == 0 {
		c.logger.WarnContext(ctx, "auth: key set contains no usable RSA keys", "url", c.url)
	}
	span.SetAttributes(attribute.Int("auth.jwks.keys", len(keys)))
	c.logger.DebugContext(ctx, "auth: key set refreshed", "keys", len(keys), "attempts", attempts)
	return nil
}

// fetch performs one GET. Transport errors, 5xx and 429 are retryable;
// everything else is permanent.
func (c *KeySetCache) fetch(ctx context.Context) (map[string]KeyEntry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("auth: failed to create JWKS request: %w", err))
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("auth: JWKS request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		statusErr := fmt.Errorf("auth: JWKS endpoint returned status %d", resp.StatusCode)
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return nil, statusErr
		}
		return nil, retry.Permanent(statusErr)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxKeySetSize+1))
	if err != nil {
		return nil, fmt.Errorf("auth: failed to read JWKS response: %w", err)
	}
	if len(body) > maxKeySetSize {
		return nil, retry.Permanent(errors.New("auth: JWKS response exceeds 1 MiB"))
	}

	keys, err := parseKeySet(body)
	if err != nil {
		return nil, retry.Permanent(err)
	}
	return keys, nil
}

type jwksDocument struct {
	Keys []jwk `json:"keys"`
}

type jwk struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Alg string `json:"alg"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// parseKeySet keeps RSA signing keys with a kid and decodable modulus and
// exponent. Other entries are skipped without failing the whole set.
func parseKeySet(body []byte) (map[string]KeyEntry, error) {
	var doc jwksDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("auth: failed to parse JWKS JSON: %w", err)
	}

	keys := make(map[string]KeyEntry, len(doc.Keys))
	for _, k := range doc.Keys {
		if k.Kty != "RSA" || k.Kid == "" {
			continue
		}
		if k.Use != "" && k.Use != "sig" {
			continue
		}
		pub, err := parseRSAPublicKey(k.N, k.E)
		if err != nil {
			continue
		}
		keys[k.Kid] = KeyEntry{KID: k.Kid, Algorithm: k.Alg, PublicKey: pub}
	}
	return keys, nil
}

// parseRSAPublicKey builds a key from base64url modulus and exponent.
func parseRSAPublicKey(nB64, eB64 string) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(nB64)
	if err != nil || len(nBytes) == 0 {
		return nil, fmt.Errorf("auth: invalid RSA modulus")
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(eB64)
	if err != nil || len(eBytes) == 0 || len(eBytes) > 4 {
		return nil, fmt.Errorf("auth: invalid RSA exponent")
	}

	e := new(big.Int).SetBytes(eBytes)
	if e.Int64() < 3 {
		return nil, fmt.Errorf("auth: RSA exponent too small")
	}

	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: int(e.Int64()),
	}, nil
}
