package secrets

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	sserr "github.com/StricklySoft/stricklysoft-trust/pkg/errors"
	"github.com/StricklySoft/stricklysoft-trust/pkg/retry"
)

const tracerName = "github.com/StricklySoft/stricklysoft-trust/pkg/secrets"

// maxResponseSize caps any store response body (1 MiB).
const maxResponseSize = 1 << 20

// HTTPClient is the subset of *http.Client the store uses.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Option customizes a [Store].
type Option func(*Store)

// WithHTTPClient replaces the default *http.Client.
func WithHTTPClient(c HTTPClient) Option {
	return func(s *Store) { s.client = c }
}

// WithClock replaces time.Now for cache expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithRetryPolicy overrides the policy derived from [Config].
func WithRetryPolicy(p retry.Policy) Option {
	return func(s *Store) { s.policy = p }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithLookupEnv replaces os.LookupEnv for [Store.GetSecretOrEnv].
func WithLookupEnv(lookup func(string) (string, bool)) Option {
	return func(s *Store) { s.lookupEnv = lookup }
}

type cacheEntry struct {
	value     map[string]any
	fetchedAt time.Time
}

// CacheStats is a point-in-time view of the secret cache.
type CacheStats struct {
	Total   int `json:"total"`
	Expired int `json:"expired"`
}

// Store is the secret store client. It is safe for concurrent use; share
// one Store per process.
type Store struct {
	addr       string
	token      Secret
	configured bool
	timeout    time.Duration
	ttl        time.Duration
	policy     retry.Policy
	client     HTTPClient
	now        func() time.Time
	lookupEnv  func(string) (string, bool)
	logger     *slog.Logger
	tracer     trace.Tracer

	mu    sync.RWMutex
	cache map[string]cacheEntry
	// gens and epoch advance on every invalidation. A fetch stores its
	// result only if neither moved while it was in flight.
	gens  map[string]uint64
	epoch uint64
}

// New builds a Store from cfg. Zero-valued durations and counts take their
// defaults. An unconfigured cfg (see [Config.Configured]) is accepted.
//
// Error codes returned:
//   - [sserr.CodeValidationFormat], [sserr.CodeValidation]: invalid cfg
func New(cfg Config, opts ...Option) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	s := &Store{
		addr:       strings.TrimRight(cfg.Addr, "/"),
		token:      cfg.Token,
		configured: cfg.Configured(),
		timeout:    cfg.Timeout,
		ttl:        cfg.CacheTTL,
		policy: retry.Policy{
			MaxAttempts: cfg.MaxRetries,
			BaseDelay:   cfg.RetryDelay,
			Multiplier:  cfg.RetryMultiplier,
			Jitter:      retry.DefaultJitter,
			MaxDelay:    cfg.Timeout,
		},
		client:    &http.Client{},
		now:       time.Now,
		lookupEnv: os.LookupEnv,
		logger:    slog.Default(),
		tracer:    otel.Tracer(tracerName),
		cache:     map[string]cacheEntry{},
		gens:      map[string]uint64{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Configured reports whether the store has an address and token.
func (s *Store) Configured() bool { return s.configured }

// GetSecret returns the key-value data at path. A cached entry younger
// than the TTL is returned without a network call. The returned map is a
// copy and may be modified.
func (s *Store) GetSecret(ctx context.Context, path string) (map[string]any, error) {
	ctx, span := s.tracer.Start(ctx, "secrets.GetSecret")
	defer span.End()

	clean, err := cleanPath(path)
	if err != nil {
		recordError(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.String("secret.path", clean))

	if value, ok := s.cached(clean); ok {
		span.SetAttributes(attribute.Bool("secret.cache_hit", true))
		s.logger.DebugContext(ctx, "secrets: cache hit", "path", clean)
		return value, nil
	}
	span.SetAttributes(attribute.Bool("secret.cache_hit", false))
	gen := s.generation(clean)

	var resp struct {
		Data struct {
			Data map[string]any `json:"data"`
		} `json:"data"`
	}
	if err := s.do(ctx, http.MethodGet, "kv/data/"+clean, nil, &resp); err != nil {
		recordError(span, err)
		return nil, err
	}

	value := resp.Data.Data
	if value == nil {
		value = map[string]any{}
	}

	s.mu.Lock()
	if s.generationLocked(clean) == gen {
		s.cache[clean] = cacheEntry{value: copyData(value), fetchedAt: s.now()}
	} else {
		s.logger.DebugContext(ctx, "secrets: invalidated during fetch, not caching", "path", clean)
	}
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "secrets: secret fetched", "path", clean)
	return value, nil
}

// PutSecret writes data to path and drops the cached entry for it.
func (s *Store) PutSecret(ctx context.Context, path string, data map[string]any) error {
	ctx, span := s.tracer.Start(ctx, "secrets.PutSecret")
	defer span.End()

	clean, err := cleanPath(path)
	if err != nil {
		recordError(span, err)
		return err
	}
	span.SetAttributes(attribute.String("secret.path", clean))

	if data == nil {
		data = map[string]any{}
	}
	if err := s.do(ctx, http.MethodPost, "kv/data/"+clean, map[string]any{"data": data}, nil); err != nil {
		recordError(span, err)
		return err
	}

	s.Invalidate(clean)
	s.logger.InfoContext(ctx, "secrets: secret written", "path", clean)
	return nil
}

// Invalidate drops the cached entry for path. A read of path already in
// flight will not repopulate the cache.
func (s *Store) Invalidate(path string) {
	clean := strings.Trim(path, "/")
	s.mu.Lock()
	delete(s.cache, clean)
	s.gens[clean]++
	s.mu.Unlock()
}

// ClearCache drops every cached entry. Reads already in flight will not
// repopulate the cache.
func (s *Store) ClearCache() {
	s.mu.Lock()
	clear(s.cache)
	clear(s.gens)
	s.epoch++
	s.mu.Unlock()
	s.logger.Info("secrets: cache cleared")
}

// CacheStats counts cached entries and those past their TTL.
func (s *Store) CacheStats() CacheStats {
	now := s.now()
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := CacheStats{Total: len(s.cache)}
	for _, e := range s.cache {
		if now.Sub(e.fetchedAt) >= s.ttl {
			stats.Expired++
		}
	}
	return stats
}

// HealthCheck calls /v1/sys/health without credentials. It never returns
// an error; any failure reads as unhealthy.
func (s *Store) HealthCheck(ctx context.Context) bool {
	ctx, span := s.tracer.Start(ctx, "secrets.HealthCheck")
	defer span.End()

	if s.addr == "" {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.addr+"/v1/sys/health", nil)
	if err != nil {
		s.logger.WarnContext(ctx, "secrets: health check request invalid", "error", err)
		return false
	}
	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.WarnContext(ctx, "secrets: health check failed", "error", err)
		recordError(span, err)
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseSize))

	healthy := resp.StatusCode >= 200 && resp.StatusCode < 300
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if !healthy {
		s.logger.WarnContext(ctx, "secrets: health check unhealthy", "status", resp.StatusCode)
	}
	return healthy
}

func (s *Store) cached(path string) (map[string]any, bool) {
	now := s.now()
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.cache[path]
	if !ok || now.Sub(e.fetchedAt) >= s.ttl {
		return nil, false
	}
	return copyData(e.value), true
}

type generation struct {
	epoch, path uint64
}

func (s *Store) generation(path string) generation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generationLocked(path)
}

func (s *Store) generationLocked(path string) generation {
	return generation{epoch: s.epoch, path: s.gens[path]}
}

// copyData deep-copies decoded JSON so callers cannot reach cached state.
func copyData(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return copyData(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = copyValue(e)
		}
		return out
	default:
		return v
	}
}

// statusError is a non-2xx response from the store.
type statusError struct {
	status int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("secrets: store returned status %d", e.status)
}

// parseError is an undecodable response body.
type parseError struct {
	err error
}

func (e *parseError) Error() string { return "secrets: invalid store response: " + e.err.Error() }
func (e *parseError) Unwrap() error { return e.err }

// do sends one authenticated request under the retry policy and decodes
// the JSON response into out when out is non-nil. Transport errors, 5xx
// and 429 are retried; every other failure is returned at once.
func (s *Store) do(ctx context.Context, method, path string, body, out any) error {
	if !s.configured {
		return sserr.New(sserr.CodeSecretNotConfigured, "secrets: store address or token not configured")
	}

	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return sserr.Wrap(err, sserr.CodeValidation, "secrets: request body not encodable")
		}
	}

	attempts, err := s.policy.Do(ctx, func(ctx context.Context) error {
		return s.attempt(ctx, method, path, payload, out)
	}, func(attempt int, err error, next time.Duration) {
		s.logger.WarnContext(ctx, "secrets: request failed, retrying",
			"method", method, "path", path, "attempt", attempt, "retry_in", next, "error", err)
	})
	if err == nil {
		return nil
	}

	classified := classify(err, path).WithDetail("attempts", attempts)
	if classified.Code == sserr.CodeSecretNotFound {
		s.logger.DebugContext(ctx, "secrets: not found", "path", path)
	} else {
		s.logger.ErrorContext(ctx, "secrets: request failed", classified.LogAttrs()...)
	}
	return classified
}

func (s *Store) attempt(ctx context.Context, method, path string, payload []byte, out any) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.addr+"/v1/"+path, reqBody)
	if err != nil {
		return retry.Permanent(err)
	}
	token := s.token.Value()
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-Vault-Token", token)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseSize))
		statusErr := &statusError{status: resp.StatusCode}
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return statusErr
		}
		return retry.Permanent(statusErr)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize+1))
	if err != nil {
		return err
	}
	if len(data) > maxResponseSize {
		return retry.Permanent(&parseError{err: errors.New("response exceeds 1 MiB")})
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return retry.Permanent(&parseError{err: err})
	}
	return nil
}

func classify(err error, path string) *sserr.Error {
	var se *statusError
	if errors.As(err, &se) {
		switch {
		case se.status == http.StatusNotFound:
			return sserr.Wrapf(err, sserr.CodeSecretNotFound, "secrets: %s not found", path)
		case se.status == http.StatusUnauthorized || se.status == http.StatusForbidden:
			return sserr.Wrapf(err, sserr.CodeSecretPermissionDenied, "secrets: access to %s denied", path).
				WithDetail("status", se.status)
		default:
			return sserr.Wrapf(err, sserr.CodeSecretNetwork, "secrets: request for %s failed", path).
				WithDetail("status", se.status)
		}
	}
	var pe *parseError
	if errors.As(err, &pe) {
		return sserr.Wrapf(err, sserr.CodeSecretParse, "secrets: response for %s not decodable", path)
	}
	return sserr.Wrapf(err, sserr.CodeSecretNetwork, "secrets: request for %s failed", path)
}

// cleanPath trims surrounding slashes and rejects empty or traversing
// paths.
func cleanPath(path string) (string, error) {
	clean := strings.Trim(path, "/")
	if clean == "" {
		return "", sserr.New(sserr.CodeValidationRequired, "secrets: path must not be empty")
	}
	for _, seg := range strings.Split(clean, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return "", sserr.Newf(sserr.CodeValidationFormat, "secrets: invalid path %q", path)
		}
	}
	return clean, nil
}

func recordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
