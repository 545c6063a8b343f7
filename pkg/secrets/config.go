// Package secrets is a caching client for the external secret store
// (HashiCorp Vault compatible): key-value secrets under kv/data and
// symmetric field encryption through the transit engine.
//
// # Caching
//
// [Store.GetSecret] serves a path from memory while its entry is younger
// than [Config.CacheTTL]; otherwise it fetches, retrying transient failures
// under a bounded backoff, and caches the result. [Store.PutSecret] writes
// through and drops the cached entry. Concurrent misses for one path may
// each fetch; the cache is only touched after a fetch completes, so a
// cancelled caller never leaves a partial entry behind. A fetch overtaken by
// [Store.Invalidate] or [Store.ClearCache] is returned but not cached.
//
// Transit results are never cached. Encrypt and Decrypt fail closed: any
// store failure is returned to the caller and no plaintext fallback exists.
//
// # Configuration
//
//	var cfg secrets.Config
//	if err := config.New().Load(&cfg); err != nil {
//	    return err
//	}
//	store, err := secrets.New(cfg)
//
// A store without an address or token still constructs; every call then
// fails with [sserr.CodeSecretNotConfigured], which lets callers such as
// [Store.GetSecretOrEnv] fall back to the environment for non-PII values.
//
// # Errors
//
//   - [sserr.CodeSecretNotConfigured]: no address or token
//   - [sserr.CodeSecretNetwork]: transport failure or 5xx after retries
//   - [sserr.CodeSecretNotFound]: path or key does not exist
//   - [sserr.CodeSecretParse]: undecodable response
//   - [sserr.CodeSecretPermissionDenied]: the store returned 401 or 403
package secrets

import (
	"net/url"
	"time"

	sserr "github.com/StricklySoft/stricklysoft-trust/pkg/errors"
)

// Defaults for [Config].
const (
	DefaultAddr            = "http://vault:8200"
	DefaultTimeout         = 30 * time.Second
	DefaultMaxRetries      = 3
	DefaultRetryDelay      = 500 * time.Millisecond
	DefaultRetryMultiplier = 2.0
	DefaultCacheTTL        = 5 * time.Minute
)

// Secret is a string that redacts itself when printed or serialized.
type Secret string

const redacted = "[REDACTED]"

func (s Secret) String() string   { return redacted }
func (s Secret) GoString() string { return redacted }

// Value returns the raw secret.
func (s Secret) Value() string { return string(s) }

// MarshalText implements encoding.TextMarshaler with the redacted form.
func (s Secret) MarshalText() ([]byte, error) { return []byte(redacted), nil }

// Config holds the secret store connection settings. The env tags are read
// by pkg/config; VAULT_TOKEN_FILE is honoured for a mounted token.
type Config struct {
	// Addr is the store base URL without the /v1 suffix.
	Addr string `json:"addr" yaml:"addr" env:"VAULT_ADDR" envDefault:"http://vault:8200"`

	// Token authenticates every request except the health check.
	Token Secret `json:"-" yaml:"-" env:"VAULT_TOKEN"`

	// Timeout bounds a single HTTP attempt.
	Timeout time.Duration `json:"timeout" yaml:"timeout" env:"VAULT_TIMEOUT" envDefault:"30s"`

	// MaxRetries is the total number of attempts per call.
	MaxRetries int `json:"max_retries" yaml:"max_retries" env:"VAULT_MAX_RETRIES" envDefault:"3"`

	// RetryDelay is the wait before the second attempt.
	RetryDelay time.Duration `json:"retry_delay" yaml:"retry_delay" env:"VAULT_RETRY_DELAY" envDefault:"500ms"`

	RetryMultiplier float64 `json:"retry_multiplier" yaml:"retry_multiplier" env:"VAULT_RETRY_MULTIPLIER" envDefault:"2"`

	// CacheTTL is how long a fetched secret is served from memory.
	CacheTTL time.Duration `json:"cache_ttl" yaml:"cache_ttl" env:"VAULT_CACHE_TTL" envDefault:"5m"`
}

// DefaultConfig returns a Config with every default applied and no token.
func DefaultConfig() Config {
	return Config{
		Addr:            DefaultAddr,
		Timeout:         DefaultTimeout,
		MaxRetries:      DefaultMaxRetries,
		RetryDelay:      DefaultRetryDelay,
		RetryMultiplier: DefaultRetryMultiplier,
		CacheTTL:        DefaultCacheTTL,
	}
}

// Configured reports whether both address and token are set.
func (c Config) Configured() bool {
	return c.Addr != "" && c.Token != ""
}

// Validate rejects malformed values. An empty address or token is valid
// and yields an unconfigured store.
func (c Config) Validate() error {
	if c.Addr != "" {
		u, err := url.Parse(c.Addr)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return sserr.Newf(sserr.CodeValidationFormat,
				"secrets: VAULT_ADDR must be an http(s) URL, got %q", c.Addr)
		}
	}
	if c.Timeout < 0 {
		return sserr.Newf(sserr.CodeValidation, "secrets: timeout must not be negative, got %v", c.Timeout)
	}
	if c.MaxRetries < 0 {
		return sserr.Newf(sserr.CodeValidation, "secrets: max_retries must not be negative, got %d", c.MaxRetries)
	}
	if c.RetryDelay < 0 {
		return sserr.Newf(sserr.CodeValidation, "secrets: retry_delay must not be negative, got %v", c.RetryDelay)
	}
	if c.CacheTTL < 0 {
		return sserr.Newf(sserr.CodeValidation, "secrets: cache_ttl must not be negative, got %v", c.CacheTTL)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = DefaultRetryDelay
	}
	if c.RetryMultiplier == 0 {
		c.RetryMultiplier = DefaultRetryMultiplier
	}
	if c.CacheTTL == 0 {
		c.CacheTTL = DefaultCacheTTL
	}
}
