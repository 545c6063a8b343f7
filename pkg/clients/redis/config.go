package redis

import (
	"net/url"
	"time"

	sserr "github.com/StricklySoft/stricklysoft-trust/pkg/errors"
)

const maxStatementTruncateLen = 100

// Default values applied by [Config.Validate] to zero fields.
const (
	DefaultPoolSize      = 10
	DefaultDialTimeout   = 5 * time.Second
	DefaultReadTimeout   = 3 * time.Second
	DefaultWriteTimeout  = 3 * time.Second
	DefaultHealthTimeout = 2 * time.Second
)

// Config holds connection settings for the optional Redis receipt store.
// An empty URI means Redis is not used.
type Config struct {
	// URI is a redis:// or rediss:// URL. It may carry a password, so it
	// is excluded from JSON output; use [Config.Redacted] for logs.
	URI string `json:"-" yaml:"-" env:"REDIS_URI"`

	PoolSize     int           `json:"pool_size,omitempty" yaml:"pool_size" env:"REDIS_POOL_SIZE" envDefault:"10"`
	DialTimeout  time.Duration `json:"dial_timeout,omitempty" yaml:"dial_timeout" env:"REDIS_DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `json:"read_timeout,omitempty" yaml:"read_timeout" env:"REDIS_READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `json:"write_timeout,omitempty" yaml:"write_timeout" env:"REDIS_WRITE_TIMEOUT" envDefault:"3s"`
}

// Enabled reports whether a URI is configured.
func (c *Config) Enabled() bool {
	return c.URI != ""
}

// Redacted returns the URI with any password replaced.
func (c *Config) Redacted() string {
	u, err := url.Parse(c.URI)
	if err != nil {
		return "[unparseable]"
	}
	return u.Redacted()
}

// Validate applies defaults and checks the URI scheme.
func (c *Config) Validate() error {
	c.applyDefaults()
	if c.URI == "" {
		return sserr.New(sserr.CodeValidationRequired, "redis: uri is required")
	}
	u, err := url.Parse(c.URI)
	if err != nil {
		return sserr.Wrap(err, sserr.CodeValidationFormat, "redis: uri is invalid")
	}
	if u.Scheme != "redis" && u.Scheme != "rediss" {
		return sserr.Newf(sserr.CodeValidationFormat,
			"redis: uri scheme must be redis or rediss, got %q", u.Scheme)
	}
	if c.PoolSize < 0 || c.DialTimeout < 0 || c.ReadTimeout < 0 || c.WriteTimeout < 0 {
		return sserr.New(sserr.CodeValidation, "redis: pool size and timeouts must not be negative")
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.PoolSize == 0 {
		c.PoolSize = DefaultPoolSize
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
}

func truncateStatement(s string) string {
	runes := []rune(s)
	if len(runes) <= maxStatementTruncateLen {
		return s
	}
	return string(runes[:maxStatementTruncateLen]) + "..."
}
