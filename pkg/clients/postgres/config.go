package postgres

import (
	"net/url"
	"time"

	sserr "github.com/StricklySoft/stricklysoft-trust/pkg/errors"
)

const maxSQLTruncateLen = 100

// Pool defaults applied by [Config.Validate] to zero fields.
const (
	DefaultMaxConns        int32 = 10
	DefaultMinConns        int32 = 1
	DefaultMaxConnLifetime       = time.Hour
	DefaultMaxConnIdleTime       = 30 * time.Minute
	DefaultConnectTimeout        = 10 * time.Second
	DefaultHealthTimeout         = 2 * time.Second
)

// Config holds the connection pool settings. DSN is the only required
// field and accepts both URL (postgres://...) and key=value forms.
type Config struct {
	DSN string `json:"-" yaml:"-" env:"PG_DSN" required:"true"`

	MaxConns        int32         `json:"max_conns,omitempty" yaml:"max_conns" env:"PG_MAX_CONNS" envDefault:"10"`
	MinConns        int32         `json:"min_conns,omitempty" yaml:"min_conns" env:"PG_MIN_CONNS" envDefault:"1"`
	MaxConnLifetime time.Duration `json:"max_conn_lifetime,omitempty" yaml:"max_conn_lifetime" env:"PG_MAX_CONN_LIFETIME" envDefault:"1h"`
	MaxConnIdleTime time.Duration `json:"max_conn_idle_time,omitempty" yaml:"max_conn_idle_time" env:"PG_MAX_CONN_IDLE_TIME" envDefault:"30m"`
	ConnectTimeout  time.Duration `json:"connect_timeout,omitempty" yaml:"connect_timeout" env:"PG_CONNECT_TIMEOUT" envDefault:"10s"`

	// user and password override the DSN's credentials, e.g. with a login
	// leased from the secret store.
	user     string
	password string
}

// WithCredentials returns a copy of c that connects as user, replacing
// whatever credentials the DSN carries.
func (c *Config) WithCredentials(user, password string) Config {
	out := *c
	out.user = user
	out.password = password
	return out
}

// Validate applies defaults and checks pool bounds. The DSN itself is
// parsed by pgx in [NewClient].
func (c *Config) Validate() error {
	c.applyDefaults()
	if c.DSN == "" {
		return sserr.New(sserr.CodeValidationRequired, "postgres: dsn is required")
	}
	if c.MinConns < 0 || c.MaxConns < 1 {
		return sserr.Newf(sserr.CodeValidation,
			"postgres: pool bounds invalid (min %d, max %d)", c.MinConns, c.MaxConns)
	}
	if c.MaxConns < c.MinConns {
		return sserr.Newf(sserr.CodeValidation,
			"postgres: max_conns (%d) must be >= min_conns (%d)", c.MaxConns, c.MinConns)
	}
	return nil
}

// User reports the login set by [Config.WithCredentials], if any.
func (c *Config) User() string { return c.user }

// Redacted returns the DSN with the password masked when it is in URL
// form, or a placeholder otherwise.
func (c *Config) Redacted() string {
	u, err := url.Parse(c.DSN)
	if err != nil || u.Scheme == "" {
		return "[dsn]"
	}
	return u.Redacted()
}

func (c *Config) applyDefaults() {
	if c.MaxConns == 0 {
		c.MaxConns = DefaultMaxConns
	}
	if c.MinConns == 0 {
		c.MinConns = DefaultMinConns
	}
	if c.MaxConnLifetime == 0 {
		c.MaxConnLifetime = DefaultMaxConnLifetime
	}
	if c.MaxConnIdleTime == 0 {
		c.MaxConnIdleTime = DefaultMaxConnIdleTime
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
}

func truncateSQL(sql string) string {
	if len(sql) <= maxSQLTruncateLen {
		return sql
	}
	return sql[:maxSQLTruncateLen] + "..."
}
