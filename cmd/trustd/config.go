package main

import (
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/StricklySoft/stricklysoft-trust/pkg/clients/postgres"
	"github.com/StricklySoft/stricklysoft-trust/pkg/clients/redis"
	sserr "github.com/StricklySoft/stricklysoft-trust/pkg/errors"
	"github.com/StricklySoft/stricklysoft-trust/pkg/secrets"
)

// Config is the complete trustd configuration. Every field can come from
// the environment, a *_FILE secret mount, or the file named by
// TRUSTD_CONFIG.
type Config struct {
	JWKSURL         string        `env:"KEYCLOAK_JWKS" required:"true" yaml:"jwks_url" json:"jwks_url"`
	Issuer          string        `env:"KEYCLOAK_ISSUER" yaml:"issuer" json:"issuer"`
	Audiences       []string      `env:"KEYCLOAK_AUDIENCE" envDefault:"sut-frontend" yaml:"audiences" json:"audiences"`
	Leeway          time.Duration `env:"JWT_LEEWAY_SECS" envDefault:"60" yaml:"leeway" json:"leeway"`
	RoleClaims      []string      `env:"JWT_ROLE_CLAIMS" envDefault:"realm_access.roles" yaml:"role_claims" json:"role_claims"`
	RefreshInterval time.Duration `env:"JWKS_REFRESH_INTERVAL" envDefault:"60s" yaml:"jwks_refresh_interval" json:"jwks_refresh_interval"`

	AppEnv        string `env:"APP_ENV" envDefault:"development" yaml:"app_env" json:"app_env"`
	DevAuthBypass bool   `env:"DEV_AUTH_BYPASS" yaml:"dev_auth_bypass" json:"dev_auth_bypass"`

	WebhookSecret       secrets.Secret `env:"WEBHOOK_SHARED_SECRET" yaml:"-" json:"-"`
	WebhookSecretPath   string         `env:"WEBHOOK_SECRET_PATH" envDefault:"webhook" yaml:"webhook_secret_path" json:"webhook_secret_path"`
	WebhookSecretKey    string         `env:"WEBHOOK_SECRET_KEY" envDefault:"secret" yaml:"webhook_secret_key" json:"webhook_secret_key"`
	WebhookReplayWindow time.Duration  `env:"WEBHOOK_REPLAY_WINDOW" envDefault:"300" yaml:"webhook_replay_window" json:"webhook_replay_window"`
	WebhookReceiptTTL   time.Duration  `env:"WEBHOOK_RECEIPT_TTL" yaml:"webhook_receipt_ttl" json:"webhook_receipt_ttl"`

	Bind            string        `env:"BIND" envDefault:"0.0.0.0:8080" yaml:"bind" json:"bind"`
	GRPCBind        string        `env:"GRPC_BIND" envDefault:"0.0.0.0:9090" yaml:"grpc_bind" json:"grpc_bind"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"15s" yaml:"shutdown_timeout" json:"shutdown_timeout"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info" yaml:"log_level" json:"log_level"`

	// PostgresRole, when set, replaces the DSN login with one leased from
	// the secret store's database engine.
	PostgresRole string `env:"PG_VAULT_ROLE" yaml:"postgres_vault_role" json:"postgres_vault_role"`

	// GRPCCertRole, when set, serves gRPC over TLS with a certificate
	// issued for GRPCCertCommonName by the secret store's PKI engine.
	GRPCCertRole       string        `env:"GRPC_PKI_ROLE" yaml:"grpc_pki_role" json:"grpc_pki_role"`
	GRPCCertCommonName string        `env:"GRPC_PKI_COMMON_NAME" yaml:"grpc_pki_common_name" json:"grpc_pki_common_name"`
	GRPCCertTTL        time.Duration `env:"GRPC_PKI_TTL" yaml:"grpc_pki_ttl" json:"grpc_pki_ttl"`

	Vault    secrets.Config  `yaml:"vault" json:"vault"`
	Postgres postgres.Config `yaml:"postgres" json:"postgres"`
	Redis    redis.Config    `yaml:"redis" json:"redis"`
}

// Production reports whether APP_ENV names a production deployment.
func (c *Config) Production() bool {
	switch strings.ToLower(strings.TrimSpace(c.AppEnv)) {
	case "production", "prod":
		return true
	}
	return false
}

// Level parses LogLevel, falling back to info.
func (c *Config) Level() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// Validate enforces URL shapes and the production-only requirement that
// webhooks have a signing secret from the environment or the secret store.
func (c *Config) Validate() error {
	u, err := url.Parse(c.JWKSURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return sserr.Newf(sserr.CodeValidationFormat, "config: KEYCLOAK_JWKS must be an http(s) URL, got %q", c.JWKSURL)
	}
	if c.Leeway < 0 {
		return sserr.New(sserr.CodeValidation, "config: JWT_LEEWAY_SECS must not be negative")
	}
	if c.WebhookReplayWindow <= 0 {
		return sserr.New(sserr.CodeValidation, "config: WEBHOOK_REPLAY_WINDOW must be positive")
	}
	if c.WebhookReceiptTTL < 0 {
		return sserr.New(sserr.CodeValidation, "config: WEBHOOK_RECEIPT_TTL must not be negative")
	}
	if err := c.Vault.Validate(); err != nil {
		return err
	}
	if err := c.Postgres.Validate(); err != nil {
		return err
	}
	if c.Redis.Enabled() {
		if err := c.Redis.Validate(); err != nil {
			return err
		}
	}
	if (c.PostgresRole != "" || c.GRPCCertRole != "") && !c.Vault.Configured() {
		return sserr.New(sserr.CodeValidationRequired,
			"config: PG_VAULT_ROLE and GRPC_PKI_ROLE need VAULT_ADDR and VAULT_TOKEN")
	}
	if c.GRPCCertRole != "" && c.GRPCCertCommonName == "" {
		return sserr.New(sserr.CodeValidationRequired, "config: GRPC_PKI_COMMON_NAME is required with GRPC_PKI_ROLE")
	}
	if c.GRPCCertTTL < 0 {
		return sserr.New(sserr.CodeValidation, "config: GRPC_PKI_TTL must not be negative")
	}
	if c.Production() && c.WebhookSecret == "" && !c.Vault.Configured() {
		return sserr.New(sserr.CodeValidationRequired,
			"config: WEBHOOK_SHARED_SECRET or VAULT_TOKEN must be configured when APP_ENV=production")
	}
	return nil
}
