package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StricklySoft/stricklysoft-trust/internal/testutil"
	sserr "github.com/StricklySoft/stricklysoft-trust/pkg/errors"
	"github.com/StricklySoft/stricklysoft-trust/pkg/secrets"
	"github.com/StricklySoft/stricklysoft-trust/pkg/webhook"
)

func lookupFrom(env map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func minimalEnv() map[string]string {
	return map[string]string{
		"KEYCLOAK_JWKS": "https://idp.test/realms/directory/protocol/openid-connect/certs",
		"PG_DSN":        "postgres://trust:hunter2@db:5432/trust",
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	t.Parallel()
	cfg, err := loadConfig(lookupFrom(minimalEnv()))
	require.NoError(t, err)

	assert.Equal(t, []string{"sut-frontend"}, cfg.Audiences)
	assert.Equal(t, 60*time.Second, cfg.Leeway)
	assert.Equal(t, []string{"realm_access.roles"}, cfg.RoleClaims)
	assert.Equal(t, 60*time.Second, cfg.RefreshInterval)
	assert.Equal(t, 300*time.Second, cfg.WebhookReplayWindow)
	assert.Equal(t, webhook.DefaultSecretPath, cfg.WebhookSecretPath)
	assert.Equal(t, webhook.DefaultSecretKey, cfg.WebhookSecretKey)
	assert.Equal(t, "0.0.0.0:8080", cfg.Bind)
	assert.Equal(t, 15*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, secrets.DefaultAddr, cfg.Vault.Addr)
	assert.False(t, cfg.Vault.Configured())
	assert.False(t, cfg.Redis.Enabled())
	assert.False(t, cfg.Production())
	assert.False(t, cfg.DevAuthBypass)
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Parallel()
	env := minimalEnv()
	env["KEYCLOAK_AUDIENCE"] = "sut-frontend, directory-api"
	env["KEYCLOAK_ISSUER"] = "https://idp.test/realms/directory"
	env["JWT_LEEWAY_SECS"] = "5"
	env["DEV_AUTH_BYPASS"] = "1"
	env["REDIS_URI"] = "redis://cache:6379/2"
	env["LOG_LEVEL"] = "debug"

	cfg, err := loadConfig(lookupFrom(env))
	require.NoError(t, err)
	assert.Equal(t, []string{"sut-frontend", "directory-api"}, cfg.Audiences)
	assert.Equal(t, "https://idp.test/realms/directory", cfg.Issuer)
	assert.Equal(t, 5*time.Second, cfg.Leeway)
	assert.True(t, cfg.DevAuthBypass)
	assert.True(t, cfg.Redis.Enabled())
	assert.Equal(t, "DEBUG", cfg.Level().String())
}

func TestLoadConfig_File(t *testing.T) {
	t.Parallel()
	path := testutil.TempFile(t, "trustd.yaml", `
jwks_url: https://file.test/certs
audiences: [from-file]
webhook_replay_window: 120s
postgres:
  max_conns: 4
`)
	env := minimalEnv()
	env[configFileEnv] = path
	delete(env, "KEYCLOAK_JWKS")
	env["KEYCLOAK_AUDIENCE"] = "from-env"

	cfg, err := loadConfig(lookupFrom(env))
	require.NoError(t, err)
	assert.Equal(t, "https://file.test/certs", cfg.JWKSURL)
	assert.Equal(t, []string{"from-env"}, cfg.Audiences, "environment wins over the file")
	assert.Equal(t, 120*time.Second, cfg.WebhookReplayWindow)
	assert.EqualValues(t, 4, cfg.Postgres.MaxConns)
}

func TestLoadConfig_SecretFile(t *testing.T) {
	t.Parallel()
	env := minimalEnv()
	env["WEBHOOK_SHARED_SECRET_FILE"] = testutil.TempFile(t, "webhook-secret", "s3cr3t-value\n")

	cfg, err := loadConfig(lookupFrom(env))
	require.NoError(t, err)
	assert.Equal(t, "s3cr3t-value", cfg.WebhookSecret.Value())

	testutil.AssertJSONNotContains(t, cfg, "s3cr3t-value")
	testutil.AssertJSONNotContains(t, cfg, "hunter2")
}

func TestLoadConfig_Invalid(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		edit func(env map[string]string)
		code sserr.Code
	}{
		{
			name: "missing jwks url",
			edit: func(env map[string]string) { delete(env, "KEYCLOAK_JWKS") },
			code: sserr.CodeValidationRequired,
		},
		{
			name: "missing dsn",
			edit: func(env map[string]string) { delete(env, "PG_DSN") },
			code: sserr.CodeValidationRequired,
		},
		{
			name: "jwks url not http",
			edit: func(env map[string]string) { env["KEYCLOAK_JWKS"] = "file:///etc/jwks.json" },
			code: sserr.CodeValidationFormat,
		},
		{
			name: "negative leeway",
			edit: func(env map[string]string) { env["JWT_LEEWAY_SECS"] = "-1" },
			code: sserr.CodeValidation,
		},
		{
			name: "zero replay window",
			edit: func(env map[string]string) { env["WEBHOOK_REPLAY_WINDOW"] = "0" },
			code: sserr.CodeValidation,
		},
		{
			name: "bad redis uri",
			edit: func(env map[string]string) { env["REDIS_URI"] = "http://cache:6379" },
			code: sserr.CodeValidationFormat,
		},
		{
			name: "database role without secret store",
			edit: func(env map[string]string) { env["PG_VAULT_ROLE"] = "trust" },
			code: sserr.CodeValidationRequired,
		},
		{
			name: "pki role without secret store",
			edit: func(env map[string]string) {
				env["GRPC_PKI_ROLE"] = "grpc"
				env["GRPC_PKI_COMMON_NAME"] = "trustd"
			},
			code: sserr.CodeValidationRequired,
		},
		{
			name: "pki role without common name",
			edit: func(env map[string]string) {
				env["VAULT_TOKEN"] = "s.token"
				env["GRPC_PKI_ROLE"] = "grpc"
			},
			code: sserr.CodeValidationRequired,
		},
		{
			name: "negative certificate ttl",
			edit: func(env map[string]string) { env["GRPC_PKI_TTL"] = "-1h" },
			code: sserr.CodeValidation,
		},
		{
			name: "production without webhook secret",
			edit: func(env map[string]string) { env["APP_ENV"] = "production" },
			code: sserr.CodeValidationRequired,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			env := minimalEnv()
			tt.edit(env)
			_, err := loadConfig(lookupFrom(env))
			testutil.RequireErrorCode(t, err, tt.code)
		})
	}
}

func TestLoadConfig_DynamicSecrets(t *testing.T) {
	t.Parallel()
	env := minimalEnv()
	env["VAULT_TOKEN"] = "s.token"
	env["PG_VAULT_ROLE"] = "trust"
	env["GRPC_PKI_ROLE"] = "grpc"
	env["GRPC_PKI_COMMON_NAME"] = "trustd.trust.svc"
	env["GRPC_PKI_TTL"] = "24h"

	cfg, err := loadConfig(lookupFrom(env))
	require.NoError(t, err)
	assert.Equal(t, "trust", cfg.PostgresRole)
	assert.Equal(t, "grpc", cfg.GRPCCertRole)
	assert.Equal(t, "trustd.trust.svc", cfg.GRPCCertCommonName)
	assert.Equal(t, 24*time.Hour, cfg.GRPCCertTTL)
	assert.Empty(t, cfg.Postgres.User(), "no login is leased while loading")
}

func TestConfig_ProductionSecrets(t *testing.T) {
	t.Parallel()
	env := minimalEnv()
	env["APP_ENV"] = "Production"
	env["WEBHOOK_SHARED_SECRET"] = "shared"
	cfg, err := loadConfig(lookupFrom(env))
	require.NoError(t, err)
	assert.True(t, cfg.Production())

	env = minimalEnv()
	env["APP_ENV"] = "prod"
	env["VAULT_TOKEN"] = "s.token"
	cfg, err = loadConfig(lookupFrom(env))
	require.NoError(t, err)
	assert.True(t, cfg.Vault.Configured())
}

func TestWebhookSecrets(t *testing.T) {
	t.Parallel()
	logger := testutil.DiscardLogger()

	cfg := Config{WebhookSecret: "shared"}
	src := webhookSecrets(cfg, nil, logger)
	assert.Equal(t, webhook.StaticSecret("shared"), src)

	store, err := secrets.New(secrets.Config{Addr: "http://vault.test:8200", Token: "s.token"})
	require.NoError(t, err)
	cfg.WebhookSecretPath = "ingest"
	src = webhookSecrets(cfg, store, logger)
	ss, ok := src.(*webhook.StoreSecret)
	require.True(t, ok)
	assert.Equal(t, "ingest", ss.Path)
	assert.Equal(t, webhook.StaticSecret("shared"), ss.Fallback)
}
