// Command trustd is the trust boundary service. It verifies bearer tokens
// against the identity provider's key set, authorizes HTTP and gRPC calls
// by role, and authenticates signed webhook deliveries with replay
// protection.
//
// Configuration comes from the environment (see [Config]); an optional
// YAML or JSON file named by TRUSTD_CONFIG is applied underneath it.
//
//	KEYCLOAK_JWKS=https://idp/realms/directory/protocol/openid-connect/certs \
//	PG_DSN=postgres://trust@db/trust WEBHOOK_SHARED_SECRET=... trustd
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/StricklySoft/stricklysoft-trust/pkg/config"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// configFileEnv names the optional configuration file.
const configFileEnv = "TRUSTD_CONFIG"

func main() {
	cfg, err := loadConfig(os.LookupEnv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "trustd: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.Level(),
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("trustd: exiting", "error", err)
		os.Exit(1)
	}
	logger.Info("trustd: stopped")
}

// loadConfig reads Config through lookup, which is os.LookupEnv outside
// tests.
func loadConfig(lookup func(string) (string, bool)) (Config, error) {
	var cfg Config
	path, _ := lookup(configFileEnv)
	err := config.New().WithFile(path).WithLookup(lookup).Load(&cfg)
	return cfg, err
}

// run starts the service and blocks until ctx is cancelled or a server
// fails, then shuts down within cfg.ShutdownTimeout.
func run(ctx context.Context, cfg Config, logger *slog.Logger) error {
	logger.Info("trustd: starting",
		"version", version,
		"app_env", cfg.AppEnv,
		"production", cfg.Production(),
		"jwks_url", cfg.JWKSURL,
		"postgres", cfg.Postgres.Redacted(),
		"secret_store", cfg.Vault.Configured(),
	)

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}

	if err := a.service.Start(ctx); err != nil {
		_ = a.haltRefresher(ctx)
		_ = a.closeClients()
		return err
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("trustd: shutdown signal received")
	case runErr = <-a.serveErr:
		logger.Error("trustd: server failed", "error", runErr)
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout(cfg))
	defer cancel()
	return errors.Join(runErr, a.service.Stop(stopCtx))
}

func shutdownTimeout(cfg Config) time.Duration {
	if cfg.ShutdownTimeout <= 0 {
		return 15 * time.Second
	}
	return cfg.ShutdownTimeout
}
