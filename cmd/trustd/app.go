package main

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/StricklySoft/stricklysoft-trust/pkg/auth"
	"github.com/StricklySoft/stricklysoft-trust/pkg/clients/postgres"
	"github.com/StricklySoft/stricklysoft-trust/pkg/clients/redis"
	"github.com/StricklySoft/stricklysoft-trust/pkg/lifecycle"
	"github.com/StricklySoft/stricklysoft-trust/pkg/secrets"
	"github.com/StricklySoft/stricklysoft-trust/pkg/webhook"
)

// app owns every long-lived component of the process.
type app struct {
	cfg    Config
	logger *slog.Logger

	keys    *auth.KeySetCache
	secrets *secrets.Store
	db      *postgres.Client
	redis   *redis.Client

	httpServer *http.Server
	grpcServer *grpc.Server
	grpcHealth *health.Server

	service       *lifecycle.Service
	stopRefresher func()
	serveErr      chan error
}

// newApp connects to the database (and Redis when configured) and wires
// the trust components. Nothing listens until the service starts.
func newApp(ctx context.Context, cfg Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger, serveErr: make(chan error, 2)}

	keys, err := auth.NewKeySetCache(auth.KeySetConfig{URL: cfg.JWKSURL, Logger: logger})
	if err != nil {
		return nil, err
	}
	a.keys = keys

	verifier, err := auth.NewTokenVerifier(keys, auth.VerifierConfig{
		Issuer:     cfg.Issuer,
		Audiences:  cfg.Audiences,
		Leeway:     cfg.Leeway,
		RoleClaims: cfg.RoleClaims,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}

	middleware, err := auth.NewMiddleware(auth.MiddlewareConfig{
		Verifier:   verifier,
		DevBypass:  cfg.DevAuthBypass,
		Production: cfg.Production(),
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}

	a.secrets, err = secrets.New(cfg.Vault, secrets.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	pgCfg, err := databaseConfig(ctx, cfg, a.secrets, logger)
	if err != nil {
		return nil, err
	}
	a.db, err = postgres.NewClient(ctx, pgCfg)
	if err != nil {
		return nil, err
	}

	checks := []readinessCheck{dependencyCheck("db_down;", a.db), keysCheck(keys)}

	var receipts webhook.ReceiptStore = webhook.NewPostgresStore(a.db)
	if cfg.Redis.Enabled() {
		a.redis, err = redis.NewClient(ctx, cfg.Redis)
		if err != nil {
			a.db.Close()
			return nil, err
		}
		receipts = webhook.NewRedisStore(a.redis, "", cfg.WebhookReceiptTTL)
		checks = append(checks, dependencyCheck("redis_down;", a.redis))
		logger.Info("trustd: webhook receipts stored in redis", "redis", cfg.Redis.Redacted())
	}

	authenticator, err := webhook.NewAuthenticator(webhook.Config{
		Receipts:     receipts,
		ReplayWindow: cfg.WebhookReplayWindow,
		Logger:       logger,
	})
	if err != nil {
		_ = a.closeClients()
		return nil, err
	}
	ingest, err := webhook.NewHandler(webhook.HandlerConfig{
		Authenticator: authenticator,
		Secrets:       webhookSecrets(cfg, a.secrets, logger),
		Logger:        logger,
	})
	if err != nil {
		_ = a.closeClients()
		return nil, err
	}

	notifications, err := webhook.NewNotificationHandler(webhook.NotificationConfig{
		Token:  webhook.StaticSecret(cfg.WebhookSecret.Value()),
		Cache:  secretCache(a.secrets),
		Logger: logger,
	})
	if err != nil {
		_ = a.closeClients()
		return nil, err
	}

	var grpcOpts []grpc.ServerOption
	if cfg.GRPCCertRole != "" {
		creds, err := grpcTLS(ctx, cfg, a.secrets, logger)
		if err != nil {
			_ = a.closeClients()
			return nil, err
		}
		grpcOpts = append(grpcOpts, grpc.Creds(creds))
	}
	a.grpcServer, a.grpcHealth = newGRPCServer(verifier, grpcOpts...)

	a.service, err = lifecycle.NewBuilder("trustd", version).
		WithLogger(logger).
		OnStart(a.refreshKeys).
		OnStart(a.checkSecretStore).
		OnStart(a.startRefresher).
		OnStart(a.listen).
		OnStop(a.closeClientsHook).
		OnStop(a.haltRefresher).
		OnStop(a.shutdownServers).
		OnStateChange(a.stateChanged).
		Build()
	if err != nil {
		_ = a.closeClients()
		return nil, err
	}

	rt := &routes{
		service:       a.service,
		middleware:    middleware,
		webhook:       ingest,
		notifications: notifications,
		checks:        checks,
		logger:        logger,
	}
	a.httpServer = &http.Server{
		Addr:              cfg.Bind,
		Handler:           rt.handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return a, nil
}

// webhookSecrets prefers the secret store, falling back to
// WEBHOOK_SHARED_SECRET when the store is absent or failing.
func webhookSecrets(cfg Config, store *secrets.Store, logger *slog.Logger) webhook.SecretSource {
	static := webhook.StaticSecret(cfg.WebhookSecret.Value())
	if store == nil || !store.Configured() {
		if len(static) == 0 {
			logger.Warn("trustd: no webhook secret configured; every delivery will be rejected")
		}
		return static
	}
	return &webhook.StoreSecret{
		Store:    store,
		Path:     cfg.WebhookSecretPath,
		Key:      cfg.WebhookSecretKey,
		Fallback: static,
		Logger:   logger,
	}
}

// databaseConfig swaps the DSN login for a leased one when PG_VAULT_ROLE
// is set. A failed lease is fatal; the DSN login is never used in its
// place.
//
// TODO: renew the lease through sys/leases/renew before LeaseDuration
// elapses. Until then a login outliving its lease needs a restart.
func databaseConfig(ctx context.Context, cfg Config, store *secrets.Store, logger *slog.Logger) (postgres.Config, error) {
	if cfg.PostgresRole == "" {
		return cfg.Postgres, nil
	}
	creds, err := store.DatabaseCredentials(ctx, cfg.PostgresRole)
	if err != nil {
		return postgres.Config{}, err
	}
	logger.InfoContext(ctx, "trustd: database login leased",
		"role", cfg.PostgresRole, "user", creds.Username,
		"lease_duration", creds.LeaseDuration, "renewable", creds.Renewable)
	return cfg.Postgres.WithCredentials(creds.Username, creds.Password.Value()), nil
}

// grpcTLS issues the gRPC server certificate from GRPC_PKI_ROLE.
func grpcTLS(ctx context.Context, cfg Config, store *secrets.Store, logger *slog.Logger) (credentials.TransportCredentials, error) {
	cert, err := store.IssueCertificate(ctx, cfg.GRPCCertRole, cfg.GRPCCertCommonName, cfg.GRPCCertTTL)
	if err != nil {
		return nil, err
	}
	pair, err := cert.TLSCertificate()
	if err != nil {
		return nil, err
	}
	logger.InfoContext(ctx, "trustd: grpc certificate issued",
		"common_name", cfg.GRPCCertCommonName, "serial", cert.SerialNumber, "expires", cert.Expiration)
	return credentials.NewTLS(&tls.Config{
		Certificates: []tls.Certificate{pair},
		MinVersion:   tls.VersionTLS12,
	}), nil
}

// secretCache lets secret store alerts invalidate the cache. The
// X-Webhook-Token routes compare the raw WEBHOOK_SHARED_SECRET, so unlike
// ingestion they never read a hex-encoded secret from the store.
func secretCache(store *secrets.Store) webhook.CacheInvalidator {
	if store == nil || !store.Configured() {
		return nil
	}
	return store
}

// refreshKeys performs the initial JWKS fetch. The identity provider may
// still be starting, so failure only delays readiness.
func (a *app) refreshKeys(ctx context.Context) error {
	if err := a.keys.Refresh(ctx); err != nil {
		a.logger.WarnContext(ctx, "trustd: initial key set fetch failed; continuing without keys", "error", err)
		return nil
	}
	a.logger.InfoContext(ctx, "trustd: key set loaded", "keys", a.keys.Len())
	return nil
}

func (a *app) checkSecretStore(ctx context.Context) error {
	if !a.secrets.Configured() {
		a.logger.InfoContext(ctx, "trustd: secret store not configured")
		return nil
	}
	if !a.secrets.HealthCheck(ctx) {
		a.logger.WarnContext(ctx, "trustd: secret store unhealthy; continuing without it")
		return nil
	}
	a.logger.InfoContext(ctx, "trustd: secret store reachable")
	return nil
}

func (a *app) startRefresher(context.Context) error {
	a.stopRefresher = auth.NewRefresher(a.keys, a.cfg.RefreshInterval, a.logger).Start(context.Background())
	return nil
}

func (a *app) haltRefresher(context.Context) error {
	if a.stopRefresher != nil {
		a.stopRefresher()
		a.stopRefresher = nil
	}
	return nil
}

// listen binds both ports before returning so address conflicts fail
// startup. Serving errors after that arrive on serveErr.
func (a *app) listen(ctx context.Context) error {
	var lc net.ListenConfig
	httpLn, err := lc.Listen(ctx, "tcp", a.cfg.Bind)
	if err != nil {
		return err
	}
	grpcLn, err := lc.Listen(ctx, "tcp", a.cfg.GRPCBind)
	if err != nil {
		_ = httpLn.Close()
		return err
	}

	go func() {
		if err := a.httpServer.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.serveErr <- err
		}
	}()
	go func() {
		if err := a.grpcServer.Serve(grpcLn); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			a.serveErr <- err
		}
	}()
	a.logger.InfoContext(ctx, "trustd: listening", "http", httpLn.Addr().String(), "grpc", grpcLn.Addr().String())
	return nil
}

// shutdownServers drains HTTP and gRPC. gRPC is stopped hard if draining
// outlives ctx.
func (a *app) shutdownServers(ctx context.Context) error {
	err := a.httpServer.Shutdown(ctx)

	done := make(chan struct{})
	go func() {
		a.grpcServer.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		a.grpcServer.Stop()
		<-done
	}
	return err
}

func (a *app) closeClientsHook(context.Context) error {
	return a.closeClients()
}

func (a *app) closeClients() error {
	var err error
	if a.redis != nil {
		err = a.redis.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
	return err
}

func (a *app) stateChanged(old, next lifecycle.State) {
	a.logger.Info("trustd: state transition", "from", old.String(), "to", next.String())
	switch next {
	case lifecycle.StateRunning:
		a.grpcHealth.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	case lifecycle.StateStopping, lifecycle.StateFailed:
		a.grpcHealth.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	}
}
