// Package main runs the ScanVault HTTP API.
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/dharsanguruparan/ScanVault/internal/api"
	"github.com/dharsanguruparan/ScanVault/internal/app"
	"github.com/dharsanguruparan/ScanVault/internal/config"
	"github.com/dharsanguruparan/ScanVault/internal/identity"
	"github.com/dharsanguruparan/ScanVault/internal/ingest"
	"github.com/dharsanguruparan/ScanVault/internal/processing"
	"github.com/dharsanguruparan/ScanVault/internal/queue"
	"github.com/dharsanguruparan/ScanVault/internal/report"
	"github.com/dharsanguruparan/ScanVault/internal/roles"
	"github.com/dharsanguruparan/ScanVault/internal/service"
	"github.com/dharsanguruparan/ScanVault/internal/verify"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := config.SetupLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server stopped", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	stores, err := app.OpenStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer stores.Close()

	blobs, blobHandler, err := app.OpenBlobStore(ctx, cfg)
	if err != nil {
		return err
	}

	auth, err := newAuthenticator(cfg, logger)
	if err != nil {
		return err
	}

	verifications, closeQueue := newVerificationQueue(ctx, cfg, verify.New(blobs, logger), logger)
	defer closeQueue()

	resolver := roles.NewResolver(stores.Roles, roles.Options{
		CaptureMarker: cfg.CaptureEmailMarker,
		CacheSize:     cfg.RoleCacheSize,
		CacheTTL:      cfg.RoleCacheTTL,
		Logger:        logger,
	})
	uploader := ingest.NewUploader(blobs, stores.Scans, ingest.Options{
		MaxImageBytes: cfg.MaxImageBytes,
		AllowedTypes:  cfg.AllowedTypes,
		Verifications: verifications,
		Logger:        logger,
	})
	svc := service.New(resolver, uploader, stores.Scans, report.NewGenerator(blobs, logger), logger)

	srv := api.New(svc, auth, api.Options{
		Address:         cfg.Address,
		MaxImageBytes:   cfg.MaxImageBytes,
		ShutdownTimeout: cfg.ShutdownTimeout,
		CORSOrigins:     cfg.CORSOrigins,
		Blobs:           blobHandler,
		Ready:           stores.Ready,
	}, logger)
	logger.Info("scanvault starting",
		slog.String("version", config.Version),
		slog.String("blob_backend", cfg.BlobBackend),
		slog.String("jwt_mode", cfg.JWTMode),
		slog.Bool("database", cfg.DatabaseURL != ""),
	)
	return srv.Run(ctx)
}

func newAuthenticator(cfg *config.Config, logger *slog.Logger) (identity.Authenticator, error) {
	if cfg.JWTMode == config.JWTModeJWKS {
		return identity.NewJWKS(cfg.JWKSURL, cfg.JWTIssuer, logger)
	}
	return identity.NewHS256([]byte(cfg.JWTSecret), cfg.JWTIssuer), nil
}

// newVerificationQueue sends verification jobs to Redis when configured and
// otherwise runs them on an in-process pool.
func newVerificationQueue(ctx context.Context, cfg *config.Config, v *verify.Verifier, logger *slog.Logger) (ingest.Enqueuer, func()) {
	if cfg.RedisAddr != "" {
		client := queue.NewClient(asynq.NewClient(asynq.RedisClientOpt{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}))
		logger.Info("upload verification via redis", slog.String("redis", cfg.RedisAddr))
		return client, func() { _ = client.Close() }
	}
	pool := processing.New(func(ctx context.Context, p queue.VerifyPayload) error {
		_, err := v.Verify(ctx, p)
		return err
	}, cfg.ProcessingPool, logger)
	poolCtx, cancel := context.WithCancel(ctx)
	pool.Start(poolCtx)
	return pool, func() {
		cancel()
		pool.Wait()
	}
}
