// Package main runs the asynq worker that verifies uploaded scan images.
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/dharsanguruparan/ScanVault/internal/app"
	"github.com/dharsanguruparan/ScanVault/internal/config"
	"github.com/dharsanguruparan/ScanVault/internal/verify"
	"github.com/dharsanguruparan/ScanVault/internal/worker"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := config.SetupLogger(cfg)
	if cfg.RedisAddr == "" {
		log.Fatalf("SCANVAULT_REDIS_ADDR is required for the worker")
	}

	blobs, _, err := app.OpenBlobStore(ctx, cfg)
	if err != nil {
		log.Fatalf("init blob store: %v", err)
	}

	server := asynq.NewServer(asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, asynq.Config{
		Concurrency: cfg.ProcessingPool,
		Logger:      newAsynqLogger(logger),
	})
	processor := worker.NewProcessor(verify.New(blobs, logger))
	mux := processor.Handler()

	go func() {
		<-ctx.Done()
		server.Shutdown()
	}()

	logger.Info("worker started", slog.String("redis", cfg.RedisAddr), slog.Int("concurrency", cfg.ProcessingPool))
	if err := server.Run(mux); err != nil {
		logger.Error("worker stopped", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
