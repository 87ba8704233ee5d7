package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ai-baas/backend/conversation/grpc"
	"ai-baas/backend/conversation/models"
	"ai-baas/backend/pkg/config"
	"ai-baas/backend/pkg/di"
	"ai-baas/backend/pkg/logger"
	"ai-baas/backend/pkg/router"
	"ai-baas/backend/pkg/secrets"
	"ai-baas/backend/shared/observability"
)

func main() {
	cfg := config.New()

	logConfig := logger.DefaultConfig()
	logConfig.Level = cfg.Logging.Level
	logConfig.JSON = cfg.Logging.Format != "text"
	log := logger.New(logConfig)
	logger.SetGlobal(log)

	if err := run(cfg, log); err != nil {
		log.LogError(err, "Server stopped with error")
		os.Exit(1)
	}
	log.Info("Server exited gracefully")
}

func run(cfg *config.Config, log *logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("Starting context engine", "env", cfg.Server.Env)

	shutdownTracing, err := observability.SetupTracing(cfg.Observability.TracingEnabled, cfg.Observability.ServiceName)
	if err != nil {
		return err
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	meterProvider, metricsHandler, err := observability.SetupPrometheusMetrics(cfg.Observability.ServiceName)
	if err != nil {
		return err
	}
	defer func() { _ = meterProvider.Shutdown(context.Background()) }()
	metrics, err := observability.NewMetrics(meterProvider)
	if err != nil {
		return err
	}
	go observability.ServeMetrics(ctx, ":"+cfg.Observability.MetricsPort, metricsHandler, log)

	sm, err := secrets.NewVaultManager(secrets.VaultConfig{
		Enabled:  cfg.Vault.Enabled,
		Address:  cfg.Vault.Address,
		Token:    cfg.Vault.Token,
		Mount:    cfg.Vault.Mount,
		Path:     cfg.Vault.Path,
		CacheTTL: cfg.Vault.CacheTTL,
	}, log)
	if err != nil {
		return err
	}

	db, err := config.NewDB(ctx, cfg, log)
	if err != nil {
		return err
	}
	if err := db.AutoMigrate(models.AllModels()...); err != nil {
		return err
	}

	container, err := di.New(ctx, cfg, db, log, metrics, sm, di.Overrides{})
	if err != nil {
		return err
	}
	defer container.Close()
	container.Start(ctx)

	r := router.New(container)
	r.SetupRoutes()
	go r.RateLimiter.RunCleanup(ctx)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r.Engine,
		ReadHeaderTimeout: cfg.Server.Timeout,
	}

	errCh := make(chan error, 2)
	go func() {
		log.Info("Server starting", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	if cfg.Features.EnableGRPC {
		gs := grpc.NewServer(container.Health, 10*time.Second, log)
		go func() {
			if err := gs.Serve(ctx, ":"+cfg.Server.GRPCPort); err != nil {
				errCh <- err
			}
		}()
	}

	select {
	case <-ctx.Done():
		log.Info("Shutting down server...")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
