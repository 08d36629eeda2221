package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"autoposter/internal/api"
	"autoposter/internal/app"
	"autoposter/internal/config"
	"autoposter/internal/google"
	"autoposter/internal/logging"
	"autoposter/internal/metrics"
	"autoposter/internal/repository"
	"autoposter/internal/service"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := app.LoadConfigAndLogger("api-main")
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	core, err := app.NewCore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer core.Close()

	core.StartBackups(ctx)
	startMetrics(ctx, cfg, logger)

	svc := service.NewAutomationService(service.Deps{
		Tasks:      core.DB,
		Accounts:   core.DB,
		Users:      core.DB,
		Dispatcher: core.Dispatcher,
		Scheduler:  core.Scheduler,
		Creds:      google.NewCredentialResolver(cfg.Google, logging.Component(logger, "credentials")),
		Folders:    folderVerifier(cfg),
		Events:     core.Events,
	}, cfg.Broker.PingTimeout, logging.Component(logger, "automation"))

	checks := map[string]api.ReadinessCheck{
		"database": func(ctx context.Context) error { return core.DB.PingContext(ctx) },
	}
	if core.Redis != nil {
		checks["redis"] = func(ctx context.Context) error { return repository.Ping(ctx, core.Redis) }
	}

	if !cfg.API.HTTP.Enabled {
		logger.Warn().Msg("HTTP API is disabled in config, but starting API application. Check your config.")
	}
	httpServer := api.NewHTTPServer(cfg.API, svc, checks, logger)

	return serve(ctx, httpServer, cfg, logger)
}

// folderVerifier returns nil when Drive checks are off so the service skips them.
func folderVerifier(cfg *config.Config) service.FolderVerifier {
	if !cfg.Google.VerifyDriveAccess {
		return nil
	}
	return google.NewFolderProbe()
}

func serve(ctx context.Context, httpServer *api.HTTPServer, cfg *config.Config, logger *zerolog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.Start()
	}()

	logger.Info().Int("http_port", cfg.API.HTTP.Port).Msg("API server started")

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)

	logger.Info().Msg("API server stopped")
	return nil
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}

	metrics.Register()
	go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, logger)
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
