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
	"autoposter/internal/broker"
	"autoposter/internal/config"
	"autoposter/internal/google"
	"autoposter/internal/logging"
	"autoposter/internal/metrics"
	"autoposter/internal/uploader"
	"autoposter/internal/worker"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := app.LoadConfigAndLogger("worker-main")
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

	startMetrics(ctx, cfg, logger)

	executor := worker.NewExecutor(
		core.DB,
		core.DB,
		core.DB,
		uploader.New(cfg.Uploader, logging.Component(logger, "uploader")),
		google.NewCredentialResolver(cfg.Google, logging.Component(logger, "credentials")),
		core.Events,
		logging.Component(logger, "executor"),
	)
	handlers := worker.NewHandlers(executor, core.Scheduler, logging.Component(logger, "handlers"))
	server := worker.NewServer(broker.RedisOpt(cfg.Redis), cfg.Worker, cfg.Broker.Queue, handlers, logging.Component(logger, "asynq"))

	health, err := api.NewHealthServer(cfg.Worker.HealthPort, logger)
	if err != nil {
		return err
	}
	go func() {
		if err := health.Serve(); err != nil {
			logger.Error().Err(err).Msg("grpc health server stopped")
		}
	}()

	if err := server.Start(); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}
	health.SetServing(true)
	logger.Info().
		Str("queue", cfg.Broker.Queue).
		Int("concurrency", cfg.Worker.Concurrency).
		Str("health_addr", health.Addr()).
		Msg("Worker started")

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	health.SetServing(false)
	server.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health.Shutdown(shutdownCtx)

	logger.Info().Msg("Worker stopped")
	return nil
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}

	metrics.Register()
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Monitoring.PrometheusPort), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			<-ctx.Done()
			ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			_ = srv.Shutdown(ctxShutdown)
		}()
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics server error")
		}
	}()
}
