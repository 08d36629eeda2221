package worker

import (
	"context"
	"errors"

	"autoposter/internal/config"
	"autoposter/internal/domain"
	"autoposter/internal/logging"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
)

// Server consumes upload and re-arm jobs from the broker.
type Server struct {
	srv      *asynq.Server
	handlers *Handlers
	logger   *zerolog.Logger
}

func NewServer(redisOpt asynq.RedisConnOpt, cfg config.WorkerConfig, queue string, handlers *Handlers, logger *zerolog.Logger) *Server {
	policy := PolicyFromConfig(cfg.Retry)
	srv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency:     cfg.Concurrency,
		Queues:          map[string]int{queue: 1},
		RetryDelayFunc:  policy.DelayFunc(),
		ShutdownTimeout: cfg.ShutdownTimeout,
		Logger:          logging.NewAsynqLogger(logger),
		// Store faults spend the retry budget; only cancelled uploads are requeued for free.
		IsFailure: func(err error) bool {
			return !errors.Is(err, domain.ErrInterrupted)
		},
		DelayedTaskCheckInterval: cfg.DelayedCheckInterval,
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, t *asynq.Task, err error) {
			retried, _ := asynq.GetRetryCount(ctx)
			maxRetry, _ := asynq.GetMaxRetry(ctx)
			logger.Error().
				Err(err).
				Str("job", t.Type()).
				Int("retried", retried).
				Int("max_retry", maxRetry).
				Msg("Job failed")
		}),
	})
	return &Server{srv: srv, handlers: handlers, logger: logger}
}

// Start begins processing in the background.
func (s *Server) Start() error {
	s.logger.Info().Msg("Worker server starting")
	return s.srv.Start(s.handlers.Mux())
}

// Shutdown waits for active jobs up to the configured timeout.
func (s *Server) Shutdown() {
	s.srv.Shutdown()
	s.logger.Info().Msg("Worker server stopped")
}
