package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"autoposter/internal/domain"
	"autoposter/internal/metrics"
	"autoposter/internal/models"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
)

// Handlers binds broker job names to the executor and the day scheduler.
type Handlers struct {
	exec      *Executor
	scheduler domain.DayScheduler
	logger    *zerolog.Logger
}

func NewHandlers(exec *Executor, scheduler domain.DayScheduler, logger *zerolog.Logger) *Handlers {
	return &Handlers{exec: exec, scheduler: scheduler, logger: logger}
}

// Mux returns a ServeMux with every job handler and middleware registered.
func (h *Handlers) Mux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.Use(h.lifecycleMiddleware, h.recoverMiddleware)
	mux.HandleFunc(models.JobUpload, h.HandleUpload)
	mux.HandleFunc(models.JobScheduleDay, h.HandleScheduleDay)
	return mux
}

func (h *Handlers) HandleUpload(ctx context.Context, t *asynq.Task) error {
	var payload models.UploadPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.TaskID == "" {
		return fmt.Errorf("decode upload payload: %v: %w", err, asynq.SkipRetry)
	}

	res, err := h.exec.Execute(ctx, payload.TaskID)
	metrics.IncOutcome(models.JobUpload, string(res.Outcome))
	if rw := t.ResultWriter(); rw != nil {
		if _, werr := rw.Write(res.marshal()); werr != nil {
			h.logger.Warn().Err(werr).Str("task_id", payload.TaskID).Msg("Failed to write task result")
		}
	}

	if err == nil || res.Outcome == OutcomeRetry {
		return err
	}
	// Failed uploads and orphaned jobs are final; redelivery would not help.
	return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
}

func (h *Handlers) HandleScheduleDay(ctx context.Context, t *asynq.Task) error {
	var payload models.ScheduleDayPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.UserID == "" {
		return fmt.Errorf("decode schedule payload: %v: %w", err, asynq.SkipRetry)
	}

	err := h.scheduler.ScheduleDay(ctx, payload.UserID)
	switch {
	case err == nil:
		metrics.IncOutcome(models.JobScheduleDay, string(OutcomeCompleted))
		return nil
	case errors.Is(err, domain.ErrDayAlreadyScheduled):
		h.logger.Info().Str("user_id", payload.UserID).Msg("Day already scheduled, dropping re-arm")
		metrics.IncOutcome(models.JobScheduleDay, string(OutcomeSkipped))
		return nil
	case errors.Is(err, domain.ErrNoAccounts), errors.Is(err, domain.ErrSchedulingFailed):
		// Retrying a partially dispatched day would create a second batch.
		h.logger.Error().Err(err).Str("user_id", payload.UserID).Msg("Daily chain ended, automation must be restarted")
		metrics.IncOutcome(models.JobScheduleDay, string(OutcomeFailed))
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	default:
		metrics.IncOutcome(models.JobScheduleDay, string(OutcomeRetry))
		return err
	}
}

func (h *Handlers) lifecycleMiddleware(next asynq.Handler) asynq.Handler {
	return asynq.HandlerFunc(func(ctx context.Context, t *asynq.Task) error {
		id, _ := asynq.GetTaskID(ctx)
		retried, _ := asynq.GetRetryCount(ctx)
		log := h.logger.With().Str("job", t.Type()).Str("job_id", id).Int("retried", retried).Logger()

		start := time.Now()
		log.Debug().Msg("Job started")
		err := next.ProcessTask(ctx, t)
		if err != nil {
			log.Warn().Err(err).Dur("took", time.Since(start)).Msg("Job returned error")
			return err
		}
		log.Info().Dur("took", time.Since(start)).Msg("Job finished")
		return nil
	})
}

// recoverMiddleware turns a handler panic into a FAILED record and a final error.
func (h *Handlers) recoverMiddleware(next asynq.Handler) asynq.Handler {
	return asynq.HandlerFunc(func(ctx context.Context, t *asynq.Task) (err error) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			h.logger.Error().
				Str("job", t.Type()).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("Job handler panicked")

			if t.Type() == models.JobUpload {
				var payload models.UploadPayload
				if json.Unmarshal(t.Payload(), &payload) == nil && payload.TaskID != "" {
					h.exec.markPanicked(payload.TaskID, r)
				}
			}
			metrics.IncOutcome(t.Type(), string(OutcomeFailed))
			err = fmt.Errorf("handler panic: %v: %w", r, asynq.SkipRetry)
		}()
		return next.ProcessTask(ctx, t)
	})
}
