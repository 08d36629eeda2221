package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"autoposter/internal/domain"
	"autoposter/internal/events"
	"autoposter/internal/models"

	"github.com/rs/zerolog"
)

// Outcome labels how a single execution ended.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
	OutcomeStopped   Outcome = "stopped"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeRetry     Outcome = "retry"
)

// Result is written back to the broker so the status view can show it.
type Result struct {
	TaskID    string   `json:"task_id"`
	Outcome   Outcome  `json:"outcome"`
	Account   string   `json:"account,omitempty"`
	Platforms []string `json:"platforms,omitempty"`
	Error     string   `json:"error,omitempty"`
}

// Executor runs one upload task against its stored record.
type Executor struct {
	tasks    domain.TaskRepository
	accounts domain.AccountRepository
	users    domain.UserRepository
	uploader domain.Uploader
	creds    domain.CredentialChecker
	events   domain.EventPublisher
	logger   *zerolog.Logger
}

func NewExecutor(
	tasks domain.TaskRepository,
	accounts domain.AccountRepository,
	users domain.UserRepository,
	uploader domain.Uploader,
	creds domain.CredentialChecker,
	publisher domain.EventPublisher,
	logger *zerolog.Logger,
) *Executor {
	return &Executor{
		tasks:    tasks,
		accounts: accounts,
		users:    users,
		uploader: uploader,
		creds:    creds,
		events:   publisher,
		logger:   logger,
	}
}

// Execute drives a task record through PROCESSING to a terminal state.
//
// A record that is already terminal was stopped before pickup and is left alone.
// A record found PROCESSING is a redelivery and the upload runs again, so uploads
// are at-least-once. Store faults come back wrapped in domain.ErrTransient and
// leave the record where it was for the next delivery.
func (e *Executor) Execute(ctx context.Context, taskID string) (Result, error) {
	res := Result{TaskID: taskID}
	log := e.logger.With().Str("task_id", taskID).Logger()

	task, err := e.tasks.GetTask(ctx, taskID)
	if errors.Is(err, domain.ErrTaskNotFound) {
		res.Outcome = OutcomeSkipped
		return res, fmt.Errorf("%w: %w", domain.ErrOrphanedJob, err)
	}
	if err != nil {
		res.Outcome = OutcomeRetry
		return res, err
	}

	if task.Status.IsTerminal() {
		log.Info().Str("status", task.Status.String()).Msg("Task already finished, skipping")
		res.Outcome = OutcomeSkipped
		return res, nil
	}

	if task.Status == models.TaskPending {
		if err := e.tasks.TransitionTask(ctx, task.ID, models.TaskProcessing, 0, ""); err != nil {
			if errors.Is(err, domain.ErrInvalidTransition) {
				// Stopped between the read and the write.
				res.Outcome = OutcomeSkipped
				return res, nil
			}
			res.Outcome = OutcomeRetry
			return res, err
		}
		e.publish(events.TaskStarted, task, "")
	} else {
		log.Warn().Msg("Task redelivered while processing, resuming upload")
	}

	req, err := e.buildRequest(ctx, task)
	if err != nil {
		if domain.IsTransient(err) {
			res.Outcome = OutcomeRetry
			return res, err
		}
		return e.fail(ctx, task, res, err)
	}
	res.Account = req.Email
	res.Platforms = req.Platforms

	uploadErr := e.uploader.Upload(ctx, req)
	if uploadErr != nil && ctx.Err() != nil {
		return e.interrupted(ctx.Err(), task, res, uploadErr)
	}
	if uploadErr != nil {
		return e.fail(ctx, task, res, fmt.Errorf("%w: %w", domain.ErrUploadFailed, uploadErr))
	}

	if err := e.tasks.TransitionTask(ctx, task.ID, models.TaskCompleted, 100, ""); err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			log.Info().Msg("Task stopped while uploading, keeping STOPPED")
			res.Outcome = OutcomeStopped
			return res, nil
		}
		res.Outcome = OutcomeRetry
		return res, err
	}

	log.Info().Str("account", req.Email).Strs("platforms", req.Platforms).Msg("Upload completed")
	e.publish(events.TaskCompleted, task, "")
	res.Outcome = OutcomeCompleted
	return res, nil
}

func (e *Executor) buildRequest(ctx context.Context, task *models.Task) (models.UploadRequest, error) {
	account, err := e.accounts.GetAccount(ctx, task.AccountID)
	if errors.Is(err, domain.ErrAccountNotFound) {
		return models.UploadRequest{}, fmt.Errorf("%w: %w", domain.ErrOrphanedJob, err)
	}
	if err != nil {
		return models.UploadRequest{}, err
	}

	var credentials string
	if e.creds != nil {
		user, err := e.users.GetUser(ctx, task.UserID)
		if errors.Is(err, domain.ErrUserNotFound) {
			return models.UploadRequest{}, fmt.Errorf("%w: %w", domain.ErrOrphanedJob, err)
		}
		if err != nil {
			return models.UploadRequest{}, err
		}
		if credentials, err = e.creds.Resolve(user); err != nil {
			return models.UploadRequest{}, err
		}
	}

	return models.UploadRequest{
		TaskID:              task.ID,
		UserID:              task.UserID,
		Email:               account.Email,
		Password:            account.Password,
		Platforms:           account.Platforms(),
		GoogleDriveFolderID: account.GoogleDriveFolderID,
		CredentialsFile:     credentials,
		FacebookPageID:      account.FacebookPageID,
		FacebookGroupID:     account.FacebookGroupID,
		FacebookPostToPage:  account.FacebookPostToPage,
		FacebookPostToGroup: account.FacebookPostToGroup,
	}, nil
}

// fail records a terminal failure. The returned error is the cause unless
// the store itself failed, in which case the delivery should be retried.
func (e *Executor) fail(ctx context.Context, task *models.Task, res Result, cause error) (Result, error) {
	res.Error = cause.Error()
	err := e.tasks.TransitionTask(ctx, task.ID, models.TaskFailed, 100, cause.Error())
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrInvalidTransition):
		e.logger.Info().Str("task_id", task.ID).Msg("Task stopped before failure was recorded")
		res.Outcome = OutcomeStopped
		return res, nil
	default:
		res.Outcome = OutcomeRetry
		return res, err
	}

	e.logger.Error().Err(cause).Str("task_id", task.ID).Msg("Upload task failed")
	e.publish(events.TaskFailed, task, cause.Error())
	res.Outcome = OutcomeFailed
	return res, cause
}

// interrupted handles an upload cut short by its context: a forced revoke,
// which already stored STOPPED, a worker shutdown, or the job deadline.
// Only a cancellation is requeued for free; a deadline spends a retry.
func (e *Executor) interrupted(ctxErr error, task *models.Task, res Result, cause error) (Result, error) {
	// The request context is gone; read the record with a fresh one.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	current, err := e.tasks.GetTask(ctx, task.ID)
	if err == nil && current.Status == models.TaskStopped {
		e.logger.Info().Str("task_id", task.ID).Msg("Upload cancelled by stop request")
		e.publish(events.TaskStopped, task, "")
		res.Outcome = OutcomeStopped
		return res, nil
	}

	res.Outcome = OutcomeRetry
	if errors.Is(ctxErr, context.Canceled) {
		return res, fmt.Errorf("%w: %w", domain.ErrInterrupted, cause)
	}
	return res, fmt.Errorf("%w: upload timed out: %w", domain.ErrTransient, cause)
}

func (e *Executor) publish(eventType string, task *models.Task, message string) {
	if e.events == nil {
		return
	}
	payload := events.TaskEvent{
		TaskID:    task.ID,
		UserID:    task.UserID,
		AccountID: task.AccountID,
		Message:   message,
		At:        time.Now().UTC(),
	}
	if err := e.events.PublishJSON(eventType, payload); err != nil {
		e.logger.Warn().Err(err).Str("event", eventType).Msg("Failed to publish task event")
	}
}

func (r Result) marshal() []byte {
	data, _ := json.Marshal(r)
	return data
}

// markPanicked moves the task to FAILED after a crash, walking through
// PROCESSING when the panic happened before pickup was recorded.
func (e *Executor) markPanicked(taskID string, cause interface{}) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	msg := fmt.Sprintf("worker panic: %v", cause)
	err := e.tasks.TransitionTask(ctx, taskID, models.TaskProcessing, 0, "")
	if err != nil && !errors.Is(err, domain.ErrInvalidTransition) {
		e.logger.Debug().Err(err).Str("task_id", taskID).Msg("Failed to mark panicked task processing")
	}
	if err := e.tasks.TransitionTask(ctx, taskID, models.TaskFailed, 100, msg); err != nil {
		e.logger.Error().Err(err).Str("task_id", taskID).Msg("Failed to record panic on task")
	}
}
