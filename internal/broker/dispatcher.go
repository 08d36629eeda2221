package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"autoposter/internal/config"
	"autoposter/internal/domain"
	"autoposter/internal/metrics"
	"autoposter/internal/models"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
)

// RedisOpt converts redis settings into asynq connection options.
func RedisOpt(cfg config.RedisConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	}
}

// Dispatcher is the asynq-backed implementation of domain.Dispatcher.
type Dispatcher struct {
	client    *asynq.Client
	inspector *asynq.Inspector
	queue     string
	retention time.Duration
	maxRetry  int
	logger    *zerolog.Logger
}

func NewDispatcher(redisOpt asynq.RedisConnOpt, cfg config.BrokerConfig, maxRetry int, logger *zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		client:    asynq.NewClient(redisOpt),
		inspector: asynq.NewInspector(redisOpt),
		queue:     cfg.Queue,
		retention: cfg.Retention,
		maxRetry:  maxRetry,
		logger:    logger,
	}
}

func (d *Dispatcher) Close() error {
	return errors.Join(d.client.Close(), d.inspector.Close())
}

// Dispatch enqueues the job for processing at job.ETA. When job.UniqueID is set
// it becomes the broker task id, and a repeated dispatch resolves to the
// existing job instead of creating a second one.
func (d *Dispatcher) Dispatch(ctx context.Context, job models.Job) (models.Handle, error) {
	payload, err := json.Marshal(job.Payload)
	if err != nil {
		return "", fmt.Errorf("encode %s payload: %w", job.Name, err)
	}

	opts := []asynq.Option{
		asynq.Queue(d.queue),
		asynq.MaxRetry(d.maxRetry),
	}
	if d.retention > 0 {
		opts = append(opts, asynq.Retention(d.retention))
	}
	if !job.ETA.IsZero() {
		opts = append(opts, asynq.ProcessAt(job.ETA))
	}
	if job.UniqueID != "" {
		opts = append(opts, asynq.TaskID(job.UniqueID))
	}

	info, err := d.client.EnqueueContext(ctx, asynq.NewTask(job.Name, payload), opts...)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		d.logger.Debug().Str("job", job.Name).Str("id", job.UniqueID).Msg("Job already dispatched")
		metrics.IncDispatch(job.Name, true)
		return models.NewHandle(d.queue, job.UniqueID), nil
	}
	if err != nil {
		metrics.IncDispatch(job.Name, false)
		return "", fmt.Errorf("enqueue %s: %w: %w", job.Name, domain.ErrTransient, err)
	}

	metrics.IncDispatch(job.Name, true)
	return models.NewHandle(info.Queue, info.ID), nil
}

// Revoke removes a job that has not started yet. A running job is cancelled only
// when force is set. Jobs the broker no longer knows about, or that already
// finished, are left alone.
func (d *Dispatcher) Revoke(_ context.Context, handle models.Handle, force bool) error {
	queue, id, err := handle.Split()
	if err != nil {
		return err
	}

	info, err := d.inspector.GetTaskInfo(queue, id)
	if isNotFound(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("inspect %s: %w", handle, err)
	}

	switch info.State {
	case asynq.TaskStateCompleted, asynq.TaskStateArchived:
		return nil
	case asynq.TaskStateActive:
		return d.cancel(id, force)
	}

	err = d.inspector.DeleteTask(queue, id)
	if err == nil || isNotFound(err) {
		return nil
	}
	// Picked up between the inspect and the delete.
	if force {
		return d.cancel(id, true)
	}
	return fmt.Errorf("delete %s: %w", handle, err)
}

func (d *Dispatcher) cancel(id string, force bool) error {
	if !force {
		return nil
	}
	if err := d.inspector.CancelProcessing(id); err != nil {
		return fmt.Errorf("cancel %s: %w", id, err)
	}
	return nil
}

// PingWorkers reports whether at least one live worker serves the queue.
func (d *Dispatcher) PingWorkers(ctx context.Context, timeout time.Duration) (bool, error) {
	type result struct {
		servers []*asynq.ServerInfo
		err     error
	}
	ch := make(chan result, 1)
	go func() {
		servers, err := d.inspector.Servers()
		ch <- result{servers: servers, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case <-timer.C:
		return false, fmt.Errorf("%w: no answer within %s", domain.ErrBrokerUnreachable, timeout)
	case res := <-ch:
		if res.err != nil {
			return false, fmt.Errorf("%w: %w", domain.ErrBrokerUnreachable, res.err)
		}
		for _, srv := range res.servers {
			if _, ok := srv.Queues[d.queue]; ok {
				return true, nil
			}
		}
		return false, nil
	}
}

func (d *Dispatcher) Inspect(_ context.Context, handle models.Handle) (*models.JobState, error) {
	queue, id, err := handle.Split()
	if err != nil {
		return nil, err
	}

	info, err := d.inspector.GetTaskInfo(queue, id)
	if isNotFound(err) {
		return nil, fmt.Errorf("%w: %s", domain.ErrTaskNotFound, handle)
	}
	if err != nil {
		return nil, fmt.Errorf("inspect %s: %w", handle, err)
	}

	state := &models.JobState{
		State:   info.State.String(),
		Result:  info.Result,
		LastErr: info.LastErr,
		Retried: info.Retried,
	}
	if !info.CompletedAt.IsZero() {
		done := info.CompletedAt.UTC()
		state.DoneAt = &done
	}
	return state, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound)
}
