package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"autoposter/internal/config"
	"autoposter/internal/domain"
	"autoposter/internal/events"
	"autoposter/internal/metrics"
	"autoposter/internal/models"
	"autoposter/internal/worker"

	"github.com/rs/zerolog"
)

// Deps are the collaborators of a Scheduler. Guard and Events are optional.
type Deps struct {
	Tasks      domain.TaskRepository
	Accounts   domain.AccountRepository
	Dispatcher domain.Dispatcher
	Guard      domain.DayGuard
	Events     domain.EventPublisher
	Planner    *Planner
	// Queue is the broker queue jobs land in; it locates the re-arm job on stop.
	Queue string
}

// Scheduler fans a user's day out into task records and broker jobs.
type Scheduler struct {
	deps       Deps
	retry      worker.RetryPolicy
	rearmAfter time.Duration
	now        func() time.Time
	logger     *zerolog.Logger
}

func New(deps Deps, cfg config.SchedulerConfig, logger *zerolog.Logger) *Scheduler {
	if deps.Planner == nil {
		deps.Planner = NewPlanner(cfg, nil)
	}
	if deps.Queue == "" {
		deps.Queue = models.DefaultQueue
	}
	if !cfg.GuardDuplicateDays {
		deps.Guard = nil
	}
	return &Scheduler{
		deps:       deps,
		retry:      worker.PolicyFromConfig(cfg.Retry),
		rearmAfter: cfg.RearmAfter,
		now:        time.Now,
		logger:     logger,
	}
}

// ScheduleDay creates and dispatches one day of uploads for every account the
// user owns, then re-arms itself for the next day.
//
// All records are written in a single transaction. Dispatch is retried per
// record; if it still fails, records dispatched so far stay scheduled and
// ErrSchedulingFailed is returned. The day chain then ends and an
// AutomationLapsed event is published.
func (s *Scheduler) ScheduleDay(ctx context.Context, userID string) error {
	err := s.scheduleDay(ctx, userID)
	if errors.Is(err, domain.ErrSchedulingFailed) {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Day not fully scheduled, automation lapses")
		s.publishLapsed(userID)
	}
	return err
}

func (s *Scheduler) scheduleDay(ctx context.Context, userID string) error {
	log := s.logger.With().Str("user_id", userID).Logger()

	accounts, err := s.deps.Accounts.ListAccountsByOwner(ctx, userID)
	if err != nil {
		return fmt.Errorf("list accounts: %w", err)
	}
	if len(accounts) == 0 {
		log.Warn().Msg("No accounts found, nothing to schedule")
		return domain.ErrNoAccounts
	}

	now := s.now().UTC()
	if s.deps.Guard != nil {
		claimed, err := s.deps.Guard.Claim(ctx, userID, now)
		if err != nil {
			log.Warn().Err(err).Msg("Day guard unavailable, scheduling without it")
		} else if !claimed {
			return domain.ErrDayAlreadyScheduled
		}
	}

	runs := s.deps.Planner.Runs()
	interval := s.deps.Planner.Interval()
	tasks := make([]*models.Task, 0, runs*len(accounts))
	for slot := range Plan(now, runs, interval, accounts) {
		tasks = append(tasks, &models.Task{
			UserID:        userID,
			AccountID:     slot.Account.ID,
			Title:         fmt.Sprintf("Automation for account %s - Round %d", slot.Account.Email, slot.Run+1),
			Status:        models.TaskPending,
			ScheduledTime: slot.At,
		})
	}

	err = s.retry.Do(ctx, domain.IsTransient, func(ctx context.Context) error {
		return s.deps.Tasks.CreateTasks(ctx, tasks)
	})
	if err != nil {
		s.releaseGuard(ctx, userID, now)
		return fmt.Errorf("%w: create tasks: %w", domain.ErrSchedulingFailed, err)
	}
	metrics.AddScheduled(len(tasks))

	for i, task := range tasks {
		handle, err := s.dispatch(ctx, models.Job{
			Name:     models.JobUpload,
			Payload:  models.UploadPayload{TaskID: task.ID},
			ETA:      task.ScheduledTime,
			UniqueID: task.ID,
		})
		if err != nil {
			return fmt.Errorf("%w: dispatched %d of %d tasks: %w", domain.ErrSchedulingFailed, i, len(tasks), err)
		}
		if err := s.deps.Tasks.SetBrokerHandle(ctx, task.ID, handle); err != nil {
			log.Warn().Err(err).Str("task_id", task.ID).Str("handle", string(handle)).
				Msg("Task dispatched but handle not saved")
		}
	}

	next := now.Add(s.rearmAfter)
	if _, err := s.dispatch(ctx, models.Job{
		Name:     models.JobScheduleDay,
		Payload:  models.ScheduleDayPayload{UserID: userID},
		ETA:      next,
		UniqueID: rearmID(userID, next),
	}); err != nil {
		return fmt.Errorf("%w: re-arm: %w", domain.ErrSchedulingFailed, err)
	}

	log.Info().
		Int("accounts", len(accounts)).
		Int("runs", runs).
		Dur("interval", interval).
		Int("tasks", len(tasks)).
		Time("next_day", next).
		Msg("Day scheduled")
	s.publish(userID, len(tasks))
	return nil
}

// CancelRearm revokes the user's queued next-day job so a stopped automation
// does not come back. The job id carries its target date, which lies between
// today and today plus the re-arm delay; each of those dates is tried.
func (s *Scheduler) CancelRearm(ctx context.Context, userID string) error {
	now := s.now().UTC()
	last := now.Add(s.rearmAfter)
	var errs []error
	for day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC); !day.After(last); day = day.AddDate(0, 0, 1) {
		handle := models.NewHandle(s.deps.Queue, rearmID(userID, day))
		if err := s.deps.Dispatcher.Revoke(ctx, handle, false); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Scheduler) dispatch(ctx context.Context, job models.Job) (models.Handle, error) {
	var handle models.Handle
	err := s.retry.Do(ctx, domain.IsTransient, func(ctx context.Context) error {
		var err error
		handle, err = s.deps.Dispatcher.Dispatch(ctx, job)
		return err
	})
	return handle, err
}

func (s *Scheduler) releaseGuard(ctx context.Context, userID string, day time.Time) {
	if s.deps.Guard == nil {
		return
	}
	if err := s.deps.Guard.Release(ctx, userID, day); err != nil {
		s.logger.Warn().Err(err).Str("user_id", userID).Msg("Failed to release day guard")
	}
}

func (s *Scheduler) publish(userID string, count int) {
	if s.deps.Events == nil {
		return
	}
	payload := events.UserEvent{UserID: userID, Count: count, At: s.now().UTC()}
	if err := s.deps.Events.PublishJSON(events.DayScheduled, payload); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to publish schedule event")
	}
}

func (s *Scheduler) publishLapsed(userID string) {
	if s.deps.Events == nil {
		return
	}
	payload := events.UserEvent{UserID: userID, At: s.now().UTC()}
	if err := s.deps.Events.PublishJSON(events.AutomationLapsed, payload); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to publish lapse event")
	}
}

// rearmID makes the next-day job unique per user and target date, so two
// chains for the same user collapse into one.
func rearmID(userID string, at time.Time) string {
	return fmt.Sprintf("schedule_day:%s:%s", userID, at.UTC().Format("20060102"))
}
