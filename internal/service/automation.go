package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"autoposter/internal/domain"
	"autoposter/internal/events"
	"autoposter/internal/metrics"
	"autoposter/internal/models"

	"github.com/rs/zerolog"
)

// FolderVerifier checks that an account's Drive folder is readable with the
// given credentials.
type FolderVerifier interface {
	Verify(ctx context.Context, credentialsFile, folderID string) error
}

// DayScheduler schedules a user's day and can cancel the next one.
type DayScheduler interface {
	domain.DayScheduler
	CancelRearm(ctx context.Context, userID string) error
}

type Deps struct {
	Tasks      domain.TaskRepository
	Accounts   domain.AccountRepository
	Users      domain.UserRepository
	Dispatcher domain.Dispatcher
	Scheduler  DayScheduler
	Creds      domain.CredentialChecker
	Folders    FolderVerifier
	Events     domain.EventPublisher
}

// AutomationService is the entry point for starting, stopping and inspecting
// a user's automation.
type AutomationService struct {
	deps            Deps
	pingTimeout     time.Duration
	scheduleTimeout time.Duration
	logger          *zerolog.Logger
}

const defaultScheduleTimeout = 2 * time.Minute

func NewAutomationService(deps Deps, pingTimeout time.Duration, logger *zerolog.Logger) *AutomationService {
	if pingTimeout <= 0 {
		pingTimeout = 2 * time.Second
	}
	return &AutomationService{
		deps:            deps,
		pingTimeout:     pingTimeout,
		scheduleTimeout: defaultScheduleTimeout,
		logger:          logger,
	}
}

// Start runs the pre-flight checks and schedules the first day.
//
// Checks run cheapest first and nothing is written until all of them pass:
// no task may be PROCESSING, the user must own accounts, credentials must
// resolve, and at least one worker must answer the broker ping. Scheduling
// itself is detached from ctx so a dropped request cannot leave half a day.
func (s *AutomationService) Start(ctx context.Context, userID string) error {
	log := s.logger.With().Str("user_id", userID).Logger()

	running, err := s.deps.Tasks.CountTasksByStatus(ctx, userID, models.TaskProcessing)
	if err != nil {
		return fmt.Errorf("count running tasks: %w", err)
	}
	if running > 0 {
		log.Info().Int("running", running).Msg("Start refused, automation already running")
		return domain.ErrAlreadyRunning
	}

	accounts, err := s.deps.Accounts.ListAccountsByOwner(ctx, userID)
	if err != nil {
		return fmt.Errorf("list accounts: %w", err)
	}
	if len(accounts) == 0 {
		return domain.ErrNoAccounts
	}

	if err := s.checkCredentials(ctx, userID, accounts); err != nil {
		log.Warn().Err(err).Msg("Start refused, credentials check failed")
		return err
	}

	ok, err := s.deps.Dispatcher.PingWorkers(ctx, s.pingTimeout)
	if err != nil {
		log.Error().Err(err).Msg("Broker ping failed")
		if errors.Is(err, domain.ErrServiceUnavailable) {
			return err
		}
		return fmt.Errorf("%w: %w", domain.ErrBrokerUnreachable, err)
	}
	if !ok {
		log.Warn().Msg("Start refused, no workers answered")
		return domain.ErrNoWorkers
	}

	schedCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.scheduleTimeout)
	defer cancel()
	if err := s.deps.Scheduler.ScheduleDay(schedCtx, userID); err != nil {
		return err
	}
	log.Info().Int("accounts", len(accounts)).Msg("Automation started")
	return nil
}

func (s *AutomationService) checkCredentials(ctx context.Context, userID string, accounts []*models.Account) error {
	if s.deps.Creds == nil {
		return nil
	}
	user, err := s.deps.Users.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	path, err := s.deps.Creds.Resolve(user)
	if err != nil {
		return err
	}
	if s.deps.Folders == nil {
		return nil
	}
	for _, acc := range accounts {
		if err := s.deps.Folders.Verify(ctx, path, acc.GoogleDriveFolderID); err != nil {
			return fmt.Errorf("account %s: %w", acc.Email, err)
		}
	}
	return nil
}

// StopAll cancels the user's next-day job, revokes every unfinished job and
// marks the records STOPPED. Revocation is best effort; the status update is
// not. Calling it again is harmless.
func (s *AutomationService) StopAll(ctx context.Context, userID string) (int64, error) {
	log := s.logger.With().Str("user_id", userID).Logger()

	if err := s.deps.Scheduler.CancelRearm(ctx, userID); err != nil {
		log.Warn().Err(err).Msg("Failed to cancel next day")
	}

	tasks, err := s.deps.Tasks.ListTasksByStatus(ctx, userID, models.TaskPending, models.TaskProcessing)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", domain.ErrStopFailed, err)
	}
	if len(tasks) == 0 {
		return 0, nil
	}

	ids := make([]string, 0, len(tasks))
	for _, task := range tasks {
		ids = append(ids, task.ID)
		handle := task.Handle()
		if handle == "" {
			continue
		}
		if err := s.deps.Dispatcher.Revoke(ctx, models.Handle(handle), true); err != nil {
			log.Warn().Err(err).Str("task_id", task.ID).Str("handle", handle).Msg("Failed to revoke job")
		}
	}

	stopped, err := s.deps.Tasks.StopTasks(ctx, ids)
	if err != nil {
		log.Error().Err(err).Msg("Failed to mark tasks stopped")
		return 0, err
	}

	metrics.AddStopped(stopped)
	log.Info().Int64("stopped", stopped).Msg("Automation stopped")
	s.publish(events.AutomationHalted, events.UserEvent{UserID: userID, Count: int(stopped), At: time.Now().UTC()})
	return stopped, nil
}

// ListStatuses returns the user's tasks with live broker state attached. The
// stored status is authoritative; broker lookups that fail are logged and
// leave the broker fields empty.
func (s *AutomationService) ListStatuses(ctx context.Context, userID string) ([]models.AutomationStatus, error) {
	tasks, err := s.deps.Tasks.ListTasksByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	out := make([]models.AutomationStatus, 0, len(tasks))
	for _, task := range tasks {
		st := models.AutomationStatus{
			TaskID:        task.ID,
			AccountID:     task.AccountID,
			Title:         task.Title,
			Status:        task.Status,
			Progress:      task.Progress,
			ScheduledTime: task.ScheduledTime,
		}
		if task.ErrorMessage != nil {
			st.Error = *task.ErrorMessage
		}

		if handle := task.Handle(); handle != "" {
			js, err := s.deps.Dispatcher.Inspect(ctx, models.Handle(handle))
			switch {
			case err == nil:
				st.BrokerState = js.State
				st.Result = string(js.Result)
				if st.Error == "" {
					st.Error = js.LastErr
				}
			case errors.Is(err, domain.ErrTaskNotFound):
				st.BrokerState = "expired"
			default:
				s.logger.Warn().Err(err).Str("task_id", task.ID).Msg("Broker state unavailable")
			}
		}
		out = append(out, st)
	}
	return out, nil
}

// DeleteAll removes every task record of the user. Jobs still queued for those
// records are revoked first so workers do not pick up orphans.
func (s *AutomationService) DeleteAll(ctx context.Context, userID string) (int64, error) {
	if _, err := s.StopAll(ctx, userID); err != nil {
		return 0, err
	}
	n, err := s.deps.Tasks.DeleteTasksByUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("delete tasks: %w", err)
	}
	s.logger.Info().Str("user_id", userID).Int64("deleted", n).Msg("Tasks deleted")
	return n, nil
}

func (s *AutomationService) publish(eventType string, payload interface{}) {
	if s.deps.Events == nil {
		return
	}
	if err := s.deps.Events.PublishJSON(eventType, payload); err != nil {
		s.logger.Warn().Err(err).Str("event", eventType).Msg("Failed to publish event")
	}
}
