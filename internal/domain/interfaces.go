package domain

import (
	"context"
	"time"

	"autoposter/internal/models"
)

type TaskRepository interface {
	CreateTasks(ctx context.Context, tasks []*models.Task) error
	GetTask(ctx context.Context, id string) (*models.Task, error)
	SetBrokerHandle(ctx context.Context, id string, handle models.Handle) error
	TransitionTask(ctx context.Context, id string, to models.TaskStatus, progress int, errMsg string) error
	ListTasksByUser(ctx context.Context, userID string) ([]*models.Task, error)
	ListTasksByStatus(ctx context.Context, userID string, statuses ...models.TaskStatus) ([]*models.Task, error)
	CountTasksByStatus(ctx context.Context, userID string, statuses ...models.TaskStatus) (int, error)
	StopTasks(ctx context.Context, ids []string) (int64, error)
	DeleteTasksByUser(ctx context.Context, userID string) (int64, error)
}

type AccountRepository interface {
	GetAccount(ctx context.Context, id string) (*models.Account, error)
	ListAccountsByOwner(ctx context.Context, ownerID string) ([]*models.Account, error)
}

type UserRepository interface {
	GetUser(ctx context.Context, id string) (*models.User, error)
}

// Dispatcher hands jobs to the message broker and controls them afterwards.
type Dispatcher interface {
	// Dispatch guarantees the job reaches a worker at or after job.ETA.
	Dispatch(ctx context.Context, job models.Job) (models.Handle, error)
	// Revoke is a no-op for handles that already finished or are unknown to the broker.
	Revoke(ctx context.Context, handle models.Handle, force bool) error
	// PingWorkers reports whether at least one worker answered within timeout.
	PingWorkers(ctx context.Context, timeout time.Duration) (bool, error)
	Inspect(ctx context.Context, handle models.Handle) (*models.JobState, error)
}

// Uploader is the opaque upload collaborator. It may retry internally per platform.
type Uploader interface {
	Upload(ctx context.Context, req models.UploadRequest) error
}

// DayGuard records which (user, day) pairs already had a batch scheduled.
type DayGuard interface {
	// Claim returns false when the pair was claimed before.
	Claim(ctx context.Context, userID string, day time.Time) (bool, error)
	Release(ctx context.Context, userID string, day time.Time) error
}

// CredentialChecker validates service-account credentials before work is scheduled.
type CredentialChecker interface {
	Resolve(user *models.User) (string, error)
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

// DayScheduler fans out one day of jobs for a user.
type DayScheduler interface {
	ScheduleDay(ctx context.Context, userID string) error
}
