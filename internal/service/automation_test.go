package service

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"autoposter/internal/database"
	"autoposter/internal/domain"
	"autoposter/internal/events"
	"autoposter/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockDispatcher struct {
	mock.Mock
}

func (m *mockDispatcher) Dispatch(ctx context.Context, job models.Job) (models.Handle, error) {
	args := m.Called(ctx, job)
	return args.Get(0).(models.Handle), args.Error(1)
}

func (m *mockDispatcher) Revoke(ctx context.Context, h models.Handle, force bool) error {
	return m.Called(ctx, h, force).Error(0)
}

func (m *mockDispatcher) PingWorkers(ctx context.Context, timeout time.Duration) (bool, error) {
	args := m.Called(ctx, timeout)
	return args.Bool(0), args.Error(1)
}

func (m *mockDispatcher) Inspect(ctx context.Context, h models.Handle) (*models.JobState, error) {
	args := m.Called(ctx, h)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.JobState), args.Error(1)
}

type mockScheduler struct {
	mock.Mock
}

func (m *mockScheduler) ScheduleDay(ctx context.Context, userID string) error {
	return m.Called(ctx, userID).Error(0)
}

func (m *mockScheduler) CancelRearm(ctx context.Context, userID string) error {
	return m.Called(ctx, userID).Error(0)
}

type mockCreds struct {
	mock.Mock
}

func (m *mockCreds) Resolve(user *models.User) (string, error) {
	args := m.Called(user)
	return args.String(0), args.Error(1)
}

type mockFolders struct {
	mock.Mock
}

func (m *mockFolders) Verify(ctx context.Context, credentialsFile, folderID string) error {
	return m.Called(ctx, credentialsFile, folderID).Error(0)
}

type fixture struct {
	db         *database.DB
	dispatcher *mockDispatcher
	scheduler  *mockScheduler
	creds      *mockCreds
	bus        *events.EventBus
	svc        *AutomationService
	user       *models.User
	account    *models.Account
}

func newFixture(t *testing.T, withAccount bool) *fixture {
	t.Helper()
	logger := zerolog.Nop()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "svc.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	f := &fixture{
		db:         db,
		dispatcher: &mockDispatcher{},
		scheduler:  &mockScheduler{},
		creds:      &mockCreds{},
		bus:        events.NewEventBus(),
		user:       &models.User{Email: "owner@example.com"},
	}
	require.NoError(t, db.InsertUser(ctx, f.user))
	f.scheduler.On("CancelRearm", mock.Anything, f.user.ID).Return(nil).Maybe()
	if withAccount {
		f.account = &models.Account{OwnerID: f.user.ID, Email: "acc@example.com", PlatformsCSV: "tiktok", GoogleDriveFolderID: "folder-1"}
		require.NoError(t, db.InsertAccount(ctx, f.account))
	}

	f.svc = NewAutomationService(Deps{
		Tasks:      db,
		Accounts:   db,
		Users:      db,
		Dispatcher: f.dispatcher,
		Scheduler:  f.scheduler,
		Creds:      f.creds,
		Events:     f.bus,
	}, time.Second, &logger)
	return f
}

// seed creates n pending tasks with broker handles "automation:<id>".
func (f *fixture) seed(t *testing.T, n int) []*models.Task {
	t.Helper()
	ctx := context.Background()
	start := time.Now().UTC().Truncate(time.Second)
	tasks := make([]*models.Task, n)
	for i := range tasks {
		tasks[i] = &models.Task{
			UserID:        f.user.ID,
			AccountID:     "acc-1",
			Title:         "Automation for account acc@example.com - Round 1",
			ScheduledTime: start.Add(time.Duration(i) * 5 * time.Minute),
		}
	}
	require.NoError(t, f.db.CreateTasks(ctx, tasks))
	for _, task := range tasks {
		require.NoError(t, f.db.SetBrokerHandle(ctx, task.ID, models.NewHandle("automation", task.ID)))
	}
	return tasks
}

func (f *fixture) count(t *testing.T) int {
	t.Helper()
	tasks, err := f.db.ListTasksByUser(context.Background(), f.user.ID)
	require.NoError(t, err)
	return len(tasks)
}

func TestStartSchedulesDay(t *testing.T) {
	f := newFixture(t, true)
	f.creds.On("Resolve", mock.Anything).Return("/keys/sa.json", nil)
	f.dispatcher.On("PingWorkers", mock.Anything, time.Second).Return(true, nil)
	f.scheduler.On("ScheduleDay", mock.Anything, f.user.ID).Return(nil)

	require.NoError(t, f.svc.Start(context.Background(), f.user.ID))
	f.scheduler.AssertNumberOfCalls(t, "ScheduleDay", 1)
}

func TestStartSchedulingOutlivesRequest(t *testing.T) {
	f := newFixture(t, true)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f.creds.On("Resolve", mock.Anything).Return("/keys/sa.json", nil)
	f.dispatcher.On("PingWorkers", mock.Anything, time.Second).
		Run(func(mock.Arguments) { cancel() }).
		Return(true, nil)
	f.scheduler.On("ScheduleDay", mock.Anything, f.user.ID).
		Run(func(args mock.Arguments) {
			schedCtx := args.Get(0).(context.Context)
			assert.NoError(t, schedCtx.Err())
			_, hasDeadline := schedCtx.Deadline()
			assert.True(t, hasDeadline)
		}).
		Return(nil)

	require.NoError(t, f.svc.Start(ctx, f.user.ID))
	f.scheduler.AssertNumberOfCalls(t, "ScheduleDay", 1)
}

func TestStartRefusedWhileRunning(t *testing.T) {
	f := newFixture(t, true)
	tasks := f.seed(t, 1)
	require.NoError(t, f.db.TransitionTask(context.Background(), tasks[0].ID, models.TaskProcessing, 0, ""))

	err := f.svc.Start(context.Background(), f.user.ID)
	assert.ErrorIs(t, err, domain.ErrAlreadyRunning)
	f.scheduler.AssertNotCalled(t, "ScheduleDay", mock.Anything, mock.Anything)
	f.dispatcher.AssertNotCalled(t, "PingWorkers", mock.Anything, mock.Anything)
	assert.Equal(t, 1, f.count(t))
}

func TestStartNoAccounts(t *testing.T) {
	f := newFixture(t, false)

	err := f.svc.Start(context.Background(), f.user.ID)
	assert.ErrorIs(t, err, domain.ErrNoAccounts)
	f.creds.AssertNotCalled(t, "Resolve", mock.Anything)
}

func TestStartCredentialsMissing(t *testing.T) {
	f := newFixture(t, true)
	f.creds.On("Resolve", mock.Anything).Return("", domain.ErrCredentialsMissing)

	err := f.svc.Start(context.Background(), f.user.ID)
	assert.ErrorIs(t, err, domain.ErrCredentialsMissing)
	assert.ErrorIs(t, err, domain.ErrServiceUnavailable)
	f.dispatcher.AssertNotCalled(t, "PingWorkers", mock.Anything, mock.Anything)
}

func TestStartDriveFolderDenied(t *testing.T) {
	f := newFixture(t, true)
	folders := &mockFolders{}
	f.svc.deps.Folders = folders
	f.creds.On("Resolve", mock.Anything).Return("/keys/sa.json", nil)
	folders.On("Verify", mock.Anything, "/keys/sa.json", "folder-1").Return(domain.ErrDriveFolderDenied)

	err := f.svc.Start(context.Background(), f.user.ID)
	assert.ErrorIs(t, err, domain.ErrDriveFolderDenied)
	assert.Contains(t, err.Error(), "acc@example.com")
	f.dispatcher.AssertNotCalled(t, "PingWorkers", mock.Anything, mock.Anything)
}

func TestStartWithoutWorkersWritesNothing(t *testing.T) {
	tests := []struct {
		name    string
		ok      bool
		err     error
		wantErr error
	}{
		{"no workers", false, nil, domain.ErrNoWorkers},
		{"broker down", false, domain.ErrBrokerUnreachable, domain.ErrBrokerUnreachable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, true)
			f.creds.On("Resolve", mock.Anything).Return("/keys/sa.json", nil)
			f.dispatcher.On("PingWorkers", mock.Anything, time.Second).Return(tt.ok, tt.err)

			err := f.svc.Start(context.Background(), f.user.ID)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.ErrorIs(t, err, domain.ErrServiceUnavailable)
			f.scheduler.AssertNotCalled(t, "ScheduleDay", mock.Anything, mock.Anything)
			assert.Zero(t, f.count(t))
		})
	}
}

func TestStopAllIsIdempotent(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	tasks := f.seed(t, 3)
	require.NoError(t, f.db.TransitionTask(ctx, tasks[0].ID, models.TaskProcessing, 0, ""))
	require.NoError(t, f.db.TransitionTask(ctx, tasks[0].ID, models.TaskCompleted, 100, ""))
	require.NoError(t, f.db.TransitionTask(ctx, tasks[1].ID, models.TaskProcessing, 0, ""))

	var halted []*events.Event
	f.bus.Subscribe(events.AutomationHalted, func(e *events.Event) error {
		halted = append(halted, e)
		return nil
	})
	f.dispatcher.On("Revoke", mock.Anything, mock.Anything, true).Return(nil)

	n, err := f.svc.StopAll(ctx, f.user.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
	f.dispatcher.AssertNumberOfCalls(t, "Revoke", 2)
	f.dispatcher.AssertNotCalled(t, "Revoke", mock.Anything, models.NewHandle("automation", tasks[0].ID), true)

	n, err = f.svc.StopAll(ctx, f.user.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
	f.dispatcher.AssertNumberOfCalls(t, "Revoke", 2)
	assert.Len(t, halted, 1)

	done, err := f.db.GetTask(ctx, tasks[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskCompleted, done.Status)
	for _, task := range tasks[1:] {
		got, err := f.db.GetTask(ctx, task.ID)
		require.NoError(t, err)
		assert.Equal(t, models.TaskStopped, got.Status)
	}
}

func TestStopAllCancelsNextDay(t *testing.T) {
	f := newFixture(t, true)

	n, err := f.svc.StopAll(context.Background(), f.user.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
	f.scheduler.AssertCalled(t, "CancelRearm", mock.Anything, f.user.ID)
	f.dispatcher.AssertNotCalled(t, "Revoke", mock.Anything, mock.Anything, mock.Anything)
}

func TestStopAllContinuesWhenNextDayCancelFails(t *testing.T) {
	f := newFixture(t, true)
	f.scheduler.ExpectedCalls = nil
	f.scheduler.On("CancelRearm", mock.Anything, f.user.ID).Return(domain.ErrBrokerUnreachable)
	f.seed(t, 2)
	f.dispatcher.On("Revoke", mock.Anything, mock.Anything, true).Return(nil)

	n, err := f.svc.StopAll(context.Background(), f.user.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}

func TestStopAllIgnoresRevokeFailures(t *testing.T) {
	f := newFixture(t, true)
	f.seed(t, 2)
	f.dispatcher.On("Revoke", mock.Anything, mock.Anything, true).Return(domain.ErrBrokerUnreachable)

	n, err := f.svc.StopAll(context.Background(), f.user.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	stopped, err := f.db.CountTasksByStatus(context.Background(), f.user.ID, models.TaskStopped)
	require.NoError(t, err)
	assert.Equal(t, 2, stopped)
}

func TestStopAllCommitFailure(t *testing.T) {
	f := newFixture(t, true)
	f.seed(t, 1)
	f.dispatcher.On("Revoke", mock.Anything, mock.Anything, true).Return(nil)
	f.svc.deps.Tasks = failingStop{TaskRepository: f.db}

	_, err := f.svc.StopAll(context.Background(), f.user.ID)
	assert.ErrorIs(t, err, domain.ErrStopFailed)
}

type failingStop struct {
	domain.TaskRepository
}

func (failingStop) StopTasks(context.Context, []string) (int64, error) {
	return 0, domain.ErrStopFailed
}

func TestListStatusesDegradesWhenBrokerDown(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	tasks := f.seed(t, 3)
	require.NoError(t, f.db.TransitionTask(ctx, tasks[0].ID, models.TaskProcessing, 0, ""))
	require.NoError(t, f.db.TransitionTask(ctx, tasks[0].ID, models.TaskFailed, 100, "TimeoutError: upload"))

	f.dispatcher.On("Inspect", mock.Anything, models.NewHandle("automation", tasks[0].ID)).
		Return(&models.JobState{State: "completed", Result: []byte(`{"outcome":"failed"}`), LastErr: "broker says"}, nil)
	f.dispatcher.On("Inspect", mock.Anything, models.NewHandle("automation", tasks[1].ID)).
		Return(nil, domain.ErrTaskNotFound)
	f.dispatcher.On("Inspect", mock.Anything, models.NewHandle("automation", tasks[2].ID)).
		Return(nil, domain.ErrBrokerUnreachable)

	statuses, err := f.svc.ListStatuses(ctx, f.user.ID)
	require.NoError(t, err)
	require.Len(t, statuses, 3)

	assert.Equal(t, models.TaskFailed, statuses[0].Status)
	assert.Equal(t, "completed", statuses[0].BrokerState)
	assert.Equal(t, "TimeoutError: upload", statuses[0].Error)
	assert.JSONEq(t, `{"outcome":"failed"}`, statuses[0].Result)

	assert.Equal(t, models.TaskPending, statuses[1].Status)
	assert.Equal(t, "expired", statuses[1].BrokerState)

	assert.Equal(t, models.TaskPending, statuses[2].Status)
	assert.Empty(t, statuses[2].BrokerState)
}

func TestDeleteAll(t *testing.T) {
	f := newFixture(t, true)
	f.seed(t, 2)
	f.dispatcher.On("Revoke", mock.Anything, mock.Anything, true).Return(nil)

	n, err := f.svc.DeleteAll(context.Background(), f.user.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
	assert.Zero(t, f.count(t))
	f.dispatcher.AssertNumberOfCalls(t, "Revoke", 2)
}
