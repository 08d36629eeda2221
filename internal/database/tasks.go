package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"autoposter/internal/domain"
	"autoposter/internal/models"

	"github.com/google/uuid"
)

const taskColumns = `id, broker_handle, user_id, account_id, title, status, progress,
                     error_message, scheduled_time, created_at, updated_at`

// CreateTasks inserts every task in one transaction so a day is never half written.
// Missing ids are generated.
func (db *DB) CreateTasks(ctx context.Context, tasks []*models.Task) error {
	if len(tasks) == 0 {
		return nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return wrapErr("begin create tasks", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO user_tasks (`+taskColumns+`)
              VALUES (?, NULL, ?, ?, ?, ?, ?, NULL, ?, ?, ?)`)
	if err != nil {
		return wrapErr("prepare create tasks", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, t := range tasks {
		if t.ID == "" {
			t.ID = uuid.NewString()
		}
		if t.Status == "" {
			t.Status = models.TaskPending
		}
		t.ScheduledTime = t.ScheduledTime.UTC()
		t.CreatedAt = now
		t.UpdatedAt = now

		if _, err := stmt.ExecContext(ctx,
			t.ID, t.UserID, t.AccountID, t.Title, string(t.Status), t.Progress,
			t.ScheduledTime, t.CreatedAt, t.UpdatedAt,
		); err != nil {
			return wrapErr("insert task", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return wrapErr("commit create tasks", err)
	}
	return nil
}

func (db *DB) GetTask(ctx context.Context, id string) (*models.Task, error) {
	row := db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM user_tasks WHERE id = ?`, id)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrTaskNotFound, id)
	}
	if err != nil {
		return nil, wrapErr("get task", err)
	}
	return task, nil
}

// SetBrokerHandle links a task to its broker job. The handle is written once;
// setting the same value again is accepted, a different value is refused.
func (db *DB) SetBrokerHandle(ctx context.Context, id string, handle models.Handle) error {
	res, err := db.ExecContext(ctx,
		`UPDATE user_tasks SET broker_handle = ?, updated_at = ? WHERE id = ? AND broker_handle IS NULL`,
		string(handle), time.Now().UTC(), id,
	)
	if err != nil {
		return wrapErr("set broker handle", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}

	var current sql.NullString
	err = db.QueryRowContext(ctx, `SELECT broker_handle FROM user_tasks WHERE id = ?`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", domain.ErrTaskNotFound, id)
	}
	if err != nil {
		return wrapErr("read broker handle", err)
	}
	if current.String == string(handle) {
		return nil
	}
	return fmt.Errorf("%w: task %s has %s", domain.ErrHandleAlreadySet, id, current.String)
}

// TransitionTask moves a task to `to` only if its current status may lead there.
// The check and the write happen in a single UPDATE, so a concurrent STOPPED
// cannot be overwritten by a late worker. Progress never goes backwards and an
// empty errMsg keeps the previous message.
func (db *DB) TransitionTask(ctx context.Context, id string, to models.TaskStatus, progress int, errMsg string) error {
	sources := models.TransitionSources(to)
	if len(sources) == 0 {
		return fmt.Errorf("%w: nothing leads to %s", domain.ErrInvalidTransition, to)
	}

	progress = min(max(progress, 0), 100)
	args := []interface{}{string(to), progress, truncateMessage(errMsg), time.Now().UTC(), id}
	args = append(args, statusArgs(sources)...)

	res, err := db.ExecContext(ctx, `UPDATE user_tasks
              SET status = ?, progress = MAX(progress, ?),
                  error_message = COALESCE(NULLIF(?, ''), error_message), updated_at = ?
              WHERE id = ? AND status IN (`+placeholders(len(sources))+`)`, args...)
	if err != nil {
		return wrapErr("transition task", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}

	var current string
	err = db.QueryRowContext(ctx, `SELECT status FROM user_tasks WHERE id = ?`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", domain.ErrTaskNotFound, id)
	}
	if err != nil {
		return wrapErr("read task status", err)
	}
	return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, current, to)
}

func (db *DB) ListTasksByUser(ctx context.Context, userID string) ([]*models.Task, error) {
	return db.queryTasks(ctx, `SELECT `+taskColumns+` FROM user_tasks
              WHERE user_id = ? ORDER BY scheduled_time, id`, userID)
}

// ListTasksByStatus returns the user's tasks in any of the given statuses.
// With no statuses it behaves like ListTasksByUser.
func (db *DB) ListTasksByStatus(ctx context.Context, userID string, statuses ...models.TaskStatus) ([]*models.Task, error) {
	if len(statuses) == 0 {
		return db.ListTasksByUser(ctx, userID)
	}
	args := append([]interface{}{userID}, statusArgs(statuses)...)
	return db.queryTasks(ctx, `SELECT `+taskColumns+` FROM user_tasks
              WHERE user_id = ? AND status IN (`+placeholders(len(statuses))+`)
              ORDER BY scheduled_time, id`, args...)
}

func (db *DB) CountTasksByStatus(ctx context.Context, userID string, statuses ...models.TaskStatus) (int, error) {
	if len(statuses) == 0 {
		return 0, nil
	}
	args := append([]interface{}{userID}, statusArgs(statuses)...)
	var count int
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM user_tasks
              WHERE user_id = ? AND status IN (`+placeholders(len(statuses))+`)`, args...).Scan(&count)
	if err != nil {
		return 0, wrapErr("count tasks", err)
	}
	return count, nil
}

// StopTasks marks the given tasks STOPPED in one transaction. Tasks already in a
// terminal state are left alone, which makes repeated stops harmless.
func (db *DB) StopTasks(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", domain.ErrStopFailed, wrapErr("begin stop", err))
	}
	defer tx.Rollback()

	sources := models.TransitionSources(models.TaskStopped)
	args := []interface{}{string(models.TaskStopped), time.Now().UTC()}
	for _, id := range ids {
		args = append(args, id)
	}
	args = append(args, statusArgs(sources)...)

	res, err := tx.ExecContext(ctx, `UPDATE user_tasks SET status = ?, updated_at = ?
              WHERE id IN (`+placeholders(len(ids))+`) AND status IN (`+placeholders(len(sources))+`)`, args...)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", domain.ErrStopFailed, wrapErr("stop tasks", err))
	}
	stopped, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: %w", domain.ErrStopFailed, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%w: %w", domain.ErrStopFailed, wrapErr("commit stop", err))
	}
	return stopped, nil
}

func (db *DB) DeleteTasksByUser(ctx context.Context, userID string) (int64, error) {
	res, err := db.ExecContext(ctx, `DELETE FROM user_tasks WHERE user_id = ?`, userID)
	if err != nil {
		return 0, wrapErr("delete tasks", err)
	}
	return res.RowsAffected()
}

func (db *DB) queryTasks(ctx context.Context, query string, args ...interface{}) ([]*models.Task, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapErr("query tasks", err)
	}
	defer rows.Close()

	tasks := []*models.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("iterate tasks", err)
	}
	return tasks, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(row rowScanner) (*models.Task, error) {
	var (
		t      models.Task
		handle sql.NullString
		errMsg sql.NullString
		status string
	)
	err := row.Scan(
		&t.ID, &handle, &t.UserID, &t.AccountID, &t.Title, &status, &t.Progress,
		&errMsg, &t.ScheduledTime, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	t.Status, err = models.ParseTaskStatus(status)
	if err != nil {
		return nil, err
	}
	if handle.Valid {
		t.BrokerHandle = &handle.String
	}
	if errMsg.Valid {
		t.ErrorMessage = &errMsg.String
	}
	t.ScheduledTime = t.ScheduledTime.UTC()
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	return &t, nil
}

// truncateMessage caps an error message to the column budget without splitting a rune.
func truncateMessage(msg string) string {
	runes := []rune(msg)
	if len(runes) <= models.MaxErrorMessageLen {
		return msg
	}
	return string(runes[:models.MaxErrorMessageLen])
}
