package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"autoposter/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	logger := zerolog.Nop()
	db, err := NewDB(filepath.Join(t.TempDir(), "test.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func seedTasks(t *testing.T, db *DB, userID string, n int) []*models.Task {
	t.Helper()
	start := time.Now().UTC().Truncate(time.Second)
	tasks := make([]*models.Task, n)
	for i := range tasks {
		tasks[i] = &models.Task{
			UserID:        userID,
			AccountID:     "acc-1",
			Title:         "Automation for account a@example.com - Round 1",
			ScheduledTime: start.Add(time.Duration(i) * 5 * time.Minute),
		}
	}
	require.NoError(t, db.CreateTasks(context.Background(), tasks))
	return tasks
}
