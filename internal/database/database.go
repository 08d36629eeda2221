package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"autoposter/internal/models"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/rs/zerolog"
)

const memoryPath = ":memory:"

// DB is the SQLite store for users, accounts and task records.
type DB struct {
	*sql.DB
	logger *zerolog.Logger
}

func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	dsn := path
	if path != memoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		dsn = path + "?_busy_timeout=5000&_journal_mode=WAL"
	}

	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One writer at a time; also keeps a :memory: database on a single connection.
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db := &DB{DB: sqlDB, logger: logger}
	if err := db.createTables(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	if err := db.migrateStatusSet(context.Background()); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to migrate task statuses: %w", err)
	}

	logger.Info().Str("path", path).Msg("Database initialized")
	return db, nil
}

func statusCheck() string {
	tags := make([]string, len(models.AllTaskStatuses))
	for i, s := range models.AllTaskStatuses {
		tags[i] = "'" + string(s) + "'"
	}
	return "CHECK (status IN (" + strings.Join(tags, ", ") + "))"
}

func userTasksDDL(table string) string {
	return `CREATE TABLE IF NOT EXISTS ` + table + ` (
            id TEXT PRIMARY KEY,
            broker_handle TEXT,
            user_id TEXT NOT NULL,
            account_id TEXT NOT NULL,
            title TEXT NOT NULL,
            status TEXT NOT NULL DEFAULT 'PENDING' ` + statusCheck() + `,
            progress INTEGER NOT NULL DEFAULT 0,
            error_message TEXT,
            scheduled_time DATETIME NOT NULL,
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL
        )`
}

var taskIndexes = []string{
	`CREATE INDEX IF NOT EXISTS idx_user_tasks_user_id ON user_tasks(user_id)`,
	`CREATE INDEX IF NOT EXISTS idx_user_tasks_broker_handle ON user_tasks(broker_handle)`,
	`CREATE INDEX IF NOT EXISTS idx_user_tasks_status ON user_tasks(user_id, status)`,
}

func (db *DB) createTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
            id TEXT PRIMARY KEY,
            email TEXT NOT NULL UNIQUE,
            full_name TEXT NOT NULL DEFAULT '',
            google_service_account_file TEXT NOT NULL DEFAULT '',
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP
        )`,
		`CREATE TABLE IF NOT EXISTS accounts (
            id TEXT PRIMARY KEY,
            owner_id TEXT NOT NULL,
            email TEXT NOT NULL,
            password TEXT NOT NULL DEFAULT '',
            platform TEXT NOT NULL DEFAULT '',
            platforms TEXT NOT NULL DEFAULT '',
            google_drive_folder_id TEXT NOT NULL DEFAULT '',
            facebook_page_id TEXT NOT NULL DEFAULT '',
            facebook_group_id TEXT NOT NULL DEFAULT '',
            facebook_post_to_page BOOLEAN NOT NULL DEFAULT 0,
            facebook_post_to_group BOOLEAN NOT NULL DEFAULT 0,
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP
        )`,
		`CREATE INDEX IF NOT EXISTS idx_accounts_owner_id ON accounts(owner_id)`,
		`CREATE TABLE IF NOT EXISTS schema_meta (
            key TEXT PRIMARY KEY,
            value INTEGER NOT NULL
        )`,
		userTasksDDL("user_tasks"),
	}
	queries = append(queries, taskIndexes...)

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %w", query, err)
		}
	}
	return nil
}

const statusSetKey = "task_status_set_version"

// migrateStatusSet rebuilds user_tasks when the compiled status set is newer than
// the one its CHECK constraint was created with. SQLite cannot alter a CHECK in
// place, so the table is copied into a fresh one and renamed.
func (db *DB) migrateStatusSet(ctx context.Context) error {
	var stored int
	err := db.QueryRowContext(ctx, `SELECT value FROM schema_meta WHERE key = ?`, statusSetKey).Scan(&stored)
	if err != nil && err != sql.ErrNoRows {
		return err
	}
	if stored >= models.TaskStatusSetVersion {
		return nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	steps := []string{
		`DROP TABLE IF EXISTS user_tasks_new`,
		userTasksDDL("user_tasks_new"),
		`INSERT INTO user_tasks_new (id, broker_handle, user_id, account_id, title, status, progress,
                                     error_message, scheduled_time, created_at, updated_at)
         SELECT id, broker_handle, user_id, account_id, title, status, progress,
                error_message, scheduled_time, created_at, updated_at
         FROM user_tasks`,
		`DROP TABLE user_tasks`,
		`ALTER TABLE user_tasks_new RENAME TO user_tasks`,
	}
	steps = append(steps, taskIndexes...)
	for _, step := range steps {
		if _, err := tx.ExecContext(ctx, step); err != nil {
			return fmt.Errorf("status set migration: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_meta (key, value) VALUES (?, ?)
         ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		statusSetKey, models.TaskStatusSetVersion,
	); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	db.logger.Info().
		Int("from", stored).
		Int("to", models.TaskStatusSetVersion).
		Msg("Task status set migrated")
	return nil
}

func (db *DB) Close() error {
	return db.DB.Close()
}

// placeholders returns "?, ?, ?" for n arguments.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func statusArgs(statuses []models.TaskStatus) []interface{} {
	args := make([]interface{}, len(statuses))
	for i, s := range statuses {
		args[i] = string(s)
	}
	return args
}
