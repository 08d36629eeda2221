package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"autoposter/internal/domain"
	"autoposter/internal/models"

	"github.com/google/uuid"
)

func (db *DB) InsertUser(ctx context.Context, user *models.User) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	_, err := db.ExecContext(ctx,
		`INSERT INTO users (id, email, full_name, google_service_account_file) VALUES (?, ?, ?, ?)`,
		user.ID, user.Email, user.FullName, user.GoogleServiceAccountFile,
	)
	if err != nil {
		return wrapErr("insert user", err)
	}
	return nil
}

func (db *DB) GetUser(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	err := db.QueryRowContext(ctx,
		`SELECT id, email, full_name, google_service_account_file FROM users WHERE id = ?`, id,
	).Scan(&user.ID, &user.Email, &user.FullName, &user.GoogleServiceAccountFile)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrUserNotFound, id)
	}
	if err != nil {
		return nil, wrapErr("get user", err)
	}
	return &user, nil
}
