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

const accountColumns = `id, owner_id, email, password, platform, platforms, google_drive_folder_id,
                        facebook_page_id, facebook_group_id, facebook_post_to_page, facebook_post_to_group`

// InsertAccount stores an account. Account management lives outside this service;
// this is used by seeding and tests.
func (db *DB) InsertAccount(ctx context.Context, a *models.Account) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	_, err := db.ExecContext(ctx, `INSERT INTO accounts (`+accountColumns+`)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.OwnerID, a.Email, a.Password, a.Platform, a.PlatformsCSV, a.GoogleDriveFolderID,
		a.FacebookPageID, a.FacebookGroupID, a.FacebookPostToPage, a.FacebookPostToGroup,
	)
	if err != nil {
		return wrapErr("insert account", err)
	}
	return nil
}

func (db *DB) GetAccount(ctx context.Context, id string) (*models.Account, error) {
	row := db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id)
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrAccountNotFound, id)
	}
	if err != nil {
		return nil, wrapErr("get account", err)
	}
	return a, nil
}

// ListAccountsByOwner returns the owner's accounts in creation order.
func (db *DB) ListAccountsByOwner(ctx context.Context, ownerID string) ([]*models.Account, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+accountColumns+` FROM accounts
              WHERE owner_id = ? ORDER BY created_at, rowid`, ownerID)
	if err != nil {
		return nil, wrapErr("list accounts", err)
	}
	defer rows.Close()

	accounts := []*models.Account{}
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("iterate accounts", err)
	}
	return accounts, nil
}

func scanAccount(row rowScanner) (*models.Account, error) {
	var a models.Account
	err := row.Scan(
		&a.ID, &a.OwnerID, &a.Email, &a.Password, &a.Platform, &a.PlatformsCSV, &a.GoogleDriveFolderID,
		&a.FacebookPageID, &a.FacebookGroupID, &a.FacebookPostToPage, &a.FacebookPostToGroup,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}
