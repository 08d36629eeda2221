package database

import (
	"database/sql/driver"
	"errors"
	"fmt"

	"autoposter/internal/domain"

	"github.com/mattn/go-sqlite3"
)

func isTransient(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	return errors.Is(err, driver.ErrBadConn)
}

// wrapErr annotates err with the operation and marks lock contention as transient.
func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if isTransient(err) {
		return fmt.Errorf("%s: %w: %w", op, domain.ErrTransient, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
