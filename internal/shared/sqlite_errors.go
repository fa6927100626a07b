// Package shared provides common utilities used across the codebase.
//
//nolint:revive // "shared" is an intentional package name for cross-cutting helpers.
package shared

import (
	"fmt"
	"strings"

	"github.com/ashureev/calmpath/internal/domain"
)

// IsSQLiteBusyError checks if the error is a SQLITE_BUSY error.
func IsSQLiteBusyError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "SQLITE_BUSY")
}

// IsSQLiteLockedError checks if the error is a "database is locked" error.
func IsSQLiteLockedError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "database is locked")
}

// IsSQLiteConflictError checks if the error is either a SQLITE_BUSY
// or "database is locked" error.
func IsSQLiteConflictError(err error) bool {
	if err == nil {
		return false
	}
	return IsSQLiteBusyError(err) || IsSQLiteLockedError(err)
}

// IsSQLiteConstraintError checks if the error came from a failed
// FOREIGN KEY, CHECK, NOT NULL or UNIQUE constraint.
func IsSQLiteConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_CONSTRAINT") || strings.Contains(msg, "constraint failed")
}

// WrapSQLiteError annotates err with op. Lock contention becomes
// domain.ErrConflict so the request fails fast instead of being retried.
func WrapSQLiteError(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsSQLiteConflictError(err) {
		return fmt.Errorf("%s: %w: %v", op, domain.ErrConflict, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
