package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/driveshadow/driveshadow/internal/storage"
)

// wrapDBError wraps a database error with operation context, converting
// driver-level conditions to the storage package sentinels: sql.ErrNoRows
// becomes ErrNotFound, constraint failures become ErrConstraint (fatal),
// busy/locked becomes ErrBusy (retryable).
func wrapDBError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}
	if isConstraintError(err) {
		return fmt.Errorf("%s: %v: %w", op, err, storage.ErrConstraint)
	}
	if isBusyError(err) {
		return fmt.Errorf("%s: %v: %w", op, err, storage.ErrBusy)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// isConstraintError checks if an error is a schema constraint violation.
// The driver surfaces these as text; there is no stable typed code across
// UNIQUE, CHECK and FOREIGN KEY failures.
func isConstraintError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "constraint failed") ||
		strings.Contains(err.Error(), "FOREIGN KEY constraint")
}

// isBusyError checks if an error is SQLITE_BUSY / database-is-locked.
func isBusyError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "SQLITE_BUSY")
}
