package sqlite

import (
	"context"
	"database/sql"
	"errors"
)

// GetCursor returns the stored delta cursor for a drive. An absent row and
// an empty cursor both mean "next sync is a full sync", so absence is not an
// error.
func (s *Store) GetCursor(ctx context.Context, driveID string) (string, error) {
	var cursor string
	err := s.db.QueryRowContext(ctx,
		`SELECT cursor FROM drive_cursors WHERE drive_id = ?`, driveID).Scan(&cursor)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", wrapDBError("get cursor", err)
	}
	return cursor, nil
}

// SetCursor upserts the cursor for a drive and stamps last_sync_at. This is
// its own transaction, run only after every item in the pass has committed.
func (s *Store) SetCursor(ctx context.Context, driveID, cursor string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO drive_cursors (drive_id, cursor, last_sync_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(drive_id) DO UPDATE SET
			cursor = excluded.cursor,
			last_sync_at = excluded.last_sync_at`,
		driveID, cursor)
	return wrapDBError("set cursor", err)
}

// ClearCursor removes the cursor for a drive, forcing the next sync to be a
// full enumeration. Clearing an absent cursor is a no-op.
func (s *Store) ClearCursor(ctx context.Context, driveID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM drive_cursors WHERE drive_id = ?`, driveID)
	return wrapDBError("clear cursor", err)
}
