package sqlite

import (
	"context"
	"database/sql"

	"github.com/driveshadow/driveshadow/internal/storage"
	"github.com/driveshadow/driveshadow/internal/types"
)

// Stats returns row counts and per-drive cursor state.
func (s *Store) Stats(ctx context.Context) (*storage.Stats, error) {
	stats := &storage.Stats{}

	row := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM items),
			(SELECT COUNT(*) FROM items WHERE deleted = 1),
			(SELECT COUNT(*) FROM change_events),
			(SELECT COUNT(*) FROM subscriptions)`)
	if err := row.Scan(&stats.Items, &stats.DeletedItems, &stats.Events, &stats.Subscriptions); err != nil {
		return nil, wrapDBError("stats", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT drive_id, cursor, last_sync_at FROM drive_cursors ORDER BY drive_id`)
	if err != nil {
		return nil, wrapDBError("stats", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			dc       types.DriveCursor
			lastSync sql.NullTime
		)
		if err := rows.Scan(&dc.DriveID, &dc.Cursor, &lastSync); err != nil {
			return nil, wrapDBError("stats", err)
		}
		if lastSync.Valid {
			dc.LastSyncAt = lastSync.Time
		}
		stats.Drives = append(stats.Drives, dc)
	}
	return stats, wrapDBError("stats", rows.Err())
}
