package sqlite

import (
	"context"
	"database/sql"

	"github.com/driveshadow/driveshadow/internal/storage"
	"github.com/driveshadow/driveshadow/internal/types"
)

func appendEvent(ctx context.Context, q querier, ev *types.ChangeEvent) error {
	var oldParent, newParent any
	if ev.OldParentID != nil {
		oldParent = *ev.OldParentID
	}
	if ev.NewParentID != nil {
		newParent = *ev.NewParentID
	}
	// timestamp is store-assigned on insert; ties are broken by id.
	row := q.QueryRowContext(ctx, `
		INSERT INTO change_events (item_id, kind, old_name, new_name, old_parent_id, new_parent_id)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING id, timestamp`,
		ev.ItemID, string(ev.Kind), ev.OldName, ev.NewName, oldParent, newParent)
	if err := row.Scan(&ev.ID, &ev.Timestamp); err != nil {
		return wrapDBError("append event", err)
	}
	return nil
}

// AppendEvents inserts a batch of change events in one transaction.
func (s *Store) AppendEvents(ctx context.Context, events []*types.ChangeEvent) error {
	return s.RunInTransaction(ctx, func(tx storage.Tx) error {
		for _, ev := range events {
			if err := tx.AppendEvent(ctx, ev); err != nil {
				return err
			}
		}
		return nil
	})
}

// History returns the change events for an item, newest first. A limit of 0
// means no limit.
func (s *Store) History(ctx context.Context, itemID int64, limit int) ([]*types.ChangeEvent, error) {
	query := `
		SELECT id, item_id, kind, old_name, new_name, old_parent_id, new_parent_id, timestamp
		FROM change_events WHERE item_id = ?
		ORDER BY timestamp DESC, id DESC`
	args := []any{itemID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapDBError("event history", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.ChangeEvent
	for rows.Next() {
		var (
			ev                   types.ChangeEvent
			oldName, newName     sql.NullString
			oldParent, newParent sql.NullInt64
		)
		if err := rows.Scan(&ev.ID, &ev.ItemID, &ev.Kind, &oldName, &newName,
			&oldParent, &newParent, &ev.Timestamp); err != nil {
			return nil, wrapDBError("event history", err)
		}
		if oldName.Valid {
			ev.OldName = &oldName.String
		}
		if newName.Valid {
			ev.NewName = &newName.String
		}
		if oldParent.Valid {
			ev.OldParentID = &oldParent.Int64
		}
		if newParent.Valid {
			ev.NewParentID = &newParent.Int64
		}
		out = append(out, &ev)
	}
	return out, wrapDBError("event history", rows.Err())
}
