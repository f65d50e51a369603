package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/driveshadow/driveshadow/internal/storage"
	"github.com/driveshadow/driveshadow/internal/types"
)

// querier is the subset of database/sql shared by *sql.DB, *sql.Conn and
// *sql.Tx. Core query functions are written against it so the same code
// serves both pooled reads and transactional mutations.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const itemColumns = `internal_id, drive_id, external_id, name, kind, parent_id, path, created_at, modified_at, deleted, deleted_at`

// rowScanner abstracts *sql.Row and *sql.Rows for scanItem.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (*types.Item, error) {
	var (
		it        types.Item
		parentID  sql.NullInt64
		deleted   int
		deletedAt sql.NullTime
	)
	err := row.Scan(&it.InternalID, &it.DriveID, &it.ExternalID, &it.Name, &it.Kind,
		&parentID, &it.Path, &it.CreatedAt, &it.ModifiedAt, &deleted, &deletedAt)
	if err != nil {
		return nil, err
	}
	if parentID.Valid {
		it.ParentID = &parentID.Int64
	}
	it.Deleted = deleted != 0
	if deletedAt.Valid {
		t := deletedAt.Time
		it.DeletedAt = &t
	}
	return &it, nil
}

func getItemByExternalID(ctx context.Context, q querier, driveID, externalID string) (*types.Item, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM items WHERE drive_id = ? AND external_id = ?`,
		driveID, externalID)
	it, err := scanItem(row)
	if err != nil {
		return nil, wrapDBError("get item by external id", err)
	}
	return it, nil
}

func getItem(ctx context.Context, q querier, internalID int64) (*types.Item, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM items WHERE internal_id = ?`, internalID)
	it, err := scanItem(row)
	if err != nil {
		return nil, wrapDBError("get item", err)
	}
	return it, nil
}

// upsertItem inserts a new item or updates the existing row keyed by
// (drive_id, external_id). A live observation always clears the deleted
// flag: the provider re-using an external id after a tombstone means the
// item came back.
func upsertItem(ctx context.Context, q querier, up storage.ItemUpsert) (*types.Item, error) {
	modifiedAt := up.ModifiedAt
	if modifiedAt.IsZero() {
		modifiedAt = time.Now().UTC()
	}
	var parentID any
	if up.ParentID != nil {
		parentID = *up.ParentID
	}
	row := q.QueryRowContext(ctx, `
		INSERT INTO items (drive_id, external_id, name, kind, parent_id, path, modified_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(drive_id, external_id) DO UPDATE SET
			name = excluded.name,
			kind = excluded.kind,
			parent_id = excluded.parent_id,
			path = excluded.path,
			modified_at = excluded.modified_at,
			deleted = 0,
			deleted_at = NULL
		RETURNING `+itemColumns,
		up.DriveID, up.ExternalID, up.Name, string(up.Kind), parentID, up.Path, modifiedAt)
	it, err := scanItem(row)
	if err != nil {
		return nil, wrapDBError("upsert item", err)
	}
	return it, nil
}

func markItemDeleted(ctx context.Context, q querier, internalID int64) error {
	res, err := q.ExecContext(ctx,
		`UPDATE items SET deleted = 1, deleted_at = CURRENT_TIMESTAMP WHERE internal_id = ?`,
		internalID)
	if err != nil {
		return wrapDBError("mark item deleted", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return wrapDBError("mark item deleted", sql.ErrNoRows)
	}
	return nil
}

// GetItemByExternalID returns the item with the given provider id, including
// tombstoned rows. Returns storage.ErrNotFound when absent.
func (s *Store) GetItemByExternalID(ctx context.Context, driveID, externalID string) (*types.Item, error) {
	return getItemByExternalID(ctx, s.db, driveID, externalID)
}

// GetItem returns the item with the given internal id.
func (s *Store) GetItem(ctx context.Context, internalID int64) (*types.Item, error) {
	return getItem(ctx, s.db, internalID)
}

func childrenOf(ctx context.Context, q querier, internalID int64) ([]*types.Item, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM items WHERE parent_id = ? ORDER BY name`, internalID)
	if err != nil {
		return nil, wrapDBError("children of", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, wrapDBError("children of", err)
		}
		out = append(out, it)
	}
	return out, wrapDBError("children of", rows.Err())
}

func updateItemPath(ctx context.Context, q querier, internalID int64, path string) error {
	res, err := q.ExecContext(ctx,
		`UPDATE items SET path = ? WHERE internal_id = ?`, path, internalID)
	if err != nil {
		return wrapDBError("update item path", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return wrapDBError("update item path", sql.ErrNoRows)
	}
	return nil
}

// ChildrenOf returns the direct children of an item, tombstones included,
// ordered by name for stable output.
func (s *Store) ChildrenOf(ctx context.Context, internalID int64) ([]*types.Item, error) {
	return childrenOf(ctx, s.db, internalID)
}

// BulkUpsertItems applies a batch of upserts in a single transaction.
func (s *Store) BulkUpsertItems(ctx context.Context, batch []storage.ItemUpsert) error {
	return s.RunInTransaction(ctx, func(tx storage.Tx) error {
		for _, up := range batch {
			if _, err := tx.UpsertItem(ctx, up); err != nil {
				return err
			}
		}
		return nil
	})
}
