package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/driveshadow/driveshadow/internal/storage"
	"github.com/driveshadow/driveshadow/internal/types"
)

// Verify txStore implements storage.Tx at compile time
var _ storage.Tx = (*txStore)(nil)

// txStore implements the storage.Tx interface. It wraps a dedicated database
// connection with an active IMMEDIATE transaction.
type txStore struct {
	conn *sql.Conn
}

// RunInTransaction executes a function within a database transaction.
//
// The transaction uses BEGIN IMMEDIATE to acquire the write lock early,
// preventing deadlocks when multiple goroutines compete for it. We issue raw
// BEGIN/COMMIT on a dedicated connection because database/sql's BeginTx has
// no way to request IMMEDIATE mode.
//
// Panic safety: if the callback panics, the transaction is rolled back and
// the panic re-raised.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx storage.Tx) error) error {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return wrapDBError("acquire connection", err)
	}
	defer func() { _ = conn.Close() }()

	if err := beginImmediateWithRetry(ctx, conn, 5, 10*time.Millisecond); err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	// Rollback on error or panic. Background context so cleanup completes
	// even when ctx is already cancelled.
	committed := false
	defer func() {
		if !committed {
			_, _ = conn.ExecContext(context.Background(), "ROLLBACK")
		}
	}()

	if err := fn(&txStore{conn: conn}); err != nil {
		return err
	}

	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return wrapDBError("commit transaction", err)
	}
	committed = true
	return nil
}

// beginImmediateWithRetry issues BEGIN IMMEDIATE, retrying on SQLITE_BUSY
// with exponential backoff. The busy_timeout pragma covers most contention;
// the retry loop covers the window where the pragma gives up.
func beginImmediateWithRetry(ctx context.Context, conn *sql.Conn, attempts int, initialDelay time.Duration) error {
	delay := initialDelay
	var err error
	for i := 0; i < attempts; i++ {
		_, err = conn.ExecContext(ctx, "BEGIN IMMEDIATE")
		if err == nil {
			return nil
		}
		if !isBusyError(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return fmt.Errorf("begin immediate after %d attempts: %w", attempts, err)
}

func (t *txStore) GetItemByExternalID(ctx context.Context, driveID, externalID string) (*types.Item, error) {
	return getItemByExternalID(ctx, t.conn, driveID, externalID)
}

func (t *txStore) GetItem(ctx context.Context, internalID int64) (*types.Item, error) {
	return getItem(ctx, t.conn, internalID)
}

func (t *txStore) ChildrenOf(ctx context.Context, internalID int64) ([]*types.Item, error) {
	return childrenOf(ctx, t.conn, internalID)
}

func (t *txStore) UpsertItem(ctx context.Context, up storage.ItemUpsert) (*types.Item, error) {
	return upsertItem(ctx, t.conn, up)
}

func (t *txStore) UpdateItemPath(ctx context.Context, internalID int64, path string) error {
	return updateItemPath(ctx, t.conn, internalID, path)
}

func (t *txStore) MarkItemDeleted(ctx context.Context, internalID int64) error {
	return markItemDeleted(ctx, t.conn, internalID)
}

func (t *txStore) AppendEvent(ctx context.Context, ev *types.ChangeEvent) error {
	return appendEvent(ctx, t.conn, ev)
}
