// Package storage provides shared types for mirror state storage.
//
// The concrete storage implementation lives in the sqlite sub-package.
// This package holds the interface and error values that are referenced by
// both the sqlite implementation and its consumers (reconcile, subscription,
// webhook, cmd/dsd).
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/driveshadow/driveshadow/internal/types"
)

// ErrNotFound is returned when a requested entity does not exist in the database.
var ErrNotFound = errors.New("not found")

// ErrConstraint is returned when a write violates a schema constraint.
// Constraint violations indicate a bug or a corrupted payload; callers must
// treat them as fatal and abort the current reconciliation pass.
var ErrConstraint = errors.New("constraint violation")

// ErrBusy is returned when the database connection could not be obtained or
// the write lock could not be acquired. Busy errors are retryable.
var ErrBusy = errors.New("database busy")

// Stats summarizes store contents for the status command and diagnostics.
type Stats struct {
	Items         int64
	DeletedItems  int64
	Events        int64
	Subscriptions int64
	Drives        []types.DriveCursor
}

// ItemUpsert is the input to Tx.UpsertItem and Store.BulkUpsertItems.
type ItemUpsert struct {
	ExternalID string
	DriveID    string
	Name       string
	Kind       types.ItemKind
	Path       string
	ParentID   *int64
	ModifiedAt time.Time
}

// Store is the interface satisfied by *sqlite.Store. Consumers depend on
// this interface rather than on the concrete type so that mocks can be
// substituted in tests.
//
// Methods are grouped by the entity they operate on: items, change events,
// drive cursors, and subscriptions.
type Store interface {
	// Items
	GetItemByExternalID(ctx context.Context, driveID, externalID string) (*types.Item, error)
	GetItem(ctx context.Context, internalID int64) (*types.Item, error)
	ChildrenOf(ctx context.Context, internalID int64) ([]*types.Item, error)
	BulkUpsertItems(ctx context.Context, batch []ItemUpsert) error

	// Change events
	History(ctx context.Context, itemID int64, limit int) ([]*types.ChangeEvent, error)
	AppendEvents(ctx context.Context, events []*types.ChangeEvent) error

	// Drive cursors
	GetCursor(ctx context.Context, driveID string) (string, error)
	SetCursor(ctx context.Context, driveID, cursor string) error
	ClearCursor(ctx context.Context, driveID string) error

	// Subscriptions
	GetSubscriptionByResource(ctx context.Context, resource string) (*types.Subscription, error)
	GetSubscriptionByProviderID(ctx context.Context, providerID string) (*types.Subscription, error)
	UpsertSubscription(ctx context.Context, sub *types.Subscription) error
	UpdateSubscriptionExpiry(ctx context.Context, providerID string, expiry time.Time) error
	DeleteSubscription(ctx context.Context, providerID string) error
	DeleteExpiredSubscriptions(ctx context.Context, now time.Time) ([]string, error)

	// Statistics
	Stats(ctx context.Context) (*Stats, error)

	// Transactions. The reconcile engine commits each item mutation and its
	// change event in a single transaction through Tx.
	RunInTransaction(ctx context.Context, fn func(tx Tx) error) error

	// Lifecycle
	Close() error
}

// Tx is the transactional view handed to RunInTransaction callbacks. All
// mutations performed through a Tx commit together or not at all.
type Tx interface {
	GetItemByExternalID(ctx context.Context, driveID, externalID string) (*types.Item, error)
	GetItem(ctx context.Context, internalID int64) (*types.Item, error)
	ChildrenOf(ctx context.Context, internalID int64) ([]*types.Item, error)
	UpsertItem(ctx context.Context, up ItemUpsert) (*types.Item, error)
	UpdateItemPath(ctx context.Context, internalID int64, path string) error
	MarkItemDeleted(ctx context.Context, internalID int64) error
	AppendEvent(ctx context.Context, ev *types.ChangeEvent) error
}
