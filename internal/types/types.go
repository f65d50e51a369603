// Package types defines core data structures for the driveshadow mirror.
package types

import "time"

// ItemKind distinguishes files from folders in the mirror.
type ItemKind string

// Item kinds as stored in the items.kind column.
const (
	KindFile   ItemKind = "file"
	KindFolder ItemKind = "folder"
)

// EventKind classifies a structural change observed in the delta feed.
type EventKind string

// Event kinds as stored in the change_events.kind column.
const (
	EventCreate EventKind = "create"
	EventRename EventKind = "rename"
	EventMove   EventKind = "move"
	EventDelete EventKind = "delete"
	EventUpdate EventKind = "update"
)

// Item mirrors one file or folder of the remote drive.
//
// InternalID is the locally assigned primary key; ExternalID is the
// provider's opaque item id, unique within the store including tombstones.
// Path is derived from the live parent chain and rebuilt on every mutation;
// it is never the source of truth for hierarchy.
type Item struct {
	InternalID int64      `json:"internal_id"`
	DriveID    string     `json:"drive_id"`
	ExternalID string     `json:"external_id"`
	Name       string     `json:"name"`
	Kind       ItemKind   `json:"kind"`
	ParentID   *int64     `json:"parent_id,omitempty"` // nil iff root
	Path       string     `json:"path"`
	CreatedAt  time.Time  `json:"created_at"`
	ModifiedAt time.Time  `json:"modified_at"`
	Deleted    bool       `json:"deleted,omitempty"`
	DeletedAt  *time.Time `json:"deleted_at,omitempty"`
}

// ChangeEvent is one append-only audit record. Old/new fields are populated
// per kind: CREATE sets new-*, DELETE sets old-name, RENAME sets both names,
// MOVE sets all four, UPDATE sets none.
type ChangeEvent struct {
	ID          int64     `json:"id"`
	ItemID      int64     `json:"item_id"`
	Kind        EventKind `json:"kind"`
	OldName     *string   `json:"old_name,omitempty"`
	NewName     *string   `json:"new_name,omitempty"`
	OldParentID *int64    `json:"old_parent_id,omitempty"`
	NewParentID *int64    `json:"new_parent_id,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// DriveCursor holds the per-drive delta continuation. An empty Cursor means
// the next sync is a full enumeration.
type DriveCursor struct {
	DriveID    string    `json:"drive_id"`
	Cursor     string    `json:"cursor"`
	LastSyncAt time.Time `json:"last_sync_at"`
}

// Subscription records one provider push subscription. SharedSecret is the
// clientState the provider echoes back on every notification; it is compared
// verbatim before any notification is acted on.
type Subscription struct {
	ProviderID   string    `json:"provider_id"`
	Resource     string    `json:"resource"`
	SharedSecret string    `json:"shared_secret"`
	Expiry       time.Time `json:"expiry"`
	CreatedAt    time.Time `json:"created_at"`
}

// Live reports whether the subscription is still within its lifetime.
func (s *Subscription) Live(now time.Time) bool {
	return now.Before(s.Expiry)
}
