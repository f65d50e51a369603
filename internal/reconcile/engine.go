// Package reconcile implements the change-reconciliation engine: it ingests
// the provider's delta feed, classifies each observed item against the
// persisted mirror into a semantic event, applies state and audit mutations
// atomically, and advances the drive cursor only when the whole pass
// committed.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/driveshadow/driveshadow/internal/graph"
	"github.com/driveshadow/driveshadow/internal/storage"
	"github.com/driveshadow/driveshadow/internal/telemetry"
	"github.com/driveshadow/driveshadow/internal/types"
)

// errDeferred is a tx-internal sentinel: the observed item's parent is not
// in the store yet, so the item goes to the pending queue and is replayed
// after the rest of the page.
var errDeferred = errors.New("parent unresolved, deferred")

// ErrCycle is raised when path computation walks into a parent loop. A
// cycle can only come from a corrupted store or a malformed feed, so it is
// fatal for the pass.
var ErrCycle = errors.New("parent cycle detected")

// Gateway is the slice of the provider client the engine needs.
type Gateway interface {
	DeltaComplete(ctx context.Context, bearer, driveID, cursor string) ([]graph.DriveItem, string, error)
}

// Engine reconciles one drive's delta feed into the store.
type Engine struct {
	store  storage.Store
	gw     Gateway
	bearer string

	// EmitUpdates controls whether a metadata-only change (same name, same
	// parent, newer modified-at) produces an UPDATE event. Off by default:
	// such observations are skipped silently.
	EmitUpdates bool
}

// NewEngine creates a reconciliation engine.
func NewEngine(store storage.Store, gw Gateway, bearer string) *Engine {
	return &Engine{store: store, gw: gw, bearer: bearer}
}

// Result summarizes one reconciliation pass.
type Result struct {
	ItemsProcessed  int
	ChangesDetected int
}

// Sync runs one reconciliation pass for driveID. The cursor advances only
// if every item in the feed committed; on a fatal item failure the pass
// aborts and a retry re-runs the same page.
func (e *Engine) Sync(ctx context.Context, driveID string) (*Result, error) {
	cursor, err := e.store.GetCursor(ctx, driveID)
	if err != nil {
		return nil, fmt.Errorf("read cursor for %s: %w", driveID, err)
	}

	items, finalCursor, err := e.gw.DeltaComplete(ctx, e.bearer, driveID, cursor)
	if errors.Is(err, graph.ErrCursorExpired) {
		// The provider dropped our continuation. Clear it and re-enumerate.
		log.Printf("reconcile: cursor for %s expired, running full sync", driveID)
		if clearErr := e.store.ClearCursor(ctx, driveID); clearErr != nil {
			return nil, fmt.Errorf("clear expired cursor for %s: %w", driveID, clearErr)
		}
		items, finalCursor, err = e.gw.DeltaComplete(ctx, e.bearer, driveID, "")
	}
	if err != nil {
		telemetry.CountSyncPass(ctx, false)
		return nil, err
	}

	res, err := e.applyAll(ctx, driveID, items)
	if err != nil {
		telemetry.CountSyncPass(ctx, false)
		return nil, err
	}

	if err := e.store.SetCursor(ctx, driveID, finalCursor); err != nil {
		telemetry.CountSyncPass(ctx, false)
		return nil, fmt.Errorf("advance cursor for %s: %w", driveID, err)
	}

	telemetry.CountSyncPass(ctx, true)
	telemetry.CountItemsProcessed(ctx, res.ItemsProcessed)
	log.Printf("reconcile: drive %s: %d items, %d changes", driveID, res.ItemsProcessed, res.ChangesDetected)
	return res, nil
}

// InitialSync clears the cursor and runs a full enumeration. The first pass
// emits CREATE events for every observed item.
func (e *Engine) InitialSync(ctx context.Context, driveID string) (*Result, error) {
	if err := e.store.ClearCursor(ctx, driveID); err != nil {
		return nil, fmt.Errorf("clear cursor for %s: %w", driveID, err)
	}
	return e.Sync(ctx, driveID)
}

// applyAll applies items in provider order, deferring entries whose parent
// is not yet known and replaying the pending queue once at the end. Parents
// never arrive after children in correct provider output; the single replay
// tolerates ordering anomalies.
func (e *Engine) applyAll(ctx context.Context, driveID string, items []graph.DriveItem) (*Result, error) {
	res := &Result{}
	var pending []graph.DriveItem

	for i := range items {
		ev, err := e.applyOne(ctx, driveID, &items[i], true)
		if errors.Is(err, errDeferred) {
			pending = append(pending, items[i])
			continue
		}
		if err != nil {
			return nil, err
		}
		res.ItemsProcessed++
		if ev != "" {
			res.ChangesDetected++
			telemetry.CountChange(ctx, string(ev))
		}
	}

	for i := range pending {
		ev, err := e.applyOne(ctx, driveID, &pending[i], false)
		if err != nil {
			return nil, err
		}
		res.ItemsProcessed++
		if ev != "" {
			res.ChangesDetected++
			telemetry.CountChange(ctx, string(ev))
		}
	}

	return res, nil
}

// applyOne classifies a single observed item against the persisted state
// and commits the item mutation together with its change event in one
// transaction. It returns the kind of event emitted, or "" for a no-op.
func (e *Engine) applyOne(ctx context.Context, driveID string, obs *graph.DriveItem, allowDefer bool) (types.EventKind, error) {
	if obs.ID == "" {
		log.Printf("reconcile: drive %s: skipping entry without id", driveID)
		return "", nil
	}

	var emitted types.EventKind
	err := e.store.RunInTransaction(ctx, func(tx storage.Tx) error {
		kind, err := e.classifyAndApply(ctx, tx, driveID, obs, allowDefer)
		if err != nil {
			return err
		}
		emitted = kind
		return nil
	})
	if err != nil {
		return "", err
	}
	return emitted, nil
}

func (e *Engine) classifyAndApply(ctx context.Context, tx storage.Tx, driveID string, obs *graph.DriveItem, allowDefer bool) (types.EventKind, error) {
	prev, err := tx.GetItemByExternalID(ctx, driveID, obs.ID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return "", err
	}

	if obs.IsTombstone() {
		return e.applyTombstone(ctx, tx, prev)
	}

	if obs.Name == "" {
		// Soft payload issue: skip the entry, keep the pass alive.
		log.Printf("reconcile: drive %s: item %s has no name, skipping", driveID, obs.ID)
		return "", nil
	}

	parentID, err := e.resolveParent(ctx, tx, driveID, obs, allowDefer)
	if err != nil {
		return "", err
	}

	kind := types.KindFile
	if obs.IsFolder() {
		kind = types.KindFolder
	}

	path, err := buildPath(ctx, tx, parentID, obs.Name)
	if err != nil {
		return "", err
	}

	modifiedAt := obs.LastModifiedDateTime
	if modifiedAt.IsZero() {
		modifiedAt = time.Now().UTC()
	}
	up := storage.ItemUpsert{
		ExternalID: obs.ID,
		DriveID:    driveID,
		Name:       obs.Name,
		Kind:       kind,
		Path:       path,
		ParentID:   parentID,
		ModifiedAt: modifiedAt,
	}

	if prev == nil {
		item, err := tx.UpsertItem(ctx, up)
		if err != nil {
			return "", err
		}
		ev := &types.ChangeEvent{
			ItemID:      item.InternalID,
			Kind:        types.EventCreate,
			NewName:     &item.Name,
			NewParentID: parentID,
		}
		return types.EventCreate, tx.AppendEvent(ctx, ev)
	}

	return e.applyKnown(ctx, tx, prev, obs, up, parentID)
}

// applyTombstone handles the delete branch. Re-deleting an already deleted
// item and deleting an unknown item are both silent no-ops.
func (e *Engine) applyTombstone(ctx context.Context, tx storage.Tx, prev *types.Item) (types.EventKind, error) {
	if prev == nil || prev.Deleted {
		return "", nil
	}
	if err := tx.MarkItemDeleted(ctx, prev.InternalID); err != nil {
		return "", err
	}
	ev := &types.ChangeEvent{
		ItemID:  prev.InternalID,
		Kind:    types.EventDelete,
		OldName: &prev.Name,
	}
	return types.EventDelete, tx.AppendEvent(ctx, ev)
}

// applyKnown classifies a live observation of an item that already exists
// in the store. The event kind follows the name/parent change table, with a
// parent change dominating a simultaneous name change (MOVE).
func (e *Engine) applyKnown(ctx context.Context, tx storage.Tx, prev *types.Item, obs *graph.DriveItem, up storage.ItemUpsert, parentID *int64) (types.EventKind, error) {
	nameChanged := obs.Name != prev.Name
	parentChanged := !sameParent(parentID, prev.ParentID)
	metadataChanged := !up.ModifiedAt.Equal(prev.ModifiedAt) || up.Path != prev.Path

	if !nameChanged && !parentChanged && !prev.Deleted {
		if !metadataChanged {
			// Replay of an already applied observation. No write, no event.
			return "", nil
		}
		item, err := tx.UpsertItem(ctx, up)
		if err != nil {
			return "", err
		}
		if err := e.refreshDescendantPaths(ctx, tx, item); err != nil {
			return "", err
		}
		if !e.EmitUpdates {
			return "", nil
		}
		ev := &types.ChangeEvent{ItemID: item.InternalID, Kind: types.EventUpdate}
		return types.EventUpdate, tx.AppendEvent(ctx, ev)
	}

	item, err := tx.UpsertItem(ctx, up)
	if err != nil {
		return "", err
	}
	if err := e.refreshDescendantPaths(ctx, tx, item); err != nil {
		return "", err
	}

	ev := &types.ChangeEvent{ItemID: item.InternalID}
	switch {
	case parentChanged:
		ev.Kind = types.EventMove
		ev.OldName = &prev.Name
		ev.NewName = &item.Name
		ev.OldParentID = prev.ParentID
		ev.NewParentID = parentID
	case nameChanged:
		ev.Kind = types.EventRename
		ev.OldName = &prev.Name
		ev.NewName = &item.Name
	default:
		// Undelete: the provider re-created the item at the same external
		// id with name and parent unchanged.
		ev.Kind = types.EventUpdate
	}
	return ev.Kind, tx.AppendEvent(ctx, ev)
}

// resolveParent maps the observed parent reference to an internal id. An
// unknown parent defers the item when allowed; after the replay pass the
// item is stored unparented with a warning; the parent may arrive in a
// later page and the child re-links on its own next observed mutation.
func (e *Engine) resolveParent(ctx context.Context, tx storage.Tx, driveID string, obs *graph.DriveItem, allowDefer bool) (*int64, error) {
	if obs.ParentReference == nil || obs.ParentReference.ID == "" {
		return nil, nil
	}
	parent, err := tx.GetItemByExternalID(ctx, driveID, obs.ParentReference.ID)
	if errors.Is(err, storage.ErrNotFound) {
		if allowDefer {
			return nil, errDeferred
		}
		log.Printf("reconcile: drive %s: parent %s of item %s not found after replay, storing unparented",
			driveID, obs.ParentReference.ID, obs.ID)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &parent.InternalID, nil
}

// refreshDescendantPaths rewrites the stored paths of a folder's subtree so
// every path matches the live parent chain after a rename or move. Files
// have no descendants and return immediately.
func (e *Engine) refreshDescendantPaths(ctx context.Context, tx storage.Tx, item *types.Item) error {
	if item.Kind != types.KindFolder {
		return nil
	}
	return e.refreshSubtree(ctx, tx, item.InternalID, item.Path, 0)
}

// maxDepth bounds the subtree walk; a filesystem this deep means the store
// is corrupt.
const maxDepth = 512

func (e *Engine) refreshSubtree(ctx context.Context, tx storage.Tx, parentID int64, parentPath string, depth int) error {
	if depth > maxDepth {
		return fmt.Errorf("subtree under item %d: %w", parentID, ErrCycle)
	}
	children, err := tx.ChildrenOf(ctx, parentID)
	if err != nil {
		return err
	}
	for _, child := range children {
		path := parentPath + "/" + child.Name
		if child.Path != path {
			if err := tx.UpdateItemPath(ctx, child.InternalID, path); err != nil {
				return err
			}
		}
		if child.Kind == types.KindFolder {
			if err := e.refreshSubtree(ctx, tx, child.InternalID, path, depth+1); err != nil {
				return err
			}
		}
	}
	return nil
}

// buildPath computes the slash-delimited path for an item by walking the
// parent chain from parentID and appending name. A revisited internal id
// means a parent cycle, which is fatal.
func buildPath(ctx context.Context, tx storage.Tx, parentID *int64, name string) (string, error) {
	if parentID == nil {
		return "/" + name, nil
	}

	var segments []string
	seen := map[int64]bool{}
	cur := parentID
	for cur != nil {
		id := *cur
		if seen[id] {
			return "", fmt.Errorf("walking parents of item %d: %w", id, ErrCycle)
		}
		seen[id] = true

		item, err := tx.GetItem(ctx, id)
		if err != nil {
			return "", fmt.Errorf("walk parent %d: %w", id, err)
		}
		segments = append(segments, item.Name)
		cur = item.ParentID
	}

	// segments were collected leaf-upward; reverse into root-first order.
	path := ""
	for i := len(segments) - 1; i >= 0; i-- {
		path += "/" + segments[i]
	}
	return path + "/" + name, nil
}

// sameParent compares two nullable internal ids.
func sameParent(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
