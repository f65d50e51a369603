package graph

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// DriveItem is the narrow view of a provider delta entry: only the fields
// the reconciliation engine consumes. Everything else in the payload is
// ignored.
type DriveItem struct {
	ID                   string     `json:"id"`
	Name                 string     `json:"name"`
	ParentReference      *ParentRef `json:"parentReference,omitempty"`
	File                 *struct{}  `json:"file,omitempty"`
	Folder               *struct{}  `json:"folder,omitempty"`
	Deleted              *Tombstone `json:"deleted,omitempty"`
	LastModifiedDateTime time.Time  `json:"lastModifiedDateTime"`
}

// ParentRef locates an item's parent.
type ParentRef struct {
	ID      string `json:"id"`
	DriveID string `json:"driveId"`
	Path    string `json:"path"`
}

// Tombstone marks a delta entry as a deletion.
type Tombstone struct {
	State string `json:"state"`
}

// IsFolder reports whether the entry carries the folder facet.
func (d *DriveItem) IsFolder() bool { return d.Folder != nil }

// IsTombstone reports whether the entry is a deletion marker.
func (d *DriveItem) IsTombstone() bool { return d.Deleted != nil }

// Page is one page of the delta feed. Exactly one of NextCursor and
// FinalCursor is set: NextCursor continues pagination, FinalCursor is the
// opaque token to persist once the whole feed is applied.
type Page struct {
	Items       []DriveItem
	NextCursor  string
	FinalCursor string
}

// deltaResponse is the provider wire shape.
type deltaResponse struct {
	Value     []DriveItem `json:"value"`
	NextLink  string      `json:"@odata.nextLink"`
	DeltaLink string      `json:"@odata.deltaLink"`
}

// Delta fetches one page of changes. An empty cursor starts a full
// enumeration of the drive. HTTP 410 means the stored cursor has expired
// and surfaces as ErrCursorExpired so the caller can restart from scratch.
func (c *Client) Delta(ctx context.Context, bearer, driveID, cursor string) (*Page, error) {
	target := cursor
	if target == "" {
		target = fmt.Sprintf("%s/drives/%s/root/delta", c.baseURL, url.PathEscape(driveID))
	}

	var resp deltaResponse
	status, err := c.do(ctx, "delta", bearer, http.MethodGet, target, nil, &resp)
	if err != nil {
		var ge *Error
		if errors.As(err, &ge) && ge.Status == http.StatusGone {
			return nil, fmt.Errorf("delta for drive %s: %w", driveID, ErrCursorExpired)
		}
		return nil, err
	}
	_ = status

	if resp.NextLink == "" && resp.DeltaLink == "" {
		return nil, &Error{Class: ClassFatal, Op: "delta",
			Message: "page carries neither nextLink nor deltaLink"}
	}

	return &Page{
		Items:       resp.Value,
		NextCursor:  resp.NextLink,
		FinalCursor: resp.DeltaLink,
	}, nil
}

// DeltaComplete follows the nextLink chain from cursor until the terminal
// page, accumulating all items. It returns the items in provider order and
// the final cursor from the terminal page.
func (c *Client) DeltaComplete(ctx context.Context, bearer, driveID, cursor string) ([]DriveItem, string, error) {
	var items []DriveItem
	for {
		page, err := c.Delta(ctx, bearer, driveID, cursor)
		if err != nil {
			return nil, "", err
		}
		items = append(items, page.Items...)

		if page.FinalCursor != "" {
			return items, page.FinalCursor, nil
		}
		cursor = page.NextCursor
	}
}
