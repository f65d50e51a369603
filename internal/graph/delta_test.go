package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDriveItemFacets(t *testing.T) {
	var file, folder, tombstone DriveItem
	require.NoError(t, json.Unmarshal([]byte(`{"id":"f1","name":"a.txt","file":{}}`), &file))
	require.NoError(t, json.Unmarshal([]byte(`{"id":"d1","name":"docs","folder":{}}`), &folder))
	require.NoError(t, json.Unmarshal([]byte(`{"id":"g1","deleted":{"state":"deleted"}}`), &tombstone))

	assert.False(t, file.IsFolder())
	assert.False(t, file.IsTombstone())
	assert.True(t, folder.IsFolder())
	assert.True(t, tombstone.IsTombstone())
}

func TestDeltaFullEnumeration(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/drives/d1/root/delta", r.URL.Path)
		_, _ = fmt.Fprintf(w, `{
			"value": [{"id":"i1","name":"root-folder","folder":{}}],
			"@odata.deltaLink": "%s/delta?token=final"
		}`, "http://example.invalid")
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL))
	page, err := c.Delta(context.Background(), "tok", "d1", "")
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "i1", page.Items[0].ID)
	assert.Empty(t, page.NextCursor)
	assert.Equal(t, "http://example.invalid/delta?token=final", page.FinalCursor)
}

func TestDeltaResumesFromCursor(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path + "?" + r.URL.RawQuery
		_, _ = w.Write([]byte(`{"value":[],"@odata.deltaLink":"x"}`))
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL))
	_, err := c.Delta(context.Background(), "tok", "d1", srv.URL+"/drives/d1/root/delta?token=abc")
	require.NoError(t, err)
	assert.Equal(t, "/drives/d1/root/delta?token=abc", gotPath)
}

func TestDeltaCursorExpired(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGone)
		_, _ = w.Write([]byte(`{"error":{"code":"resyncRequired","message":"token is no longer valid"}}`))
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL))
	_, err := c.Delta(context.Background(), "tok", "d1", srv.URL+"/stale")
	assert.ErrorIs(t, err, ErrCursorExpired)
}

func TestDeltaRejectsPageWithoutLinks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"value":[]}`))
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL))
	_, err := c.Delta(context.Background(), "tok", "d1", "")
	require.Error(t, err)

	var ge *Error
	require.ErrorAs(t, err, &ge)
	assert.Equal(t, ClassFatal, ge.Class)
}

func TestDeltaCompleteFollowsPagination(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("page") {
		case "":
			_, _ = fmt.Fprintf(w, `{
				"value": [{"id":"i1","name":"a","folder":{}}],
				"@odata.nextLink": "%s/drives/d1/root/delta?page=2"
			}`, srv.URL)
		case "2":
			_, _ = fmt.Fprintf(w, `{
				"value": [{"id":"i2","name":"b","file":{}},{"id":"i3","name":"c","file":{}}],
				"@odata.nextLink": "%s/drives/d1/root/delta?page=3"
			}`, srv.URL)
		case "3":
			_, _ = w.Write([]byte(`{
				"value": [{"id":"i4","deleted":{"state":"deleted"}}],
				"@odata.deltaLink": "final-token"
			}`))
		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL))
	items, cursor, err := c.DeltaComplete(context.Background(), "tok", "d1", "")
	require.NoError(t, err)
	assert.Equal(t, "final-token", cursor)
	require.Len(t, items, 4)
	// Provider order is preserved across pages.
	assert.Equal(t, "i1", items[0].ID)
	assert.Equal(t, "i4", items[3].ID)
	assert.True(t, items[3].IsTombstone())
}

func TestDeltaCompletePropagatesMidChainFailure(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "" {
			_, _ = fmt.Fprintf(w, `{"value":[],"@odata.nextLink":"%s/delta?page=2"}`, srv.URL)
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL))
	_, _, err := c.DeltaComplete(context.Background(), "tok", "d1", "")
	require.Error(t, err)
	assert.True(t, IsAuth(err))
}
