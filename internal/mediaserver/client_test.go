package mediaserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmcdole/earmark/internal/domain"
)

func TestListProgress(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/me", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(map[string]interface{}{
			"id":       "user-1",
			"username": "reader",
			"mediaProgress": []map[string]interface{}{
				{
					"libraryItemId": "item-a",
					"currentTime":   120.0,
					"duration":      600.0,
					"lastUpdate":    int64(1767268800000),
				},
				{
					"libraryItemId": "pod-1",
					"episodeId":     "ep-3",
					"currentTime":   42.5,
					"duration":      1800.0,
					"lastUpdate":    int64(1767268860000),
				},
			},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-token", nil)
	records, err := c.ListProgress(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, "item-a", records[0].ItemID)
	assert.Empty(t, records[0].EpisodeID)
	assert.Equal(t, 120.0, records[0].CurrentTime)
	assert.Equal(t, time.UnixMilli(1767268800000), records[0].LastUpdate)

	assert.Equal(t, "pod-1", records[1].ItemID)
	assert.Equal(t, "ep-3", records[1].EpisodeID)
}

func TestSetProgress(t *testing.T) {
	var gotPath string
	var gotBody progressUpdateBody
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		assert.Equal(t, http.MethodPatch, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-token", nil)
	require.NoError(t, c.SetProgress(context.Background(), "item-a", "", 150, 600))
	assert.Equal(t, "/api/me/progress/item-a", gotPath)
	assert.Equal(t, 150.0, gotBody.CurrentTime)
	assert.InDelta(t, 0.25, gotBody.Progress, 1e-9)

	require.NoError(t, c.SetProgress(context.Background(), "pod-1", "ep-3", 10, 100))
	assert.Equal(t, "/api/me/progress/pod-1/ep-3", gotPath)
}

func TestSessionLifecycle(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		json.NewEncoder(w).Encode(map[string]string{"id": "sess-9"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-token", nil)
	ctx := context.Background()

	sessionID, err := c.StartSession(ctx, "item-a", "")
	require.NoError(t, err)
	assert.Equal(t, "sess-9", sessionID)

	require.NoError(t, c.SyncSession(ctx, sessionID, 30, 600))
	require.NoError(t, c.CloseSession(ctx, sessionID))

	assert.Equal(t, []string{
		"/api/items/item-a/play",
		"/api/session/sess-9/sync",
		"/api/session/sess-9/close",
	}, paths)
}

func TestGetTracksResolvesContentURLs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/items/book-1/tracks", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"tracks": []map[string]interface{}{
				{
					"index":       0,
					"startOffset": 0.0,
					"duration":    1800.0,
					"contentUrl":  "/api/items/book-1/file/0",
					"metadata":    map[string]string{"ext": ".mp3"},
				},
			},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-token", nil)
	tracks, err := c.GetTracks(context.Background(), "book-1")
	require.NoError(t, err)
	require.Len(t, tracks, 1)

	assert.Equal(t, srv.URL+"/api/items/book-1/file/0?token=test-token", tracks[0].URL)
	assert.Equal(t, "mp3", tracks[0].Ext, "leading dot is stripped")
	assert.Equal(t, 1800.0, tracks[0].Duration)
}

func TestAuthFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "bad-token", nil)
	_, err := c.ListProgress(context.Background())
	assert.ErrorIs(t, err, domain.ErrAuthFailed)
}

func TestServerRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-token", nil)
	err := c.SetProgress(context.Background(), "ghost", "", 1, 10)
	assert.ErrorIs(t, err, domain.ErrServerRejected)
}

func TestServerOffline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // Nothing listening

	c := NewClient(srv.URL, "test-token", nil)
	_, err := c.ListProgress(context.Background())
	assert.ErrorIs(t, err, domain.ErrServerOffline)
}
