// Package mediaserver implements the HTTP client for the remote
// media-library server's progress, session, and manifest APIs.
package mediaserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mmcdole/earmark/internal/domain"
)

const (
	defaultTimeout = 30 * time.Second
	userAgent      = "Earmark/1.0"
)

// Client implements domain.ProgressAPI and domain.ManifestAPI.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new media server API client.
func NewClient(baseURL, token string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
		logger: logger,
	}
}

// doRequest performs an authenticated JSON request and returns the
// response body. Transport failures map to ErrServerOffline so callers
// can treat every network-class error uniformly.
func (c *Client) doRequest(ctx context.Context, method, path string, payload interface{}) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("User-Agent", userAgent)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.logger.Debug("server request", "method", method, "path", path)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug("server request failed", "error", err)
		return nil, domain.ErrServerOffline
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, domain.ErrAuthFailed
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		c.logger.Error("server rejected request", "status", resp.StatusCode, "path", path)
		return nil, fmt.Errorf("%w: status %d", domain.ErrServerRejected, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		c.logger.Error("server request error", "status", resp.StatusCode, "path", path)
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	return respBody, nil
}

// === Sessions ===

// StartSession opens a playback session and returns its server id.
func (c *Client) StartSession(ctx context.Context, itemID, episodeID string) (string, error) {
	path := fmt.Sprintf("/api/items/%s/play", url.PathEscape(itemID))
	if episodeID != "" {
		path = fmt.Sprintf("/api/items/%s/play/%s", url.PathEscape(itemID), url.PathEscape(episodeID))
	}

	body, err := c.doRequest(ctx, http.MethodPost, path, nil)
	if err != nil {
		return "", err
	}

	var session sessionResponse
	if err := json.Unmarshal(body, &session); err != nil {
		return "", fmt.Errorf("failed to parse session response: %w", err)
	}
	return session.ID, nil
}

// CloseSession closes an open playback session.
func (c *Client) CloseSession(ctx context.Context, sessionID string) error {
	path := fmt.Sprintf("/api/session/%s/close", url.PathEscape(sessionID))
	_, err := c.doRequest(ctx, http.MethodPost, path, nil)
	return err
}

// SyncSession reports the current position within an open session.
func (c *Client) SyncSession(ctx context.Context, sessionID string, currentTime, duration float64) error {
	path := fmt.Sprintf("/api/session/%s/sync", url.PathEscape(sessionID))
	_, err := c.doRequest(ctx, http.MethodPost, path, sessionSyncBody{
		CurrentTime: currentTime,
		Duration:    duration,
	})
	return err
}

// === Progress ===

// SetProgress writes an item's progress outside any session.
func (c *Client) SetProgress(ctx context.Context, itemID, episodeID string, currentTime, duration float64) error {
	path := fmt.Sprintf("/api/me/progress/%s", url.PathEscape(itemID))
	if episodeID != "" {
		path = fmt.Sprintf("/api/me/progress/%s/%s", url.PathEscape(itemID), url.PathEscape(episodeID))
	}

	progress := 0.0
	if duration > 0 {
		progress = currentTime / duration
	}

	_, err := c.doRequest(ctx, http.MethodPatch, path, progressUpdateBody{
		CurrentTime: currentTime,
		Duration:    duration,
		Progress:    progress,
	})
	return err
}

// ListProgress fetches the server's authoritative progress snapshot.
func (c *Client) ListProgress(ctx context.Context) ([]domain.ServerProgress, error) {
	body, err := c.doRequest(ctx, http.MethodGet, "/api/me", nil)
	if err != nil {
		return nil, err
	}

	var me meResponse
	if err := json.Unmarshal(body, &me); err != nil {
		return nil, fmt.Errorf("failed to parse progress snapshot: %w", err)
	}
	return mapServerProgress(me.MediaProgress), nil
}

// === Manifest ===

// GetTracks returns the download manifest for an audiobook or episode.
// Track URLs are absolute and carry the auth token so the transfer
// subsystem can fetch them without extra headers.
func (c *Client) GetTracks(ctx context.Context, parentID string) ([]domain.ManifestTrack, error) {
	path := fmt.Sprintf("/api/items/%s/tracks", url.PathEscape(parentID))
	body, err := c.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	var resp tracksResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse track manifest: %w", err)
	}

	tracks := make([]domain.ManifestTrack, 0, len(resp.Tracks))
	for _, t := range resp.Tracks {
		tracks = append(tracks, domain.ManifestTrack{
			Index:    t.Index,
			URL:      c.resolveContentURL(t.ContentURL),
			Offset:   t.StartOffset,
			Duration: t.Duration,
			Ext:      strings.TrimPrefix(t.Metadata.Ext, "."),
		})
	}
	return tracks, nil
}

func (c *Client) resolveContentURL(contentURL string) string {
	if strings.HasPrefix(contentURL, "http://") || strings.HasPrefix(contentURL, "https://") {
		return contentURL
	}
	sep := "?"
	if strings.Contains(contentURL, "?") {
		sep = "&"
	}
	return c.baseURL + contentURL + sep + "token=" + url.QueryEscape(c.token)
}
