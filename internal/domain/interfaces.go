package domain

import "context"

// ProgressAPI provides the remote server's playback-progress operations.
type ProgressAPI interface {
	// StartSession opens a playback session for an item and returns the
	// server-assigned session id.
	StartSession(ctx context.Context, itemID, episodeID string) (string, error)

	// CloseSession closes a playback session.
	CloseSession(ctx context.Context, sessionID string) error

	// SyncSession reports the current position within an open session.
	SyncSession(ctx context.Context, sessionID string, currentTime, duration float64) error

	// SetProgress writes an item's progress outside any session. Used by
	// the reconciler to upload locally-cached records.
	SetProgress(ctx context.Context, itemID, episodeID string, currentTime, duration float64) error

	// ListProgress fetches the server's authoritative progress snapshot.
	ListProgress(ctx context.Context) ([]ServerProgress, error)
}

// ManifestAPI provides the remote server's track-manifest operation.
type ManifestAPI interface {
	// GetTracks returns the download manifest for an audiobook or episode.
	GetTracks(ctx context.Context, parentID string) ([]ManifestTrack, error)
}

// TransferQueue abstracts the platform transfer subsystem. Enqueue
// assigns a handle without starting the transfer; Start begins it. The
// split lets callers durably register context for the handle before any
// completion callback can possibly fire.
type TransferQueue interface {
	Enqueue(url string) (int64, error)
	Start(id int64) error
}

// TransferHandler receives exactly one terminal callback per transfer.
// Callbacks for different transfers may arrive concurrently, possibly
// in a different process instantiation than the one that enqueued them,
// so handlers must recover all context from durable storage.
type TransferHandler interface {
	TransferSucceeded(id int64, tempPath string)
	TransferFailed(id int64, err error)
}

// StatusObserver receives download-status updates keyed by parent id.
type StatusObserver interface {
	OnDownloadStatus(parentID string, status OfflineStatus)
}
