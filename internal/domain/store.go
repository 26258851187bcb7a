package domain

import "time"

// ProgressStore is the durable local replica of playback progress.
// Mutations are serialized per store; cross-process safety is not
// required (single local replica per device).
type ProgressStore interface {
	// Upsert creates or updates the record for key. A new record starts
	// as ProvenanceLocal; an update recomputes the clamped progress
	// ratio, bumps LastUpdate, and re-marks the record ProvenanceLocal
	// so further playback after a sync is re-uploaded.
	Upsert(key ProgressKey, currentTime, duration float64, now time.Time) (ProgressRecord, error)

	// Get returns the record for key, if present.
	Get(key ProgressKey) (ProgressRecord, bool, error)

	// MarkSynced transitions a ProvenanceLocal record to
	// ProvenanceSynced. Missing records are a no-op (race with delete).
	MarkSynced(key ProgressKey) error

	// DeleteSynced removes every ProvenanceSynced record and returns
	// how many were deleted.
	DeleteSynced() (int, error)

	// ReplaceFromServer imports the server's authoritative snapshot.
	// Records unknown locally are inserted as ProvenanceServer; records
	// held locally as ProvenanceLocal or ProvenanceSynced keep local
	// precedence unless the server copy is strictly newer. Stale
	// ProvenanceServer rows absent from the snapshot are dropped.
	ReplaceFromServer(records []ServerProgress) error

	// ListByProvenance enumerates records carrying the given tag.
	ListByProvenance(p Provenance) ([]ProgressRecord, error)

	// List enumerates all records.
	List() ([]ProgressRecord, error)
}

// TaskRegistry is the durable transferID -> DownloadTaskRef mapping.
// Register must have returned before the transfer is started; the
// completion callback has only the transfer id to look up context.
type TaskRegistry interface {
	Register(ref DownloadTaskRef) error
	Lookup(transferID int64) (DownloadTaskRef, bool, error)
	// Remove deletes the entry; removing an absent entry is a no-op so
	// a duplicate terminal callback is tolerated.
	Remove(transferID int64) error
	// List enumerates all registered refs (startup recovery).
	List() ([]DownloadTaskRef, error)
}

// TrackStore holds the durable per-parent offline track sets.
type TrackStore interface {
	Put(track OfflineTrack) error
	Get(parentID string, index int) (OfflineTrack, bool, error)
	// MarkCompleted flips a track's DownloadCompleted flag. Returns
	// ErrNotFound when the row is gone (parent deleted mid-flight).
	MarkCompleted(parentID string, index int) error
	Tracks(parentID string) ([]OfflineTrack, error)
	// DeleteParent removes the whole track set for a parent and returns
	// the deleted rows so the caller can remove their files.
	DeleteParent(parentID string) ([]OfflineTrack, error)
	// Status derives the parent's offline availability from its rows.
	Status(parentID string) (OfflineStatus, error)
	// Parents enumerates every parent id that has at least one row.
	Parents() ([]string, error)
}
