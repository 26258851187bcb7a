package domain

import (
	"fmt"
	"time"
)

// Provenance tags where a progress record came from, which drives the
// sync reconciler's upload/cleanup decisions.
type Provenance int

const (
	// ProvenanceServer marks a record imported from the server's
	// authoritative snapshot.
	ProvenanceServer Provenance = iota

	// ProvenanceSynced marks a locally-written record the server has
	// durably accepted; it is awaiting cleanup.
	ProvenanceSynced

	// ProvenanceLocal marks a record written by local playback that the
	// server has not yet confirmed.
	ProvenanceLocal
)

func (p Provenance) String() string {
	switch p {
	case ProvenanceServer:
		return "server"
	case ProvenanceSynced:
		return "synced"
	case ProvenanceLocal:
		return "local"
	default:
		return "unknown"
	}
}

// ProgressKey identifies a progress record. EpisodeID is set only for
// episodic content; an audiobook has just an ItemID.
type ProgressKey struct {
	ItemID    string
	EpisodeID string
}

// String renders the key in its stable storage form.
func (k ProgressKey) String() string {
	if k.EpisodeID == "" {
		return k.ItemID
	}
	return k.ItemID + ":" + k.EpisodeID
}

// ProgressRecord is the local replica of playback progress for one item
// (or one episode of an item). Exactly one record exists per key.
type ProgressRecord struct {
	ItemID      string     `json:"itemId"`
	EpisodeID   string     `json:"episodeId,omitempty"`
	Duration    float64    `json:"duration"`    // seconds
	CurrentTime float64    `json:"currentTime"` // seconds
	Progress    float64    `json:"progress"`    // currentTime/duration, clamped to [0,1]
	StartedAt   time.Time  `json:"startedAt"`
	LastUpdate  time.Time  `json:"lastUpdate"`
	Provenance  Provenance `json:"provenance"`
}

// Key returns the record's composite identity.
func (r ProgressRecord) Key() ProgressKey {
	return ProgressKey{ItemID: r.ItemID, EpisodeID: r.EpisodeID}
}

// ServerProgress is one entry of the server's authoritative progress
// snapshot, as returned by the list-progress API.
type ServerProgress struct {
	ItemID      string
	EpisodeID   string
	CurrentTime float64
	Duration    float64
	LastUpdate  time.Time
}

// ParentType distinguishes what kind of item a download belongs to.
type ParentType int

const (
	ParentAudiobook ParentType = iota
	ParentEpisode
)

func (t ParentType) String() string {
	switch t {
	case ParentAudiobook:
		return "audiobook"
	case ParentEpisode:
		return "episode"
	default:
		return "unknown"
	}
}

// DownloadTaskRef maps a transfer handle back to the logical track it
// carries. It is durably registered before the transfer starts because
// the completion callback may run in a later process instantiation and
// has only the transfer identifier to recover context.
type DownloadTaskRef struct {
	TransferID int64      `json:"transferId"`
	TrackID    string     `json:"trackId"`
	ParentID   string     `json:"parentId"`
	ParentType ParentType `json:"parentType"`
	TrackIndex int        `json:"trackIndex"`
}

// OfflineTrack is one durable row of a parent item's track set. A parent
// counts as downloaded only when every expected track row is completed
// and its file is in stable storage; anything less reads as none.
type OfflineTrack struct {
	TrackID           string  `json:"trackId"`
	ParentID          string  `json:"parentId"`
	Index             int     `json:"index"`
	Offset            float64 `json:"offset"`   // seconds into the parent timeline
	Duration          float64 `json:"duration"` // seconds
	Ext               string  `json:"ext"`      // file extension without dot, e.g. "mp3"
	DownloadCompleted bool    `json:"downloadCompleted"`
}

// FileName returns the stable storage name for the track payload.
func (t OfflineTrack) FileName() string {
	return t.TrackID + "." + t.Ext
}

// TrackID derives the stable track identifier from its parent and index.
func TrackID(parentID string, index int) string {
	return fmt.Sprintf("%s-%03d", parentID, index)
}

// OfflineStatus is the derived per-parent availability state.
type OfflineStatus int

const (
	OfflineNone OfflineStatus = iota
	OfflineWorking
	OfflineDownloaded
)

func (s OfflineStatus) String() string {
	switch s {
	case OfflineNone:
		return "none"
	case OfflineWorking:
		return "working"
	case OfflineDownloaded:
		return "downloaded"
	default:
		return "unknown"
	}
}

// ManifestTrack is one track of a parent's download manifest as served
// by the remote manifest API.
type ManifestTrack struct {
	Index    int
	URL      string
	Offset   float64
	Duration float64
	Ext      string
}
