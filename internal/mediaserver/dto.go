package mediaserver

import (
	"time"

	"github.com/mmcdole/earmark/internal/domain"
)

// mediaProgressDTO mirrors one entry of the server's media-progress list.
// Timestamps are unix milliseconds on the wire.
type mediaProgressDTO struct {
	ID            string  `json:"id"`
	LibraryItemID string  `json:"libraryItemId"`
	EpisodeID     string  `json:"episodeId,omitempty"`
	Duration      float64 `json:"duration"`
	Progress      float64 `json:"progress"`
	CurrentTime   float64 `json:"currentTime"`
	IsFinished    bool    `json:"isFinished"`
	LastUpdate    int64   `json:"lastUpdate"`
	StartedAt     int64   `json:"startedAt"`
}

// meResponse is the authenticated-user payload carrying the progress
// snapshot.
type meResponse struct {
	ID            string             `json:"id"`
	Username      string             `json:"username"`
	MediaProgress []mediaProgressDTO `json:"mediaProgress"`
}

// progressUpdateBody is the set-progress request payload.
type progressUpdateBody struct {
	CurrentTime float64 `json:"currentTime"`
	Duration    float64 `json:"duration"`
	Progress    float64 `json:"progress"`
}

// sessionResponse is returned when a playback session is opened.
type sessionResponse struct {
	ID string `json:"id"`
}

// sessionSyncBody reports position within an open session.
type sessionSyncBody struct {
	CurrentTime float64 `json:"currentTime"`
	Duration    float64 `json:"duration"`
}

// audioTrackDTO mirrors one track of an item's download manifest.
type audioTrackDTO struct {
	Index       int     `json:"index"`
	StartOffset float64 `json:"startOffset"`
	Duration    float64 `json:"duration"`
	ContentURL  string  `json:"contentUrl"`
	MimeType    string  `json:"mimeType"`
	Metadata    struct {
		Ext      string `json:"ext"`
		Filename string `json:"filename"`
	} `json:"metadata"`
}

// tracksResponse is the manifest payload.
type tracksResponse struct {
	Tracks []audioTrackDTO `json:"tracks"`
}

// mapServerProgress converts wire progress entries to domain records.
func mapServerProgress(dtos []mediaProgressDTO) []domain.ServerProgress {
	out := make([]domain.ServerProgress, 0, len(dtos))
	for _, d := range dtos {
		out = append(out, domain.ServerProgress{
			ItemID:      d.LibraryItemID,
			EpisodeID:   d.EpisodeID,
			CurrentTime: d.CurrentTime,
			Duration:    d.Duration,
			LastUpdate:  time.UnixMilli(d.LastUpdate),
		})
	}
	return out
}
