package store

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/mmcdole/earmark/internal/domain"
)

// TrackStore implements domain.TrackStore on the shared DB. Rows are
// keyed parent:{parentID}:track:{index} so a parent's whole track set
// cascades through one prefix deletion.
type TrackStore struct {
	db *DB
	mu sync.Mutex
}

// NewTrackStore creates a track store over an open DB.
func NewTrackStore(db *DB) *TrackStore {
	return &TrackStore{db: db}
}

func (s *TrackStore) Put(track domain.OfflineTrack) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.set(bucketTracks, trackKey(track.ParentID, track.Index), track)
}

func (s *TrackStore) Get(parentID string, index int) (domain.OfflineTrack, bool, error) {
	var track domain.OfflineTrack
	if !s.db.get(bucketTracks, trackKey(parentID, index), &track) {
		return domain.OfflineTrack{}, false, nil
	}
	return track, true, nil
}

func (s *TrackStore) MarkCompleted(parentID string, index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var track domain.OfflineTrack
	if !s.db.get(bucketTracks, trackKey(parentID, index), &track) {
		return domain.ErrNotFound
	}
	track.DownloadCompleted = true
	return s.db.set(bucketTracks, trackKey(parentID, index), track)
}

func (s *TrackStore) Tracks(parentID string) ([]domain.OfflineTrack, error) {
	var out []domain.OfflineTrack
	err := s.db.forEach(bucketTracks, parentPrefix(parentID), func(_ string, value []byte) error {
		var track domain.OfflineTrack
		if err := json.Unmarshal(value, &track); err != nil {
			return err
		}
		out = append(out, track)
		return nil
	})
	return out, err
}

func (s *TrackStore) DeleteParent(parentID string) ([]domain.OfflineTrack, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tracks, err := s.Tracks(parentID)
	if err != nil {
		return nil, err
	}
	if _, err := s.db.deletePrefix(bucketTracks, parentPrefix(parentID)); err != nil {
		return nil, err
	}
	return tracks, nil
}

func (s *TrackStore) Status(parentID string) (domain.OfflineStatus, error) {
	tracks, err := s.Tracks(parentID)
	if err != nil {
		return domain.OfflineNone, err
	}
	if len(tracks) == 0 {
		return domain.OfflineNone, nil
	}
	for _, t := range tracks {
		if !t.DownloadCompleted {
			return domain.OfflineWorking, nil
		}
	}
	return domain.OfflineDownloaded, nil
}

func (s *TrackStore) Parents() ([]string, error) {
	seen := make(map[string]bool)
	var out []string
	err := s.db.forEach(bucketTracks, "parent:", func(_ string, value []byte) error {
		var track domain.OfflineTrack
		if err := json.Unmarshal(value, &track); err != nil {
			return err
		}
		if !seen[track.ParentID] {
			seen[track.ParentID] = true
			out = append(out, track.ParentID)
		}
		return nil
	})
	return out, err
}

func trackKey(parentID string, index int) string {
	return fmt.Sprintf("%strack:%05d", parentPrefix(parentID), index)
}

func parentPrefix(parentID string) string {
	return "parent:" + parentID + ":"
}
