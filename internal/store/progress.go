package store

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/mmcdole/earmark/internal/domain"
)

// ProgressStore implements domain.ProgressStore on the shared DB.
// A single mutex serializes the read-modify-write cycles; the store is
// single-writer by contract (one local replica per device).
type ProgressStore struct {
	db *DB
	mu sync.Mutex
}

// NewProgressStore creates a progress store over an open DB.
func NewProgressStore(db *DB) *ProgressStore {
	return &ProgressStore{db: db}
}

func (s *ProgressStore) Upsert(key domain.ProgressKey, currentTime, duration float64, now time.Time) (domain.ProgressRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rec domain.ProgressRecord
	if !s.db.get(bucketProgress, key.String(), &rec) {
		rec = domain.ProgressRecord{
			ItemID:    key.ItemID,
			EpisodeID: key.EpisodeID,
			StartedAt: now,
		}
	}

	rec.CurrentTime = currentTime
	rec.Duration = duration
	rec.Progress = clampProgress(currentTime, duration)
	rec.LastUpdate = now
	// Any local write re-marks the record for upload, even one that was
	// already synced: playback after a sync has to reach the server again.
	rec.Provenance = domain.ProvenanceLocal

	if err := s.db.set(bucketProgress, key.String(), rec); err != nil {
		return domain.ProgressRecord{}, err
	}
	return rec, nil
}

func (s *ProgressStore) Get(key domain.ProgressKey) (domain.ProgressRecord, bool, error) {
	var rec domain.ProgressRecord
	if !s.db.get(bucketProgress, key.String(), &rec) {
		return domain.ProgressRecord{}, false, nil
	}
	return rec, true, nil
}

func (s *ProgressStore) MarkSynced(key domain.ProgressKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rec domain.ProgressRecord
	if !s.db.get(bucketProgress, key.String(), &rec) {
		return nil // deleted underneath us; nothing to promote
	}
	if rec.Provenance != domain.ProvenanceLocal {
		return nil
	}
	rec.Provenance = domain.ProvenanceSynced
	return s.db.set(bucketProgress, key.String(), rec)
}

func (s *ProgressStore) DeleteSynced() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys, err := s.keysByProvenance(domain.ProvenanceSynced)
	if err != nil {
		return 0, err
	}
	for _, k := range keys {
		if err := s.db.delete(bucketProgress, k); err != nil {
			return 0, err
		}
	}
	return len(keys), nil
}

func (s *ProgressStore) ReplaceFromServer(records []domain.ServerProgress) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inSnapshot := make(map[string]bool, len(records))

	for _, sp := range records {
		key := domain.ProgressKey{ItemID: sp.ItemID, EpisodeID: sp.EpisodeID}
		inSnapshot[key.String()] = true

		var existing domain.ProgressRecord
		if s.db.get(bucketProgress, key.String(), &existing) {
			// Local precedence: an unsynced or just-synced record wins
			// unless the server copy is strictly newer.
			if existing.Provenance != domain.ProvenanceServer && !sp.LastUpdate.After(existing.LastUpdate) {
				continue
			}
		}

		rec := domain.ProgressRecord{
			ItemID:      sp.ItemID,
			EpisodeID:   sp.EpisodeID,
			CurrentTime: sp.CurrentTime,
			Duration:    sp.Duration,
			Progress:    clampProgress(sp.CurrentTime, sp.Duration),
			StartedAt:   existing.StartedAt,
			LastUpdate:  sp.LastUpdate,
			Provenance:  domain.ProvenanceServer,
		}
		if rec.StartedAt.IsZero() {
			rec.StartedAt = sp.LastUpdate
		}
		if err := s.db.set(bucketProgress, key.String(), rec); err != nil {
			return err
		}
	}

	// Drop server-provenance rows the snapshot no longer contains; local
	// rows are kept for the next upload phase.
	stale, err := s.keysByProvenance(domain.ProvenanceServer)
	if err != nil {
		return err
	}
	for _, k := range stale {
		if inSnapshot[k] {
			continue
		}
		if err := s.db.delete(bucketProgress, k); err != nil {
			return err
		}
	}
	return nil
}

func (s *ProgressStore) ListByProvenance(p domain.Provenance) ([]domain.ProgressRecord, error) {
	var out []domain.ProgressRecord
	err := s.db.forEach(bucketProgress, "", func(_ string, value []byte) error {
		var rec domain.ProgressRecord
		if err := json.Unmarshal(value, &rec); err != nil {
			return err
		}
		if rec.Provenance == p {
			out = append(out, rec)
		}
		return nil
	})
	return out, err
}

func (s *ProgressStore) List() ([]domain.ProgressRecord, error) {
	var out []domain.ProgressRecord
	err := s.db.forEach(bucketProgress, "", func(_ string, value []byte) error {
		var rec domain.ProgressRecord
		if err := json.Unmarshal(value, &rec); err != nil {
			return err
		}
		out = append(out, rec)
		return nil
	})
	return out, err
}

func (s *ProgressStore) keysByProvenance(p domain.Provenance) ([]string, error) {
	var keys []string
	err := s.db.forEach(bucketProgress, "", func(key string, value []byte) error {
		var rec domain.ProgressRecord
		if err := json.Unmarshal(value, &rec); err != nil {
			return err
		}
		if rec.Provenance == p {
			keys = append(keys, key)
		}
		return nil
	})
	return keys, err
}

func clampProgress(currentTime, duration float64) float64 {
	if duration <= 0 {
		return 0
	}
	p := currentTime / duration
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}
