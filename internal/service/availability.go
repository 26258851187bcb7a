package service

import (
	"log/slog"
	"sync"

	"github.com/mmcdole/earmark/internal/domain"
)

// Availability answers offline-status queries cheaply. Statuses are
// cached per process and invalidated exclusively by download-status
// events; the first query after a (re)start recomputes from durable
// rows, so the cache never survives anything the disk didn't.
type Availability struct {
	tracks domain.TrackStore
	logger *slog.Logger

	mu    sync.RWMutex
	cache map[string]domain.OfflineStatus
}

// NewAvailability creates an availability signal over the track store.
// Subscribe it to the download manager to keep the cache fresh.
func NewAvailability(tracks domain.TrackStore, logger *slog.Logger) *Availability {
	if logger == nil {
		logger = slog.Default()
	}
	return &Availability{
		tracks: tracks,
		logger: logger,
		cache:  make(map[string]domain.OfflineStatus),
	}
}

// Status returns the parent's offline availability.
func (a *Availability) Status(parentID string) (domain.OfflineStatus, error) {
	a.mu.RLock()
	if status, ok := a.cache[parentID]; ok {
		a.mu.RUnlock()
		return status, nil
	}
	a.mu.RUnlock()

	status, err := a.tracks.Status(parentID)
	if err != nil {
		return domain.OfflineNone, err
	}

	a.mu.Lock()
	a.cache[parentID] = status
	a.mu.Unlock()
	return status, nil
}

// OnDownloadStatus implements domain.StatusObserver; the download
// manager computes the status from durable rows before emitting it.
func (a *Availability) OnDownloadStatus(parentID string, status domain.OfflineStatus) {
	a.mu.Lock()
	a.cache[parentID] = status
	a.mu.Unlock()
	a.logger.Debug("offline status updated", "parentID", parentID, "status", status.String())
}
