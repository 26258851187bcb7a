package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mmcdole/earmark/internal/domain"
)

const defaultReportInterval = 15 * time.Second

// PositionFunc samples the active playback position. ok is false when
// nothing is playing.
type PositionFunc func() (itemID, episodeID string, currentTime, duration float64, ok bool)

// Reporter periodically records the playback position. The local write
// always happens first and is never rolled back; the remote send is
// best-effort and the reconciler is the backstop when it fails.
type Reporter struct {
	store    domain.ProgressStore
	remote   domain.ProgressAPI
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time

	mu        sync.Mutex
	sessionID string
}

// NewReporter creates a playback reporter. A non-positive interval uses
// the default cadence.
func NewReporter(store domain.ProgressStore, remote domain.ProgressAPI, interval time.Duration, logger *slog.Logger) *Reporter {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = defaultReportInterval
	}
	return &Reporter{
		store:    store,
		remote:   remote,
		interval: interval,
		logger:   logger,
		now:      time.Now,
	}
}

// Begin opens a remote playback session so subsequent reports are
// tagged with its id. Failure to open one is normal when offline; the
// reporter then only writes locally.
func (r *Reporter) Begin(ctx context.Context, itemID, episodeID string) {
	if r.remote == nil {
		return
	}
	sessionID, err := r.remote.StartSession(ctx, itemID, episodeID)
	if err != nil {
		r.logger.Debug("playback session unavailable", "itemID", itemID, "error", err)
		return
	}
	r.mu.Lock()
	r.sessionID = sessionID
	r.mu.Unlock()
	r.logger.Info("playback session started", "itemID", itemID, "sessionID", sessionID)
}

// Report durably records one playback position, then forwards it to the
// server when reachable. A remote failure never rolls back or fails the
// local write.
func (r *Reporter) Report(ctx context.Context, itemID, episodeID string, currentTime, duration float64) error {
	key := domain.ProgressKey{ItemID: itemID, EpisodeID: episodeID}
	if _, err := r.store.Upsert(key, currentTime, duration, r.now()); err != nil {
		return err
	}

	if r.remote == nil {
		return nil
	}

	r.mu.Lock()
	sessionID := r.sessionID
	r.mu.Unlock()

	var err error
	if sessionID != "" {
		err = r.remote.SyncSession(ctx, sessionID, currentTime, duration)
	} else {
		err = r.remote.SetProgress(ctx, itemID, episodeID, currentTime, duration)
	}
	if err != nil {
		// Swallowed: the record is local provenance and the next
		// reconciliation retries it.
		r.logger.Debug("remote progress report failed", "itemID", itemID, "error", err)
	}
	return nil
}

// End records a final position and closes the remote session.
func (r *Reporter) End(ctx context.Context, itemID, episodeID string, currentTime, duration float64) error {
	if err := r.Report(ctx, itemID, episodeID, currentTime, duration); err != nil {
		return err
	}

	r.mu.Lock()
	sessionID := r.sessionID
	r.sessionID = ""
	r.mu.Unlock()

	if sessionID != "" && r.remote != nil {
		if err := r.remote.CloseSession(ctx, sessionID); err != nil {
			r.logger.Debug("failed to close playback session", "sessionID", sessionID, "error", err)
		}
	}
	return nil
}

// Run samples the position on the reporter's cadence until ctx is done,
// then records a final sample. Pauses (ok=false) skip the tick.
func (r *Reporter) Run(ctx context.Context, position PositionFunc) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if itemID, episodeID, cur, dur, ok := position(); ok {
				// Final report gets a short independent deadline; ctx is
				// already cancelled.
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				r.End(flushCtx, itemID, episodeID, cur, dur)
				cancel()
			}
			return
		case <-ticker.C:
			itemID, episodeID, cur, dur, ok := position()
			if !ok {
				continue
			}
			if err := r.Report(ctx, itemID, episodeID, cur, dur); err != nil {
				r.logger.Error("failed to record playback position", "itemID", itemID, "error", err)
			}
		}
	}
}
