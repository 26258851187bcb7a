package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/mmcdole/earmark/internal/domain"
)

// DownloadManager orchestrates track downloads for audiobooks and
// podcast episodes: manifest fetch, durable task registration, atomic
// relocation of completed payloads, and all-or-nothing cascade cleanup.
// It implements domain.TransferHandler for the transfer queue's
// terminal callbacks.
type DownloadManager struct {
	manifest domain.ManifestAPI
	tracks   domain.TrackStore
	registry domain.TaskRegistry
	queue    domain.TransferQueue
	audioDir string
	logger   *slog.Logger

	// Per-parent locks totally order a parent's track-set mutations so
	// a late completion callback cannot revive rows a concurrent delete
	// just removed.
	lockMu      sync.Mutex
	parentLocks map[string]*sync.Mutex

	obsMu     sync.RWMutex
	observers []domain.StatusObserver
}

// NewDownloadManager creates a download manager writing completed
// payloads into audioDir.
func NewDownloadManager(
	manifest domain.ManifestAPI,
	tracks domain.TrackStore,
	registry domain.TaskRegistry,
	queue domain.TransferQueue,
	audioDir string,
	logger *slog.Logger,
) (*DownloadManager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(audioDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create audio dir: %w", err)
	}
	return &DownloadManager{
		manifest:    manifest,
		tracks:      tracks,
		registry:    registry,
		queue:       queue,
		audioDir:    audioDir,
		logger:      logger,
		parentLocks: make(map[string]*sync.Mutex),
	}, nil
}

// SetQueue wires the transfer queue after construction. The manager and
// the queue reference each other (the queue delivers callbacks to the
// manager), so one side has to be attached late.
func (d *DownloadManager) SetQueue(queue domain.TransferQueue) {
	d.queue = queue
}

// Subscribe registers an observer for download-status updates.
func (d *DownloadManager) Subscribe(obs domain.StatusObserver) {
	d.obsMu.Lock()
	d.observers = append(d.observers, obs)
	d.obsMu.Unlock()
}

// === Entry points ===

// DownloadAudiobook requests an audiobook's full track set.
func (d *DownloadManager) DownloadAudiobook(ctx context.Context, id string) error {
	return d.download(ctx, id, domain.ParentAudiobook)
}

// DownloadEpisode requests a podcast episode's track set.
func (d *DownloadManager) DownloadEpisode(ctx context.Context, id string) error {
	return d.download(ctx, id, domain.ParentEpisode)
}

// DeleteAudiobook removes an audiobook's offline tracks and files.
func (d *DownloadManager) DeleteAudiobook(id string) error {
	return d.deleteParent(id)
}

// DeleteEpisode removes an episode's offline tracks and files.
func (d *DownloadManager) DeleteEpisode(id string) error {
	return d.deleteParent(id)
}

// Status answers the parent's offline availability from durable rows.
func (d *DownloadManager) Status(parentID string) (domain.OfflineStatus, error) {
	return d.tracks.Status(parentID)
}

// DownloadedParents lists every parent whose full track set is on
// stable storage, for offline selection.
func (d *DownloadManager) DownloadedParents() ([]string, error) {
	parents, err := d.tracks.Parents()
	if err != nil {
		return nil, err
	}
	var out []string
	for _, p := range parents {
		status, err := d.tracks.Status(p)
		if err != nil {
			return nil, err
		}
		if status == domain.OfflineDownloaded {
			out = append(out, p)
		}
	}
	return out, nil
}

// TrackPath returns the stable storage path for a track file.
func (d *DownloadManager) TrackPath(track domain.OfflineTrack) string {
	return filepath.Join(d.audioDir, track.FileName())
}

// download fetches the manifest and enqueues every track. Each track
// row and its task ref are durably committed before the transfer starts.
// Requesting a parent that is already working or downloaded is a no-op.
func (d *DownloadManager) download(ctx context.Context, parentID string, parentType domain.ParentType) error {
	lock := d.parentLock(parentID)
	lock.Lock()
	defer lock.Unlock()

	status, err := d.tracks.Status(parentID)
	if err != nil {
		return err
	}
	if status != domain.OfflineNone {
		d.logger.Debug("download already requested", "parentID", parentID, "status", status.String())
		return nil
	}

	manifest, err := d.manifest.GetTracks(ctx, parentID)
	if err != nil {
		return fmt.Errorf("manifest fetch for %s: %w", parentID, err)
	}
	if len(manifest) == 0 {
		return fmt.Errorf("manifest for %s: %w", parentID, domain.ErrManifestIncomplete)
	}

	for _, mt := range manifest {
		if err := d.enqueueTrack(parentID, parentType, mt); err != nil {
			// All-or-nothing: one track failing to enqueue fails the
			// whole request.
			d.cascadeCleanup(parentID)
			d.notify(parentID)
			return err
		}
	}

	d.logger.Info("download started", "parentID", parentID, "type", parentType.String(), "tracks", len(manifest))
	d.notify(parentID)
	return nil
}

func (d *DownloadManager) enqueueTrack(parentID string, parentType domain.ParentType, mt domain.ManifestTrack) error {
	trackID := domain.TrackID(parentID, mt.Index)

	track := domain.OfflineTrack{
		TrackID:  trackID,
		ParentID: parentID,
		Index:    mt.Index,
		Offset:   mt.Offset,
		Duration: mt.Duration,
		Ext:      mt.Ext,
	}
	if err := d.tracks.Put(track); err != nil {
		return err
	}

	transferID, err := d.queue.Enqueue(mt.URL)
	if err != nil {
		return err
	}

	// The ref must be durable before the transfer starts: the terminal
	// callback may run in a later process and has only this id.
	ref := domain.DownloadTaskRef{
		TransferID: transferID,
		TrackID:    trackID,
		ParentID:   parentID,
		ParentType: parentType,
		TrackIndex: mt.Index,
	}
	if err := d.registry.Register(ref); err != nil {
		return err
	}

	return d.queue.Start(transferID)
}

// === Terminal callbacks ===

// TransferSucceeded relocates a completed payload into stable storage
// and flips the track row. A move failure fails the whole parent.
func (d *DownloadManager) TransferSucceeded(id int64, tempPath string) {
	ref, ok, err := d.registry.Lookup(id)
	if err != nil {
		d.logger.Error("registry lookup failed", "transferID", id, "error", err)
		os.Remove(tempPath)
		return
	}
	if !ok {
		// Orphaned transfer: enqueued by a state we no longer hold.
		d.logger.Warn("discarding orphaned transfer payload", "transferID", id, "error", domain.ErrOrphanedTransfer)
		os.Remove(tempPath)
		return
	}

	lock := d.parentLock(ref.ParentID)
	lock.Lock()
	defer lock.Unlock()

	track, exists, err := d.tracks.Get(ref.ParentID, ref.TrackIndex)
	if err != nil || !exists {
		// Parent deleted while the transfer was in flight: the payload
		// has nowhere to live, discard it.
		d.logger.Info("parent gone before transfer completed", "transferID", id, "parentID", ref.ParentID)
		os.Remove(tempPath)
		d.removeRef(id)
		return
	}

	dest := d.TrackPath(track)
	if err := moveFile(tempPath, dest); err != nil {
		d.logger.Error("storage move failed, cancelling parent download",
			"transferID", id, "parentID", ref.ParentID, "dest", dest,
			"error", fmt.Errorf("%w: %v", domain.ErrStorageMove, err))
		os.Remove(tempPath)
		d.cascadeCleanup(ref.ParentID)
		d.removeRef(id)
		d.notify(ref.ParentID)
		return
	}

	if err := d.tracks.MarkCompleted(ref.ParentID, ref.TrackIndex); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// Deleted between Get and MarkCompleted; undo the move.
			os.Remove(dest)
		} else {
			d.logger.Error("failed to mark track completed", "trackID", ref.TrackID, "error", err)
		}
		d.removeRef(id)
		return
	}

	d.removeRef(id)
	d.logger.Info("track downloaded", "trackID", ref.TrackID, "parentID", ref.ParentID)
	d.notify(ref.ParentID)
}

// TransferFailed cancels the whole parent: a multi-track audiobook with
// a missing track must never report downloaded.
func (d *DownloadManager) TransferFailed(id int64, transferErr error) {
	ref, ok, err := d.registry.Lookup(id)
	if err != nil {
		d.logger.Error("registry lookup failed", "transferID", id, "error", err)
		return
	}
	if !ok {
		return
	}

	lock := d.parentLock(ref.ParentID)
	lock.Lock()
	defer lock.Unlock()

	d.logger.Warn("transfer failed, cancelling parent download",
		"transferID", id, "parentID", ref.ParentID, "trackID", ref.TrackID, "error", transferErr)

	d.cascadeCleanup(ref.ParentID)
	d.removeRef(id)
	d.notify(ref.ParentID)
}

// === Deletion and cleanup ===

func (d *DownloadManager) deleteParent(parentID string) error {
	lock := d.parentLock(parentID)
	lock.Lock()
	defer lock.Unlock()

	d.cascadeCleanup(parentID)
	d.notify(parentID)
	return nil
}

// cascadeCleanup removes every track row and stable file for the
// parent. Registry entries of in-flight siblings are left in place;
// their terminal callbacks find no rows and just discard payload.
// Callers hold the parent lock.
func (d *DownloadManager) cascadeCleanup(parentID string) {
	tracks, err := d.tracks.DeleteParent(parentID)
	if err != nil {
		d.logger.Error("failed to delete track rows", "parentID", parentID, "error", err)
		return
	}
	for _, t := range tracks {
		path := d.TrackPath(t)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			d.logger.Warn("failed to remove track file", "path", path, "error", err)
		}
	}
	if len(tracks) > 0 {
		d.logger.Info("removed offline tracks", "parentID", parentID, "count", len(tracks))
	}
}

// RecoverStale cleans up after transfers that died with a previous
// process: every registered ref belongs to a transfer the fresh queue
// no longer knows, so the parent can never finish. Call at startup
// before any new download.
func (d *DownloadManager) RecoverStale() error {
	refs, err := d.registry.List()
	if err != nil {
		return err
	}
	for _, ref := range refs {
		lock := d.parentLock(ref.ParentID)
		lock.Lock()
		d.logger.Warn("recovering interrupted download", "transferID", ref.TransferID, "parentID", ref.ParentID)
		d.cascadeCleanup(ref.ParentID)
		d.removeRef(ref.TransferID)
		d.notify(ref.ParentID)
		lock.Unlock()
	}
	return nil
}

func (d *DownloadManager) removeRef(id int64) {
	if err := d.registry.Remove(id); err != nil {
		d.logger.Error("failed to remove registry entry", "transferID", id, "error", err)
	}
}

func (d *DownloadManager) parentLock(parentID string) *sync.Mutex {
	d.lockMu.Lock()
	defer d.lockMu.Unlock()
	lock, ok := d.parentLocks[parentID]
	if !ok {
		lock = &sync.Mutex{}
		d.parentLocks[parentID] = lock
	}
	return lock
}

// notify recomputes the parent's status from durable rows and fans it
// out to observers.
func (d *DownloadManager) notify(parentID string) {
	status, err := d.tracks.Status(parentID)
	if err != nil {
		d.logger.Error("failed to compute status for notification", "parentID", parentID, "error", err)
		return
	}
	d.obsMu.RLock()
	observers := make([]domain.StatusObserver, len(d.observers))
	copy(observers, d.observers)
	d.obsMu.RUnlock()
	for _, obs := range observers {
		obs.OnDownloadStatus(parentID, status)
	}
}

// moveFile renames src to dst, falling back to copy+remove across
// filesystem boundaries.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return err
	}
	return os.Remove(src)
}
