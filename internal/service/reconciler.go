package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/mmcdole/earmark/internal/domain"
)

const defaultUploadFanout = 4

// ReconcileResult summarizes what a reconciliation run did.
type ReconcileResult struct {
	Uploaded int // locally-cached records accepted by the server
	Deleted  int // synced records cleaned up
	Imported int // snapshot entries applied from the server
}

// Reconciler pushes locally-originated progress to the server and pulls
// the server's authoritative snapshot back. It runs once per
// authenticated session and is idempotent: a second run with no
// intervening playback changes nothing.
type Reconciler struct {
	store  domain.ProgressStore
	remote domain.ProgressAPI
	fanout int
	logger *slog.Logger
}

// NewReconciler creates a sync reconciler.
func NewReconciler(store domain.ProgressStore, remote domain.ProgressAPI, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		store:  store,
		remote: remote,
		fanout: defaultUploadFanout,
		logger: logger,
	}
}

// Reconcile runs the three phases in strict order: upload, cleanup,
// import. A network failure aborts the remainder of its phase but never
// the caller; partial progress is kept and retried on the next run. The
// returned error is diagnostic only.
func (r *Reconciler) Reconcile(ctx context.Context) (ReconcileResult, error) {
	var result ReconcileResult

	uploaded, uploadErr := r.uploadPhase(ctx)
	result.Uploaded = uploaded

	// Cleanup runs even when upload was cut short: records already
	// promoted to synced are confirmed by the server, so a crash (or
	// abort) between upload and cleanup only delays their deletion.
	deleted, err := r.store.DeleteSynced()
	if err != nil {
		r.logger.Error("cleanup phase failed", "error", err)
		return result, err
	}
	result.Deleted = deleted

	if uploadErr != nil {
		r.logger.Warn("sync upload incomplete, skipping import", "uploaded", uploaded, "error", uploadErr)
		return result, uploadErr
	}

	imported, err := r.importPhase(ctx)
	result.Imported = imported
	if err != nil {
		r.logger.Warn("sync import failed", "error", err)
		return result, err
	}

	r.logger.Info("sync reconciled",
		"uploaded", result.Uploaded,
		"deleted", result.Deleted,
		"imported", result.Imported)
	return result, nil
}

// uploadPhase sends every locally-cached record to the server with
// bounded fan-out. Per-record rejections are skipped; a network-class
// failure aborts the remaining records.
func (r *Reconciler) uploadPhase(ctx context.Context) (int, error) {
	records, err := r.store.ListByProvenance(domain.ProvenanceLocal)
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, nil
	}

	uploadCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		uploaded int
		abortErr error
	)
	sem := make(chan struct{}, r.fanout)

	for _, rec := range records {
		rec := rec
		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			err := r.remote.SetProgress(uploadCtx, rec.ItemID, rec.EpisodeID, rec.CurrentTime, rec.Duration)
			if err != nil {
				if errors.Is(err, domain.ErrServerOffline) || errors.Is(err, context.Canceled) {
					// Offline: no point trying the rest this run
					mu.Lock()
					if abortErr == nil {
						abortErr = err
					}
					mu.Unlock()
					cancel()
					return
				}
				// Rejected record: leave it local, retry next cycle
				r.logger.Warn("progress upload rejected", "itemID", rec.ItemID, "episodeID", rec.EpisodeID, "error", err)
				return
			}

			if err := r.store.MarkSynced(rec.Key()); err != nil {
				r.logger.Error("failed to mark record synced", "itemID", rec.ItemID, "error", err)
				return
			}
			mu.Lock()
			uploaded++
			mu.Unlock()
		}()
	}
	wg.Wait()

	return uploaded, abortErr
}

// importPhase fetches the server snapshot and applies it with local
// precedence.
func (r *Reconciler) importPhase(ctx context.Context) (int, error) {
	snapshot, err := r.remote.ListProgress(ctx)
	if err != nil {
		return 0, err
	}
	if err := r.store.ReplaceFromServer(snapshot); err != nil {
		return 0, err
	}
	return len(snapshot), nil
}
