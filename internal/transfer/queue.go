// Package transfer implements the binary transfer queue: a bounded
// worker pool that downloads enqueued URLs to temporary files and
// delivers exactly one terminal callback per transfer.
package transfer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/mmcdole/earmark/internal/domain"
)

const defaultTimeout = 10 * time.Minute

// Queue implements domain.TransferQueue. Enqueue assigns a handle
// without starting anything; Start hands the transfer to the worker
// pool. Callers durably record the handle between the two calls so a
// completion callback can always recover context.
type Queue struct {
	client  *http.Client
	tempDir string
	handler domain.TransferHandler
	logger  *slog.Logger

	nextID  atomic.Int64
	mu      sync.Mutex
	pending map[int64]string // enqueued but not yet started: id -> url

	jobs   chan job
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type job struct {
	id  int64
	url string
}

// NewQueue creates a transfer queue downloading into tempDir with the
// given worker concurrency. A non-positive timeout uses the default.
func NewQueue(tempDir string, concurrency int, timeout time.Duration, handler domain.TransferHandler, logger *slog.Logger) (*Queue, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if concurrency <= 0 {
		concurrency = 2
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if err := os.MkdirAll(tempDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		client:  &http.Client{Timeout: timeout},
		tempDir: tempDir,
		handler: handler,
		logger:  logger,
		pending: make(map[int64]string),
		jobs:    make(chan job, 256),
		ctx:     ctx,
		cancel:  cancel,
	}

	for i := 0; i < concurrency; i++ {
		q.wg.Add(1)
		go q.worker()
	}
	return q, nil
}

// Enqueue assigns a transfer handle for the URL. The transfer does not
// begin until Start is called with the handle.
func (q *Queue) Enqueue(url string) (int64, error) {
	id := q.nextID.Add(1)
	q.mu.Lock()
	q.pending[id] = url
	q.mu.Unlock()
	return id, nil
}

// Start begins a previously enqueued transfer.
func (q *Queue) Start(id int64) error {
	q.mu.Lock()
	url, ok := q.pending[id]
	if ok {
		delete(q.pending, id)
	}
	q.mu.Unlock()
	if !ok {
		return fmt.Errorf("transfer %d: %w", id, domain.ErrNotFound)
	}

	select {
	case q.jobs <- job{id: id, url: url}:
		return nil
	case <-q.ctx.Done():
		return q.ctx.Err()
	}
}

// Stop cancels in-flight work and waits for the workers to exit.
// Transfers interrupted by Stop deliver a failure callback.
func (q *Queue) Stop() {
	q.cancel()
	q.wg.Wait()
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for {
		select {
		case <-q.ctx.Done():
			return
		case j := <-q.jobs:
			q.run(j)
		}
	}
}

// run downloads one job and delivers its terminal callback.
func (q *Queue) run(j job) {
	tempPath := filepath.Join(q.tempDir, uuid.New().String()+".part")

	if err := q.fetch(j.url, tempPath); err != nil {
		os.Remove(tempPath)
		q.logger.Debug("transfer failed", "transferID", j.id, "error", err)
		q.handler.TransferFailed(j.id, err)
		return
	}

	q.logger.Debug("transfer complete", "transferID", j.id, "tempPath", tempPath)
	q.handler.TransferSucceeded(j.id, tempPath)
}

func (q *Queue) fetch(url, tempPath string) error {
	req, err := http.NewRequestWithContext(q.ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	resp, err := q.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrTransferFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", domain.ErrTransferFailed, resp.StatusCode)
	}

	f, err := os.Create(tempPath)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		return fmt.Errorf("%w: %v", domain.ErrTransferFailed, err)
	}
	return f.Close()
}

// SweepOrphans removes leftover .part files from transfers that died
// with the previous process. Call before enqueueing new work.
func SweepOrphans(tempDir string, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	matches, err := filepath.Glob(filepath.Join(tempDir, "*.part"))
	if err != nil {
		return
	}
	for _, path := range matches {
		if err := os.Remove(path); err == nil {
			logger.Debug("removed stale temp file", "path", path)
		}
	}
}
