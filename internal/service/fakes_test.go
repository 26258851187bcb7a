package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mmcdole/earmark/internal/domain"
)

// fakeRemote is an in-memory stand-in for the server's progress API.
// Uploaded records become visible in the snapshot it serves back.
type fakeRemote struct {
	mu       sync.Mutex
	offline  bool
	reject   map[string]bool
	entries  map[string]domain.ServerProgress
	now      time.Time
	setCalls int

	sessionID    string
	syncCalls    int
	closedCalls  int
	startedCalls int
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		reject:    make(map[string]bool),
		entries:   make(map[string]domain.ServerProgress),
		now:       time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		sessionID: "sess-test",
	}
}

func remoteKey(itemID, episodeID string) string {
	if episodeID == "" {
		return itemID
	}
	return itemID + ":" + episodeID
}

func (f *fakeRemote) StartSession(ctx context.Context, itemID, episodeID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.offline {
		return "", domain.ErrServerOffline
	}
	f.startedCalls++
	return f.sessionID, nil
}

func (f *fakeRemote) CloseSession(ctx context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.offline {
		return domain.ErrServerOffline
	}
	f.closedCalls++
	return nil
}

func (f *fakeRemote) SyncSession(ctx context.Context, sessionID string, currentTime, duration float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.offline {
		return domain.ErrServerOffline
	}
	f.syncCalls++
	return nil
}

func (f *fakeRemote) SetProgress(ctx context.Context, itemID, episodeID string, currentTime, duration float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.offline {
		return domain.ErrServerOffline
	}
	key := remoteKey(itemID, episodeID)
	if f.reject[key] {
		return fmt.Errorf("%w: status 400", domain.ErrServerRejected)
	}
	f.setCalls++
	f.entries[key] = domain.ServerProgress{
		ItemID:      itemID,
		EpisodeID:   episodeID,
		CurrentTime: currentTime,
		Duration:    duration,
		LastUpdate:  f.now,
	}
	return nil
}

func (f *fakeRemote) ListProgress(ctx context.Context) ([]domain.ServerProgress, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.offline {
		return nil, domain.ErrServerOffline
	}
	out := make([]domain.ServerProgress, 0, len(f.entries))
	for _, e := range f.entries {
		out = append(out, e)
	}
	return out, nil
}

func (f *fakeRemote) serverTime(itemID, episodeID string) (float64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[remoteKey(itemID, episodeID)]
	return e.CurrentTime, ok
}

// fakeManifest serves canned track manifests.
type fakeManifest struct {
	mu        sync.Mutex
	manifests map[string][]domain.ManifestTrack
	err       error
	calls     int
}

func newFakeManifest() *fakeManifest {
	return &fakeManifest{manifests: make(map[string][]domain.ManifestTrack)}
}

func (f *fakeManifest) GetTracks(ctx context.Context, parentID string) ([]domain.ManifestTrack, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.manifests[parentID], nil
}

func (f *fakeManifest) set(parentID string, n int) {
	tracks := make([]domain.ManifestTrack, 0, n)
	for i := 0; i < n; i++ {
		tracks = append(tracks, domain.ManifestTrack{
			Index:    i,
			URL:      fmt.Sprintf("http://server.test/%s/%d", parentID, i),
			Duration: 600,
			Ext:      "mp3",
		})
	}
	f.mu.Lock()
	f.manifests[parentID] = tracks
	f.mu.Unlock()
}

// fakeQueue hands out transfer ids without performing any transfer; the
// test drives terminal callbacks by hand. When a registry is attached it
// checks the register-before-start ordering invariant on every Start.
type fakeQueue struct {
	mu       sync.Mutex
	registry domain.TaskRegistry
	nextID   int64
	pending  map[int64]string
	started  map[int64]string
	ordering []bool // per Start: was the ref registered in time?
}

func newFakeQueue(registry domain.TaskRegistry) *fakeQueue {
	return &fakeQueue{
		registry: registry,
		pending:  make(map[int64]string),
		started:  make(map[int64]string),
	}
}

func (q *fakeQueue) Enqueue(url string) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.nextID++
	q.pending[q.nextID] = url
	return q.nextID, nil
}

func (q *fakeQueue) Start(id int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	url, ok := q.pending[id]
	if !ok {
		return domain.ErrNotFound
	}
	delete(q.pending, id)
	q.started[id] = url

	if q.registry != nil {
		_, registered, _ := q.registry.Lookup(id)
		q.ordering = append(q.ordering, registered)
	}
	return nil
}

// startedIDs returns started transfer ids in enqueue order.
func (q *fakeQueue) startedIDs() []int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]int64, 0, len(q.started))
	for id := range q.started {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
