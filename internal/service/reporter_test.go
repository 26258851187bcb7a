package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmcdole/earmark/internal/adapter"
	"github.com/mmcdole/earmark/internal/domain"
)

func TestReportWritesLocallyFirst(t *testing.T) {
	progressStore := newTestProgressStore(t)
	remote := newFakeRemote()
	reporter := NewReporter(progressStore, remote, time.Second, adapter.NullLogger())

	require.NoError(t, reporter.Report(context.Background(), "item-a", "", 42, 600))

	rec, ok, err := progressStore.Get(domain.ProgressKey{ItemID: "item-a"})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 42.0, rec.CurrentTime)
	assert.Equal(t, domain.ProvenanceLocal, rec.Provenance)
}

func TestReportSurvivesRemoteFailure(t *testing.T) {
	progressStore := newTestProgressStore(t)
	remote := newFakeRemote()
	remote.offline = true
	reporter := NewReporter(progressStore, remote, time.Second, adapter.NullLogger())

	// A transient network failure must never lose the report
	require.NoError(t, reporter.Report(context.Background(), "item-a", "", 42, 600))

	rec, ok, err := progressStore.Get(domain.ProgressKey{ItemID: "item-a"})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 42.0, rec.CurrentTime)
}

func TestReportUsesSessionWhenAvailable(t *testing.T) {
	progressStore := newTestProgressStore(t)
	remote := newFakeRemote()
	reporter := NewReporter(progressStore, remote, time.Second, adapter.NullLogger())

	ctx := context.Background()
	reporter.Begin(ctx, "item-a", "")
	require.NoError(t, reporter.Report(ctx, "item-a", "", 10, 600))
	require.NoError(t, reporter.End(ctx, "item-a", "", 20, 600))

	assert.Equal(t, 1, remote.startedCalls)
	assert.Equal(t, 2, remote.syncCalls, "both reports go through the session")
	assert.Equal(t, 1, remote.closedCalls)
	assert.Equal(t, 0, remote.setCalls)
}

func TestReportFallsBackWithoutSession(t *testing.T) {
	progressStore := newTestProgressStore(t)
	remote := newFakeRemote()
	reporter := NewReporter(progressStore, remote, time.Second, adapter.NullLogger())

	// Begin while offline: no session, reports use the progress endpoint
	remote.offline = true
	reporter.Begin(context.Background(), "item-a", "")
	remote.offline = false

	require.NoError(t, reporter.Report(context.Background(), "item-a", "", 10, 600))
	assert.Equal(t, 0, remote.syncCalls)
	assert.Equal(t, 1, remote.setCalls)
}

func TestRunSamplesOnCadence(t *testing.T) {
	progressStore := newTestProgressStore(t)
	remote := newFakeRemote()
	reporter := NewReporter(progressStore, remote, 10*time.Millisecond, adapter.NullLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		reporter.Run(ctx, func() (string, string, float64, float64, bool) {
			return "item-a", "", 33, 600, true
		})
	}()

	// Let a few ticks elapse, then stop playback
	time.Sleep(60 * time.Millisecond)
	cancel()
	<-done

	rec, ok, err := progressStore.Get(domain.ProgressKey{ItemID: "item-a"})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 33.0, rec.CurrentTime)
}
