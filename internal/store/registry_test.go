package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmcdole/earmark/internal/domain"
)

func TestRegistryRegisterLookup(t *testing.T) {
	r := NewTaskRegistry(newTestDB(t))

	ref := domain.DownloadTaskRef{
		TransferID: 42,
		TrackID:    domain.TrackID("book-1", 0),
		ParentID:   "book-1",
		ParentType: domain.ParentAudiobook,
		TrackIndex: 0,
	}
	require.NoError(t, r.Register(ref))

	got, ok, err := r.Lookup(42)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ref, got)

	_, ok, err = r.Lookup(43)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRegistryRemoveIsIdempotent(t *testing.T) {
	r := NewTaskRegistry(newTestDB(t))

	require.NoError(t, r.Register(domain.DownloadTaskRef{TransferID: 7, ParentID: "book-1"}))
	require.NoError(t, r.Remove(7))

	_, ok, err := r.Lookup(7)
	require.NoError(t, err)
	assert.False(t, ok)

	// Duplicate terminal callback for the same transfer id
	assert.NoError(t, r.Remove(7))
}

func TestRegistrySurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir)
	require.NoError(t, err)

	ref := domain.DownloadTaskRef{
		TransferID: 9,
		TrackID:    domain.TrackID("book-2", 3),
		ParentID:   "book-2",
		ParentType: domain.ParentEpisode,
		TrackIndex: 3,
	}
	require.NoError(t, NewTaskRegistry(db).Register(ref))
	require.NoError(t, db.Close())

	// The completion callback may run in a fresh process that has only
	// the transfer id
	db, err = Open(dir)
	require.NoError(t, err)
	defer db.Close()

	got, ok, err := NewTaskRegistry(db).Lookup(9)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ref, got)
}

func TestRegistryList(t *testing.T) {
	r := NewTaskRegistry(newTestDB(t))

	require.NoError(t, r.Register(domain.DownloadTaskRef{TransferID: 1, ParentID: "a"}))
	require.NoError(t, r.Register(domain.DownloadTaskRef{TransferID: 2, ParentID: "b"}))

	refs, err := r.List()
	require.NoError(t, err)
	assert.Len(t, refs, 2)
}
