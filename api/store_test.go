package api

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webpilot-ai/webpilot/types"
)

func TestStoreCreateAndGet(t *testing.T) {
	store, err := OpenStore("")
	require.NoError(t, err)

	job := &Job{ID: "j1", Kind: "task", Name: "checkout", Payload: `{"id":"j1"}`}
	require.NoError(t, store.Create(job))

	got, err := store.Get("j1")
	require.NoError(t, err)
	assert.Equal(t, JobQueued, got.Status)
	assert.Equal(t, "checkout", got.Name)
	assert.False(t, got.Terminal())
}

func TestStoreGetUnknown(t *testing.T) {
	store, err := OpenStore("")
	require.NoError(t, err)

	_, err = store.Get("nope")
	require.Error(t, err)
	assert.Equal(t, types.ErrValidation, types.CodeOf(err))
}

func TestStoreLifecycle(t *testing.T) {
	store, err := OpenStore("")
	require.NoError(t, err)

	require.NoError(t, store.Create(&Job{ID: "j1", Kind: "task"}))
	require.NoError(t, store.MarkRunning("j1"))

	got, err := store.Get("j1")
	require.NoError(t, err)
	assert.Equal(t, JobRunning, got.Status)

	require.NoError(t, store.Complete("j1", true, map[string]any{"steps": 3}, ""))

	got, err = store.Get("j1")
	require.NoError(t, err)
	assert.Equal(t, JobSucceeded, got.Status)
	assert.True(t, got.Terminal())
	assert.Contains(t, got.Result, `"steps":3`)
}

func TestStoreCompleteFailure(t *testing.T) {
	store, err := OpenStore("")
	require.NoError(t, err)

	require.NoError(t, store.Create(&Job{ID: "j1", Kind: "agent"}))
	require.NoError(t, store.Complete("j1", false, nil, "element not found"))

	got, err := store.Get("j1")
	require.NoError(t, err)
	assert.Equal(t, JobFailed, got.Status)
	assert.Equal(t, "element not found", got.Error)
}

func TestStoreList(t *testing.T) {
	store, err := OpenStore("")
	require.NoError(t, err)

	require.NoError(t, store.Create(&Job{ID: "a", Kind: "task"}))
	require.NoError(t, store.Create(&Job{ID: "b", Kind: "task"}))
	require.NoError(t, store.Create(&Job{ID: "c", Kind: "agent"}))

	jobs, err := store.List(2)
	require.NoError(t, err)
	assert.Len(t, jobs, 2)

	jobs, err = store.List(0)
	require.NoError(t, err)
	assert.Len(t, jobs, 3)
}

func TestStorePersistsAcrossOpens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.db")

	store, err := OpenStore(path)
	require.NoError(t, err)
	require.NoError(t, store.Create(&Job{ID: "j1", Kind: "task", Name: "persisted"}))

	reopened, err := OpenStore(path)
	require.NoError(t, err)
	got, err := reopened.Get("j1")
	require.NoError(t, err)
	assert.Equal(t, "persisted", got.Name)
}
