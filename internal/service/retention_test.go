package service

import (
	"testing"
	"time"

	"github.com/GoPolymarket/capturegate/internal/body"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func storeBody(t *testing.T, store *body.FileStore, id string) *body.Handle {
	t.Helper()
	a, err := store.Allocate(body.Response, id)
	require.NoError(t, err)
	require.NoError(t, store.WriteChunk(a, []byte("payload")))
	h, err := store.Finalize(a, "", false)
	require.NoError(t, err)
	return h
}

func TestRetentionRemovesOnlyExpiredBodies(t *testing.T) {
	fs, store := newTestStore(t)
	old := storeBody(t, store, "old")
	fresh := storeBody(t, store, "fresh")

	past := time.Now().Add(-48 * time.Hour)
	require.NoError(t, fs.Chtimes(old.Path, past, past))

	r, err := NewRetention(store, "@every 1h", 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, r.RunOnce())

	exists, _ := afero.Exists(fs, old.Path)
	assert.False(t, exists)
	exists, _ = afero.Exists(fs, fresh.Path)
	assert.True(t, exists)
}

func TestRetentionStartStop(t *testing.T) {
	_, store := newTestStore(t)
	r, err := NewRetention(store, "@every 1h", time.Hour)
	require.NoError(t, err)
	require.NoError(t, r.Start())
	assert.True(t, r.running)
	r.Stop()
	assert.False(t, r.running)

	disabled, err := NewRetention(store, "", time.Hour)
	require.NoError(t, err)
	require.NoError(t, disabled.Start())
	assert.False(t, disabled.running)
}

func TestRetentionRejectsBadSchedule(t *testing.T) {
	_, store := newTestStore(t)
	_, err := NewRetention(store, "every now and then", time.Hour)
	assert.Error(t, err)
}
