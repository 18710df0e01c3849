package snapshot_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klauselwerk/core/pkg/snapshot"
)

func TestFileStoreRoundTrip(t *testing.T) {
	store, err := snapshot.NewFileStore(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()
	data := []byte(`{"contract":"c-1"}`)
	require.NoError(t, store.Put(ctx, "contracts/c-1.json", data))

	got, err := store.Get(ctx, "contracts/c-1.json")
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestFileStoreIsWriteOnce(t *testing.T) {
	store, err := snapshot.NewFileStore(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()
	data := []byte("frozen")
	require.NoError(t, store.Put(ctx, "contracts/c-1.json", data))

	// Same bytes again: idempotent retry after a crashed archival.
	require.NoError(t, store.Put(ctx, "contracts/c-1.json", data))

	// Different bytes must never replace an archived snapshot.
	err = store.Put(ctx, "contracts/c-1.json", []byte("tampered"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "different content")

	got, err := store.Get(ctx, "contracts/c-1.json")
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestFileStoreGetMissingKey(t *testing.T) {
	store, err := snapshot.NewFileStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Get(context.Background(), "contracts/ghost.json")
	require.Error(t, err)
}
