// SPDX-License-Identifier: MIT

package catalog

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "catalog.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(store.Close)
	return store
}

func TestStore_DirectoryLifecycle(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	dirs, err := store.ApprovedDirectories(ctx)
	require.NoError(t, err)
	require.Empty(t, dirs)

	added, err := store.AddDirectory(ctx, "/media/movies", KindLocal)
	require.NoError(t, err)
	require.True(t, added.Active)
	require.True(t, filepath.IsAbs(added.Path))

	_, err = store.AddDirectory(ctx, "/media/remote", KindRemote)
	require.NoError(t, err)

	dirs, err = store.ApprovedDirectories(ctx)
	require.NoError(t, err)
	require.Len(t, dirs, 2)

	require.NoError(t, store.SetActive(ctx, added.ID, false))
	dirs, err = store.ApprovedDirectories(ctx)
	require.NoError(t, err)
	for _, d := range dirs {
		if d.ID == added.ID {
			require.False(t, d.Active)
		}
	}

	require.NoError(t, store.RemoveDirectory(ctx, added.ID))
	dirs, err = store.ApprovedDirectories(ctx)
	require.NoError(t, err)
	require.Len(t, dirs, 1)
}

func TestStore_RelativePathStoredAbsolute(t *testing.T) {
	store := openTestStore(t)

	added, err := store.AddDirectory(context.Background(), "relative/movies", KindLocal)
	require.NoError(t, err)
	require.True(t, filepath.IsAbs(added.Path))
}

func TestStore_DuplicatePathRejected(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	_, err := store.AddDirectory(ctx, "/media/movies", KindLocal)
	require.NoError(t, err)
	_, err = store.AddDirectory(ctx, "/media/movies", KindLocal)
	require.Error(t, err, "UNIQUE constraint must reject duplicates")
}

func TestStore_UnknownIDIsNotFound(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.ErrorIs(t, store.SetActive(ctx, 9999, true), ErrNotFound)
	require.ErrorIs(t, store.RemoveDirectory(ctx, 9999), ErrNotFound)
}

func TestStore_ClosedStoreReturnsErrClosed(t *testing.T) {
	store := openTestStore(t)
	store.Close()
	// Close again to confirm idempotency.
	store.Close()

	_, err := store.ApprovedDirectories(context.Background())
	require.ErrorIs(t, err, ErrClosed)
}

func TestStore_CanceledContextAborts(t *testing.T) {
	store := openTestStore(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := store.ApprovedDirectories(ctx)
	require.ErrorIs(t, err, context.Canceled)
}
