package blobstore

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stores(t *testing.T) map[string]Store {
	t.Helper()

	local, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	return map[string]Store{
		"memory": NewMemoryStore(),
		"local":  local,
	}
}

func TestStoreRoundTrip(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			w, err := store.Create(ctx, "backups/archive.snapshot")
			require.NoError(t, err)
			_, err = io.Copy(w, strings.NewReader("snapshot payload"))
			require.NoError(t, err)
			require.NoError(t, w.Close())

			r, err := store.Open(ctx, "backups/archive.snapshot")
			require.NoError(t, err)
			got, err := io.ReadAll(r)
			require.NoError(t, err)
			require.NoError(t, r.Close())
			assert.Equal(t, "snapshot payload", string(got))
		})
	}
}

func TestStoreOpenMissing(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.Open(context.Background(), "no/such/blob")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStorePublishOnClose(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			w, err := store.Create(ctx, "pending.blob")
			require.NoError(t, err)
			_, err = w.Write([]byte("half"))
			require.NoError(t, err)

			// Not visible until Close.
			_, err = store.Open(ctx, "pending.blob")
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, w.Close())
			r, err := store.Open(ctx, "pending.blob")
			require.NoError(t, err)
			require.NoError(t, r.Close())
		})
	}
}

func TestStoreList(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			for _, blob := range []string{"backups/b.snap", "backups/a.snap", "other/c.snap"} {
				w, err := store.Create(ctx, blob)
				require.NoError(t, err)
				_, err = w.Write([]byte("x"))
				require.NoError(t, err)
				require.NoError(t, w.Close())
			}

			names, err := store.List(ctx, "backups/")
			require.NoError(t, err)
			assert.Equal(t, []string{"backups/a.snap", "backups/b.snap"}, names)

			all, err := store.List(ctx, "")
			require.NoError(t, err)
			assert.Len(t, all, 3)
		})
	}
}

func TestStoreDelete(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			w, err := store.Create(ctx, "doomed.blob")
			require.NoError(t, err)
			require.NoError(t, w.Close())

			require.NoError(t, store.Delete(ctx, "doomed.blob"))
			_, err = store.Open(ctx, "doomed.blob")
			assert.ErrorIs(t, err, ErrNotFound)

			// Deleting an absent blob is a no-op.
			require.NoError(t, store.Delete(ctx, "doomed.blob"))
		})
	}
}

func TestStoreOverwrite(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			for _, payload := range []string{"first", "second"} {
				w, err := store.Create(ctx, "versioned.blob")
				require.NoError(t, err)
				_, err = w.Write([]byte(payload))
				require.NoError(t, err)
				require.NoError(t, w.Close())
			}

			r, err := store.Open(ctx, "versioned.blob")
			require.NoError(t, err)
			got, err := io.ReadAll(r)
			require.NoError(t, err)
			require.NoError(t, r.Close())
			assert.Equal(t, "second", string(got))
		})
	}
}

func TestMemoryStoreReadsAreIsolated(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	w, err := store.Create(ctx, "blob")
	require.NoError(t, err)
	_, err = w.Write([]byte("stable"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	r, err := store.Open(ctx, "blob")
	require.NoError(t, err)
	buf, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())

	buf[0] = 'X'

	r2, err := store.Open(ctx, "blob")
	require.NoError(t, err)
	again, err := io.ReadAll(r2)
	require.NoError(t, err)
	require.NoError(t, r2.Close())
	assert.Equal(t, "stable", string(again))
}
