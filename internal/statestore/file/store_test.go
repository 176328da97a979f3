package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crawl-cluster-master/internal/cluster"
)

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	_, err := New(Config{})
	require.Error(t, err)

	_, err = New(Config{Path: t.TempDir()})
	require.ErrorContains(t, err, "is a directory")
}

func TestStore_LoadMissing(t *testing.T) {
	t.Parallel()

	store, err := New(Config{Path: filepath.Join(t.TempDir(), "state.json")})
	require.NoError(t, err)

	_, err = store.Load(context.Background())
	require.ErrorIs(t, err, cluster.ErrNotFound)
}

func TestStore_SaveThenLoad(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "state.json")
	store, err := New(Config{Path: path})
	require.NoError(t, err)

	pending := []cluster.PendingJob{
		{Domain: "b.com", Priority: 1, Settings: cluster.Settings{"depth": int64(2)}},
		{Domain: "a.com", Priority: 20, Settings: cluster.Settings{"ratio": 0.75}},
	}
	require.NoError(t, store.Save(context.Background(), pending))

	got, err := store.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, pending, got)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1, "temporary files are cleaned up")
}

func TestStore_LoadCorrupt(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{oops"), 0o600))
	store, err := New(Config{Path: path})
	require.NoError(t, err)

	_, err = store.Load(context.Background())
	require.Error(t, err)
	require.NotErrorIs(t, err, cluster.ErrNotFound)
}
