package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crawl-cluster-master/internal/cluster"
)

func TestStore_SaveLoad(t *testing.T) {
	t.Parallel()

	store := New()
	_, err := store.Load(context.Background())
	require.ErrorIs(t, err, cluster.ErrNotFound)

	pending := []cluster.PendingJob{{Domain: "a.com", Priority: 3, Settings: cluster.Settings{"k": "v"}}}
	require.NoError(t, store.Save(context.Background(), pending))
	pending[0].Settings["k"] = "mutated"

	got, err := store.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, "v", got[0].Settings["k"])

	require.NoError(t, store.Save(context.Background(), nil))
	got, err = store.Load(context.Background())
	require.NoError(t, err)
	require.Empty(t, got)
}
