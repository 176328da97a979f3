package redis

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crawl-cluster-master/internal/cluster"
)

type fakeClient struct {
	mu     sync.Mutex
	values map[string]string
	setErr error
	closed bool
}

func newFakeClient() *fakeClient {
	return &fakeClient{values: make(map[string]string)}
}

func (f *fakeClient) Get(_ context.Context, key string) *goredis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.values[key]
	if !ok {
		return goredis.NewStringResult("", goredis.Nil)
	}
	return goredis.NewStringResult(v, nil)
}

func (f *fakeClient) Set(_ context.Context, key string, value any, _ time.Duration) *goredis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setErr != nil {
		return goredis.NewStatusResult("", f.setErr)
	}
	f.values[key] = string(value.([]byte))
	return goredis.NewStatusResult("OK", nil)
}

func (f *fakeClient) Close() error {
	f.closed = true
	return nil
}

func TestStore_RoundTrip(t *testing.T) {
	t.Parallel()

	client := newFakeClient()
	store := newStore(client, "")
	ctx := context.Background()

	_, err := store.Load(ctx)
	require.ErrorIs(t, err, cluster.ErrNotFound)

	pending := []cluster.PendingJob{
		{Domain: "a.com", Priority: 1, Settings: cluster.Settings{"delay": 1.5}},
		{Domain: "b.com", Priority: 1},
	}
	require.NoError(t, store.Save(ctx, pending))
	require.Contains(t, client.values, defaultKey)

	got, err := store.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, pending, got)

	require.NoError(t, store.Close())
	require.True(t, client.closed)
}

func TestStore_SaveError(t *testing.T) {
	t.Parallel()

	client := newFakeClient()
	client.setErr = errors.New("READONLY")
	store := newStore(client, "custom")

	err := store.Save(context.Background(), nil)
	require.ErrorContains(t, err, "set custom")
	require.ErrorContains(t, err, "READONLY")
}

func TestNew_RequiresAddr(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), Config{})
	require.ErrorContains(t, err, "redis.addr is required")
}
