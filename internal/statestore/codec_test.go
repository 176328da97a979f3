package statestore

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crawl-cluster-master/internal/cluster"
)

func TestCodec_RoundTrip(t *testing.T) {
	t.Parallel()

	pending := []cluster.PendingJob{
		{Domain: "b.com", Priority: 1, Settings: cluster.Settings{"depth": int64(3), "ratio": 0.25, "agent": "bot", "robots": true}},
		{Domain: "a.com", Priority: 20},
		{Domain: "c.com", Priority: 20, Settings: cluster.Settings{"big": int64(1) << 40}},
	}

	data, err := Encode(pending)
	require.NoError(t, err)

	got, err := Decode(data)
	require.NoError(t, err)
	require.Equal(t, pending, got)
}

func TestCodec_EmptyBacklog(t *testing.T) {
	t.Parallel()

	data, err := Encode(nil)
	require.NoError(t, err)
	require.JSONEq(t, `{"version":1,"pending":[]}`, string(data))

	got, err := Decode(data)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestDecode_Rejects(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"empty":       "  ",
		"garbage":     "{not json",
		"bad version": `{"version":9,"pending":[]}`,
	}
	for name, input := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := Decode([]byte(input))
			require.Error(t, err)
		})
	}
}

type stubStore struct {
	loadErr error
	saved   []cluster.PendingJob
}

func (s *stubStore) Load(context.Context) ([]cluster.PendingJob, error) {
	return nil, s.loadErr
}

func (s *stubStore) Save(_ context.Context, pending []cluster.PendingJob) error {
	s.saved = pending
	return nil
}

func TestInstrumented_PassesThrough(t *testing.T) {
	t.Parallel()

	inner := &stubStore{loadErr: errors.New("boom")}
	store := Instrumented("stub", inner)

	_, err := store.Load(context.Background())
	require.EqualError(t, err, "boom")

	require.NoError(t, store.Save(context.Background(), []cluster.PendingJob{{Domain: "a.com"}}))
	require.Len(t, inner.saved, 1)
}
