package sinks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/crawl-cluster-master/internal/events"
	"github.com/JakeFAU/crawl-cluster-master/internal/publisher/memory"
)

func TestPrometheusSinkCounters(t *testing.T) {
	t.Parallel()

	sink, err := NewPrometheusSink(prometheus.NewRegistry())
	require.NoError(t, err)

	now := time.Now()
	require.NoError(t, sink.Consume(context.Background(), []events.Event{
		{TS: now, Stage: events.StageRejected, Domain: "a.com", Reason: "NO_FREE_SLOT"},
		{TS: now, Stage: events.StageRejected, Domain: "a.com", Reason: "NO_FREE_SLOT"},
		{TS: now, Stage: events.StageLost, Domain: "b.com"},
		{TS: now, Stage: events.StagePoll, Pending: 4, Loading: 1, AliveNodes: 2},
	}))

	require.InDelta(t, 2, testutil.ToFloat64(sink.events.WithLabelValues("REJECTED")), 0)
	require.InDelta(t, 2, testutil.ToFloat64(sink.rejections.WithLabelValues("NO_FREE_SLOT")), 0)
	require.InDelta(t, 1, testutil.ToFloat64(sink.lost.WithLabelValues("b.com")), 0)
	require.InDelta(t, 4, testutil.ToFloat64(sink.pending), 0)
	require.InDelta(t, 1, testutil.ToFloat64(sink.loading), 0)
	require.InDelta(t, 2, testutil.ToFloat64(sink.aliveNodes), 0)
}

func TestPrometheusSinkDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}

func TestPublisherSinkSkipsPollEvents(t *testing.T) {
	t.Parallel()

	pub := memory.New()
	closed := false
	sink := NewPublisherSink(pub, "cluster-events", func() error {
		closed = true
		return nil
	})
	now := time.Now()
	require.NoError(t, sink.Consume(context.Background(), []events.Event{
		{TS: now, Stage: events.StageDispatched, Node: "n1", Domain: "a.com"},
		{TS: now, Stage: events.StagePoll},
		{TS: now, Stage: events.StageScraped, Node: "n1", Domain: "a.com"},
	}))
	require.Equal(t, []string{"DISPATCHED", "SCRAPED"}, pub.Stages("cluster-events"))

	require.NoError(t, sink.Close(context.Background()))
	require.True(t, closed)
}

func TestPublisherSinkPropagatesFailure(t *testing.T) {
	t.Parallel()

	pub := memory.New()
	pub.FailWith(errors.New("unavailable"))
	sink := NewPublisherSink(pub, "cluster-events", nil)
	err := sink.Consume(context.Background(), []events.Event{
		{TS: time.Now(), Stage: events.StageLost, Domain: "a.com"},
	})
	require.ErrorContains(t, err, "publish LOST event")
	require.NoError(t, sink.Close(context.Background()))
}

func TestLogSinkWritesStructuredFields(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.DebugLevel)
	sink := NewLogSink(zap.New(core))
	require.NoError(t, sink.Consume(context.Background(), []events.Event{
		{TS: time.Now(), Stage: events.StageRejected, Node: "n1", Domain: "a.com", Reason: "DOMAIN_ALREADY_RUNNING"},
		{TS: time.Now(), Stage: events.StagePoll, Pending: 1},
	}))

	entries := logs.All()
	require.Len(t, entries, 2)
	fields := entries[0].ContextMap()
	require.Equal(t, "REJECTED", fields["stage"])
	require.Equal(t, "n1", fields["node"])
	require.Equal(t, "DOMAIN_ALREADY_RUNNING", fields["reason"])
	require.Equal(t, zap.DebugLevel, entries[1].Level)
}
