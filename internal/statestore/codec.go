// Package statestore holds the backlog snapshot codec shared by every state
// store backend, plus an instrumenting wrapper.
package statestore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/JakeFAU/crawl-cluster-master/internal/cluster"
	"github.com/JakeFAU/crawl-cluster-master/internal/metrics"
)

// SnapshotVersion is written into every encoded snapshot.
const SnapshotVersion = 1

type snapshot struct {
	Version int                  `json:"version"`
	Pending []cluster.PendingJob `json:"pending"`
}

// Encode serializes pending in backlog order.
func Encode(pending []cluster.PendingJob) ([]byte, error) {
	if pending == nil {
		pending = []cluster.PendingJob{}
	}
	data, err := json.Marshal(snapshot{Version: SnapshotVersion, Pending: pending})
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return data, nil
}

// Decode parses a snapshot written by Encode. Numeric settings come back as
// int64 or float64 so that a round trip is lossless.
func Decode(data []byte) ([]cluster.PendingJob, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, errors.New("decode snapshot: empty")
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var snap snapshot
	if err := dec.Decode(&snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if snap.Version != SnapshotVersion {
		return nil, fmt.Errorf("decode snapshot: unsupported version %d", snap.Version)
	}
	pending := make([]cluster.PendingJob, 0, len(snap.Pending))
	for _, job := range snap.Pending {
		if job.Settings != nil {
			job.Settings = cluster.NormalizeSettings(job.Settings)
		}
		pending = append(pending, job)
	}
	return pending, nil
}

// Instrumented wraps store so that every load and save is counted under
// backend.
func Instrumented(backend string, store cluster.StateStore) cluster.StateStore {
	return &instrumented{backend: backend, store: store}
}

type instrumented struct {
	backend string
	store   cluster.StateStore
}

func (s *instrumented) Load(ctx context.Context) ([]cluster.PendingJob, error) {
	pending, err := s.store.Load(ctx)
	metrics.ObserveStateStore(s.backend, "load", err)
	return pending, err
}

func (s *instrumented) Save(ctx context.Context, pending []cluster.PendingJob) error {
	err := s.store.Save(ctx, pending)
	metrics.ObserveStateStore(s.backend, "save", err)
	return err
}
