// Package memory provides an in-process state store, useful for tests and
// for masters that do not need to survive restarts.
package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/crawl-cluster-master/internal/cluster"
)

// Store keeps the last saved snapshot in memory.
type Store struct {
	mu      sync.Mutex
	pending []cluster.PendingJob
	saved   bool
}

var _ cluster.StateStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{}
}

// Load returns a copy of the last snapshot, or cluster.ErrNotFound.
func (s *Store) Load(_ context.Context) ([]cluster.PendingJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.saved {
		return nil, cluster.ErrNotFound
	}
	return clone(s.pending), nil
}

// Save replaces the snapshot with a copy of pending.
func (s *Store) Save(_ context.Context, pending []cluster.PendingJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = clone(pending)
	s.saved = true
	return nil
}

func clone(jobs []cluster.PendingJob) []cluster.PendingJob {
	out := make([]cluster.PendingJob, len(jobs))
	for i, job := range jobs {
		out[i] = job.Clone()
	}
	return out
}
